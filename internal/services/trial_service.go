package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"foodglow-backend/internal/apperrors"
	"foodglow-backend/internal/ledger"
	"foodglow-backend/internal/models"
)

type TrialService struct {
	store  ledger.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewTrialService(store ledger.Store, logger *slog.Logger) *TrialService {
	return &TrialService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// ClaimTrial registers the free trial for an email, or re-reports it. A
// record is only ever created here; eligibility never flips back to true.
func (s *TrialService) ClaimTrial(ctx context.Context, name, email string, meta models.ClaimMetadata) (bool, error) {
	if err := ValidateClaim(name, email); err != nil {
		return false, err
	}
	email = models.NormalizeEmail(email)

	rec, err := s.store.GetTrial(ctx, email)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		rec, err = s.create(ctx, strings.TrimSpace(name), email, meta)
		if err != nil {
			return false, err
		}
	case err != nil:
		s.logger.Error("failed to read trial record", "email", email, "error", err)
		return false, apperrors.StoreUnavailable(err)
	}

	eligible := rec.State(s.now()) == models.TrialEligible
	s.logger.Info("trial claimed", "email", email, "eligible", eligible)
	return eligible, nil
}

func (s *TrialService) create(ctx context.Context, name, email string, meta models.ClaimMetadata) (*models.TrialRecord, error) {
	now := s.now()
	rec := &models.TrialRecord{
		Email:     email,
		Name:      name,
		Eligible:  true,
		OriginIP:  meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.store.CreateTrial(ctx, rec)
	if err != nil {
		s.logger.Error("failed to create trial record", "email", email, "error", err)
		return nil, apperrors.StoreUnavailable(err)
	}
	if created {
		return rec, nil
	}

	// Lost the insert race; the winner's row is authoritative.
	existing, err := s.store.GetTrial(ctx, email)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return existing, nil
}

// Status reports the lifecycle state of an email's trial.
func (s *TrialService) Status(ctx context.Context, email string) (models.TrialState, *models.TrialRecord, error) {
	rec, err := s.store.GetTrial(ctx, models.NormalizeEmail(email))
	if errors.Is(err, ledger.ErrNotFound) {
		return models.TrialUnclaimed, nil, nil
	}
	if err != nil {
		return "", nil, apperrors.StoreUnavailable(err)
	}
	return rec.State(s.now()), rec, nil
}
