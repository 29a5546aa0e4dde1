package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"foodglow-backend/internal/apperrors"
	"foodglow-backend/internal/ledger"
	"foodglow-backend/internal/models"
)

// AccountService owns account rows. Balances only change through the lock
// manager (spend) or GrantCredits (purchase or admin correction).
type AccountService struct {
	store  ledger.Store
	logger *slog.Logger
}

func NewAccountService(store ledger.Store, logger *slog.Logger) *AccountService {
	return &AccountService{store: store, logger: logger}
}

// EnsureAccount creates the account on first sight with a zero balance and
// returns the current row.
func (s *AccountService) EnsureAccount(ctx context.Context, id, email, displayName string) (*models.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.Validation("account id is required")
	}

	err := s.store.UpsertAccount(ctx, &models.Account{
		ID:          id,
		Email:       models.NormalizeEmail(email),
		DisplayName: strings.TrimSpace(displayName),
	})
	if err != nil {
		s.logger.Error("failed to upsert account", "account_id", id, "error", err)
		return nil, apperrors.StoreUnavailable(err)
	}
	return s.Get(ctx, id)
}

func (s *AccountService) Get(ctx context.Context, id string) (*models.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperrors.Validation("account %q does not exist", id)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return acct, nil
}

func (s *AccountService) GrantCredits(ctx context.Context, id string, credits int) (int, error) {
	if credits == 0 {
		return 0, apperrors.Validation("credits must be non-zero")
	}
	balance, err := s.store.AddCredits(ctx, id, credits)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return 0, apperrors.Validation("account %q does not exist", id)
	case errors.Is(err, ledger.ErrInsufficientCredit):
		return 0, apperrors.InsufficientCredit(fmt.Sprintf("a debit of %d exceeds the balance of account %q", -credits, id))
	case err != nil:
		return 0, apperrors.StoreUnavailable(err)
	}
	s.logger.Info("credits granted", "account_id", id, "credits", credits, "balance", balance)
	return balance, nil
}

func (s *AccountService) SetSubscription(ctx context.Context, id string, status models.SubscriptionStatus, planCode string) error {
	if !status.Valid() {
		return apperrors.Validation("unknown subscription status %q", status)
	}
	err := s.store.SetSubscription(ctx, id, status, planCode)
	if errors.Is(err, ledger.ErrNotFound) {
		return apperrors.Validation("account %q does not exist", id)
	}
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	s.logger.Info("subscription updated", "account_id", id, "status", status, "plan", planCode)
	return nil
}
