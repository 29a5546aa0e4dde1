package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"foodglow-backend/internal/apperrors"
	"foodglow-backend/internal/ledger"
	"foodglow-backend/internal/models"
)

type Enhancer interface {
	Enhance(ctx context.Context, image []byte, filename string) EnhanceResult
}

type JobArchiver interface {
	ArchiveJob(ctx context.Context, jobID uuid.UUID, id models.Identity, original, result []byte) (string, error)
}

type JobRecorder interface {
	RecordJob(ctx context.Context, rec *models.JobRecord) error
}

const (
	releaseRetries = 3
	releaseBackoff = 100 * time.Millisecond
	// settleTimeout bounds consume, release, archive and audit once the
	// provider call is over.
	settleTimeout = 30 * time.Second
)

type JobOrchestratorOptions struct {
	// BillDegradedResults consumes the unit when the original image is
	// returned after a provider error.
	BillDegradedResults bool
	// Archiver and Recorder are optional.
	Archiver JobArchiver
	Recorder JobRecorder
}

// JobOrchestrator runs one enhancement job under a lease:
// check, acquire, enhance, then consume or release.
type JobOrchestrator struct {
	store    ledger.Store
	locks    *LockManager
	enhancer Enhancer
	opts     JobOrchestratorOptions
	logger   *slog.Logger

	releaseBackoff time.Duration
	settleTimeout  time.Duration
}

func NewJobOrchestrator(store ledger.Store, locks *LockManager, enhancer Enhancer, opts JobOrchestratorOptions, logger *slog.Logger) *JobOrchestrator {
	return &JobOrchestrator{
		store:    store,
		locks:    locks,
		enhancer: enhancer,
		opts:     opts,
		logger:   logger,

		releaseBackoff: releaseBackoff,
		settleTimeout:  settleTimeout,
	}
}

func (o *JobOrchestrator) RunJob(ctx context.Context, id models.Identity, image []byte, filename string) (*models.JobResult, error) {
	if id.IsZero() {
		return nil, apperrors.Validation("a trial email or a signed-in account is required")
	}
	if len(image) == 0 {
		return nil, apperrors.Validation("image is required")
	}

	if err := o.checkEligible(ctx, id); err != nil {
		return nil, err
	}

	lease, acquired, err := o.locks.Acquire(ctx, id)
	if err != nil {
		o.logger.Error("failed to acquire lease", "identity", id.String(), "error", err)
		return nil, apperrors.StoreUnavailable(err)
	}
	if !acquired {
		return nil, apperrors.Denied(apperrors.ReasonLockUnavailable, "another job holds this credit, try again shortly")
	}

	// From here the lease is either consumed or released, whatever happens
	// to the request.
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.settleTimeout)
	defer cancel()
	settled := false
	defer func() {
		if !settled {
			o.release(detached, lease)
		}
	}()

	jobID := uuid.New()
	log := o.logger.With("job_id", jobID.String(), "identity", id.String())
	started := time.Now()

	res := o.enhancer.Enhance(ctx, image, filename)
	if res.Outcome == OutcomeFailed {
		o.record(detached, jobID, id, models.JobFailed, res, false, "", started)
		log.Warn("job failed", "error", res.Err)
		return nil, apperrors.ProviderTimeout(res.Err)
	}

	result := &models.JobResult{
		JobID:    jobID,
		Identity: id,
		Status:   models.JobSucceeded,
		Image:    res.Image,
		MimeType: res.MimeType,
		Degraded: res.Degraded,
	}
	if res.Degraded {
		result.Status = models.JobFallback
	}

	if res.Degraded && !o.opts.BillDegradedResults {
		o.record(detached, jobID, id, result.Status, res, false, "", started)
		log.Info("degraded result returned unbilled")
		return result, nil
	}

	if err := o.locks.Consume(detached, lease); err != nil {
		return nil, o.consumeError(log, err)
	}
	settled = true
	result.Billed = true

	if o.opts.Archiver != nil {
		url, err := o.opts.Archiver.ArchiveJob(detached, jobID, id, image, res.Image)
		if err != nil {
			log.Warn("failed to archive job images", "error", err)
		}
		result.ResultURL = url
	}
	o.record(detached, jobID, id, result.Status, res, true, result.ResultURL, started)

	log.Info("job completed", "status", result.Status, "degraded", result.Degraded, "duration", time.Since(started))
	return result, nil
}

// checkEligible re-reads the ledger so that denials carry a precise reason
// and an empty balance never reaches the provider.
func (o *JobOrchestrator) checkEligible(ctx context.Context, id models.Identity) error {
	now := time.Now()

	switch id.Kind {
	case models.IdentityTrial:
		rec, err := o.store.GetTrial(ctx, id.Key)
		if errors.Is(err, ledger.ErrNotFound) {
			return apperrors.Denied(apperrors.ReasonTrialNotClaimed, "claim the free trial first")
		}
		if err != nil {
			return apperrors.StoreUnavailable(err)
		}
		switch rec.State(now) {
		case models.TrialConsumed:
			return apperrors.Denied(apperrors.ReasonTrialUsed, "the free trial has been used, buy credits to continue")
		case models.TrialLocked:
			return apperrors.Denied(apperrors.ReasonJobInProgress, "a job for this trial is already running")
		}
		return nil

	case models.IdentityAccount:
		acct, err := o.store.GetAccount(ctx, id.Key)
		if errors.Is(err, ledger.ErrNotFound) {
			return apperrors.InsufficientCredit("no credits available")
		}
		if err != nil {
			return apperrors.StoreUnavailable(err)
		}
		if acct.CreditBalance < 1 {
			return apperrors.InsufficientCredit("no credits available")
		}
		if acct.LeaseActive(now) {
			return apperrors.Denied(apperrors.ReasonJobInProgress, "a job for this account is already running")
		}
		return nil
	}

	return apperrors.Validation("unknown identity kind %q", id.Kind)
}

func (o *JobOrchestrator) consumeError(log *slog.Logger, err error) error {
	switch {
	case errors.Is(err, ledger.ErrLeaseNotHeld):
		log.Warn("lease lost before consume")
		return apperrors.Denied(apperrors.ReasonLeaseLost, "the job took too long and its credit lease expired, try again")
	case errors.Is(err, ledger.ErrInsufficientCredit):
		return apperrors.InsufficientCredit("no credits available")
	}
	log.Error("failed to consume credit", "error", err)
	return apperrors.StoreUnavailable(err)
}

// release retries with backoff and only logs on failure: the caller's
// outcome is already decided and the lease expires on its own.
func (o *JobOrchestrator) release(ctx context.Context, lease *models.Lease) {
	backoff := retry.WithMaxRetries(releaseRetries, retry.NewExponential(o.releaseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := o.locks.Release(ctx, lease); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		o.logger.Error("failed to release lease", "identity", lease.Identity.String(), "expires_at", lease.ExpiresAt, "error", err)
	}
}

func (o *JobOrchestrator) record(ctx context.Context, jobID uuid.UUID, id models.Identity, status models.JobStatus, res EnhanceResult, billed bool, resultURL string, started time.Time) {
	if o.opts.Recorder == nil {
		return
	}
	rec := &models.JobRecord{
		ID:           jobID.String(),
		IdentityKind: string(id.Kind),
		IdentityKey:  id.Key,
		Status:       string(status),
		Degraded:     res.Degraded,
		Billed:       billed,
		ResultPath:   resultURL,
		DurationMS:   time.Since(started).Milliseconds(),
		CreatedAt:    started.UTC(),
	}
	if res.Err != nil {
		rec.ErrorMessage = res.Err.Error()
	}
	if err := o.opts.Recorder.RecordJob(ctx, rec); err != nil {
		o.logger.Warn("failed to record job", "job_id", rec.ID, "error", err)
	}
}
