package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"foodglow-backend/internal/ledger"
	"foodglow-backend/internal/models"
)

// LockManager hands out leases on ledger rows. All exclusivity is decided by
// the store's conditional updates; nothing here reads then writes.
type LockManager struct {
	store  ledger.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewLockManager(store ledger.Store, ttl time.Duration, logger *slog.Logger) *LockManager {
	return &LockManager{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire takes the lease on identity's unit of credit. acquired is false
// when the record is missing, spent, or leased by someone else.
func (m *LockManager) Acquire(ctx context.Context, id models.Identity) (*models.Lease, bool, error) {
	now := m.now()
	lease := &models.Lease{
		Identity:  id,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(m.ttl),
	}

	ok, err := m.store.AcquireLease(ctx, *lease, now)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	m.logger.Debug("lease acquired", "identity", id.String(), "expires_at", lease.ExpiresAt)
	return lease, true, nil
}

// Release drops the lease without spending. Releasing a nil or already lost
// lease is a no-op.
func (m *LockManager) Release(ctx context.Context, lease *models.Lease) error {
	if lease == nil {
		return nil
	}
	released, err := m.store.ReleaseLease(ctx, lease.Identity, lease.Token)
	if err != nil {
		return err
	}
	if !released {
		m.logger.Debug("lease already gone", "identity", lease.Identity.String())
	}
	return nil
}

// Consume spends the unit guarded by lease and clears the lease.
func (m *LockManager) Consume(ctx context.Context, lease *models.Lease) error {
	if lease == nil {
		return ledger.ErrLeaseNotHeld
	}
	return m.store.ConsumeLease(ctx, lease.Identity, lease.Token, m.now())
}

// ReclaimExpired clears every lease past its expiry and returns how many.
func (m *LockManager) ReclaimExpired(ctx context.Context) (int64, error) {
	n, err := m.store.ReclaimExpiredLeases(ctx, m.now())
	if err != nil {
		return n, err
	}
	if n > 0 {
		m.logger.Warn("reclaimed expired leases", "count", n)
	}
	return n, nil
}

// RunReclaimer calls ReclaimExpired every interval until ctx is done.
func (m *LockManager) RunReclaimer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ReclaimExpired(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("failed to reclaim expired leases", "error", err)
			}
		}
	}
}
