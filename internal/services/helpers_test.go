package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"foodglow-backend/internal/config"
	"foodglow-backend/internal/ledger"
	"foodglow-backend/internal/logging"
	"foodglow-backend/internal/models"
)

var (
	pngBytes  = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 0x49, 0x48, 0x44, 0x52}
	jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46, 0x49, 0x46, 0x00}
)

func newStore(t *testing.T) ledger.Store {
	t.Helper()
	cfg := &config.Config{
		DatabaseDriver: "sqlite",
		DatabaseURL:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString()),
	}
	store, err := ledger.Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func claim(t *testing.T, store ledger.Store, email string) models.Identity {
	t.Helper()
	ok, err := NewTrialService(store, logging.Discard()).ClaimTrial(context.Background(), "Maria", email, models.ClaimMetadata{})
	require.NoError(t, err)
	require.True(t, ok)
	return models.TrialIdentity(email)
}

func fund(t *testing.T, store ledger.Store, id string, credits int) models.Identity {
	t.Helper()
	accounts := NewAccountService(store, logging.Discard())
	_, err := accounts.EnsureAccount(context.Background(), id, id+"@example.com", "")
	require.NoError(t, err)
	if credits != 0 {
		_, err = accounts.GrantCredits(context.Background(), id, credits)
		require.NoError(t, err)
	}
	return models.AccountIdentity(id)
}

// editorFunc adapts a function to ImageEditor.
type editorFunc func(ctx context.Context, image []byte, filename, prompt string) ([]byte, error)

func (f editorFunc) EditImage(ctx context.Context, image []byte, filename, prompt string) ([]byte, error) {
	return f(ctx, image, filename, prompt)
}

// fakeEnhancer returns a fixed result and counts calls.
type fakeEnhancer struct {
	calls  atomic.Int32
	result EnhanceResult
	hook   func(ctx context.Context)
}

func (f *fakeEnhancer) Enhance(ctx context.Context, image []byte, filename string) EnhanceResult {
	f.calls.Add(1)
	if f.hook != nil {
		f.hook(ctx)
	}
	return f.result
}

func enhanced() EnhanceResult {
	return EnhanceResult{Outcome: OutcomeEnhanced, Image: jpegBytes, MimeType: "image/jpeg"}
}

func degraded() EnhanceResult {
	return EnhanceResult{Outcome: OutcomeDegraded, Image: pngBytes, MimeType: "image/png", Degraded: true, Err: fmt.Errorf("status 500")}
}

func timedOut() EnhanceResult {
	return EnhanceResult{Outcome: OutcomeFailed, Err: ErrProviderTimeout}
}

// flakyStore injects failures into selected ledger calls.
type flakyStore struct {
	ledger.Store
	consumeErr  error
	releaseErrs atomic.Int32
	releases    atomic.Int32
	acquireErr  error
	// releaseHangs makes ReleaseLease wait for its context.
	releaseHangs bool
}

func (s *flakyStore) ConsumeLease(ctx context.Context, id models.Identity, token string, at time.Time) error {
	if s.consumeErr != nil {
		return s.consumeErr
	}
	return s.Store.ConsumeLease(ctx, id, token, at)
}

func (s *flakyStore) ReleaseLease(ctx context.Context, id models.Identity, token string) (bool, error) {
	s.releases.Add(1)
	if s.releaseHangs {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if s.releaseErrs.Load() > 0 {
		s.releaseErrs.Add(-1)
		return false, fmt.Errorf("connection reset")
	}
	return s.Store.ReleaseLease(ctx, id, token)
}

func (s *flakyStore) AcquireLease(ctx context.Context, lease models.Lease, now time.Time) (bool, error) {
	if s.acquireErr != nil {
		return false, s.acquireErr
	}
	return s.Store.AcquireLease(ctx, lease, now)
}

func newOrchestrator(store ledger.Store, enhancer Enhancer, opts JobOrchestratorOptions) *JobOrchestrator {
	locks := NewLockManager(store, 5*time.Minute, logging.Discard())
	o := NewJobOrchestrator(store, locks, enhancer, opts, logging.Discard())
	o.releaseBackoff = time.Millisecond
	return o
}
