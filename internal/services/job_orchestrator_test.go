package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodglow-backend/internal/apperrors"
	"foodglow-backend/internal/ledger"
	"foodglow-backend/internal/models"
)

type recordingArchiver struct {
	mu      sync.Mutex
	jobs    []uuid.UUID
	failErr error
}

func (a *recordingArchiver) ArchiveJob(_ context.Context, jobID uuid.UUID, _ models.Identity, _, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return "", a.failErr
	}
	a.jobs = append(a.jobs, jobID)
	return "https://cdn.example.com/" + jobID.String(), nil
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []*models.JobRecord
}

func (r *recordingRecorder) RecordJob(_ context.Context, rec *models.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func trialState(t *testing.T, store ledger.Store, id models.Identity) models.TrialState {
	t.Helper()
	rec, err := store.GetTrial(context.Background(), id.Key)
	require.NoError(t, err)
	return rec.State(time.Now())
}

func balance(t *testing.T, store ledger.Store, id models.Identity) int {
	t.Helper()
	acct, err := store.GetAccount(context.Background(), id.Key)
	require.NoError(t, err)
	return acct.CreditBalance
}

func TestRunJob_FullTrialScenario(t *testing.T) {
	store := newStore(t)
	enhancer := &fakeEnhancer{result: enhanced()}
	archiver := &recordingArchiver{}
	recorder := &recordingRecorder{}
	orch := newOrchestrator(store, enhancer, JobOrchestratorOptions{Archiver: archiver, Recorder: recorder})
	ctx := context.Background()

	_, err := orch.RunJob(ctx, models.TrialIdentity("maria@example.com"), pngBytes, "dish.png")
	assert.Equal(t, apperrors.ReasonTrialNotClaimed, apperrors.As(err).Reason)

	id := claim(t, store, "maria@example.com")

	res, err := orch.RunJob(ctx, id, pngBytes, "dish.png")
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, res.Status)
	assert.True(t, res.Billed)
	assert.False(t, res.Degraded)
	assert.Equal(t, jpegBytes, res.Image)
	assert.Equal(t, "https://cdn.example.com/"+res.JobID.String(), res.ResultURL)
	assert.Equal(t, models.TrialConsumed, trialState(t, store, id))

	_, err = orch.RunJob(ctx, id, pngBytes, "dish.png")
	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.KindJobDenied, appErr.Kind)
	assert.Equal(t, apperrors.ReasonTrialUsed, appErr.Reason)
	assert.False(t, appErr.Retryable())
	assert.Equal(t, int32(1), enhancer.calls.Load())

	eligible, err := NewTrialService(store, orch.logger).ClaimTrial(ctx, "Maria", "maria@example.com", models.ClaimMetadata{})
	require.NoError(t, err)
	assert.False(t, eligible)

	require.Len(t, recorder.records, 1)
	assert.Equal(t, string(models.JobSucceeded), recorder.records[0].Status)
	assert.True(t, recorder.records[0].Billed)
	assert.Len(t, archiver.jobs, 1)
}

func TestRunJob_DegradedResultIsBilledByDefault(t *testing.T) {
	store := newStore(t)
	id := fund(t, store, "acct-1", 2)
	orch := newOrchestrator(store, &fakeEnhancer{result: degraded()}, JobOrchestratorOptions{BillDegradedResults: true})

	res, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	require.NoError(t, err)
	assert.Equal(t, models.JobFallback, res.Status)
	assert.True(t, res.Degraded)
	assert.True(t, res.Billed)
	assert.Equal(t, pngBytes, res.Image)
	assert.Equal(t, 1, balance(t, store, id))
}

func TestRunJob_DegradedResultUnbilled(t *testing.T) {
	store := newStore(t)
	id := claim(t, store, "maria@example.com")
	orch := newOrchestrator(store, &fakeEnhancer{result: degraded()}, JobOrchestratorOptions{BillDegradedResults: false})

	res, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.False(t, res.Billed)
	assert.Equal(t, models.TrialEligible, trialState(t, store, id))
}

func TestRunJob_ZeroBalanceFailsBeforeGateway(t *testing.T) {
	store := newStore(t)
	enhancer := &fakeEnhancer{result: enhanced()}
	orch := newOrchestrator(store, enhancer, JobOrchestratorOptions{})

	id := fund(t, store, "acct-1", 0)
	_, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	assert.Equal(t, apperrors.KindInsufficientCredit, apperrors.KindOf(err))

	_, err = orch.RunJob(context.Background(), models.AccountIdentity("never-seen"), pngBytes, "dish.png")
	assert.Equal(t, apperrors.KindInsufficientCredit, apperrors.KindOf(err))

	assert.Zero(t, enhancer.calls.Load())
}

func TestRunJob_TimeoutReleasesLeaseAndRetrySucceeds(t *testing.T) {
	store := newStore(t)
	id := claim(t, store, "maria@example.com")
	enhancer := &fakeEnhancer{result: timedOut()}
	recorder := &recordingRecorder{}
	orch := newOrchestrator(store, enhancer, JobOrchestratorOptions{Recorder: recorder})

	_, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.KindProviderTimeout, appErr.Kind)
	assert.True(t, appErr.Retryable())
	assert.ErrorIs(t, err, ErrProviderTimeout)
	assert.Equal(t, models.TrialEligible, trialState(t, store, id))

	enhancer.result = enhanced()
	res, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	require.NoError(t, err)
	assert.True(t, res.Billed)
	assert.Equal(t, models.TrialConsumed, trialState(t, store, id))

	require.Len(t, recorder.records, 2)
	assert.Equal(t, string(models.JobFailed), recorder.records[0].Status)
	assert.False(t, recorder.records[0].Billed)
}

func TestRunJob_GatewayFailureLeavesBalance(t *testing.T) {
	store := newStore(t)
	id := fund(t, store, "acct-1", 1)
	orch := newOrchestrator(store, &fakeEnhancer{result: timedOut()}, JobOrchestratorOptions{})

	_, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	require.Error(t, err)
	assert.Equal(t, 1, balance(t, store, id))

	acct, err := store.GetAccount(context.Background(), id.Key)
	require.NoError(t, err)
	assert.False(t, acct.Locked)
}

func TestRunJob_ConcurrentJobsSpendOnce(t *testing.T) {
	store := newStore(t)
	id := claim(t, store, "maria@example.com")
	release := make(chan struct{})
	enhancer := &fakeEnhancer{result: enhanced(), hook: func(context.Context) { <-release }}
	orch := newOrchestrator(store, enhancer, JobOrchestratorOptions{})

	const workers = 10
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		denials   atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
			if err == nil {
				successes.Add(1)
				return
			}
			if apperrors.Is(err, apperrors.KindJobDenied) {
				denials.Add(1)
			}
		}()
	}

	// Let the losers settle before the winner finishes.
	assert.Eventually(t, func() bool { return denials.Load() == workers-1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(1), enhancer.calls.Load())
	assert.Equal(t, models.TrialConsumed, trialState(t, store, id))
}

func TestRunJob_PanicReleasesLease(t *testing.T) {
	store := newStore(t)
	id := fund(t, store, "acct-1", 1)
	enhancer := &fakeEnhancer{hook: func(context.Context) { panic("provider exploded") }}
	orch := newOrchestrator(store, enhancer, JobOrchestratorOptions{})

	assert.Panics(t, func() {
		_, _ = orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	})

	acct, err := store.GetAccount(context.Background(), id.Key)
	require.NoError(t, err)
	assert.False(t, acct.Locked)
	assert.Equal(t, 1, acct.CreditBalance)
}

func TestRunJob_CancelledRequestStillSettles(t *testing.T) {
	store := newStore(t)
	id := claim(t, store, "maria@example.com")
	ctx, cancel := context.WithCancel(context.Background())
	// The client disconnects after the provider answered.
	enhancer := &fakeEnhancer{result: enhanced(), hook: func(context.Context) { cancel() }}
	orch := newOrchestrator(store, enhancer, JobOrchestratorOptions{})

	res, err := orch.RunJob(ctx, id, pngBytes, "dish.png")
	require.NoError(t, err)
	assert.True(t, res.Billed)
	assert.Equal(t, models.TrialConsumed, trialState(t, store, id))
}

func TestRunJob_LeaseLostBeforeConsume(t *testing.T) {
	store := newStore(t)
	id := claim(t, store, "maria@example.com")
	enhancer := &fakeEnhancer{result: enhanced(), hook: func(ctx context.Context) {
		// An operator reclaims every lease while the job runs.
		_, err := store.ReclaimExpiredLeases(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
	}}
	orch := newOrchestrator(store, enhancer, JobOrchestratorOptions{})

	_, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.KindJobDenied, appErr.Kind)
	assert.Equal(t, apperrors.ReasonLeaseLost, appErr.Reason)
	assert.Equal(t, models.TrialEligible, trialState(t, store, id))
}

func TestRunJob_ConsumeStoreErrorReleases(t *testing.T) {
	base := newStore(t)
	id := fund(t, base, "acct-1", 1)
	store := &flakyStore{Store: base, consumeErr: errors.New("connection reset")}
	store.releaseErrs.Store(1)
	orch := newOrchestrator(store, &fakeEnhancer{result: enhanced()}, JobOrchestratorOptions{})

	_, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	assert.Equal(t, apperrors.KindStoreUnavailable, apperrors.KindOf(err))
	assert.Equal(t, int32(2), store.releases.Load(), "release retried after one failure")

	acct, err := base.GetAccount(context.Background(), id.Key)
	require.NoError(t, err)
	assert.False(t, acct.Locked)
	assert.Equal(t, 1, acct.CreditBalance)
}

func TestRunJob_ReleaseFailureDoesNotMaskError(t *testing.T) {
	base := newStore(t)
	id := claim(t, base, "maria@example.com")
	store := &flakyStore{Store: base}
	store.releaseErrs.Store(10)
	orch := newOrchestrator(store, &fakeEnhancer{result: timedOut()}, JobOrchestratorOptions{})

	_, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	assert.Equal(t, apperrors.KindProviderTimeout, apperrors.KindOf(err))
	assert.Equal(t, int32(releaseRetries+1), store.releases.Load())
}

func TestRunJob_HungReleaseIsBounded(t *testing.T) {
	base := newStore(t)
	id := claim(t, base, "maria@example.com")
	store := &flakyStore{Store: base, releaseHangs: true}
	orch := newOrchestrator(store, &fakeEnhancer{result: timedOut()}, JobOrchestratorOptions{})
	orch.settleTimeout = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
		done <- err
	}()

	select {
	case err := <-done:
		assert.Equal(t, apperrors.KindProviderTimeout, apperrors.KindOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("RunJob blocked on a release that never returns")
	}
	assert.Equal(t, int32(1), store.releases.Load(), "no retries once the settle deadline passed")
}

func TestRunJob_AcquireStoreError(t *testing.T) {
	base := newStore(t)
	id := claim(t, base, "maria@example.com")
	enhancer := &fakeEnhancer{result: enhanced()}
	orch := newOrchestrator(&flakyStore{Store: base, acquireErr: errors.New("timeout")}, enhancer, JobOrchestratorOptions{})

	_, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	assert.Equal(t, apperrors.KindStoreUnavailable, apperrors.KindOf(err))
	assert.Zero(t, enhancer.calls.Load())
}

func TestRunJob_ArchiveFailureIsBestEffort(t *testing.T) {
	store := newStore(t)
	id := fund(t, store, "acct-1", 1)
	orch := newOrchestrator(store, &fakeEnhancer{result: enhanced()}, JobOrchestratorOptions{
		Archiver: &recordingArchiver{failErr: errors.New("bucket missing")},
	})

	res, err := orch.RunJob(context.Background(), id, pngBytes, "dish.png")
	require.NoError(t, err)
	assert.True(t, res.Billed)
	assert.Empty(t, res.ResultURL)
	assert.Equal(t, 0, balance(t, store, id))
}

func TestRunJob_Validation(t *testing.T) {
	orch := newOrchestrator(newStore(t), &fakeEnhancer{}, JobOrchestratorOptions{})

	_, err := orch.RunJob(context.Background(), models.Identity{}, pngBytes, "")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = orch.RunJob(context.Background(), models.AccountIdentity("acct-1"), nil, "")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}
