package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainevents "curio-backend/internal/domain/events"
	"curio-backend/internal/domain/job"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/infrastructure/events"
	"curio-backend/internal/observability"
	"curio-backend/internal/repository"
	"curio-backend/internal/repository/mocks"
)

func newTestService(t *testing.T) (*Service, *mocks.MockRepository, *events.Bus) {
	t.Helper()
	repo := mocks.NewMockRepository()
	bus := events.NewBus(zap.NewNop())
	svc := NewService(repo.Queue(), bus, Config{
		BackoffBase:    time.Second,
		BackoffCeiling: 5 * time.Minute,
		MaxAttempts:    3,
	}, zap.NewNop(), observability.NewCollector("curio"))
	return svc, repo, bus
}

func claimProcessing(t *testing.T, svc *Service, workerID string) *job.Job {
	t.Helper()
	j, err := svc.Claim(context.Background(), workerID)
	require.NoError(t, err)
	require.NotNil(t, j)
	return j
}

func TestEnqueueReturnsLiveJobUnchanged(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 7)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0, second.Priority, "live job keeps its original priority")
}

func TestEnqueueRejectsUnknownPhase(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.Enqueue(context.Background(), "node-1", job.Phase("phase9"), 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
}

func TestClaimReturnsNilOnEmptyQueue(t *testing.T) {
	svc, _, _ := newTestService(t)

	j, err := svc.Claim(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestFailReschedulesRetryableWithBackoff(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	claimed := claimProcessing(t, svc, "worker-1")
	assert.Equal(t, 1, claimed.Attempts)

	before := time.Now().UTC()
	failed, err := svc.Fail(ctx, claimed.ID, "rate limited", true)
	require.NoError(t, err)

	assert.Equal(t, job.StatusPending, failed.Status)
	assert.Equal(t, 1, failed.Attempts, "reschedule keeps the attempt count")
	assert.Equal(t, "rate limited", failed.ErrorMessage)
	assert.False(t, failed.NextEligibleAt.Before(before), "next attempt is delayed")
	assert.True(t, failed.NextEligibleAt.Before(before.Add(5*time.Minute+time.Second)))
}

func TestFailExhaustedAttemptsSettlesFailed(t *testing.T) {
	// Nanosecond backoff keeps rescheduled jobs immediately eligible.
	repo := mocks.NewMockRepository()
	svc := NewService(repo.Queue(), events.NewBus(zap.NewNop()), Config{
		BackoffBase:    time.Nanosecond,
		BackoffCeiling: 2 * time.Nanosecond,
		MaxAttempts:    3,
	}, zap.NewNop(), observability.NewCollector("curio"))
	ctx := context.Background()

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)

	// Burn through every attempt with retryable failures.
	var last *job.Job
	for attempt := 1; attempt <= 3; attempt++ {
		claimed := claimProcessing(t, svc, "worker-1")
		assert.Equal(t, attempt, claimed.Attempts)
		last, err = svc.Fail(ctx, claimed.ID, "still down", true)
		require.NoError(t, err)
		if attempt < 3 {
			assert.Equal(t, job.StatusPending, last.Status)
		}
	}

	assert.Equal(t, job.StatusFailed, last.Status)
	assert.Equal(t, 3, last.Attempts)
}

func TestFailNonRetryableSettlesImmediately(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	claimed := claimProcessing(t, svc, "worker-1")

	failed, err := svc.Fail(ctx, claimed.ID, "bad api key", false)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
}

func TestCancelRefusesProcessingJob(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	claimed := claimProcessing(t, svc, "worker-1")

	_, err = svc.Cancel(ctx, claimed.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancelPendingJob(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	enqueued, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, cancelled.Status)

	// At-most-one-live: the slot is free again.
	_, created, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRetryResetsFailedJob(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	claimed := claimProcessing(t, svc, "worker-1")
	_, err = svc.Fail(ctx, claimed.ID, "broken", false)
	require.NoError(t, err)

	reset, err := svc.Retry(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, reset.Status)
	assert.Zero(t, reset.Attempts)
	assert.Empty(t, reset.ErrorMessage)

	// Retrying a pending job is refused.
	_, err = svc.Retry(ctx, claimed.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestTransitionsPublishQueueStatus(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx := context.Background()

	var statuses []domainevents.QueueStatus
	bus.Subscribe(domainevents.TypeQueueStatus, func(e domainevents.Event) {
		statuses = append(statuses, e.(domainevents.QueueStatus))
	})

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	claimed := claimProcessing(t, svc, "worker-1")
	_, err = svc.Complete(ctx, claimed.ID)
	require.NoError(t, err)

	require.Len(t, statuses, 3)
	assert.Equal(t, 1, statuses[0].Pending)
	assert.Equal(t, 1, statuses[1].Processing)
	assert.Equal(t, 1, statuses[2].Complete)
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ListJobs(context.Background(), repository.JobFilter{Status: "limbo"}, repository.Page{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestClearCompletedReportsCount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	claimed := claimProcessing(t, svc, "worker-1")
	_, err = svc.Complete(ctx, claimed.ID)
	require.NoError(t, err)

	cleared, err := svc.ClearCompleted(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}

func TestBackoffStaysWithinWindow(t *testing.T) {
	base := time.Second
	ceiling := 5 * time.Minute

	for attempt := 0; attempt < 20; attempt++ {
		for i := 0; i < 50; i++ {
			d := Backoff(base, ceiling, attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.Less(t, d, ceiling, "attempt %d", attempt)
		}
	}

	// Low attempts draw from the uncapped exponential window.
	for i := 0; i < 50; i++ {
		assert.Less(t, Backoff(base, ceiling, 1), 2*time.Second)
	}
}
