package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"curio-backend/internal/domain/job"
)

func TestReaperRecoversOrphanedJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	claimed := claimProcessing(t, svc, "worker-dead")
	time.Sleep(2 * time.Millisecond)

	m := NewMaintainer(svc, MaintenanceConfig{
		VisibilityTimeout:  time.Millisecond,
		ReaperInterval:     time.Hour,
		CompletedRetention: time.Hour,
	}, zap.NewNop())

	// Start performs an immediate sweep before the ticker loops begin.
	m.Start(ctx)
	m.Stop()

	recovered, err := svc.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, recovered.Status)
	assert.Equal(t, 1, recovered.Attempts, "reaper does not double-count the attempt")
	assert.Empty(t, recovered.Owner)
}

func TestReaperLeavesFreshClaimsAlone(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)
	claimed := claimProcessing(t, svc, "worker-alive")

	m := NewMaintainer(svc, MaintenanceConfig{
		VisibilityTimeout:  time.Hour,
		ReaperInterval:     time.Hour,
		CompletedRetention: time.Hour,
	}, zap.NewNop())
	m.Start(ctx)
	m.Stop()

	still, err := svc.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, still.Status)
	assert.Equal(t, "worker-alive", still.Owner)
}

func TestReaperFailsExhaustedOrphanPermanently(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Enqueue(ctx, "node-1", job.PhaseEnrichment, 0)
	require.NoError(t, err)

	// Simulate two prior attempts, then a third claim that goes silent.
	var claimed *job.Job
	for i := 0; i < 3; i++ {
		claimed = claimProcessing(t, svc, "worker-dead")
		if i < 2 {
			_, err = mock.Queue().Reschedule(ctx, claimed.ID, "lost", time.Now().UTC().Add(-time.Second))
			require.NoError(t, err)
		}
	}
	time.Sleep(2 * time.Millisecond)

	m := NewMaintainer(svc, MaintenanceConfig{
		VisibilityTimeout:  time.Millisecond,
		ReaperInterval:     time.Hour,
		CompletedRetention: time.Hour,
	}, zap.NewNop())
	m.Start(ctx)
	m.Stop()

	settled, err := svc.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, settled.Status)
	assert.Equal(t, 3, settled.Attempts)
}
