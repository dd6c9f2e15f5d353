package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaintenanceConfig drives the background sweeps.
type MaintenanceConfig struct {
	// VisibilityTimeout is how long a claim may go silent before the
	// job is considered orphaned.
	VisibilityTimeout time.Duration
	// ReaperInterval is the sweep period for orphan recovery.
	ReaperInterval time.Duration
	// CompletedRetention is how long settled jobs are kept before the
	// janitor removes them.
	CompletedRetention time.Duration
}

// Maintainer runs the reaper and the janitor on their intervals. A
// worker that dies mid-job leaves a processing row behind; the reaper
// fails it retryable so the backoff policy decides whether it runs
// again. The janitor clears completed jobs past retention.
type Maintainer struct {
	svc    *Service
	cfg    MaintenanceConfig
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMaintainer wires the sweeps over the queue service.
func NewMaintainer(svc *Service, cfg MaintenanceConfig, logger *zap.Logger) *Maintainer {
	return &Maintainer{
		svc:    svc,
		cfg:    cfg,
		logger: logger.Named("queue_maintenance"),
	}
}

// Start launches both sweeps. One immediate reap recovers jobs orphaned
// by a previous process before any worker claims new work.
func (m *Maintainer) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.reap(ctx)

	m.wg.Add(2)
	go m.loop(ctx, m.cfg.ReaperInterval, m.reap)
	go m.loop(ctx, m.cfg.CompletedRetention/4+time.Minute, m.clean)
}

// Stop halts the sweeps and waits for in-flight passes to finish.
func (m *Maintainer) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Maintainer) loop(ctx context.Context, interval time.Duration, pass func(context.Context)) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

// reap recovers processing jobs whose claim outlived the visibility
// timeout.
func (m *Maintainer) reap(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.cfg.VisibilityTimeout)
	stale, err := m.svc.repo.ListStale(ctx, cutoff)
	if err != nil {
		m.logger.Warn("stale job sweep failed", zap.Error(err))
		return
	}
	for _, j := range stale {
		m.logger.Warn("reclaiming orphaned job",
			zap.String("jobId", j.ID),
			zap.String("nodeId", j.NodeID),
			zap.String("owner", j.Owner),
			zap.Timep("claimedAt", j.ClaimedAt))
		if _, err := m.svc.Fail(ctx, j.ID, "visibility timeout exceeded", true); err != nil {
			m.logger.Error("orphan recovery failed",
				zap.String("jobId", j.ID),
				zap.Error(err))
		}
	}
}

// clean removes completed jobs older than the retention window.
func (m *Maintainer) clean(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.cfg.CompletedRetention)
	if _, err := m.svc.ClearCompleted(ctx, cutoff); err != nil {
		m.logger.Warn("completed job cleanup failed", zap.Error(err))
	}
}
