// Package queue is the durable work queue in front of QueueRepository.
// The repository provides the atomic state moves; this layer owns the
// policy: at-most-one-live enqueue, the retry/backoff decision, status
// notifications and depth metrics.
package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	domainevents "curio-backend/internal/domain/events"
	"curio-backend/internal/domain/job"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/infrastructure/events"
	"curio-backend/internal/observability"
	"curio-backend/internal/repository"
)

// Service wraps the job store with retry policy and notifications.
type Service struct {
	repo    repository.QueueRepository
	bus     *events.Bus
	logger  *zap.Logger
	metrics *observability.Collector

	backoffBase    time.Duration
	backoffCeiling time.Duration
	maxAttempts    int
}

// Config carries the queue policy knobs.
type Config struct {
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
	MaxAttempts    int
}

// NewService wires the queue policy over the job store.
func NewService(repo repository.QueueRepository, bus *events.Bus, cfg Config, logger *zap.Logger, metrics *observability.Collector) *Service {
	return &Service{
		repo:           repo,
		bus:            bus,
		logger:         logger.Named("queue"),
		metrics:        metrics,
		backoffBase:    cfg.BackoffBase,
		backoffCeiling: cfg.BackoffCeiling,
		maxAttempts:    cfg.MaxAttempts,
	}
}

// Enqueue schedules phase work for a node. When a live job already
// exists for (node, phase) its id is returned unchanged and created is
// false; a terminal job for the pair is replaced by the new one.
func (s *Service) Enqueue(ctx context.Context, nodeID string, phase job.Phase, priority int) (*job.Job, bool, error) {
	if !phase.Valid() {
		return nil, false, apperrors.Validation(apperrors.CodeInvalidInput, "unknown job phase").
			WithContext("phase", string(phase)).Build()
	}

	created, live, err := s.repo.Enqueue(ctx, job.New(nodeID, phase, priority, s.maxAttempts))
	if err != nil {
		return nil, false, err
	}
	if created {
		s.metrics.QueueJobs.WithLabelValues("enqueued").Inc()
		s.logger.Debug("job enqueued",
			zap.String("jobId", live.ID),
			zap.String("nodeId", nodeID),
			zap.String("phase", string(phase)),
			zap.Int("priority", priority))
		s.publishStatus(ctx)
	}
	return live, created, nil
}

// Claim hands the most urgent eligible job to a worker, or nil when the
// queue has nothing ready.
func (s *Service) Claim(ctx context.Context, workerID string) (*job.Job, error) {
	j, err := s.repo.Claim(ctx, workerID, time.Now().UTC())
	if err != nil || j == nil {
		return nil, err
	}
	s.metrics.QueueJobs.WithLabelValues("claimed").Inc()
	s.publishStatus(ctx)
	return j, nil
}

// Complete settles a processing job as done.
func (s *Service) Complete(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := s.repo.MarkComplete(ctx, jobID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.QueueJobs.WithLabelValues("completed").Inc()
	s.logger.Debug("job complete",
		zap.String("jobId", j.ID),
		zap.String("nodeId", j.NodeID),
		zap.Int("attempts", j.Attempts))
	s.publishStatus(ctx)
	return j, nil
}

// Fail settles a processing job after a failed attempt. A retryable
// failure with attempts to spare returns the job to pending behind an
// exponential backoff; otherwise the job fails permanently.
func (s *Service) Fail(ctx context.Context, jobID, errMsg string, retryable bool) (*job.Job, error) {
	current, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if retryable && !current.ExhaustedAttempts() {
		delay := Backoff(s.backoffBase, s.backoffCeiling, current.Attempts)
		j, err := s.repo.Reschedule(ctx, jobID, errMsg, time.Now().UTC().Add(delay))
		if err != nil {
			return nil, err
		}
		s.metrics.QueueJobs.WithLabelValues("rescheduled").Inc()
		s.logger.Info("job rescheduled",
			zap.String("jobId", j.ID),
			zap.String("nodeId", j.NodeID),
			zap.Int("attempts", j.Attempts),
			zap.Int("maxAttempts", j.MaxAttempts),
			zap.Duration("delay", delay),
			zap.String("error", errMsg))
		s.publishStatus(ctx)
		return j, nil
	}

	j, err := s.repo.MarkFailed(ctx, jobID, errMsg, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.QueueJobs.WithLabelValues("failed").Inc()
	s.logger.Warn("job failed permanently",
		zap.String("jobId", j.ID),
		zap.String("nodeId", j.NodeID),
		zap.Int("attempts", j.Attempts),
		zap.String("error", errMsg))
	s.publishStatus(ctx)
	return j, nil
}

// Cancel removes a job that is not currently running. Processing jobs
// refuse cancellation; the owning worker must finish or time out first.
func (s *Service) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	current, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case job.StatusProcessing:
		return nil, apperrors.Conflict(apperrors.CodeInvalidInput, "job is running and cannot be cancelled").
			WithContext("jobId", jobID).Build()
	case job.StatusComplete, job.StatusFailed:
		// Already settled; cancelling is a no-op.
		return current, nil
	}

	j, err := s.repo.CancelPending(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.metrics.QueueJobs.WithLabelValues("cancelled").Inc()
	s.publishStatus(ctx)
	return j, nil
}

// Retry resets a failed job to pending with a clean attempt counter.
func (s *Service) Retry(ctx context.Context, jobID string) (*job.Job, error) {
	current, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.Status != job.StatusFailed {
		return nil, apperrors.Conflict(apperrors.CodeInvalidInput, "only failed jobs can be retried").
			WithContext("jobId", jobID).
			WithContext("status", string(current.Status)).Build()
	}

	j, err := s.repo.ResetForRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.metrics.QueueJobs.WithLabelValues("retried").Inc()
	s.logger.Info("job reset for retry",
		zap.String("jobId", j.ID),
		zap.String("nodeId", j.NodeID))
	s.publishStatus(ctx)
	return j, nil
}

// GetJob returns one job by id.
func (s *Service) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return s.repo.Get(ctx, jobID)
}

// GetJobsForNode returns every job recorded for a node, newest first.
func (s *Service) GetJobsForNode(ctx context.Context, nodeID string) ([]*job.Job, error) {
	return s.repo.ListForNode(ctx, nodeID)
}

// ListJobs returns a filtered page of jobs.
func (s *Service) ListJobs(ctx context.Context, filter repository.JobFilter, page repository.Page) (*repository.PaginatedResult[*job.Job], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "unknown job status").
			WithContext("status", string(filter.Status)).Build()
	}
	return s.repo.List(ctx, filter, page)
}

// ClearCompleted deletes complete jobs settled before the cutoff and
// reports how many were removed.
func (s *Service) ClearCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	cleared, err := s.repo.DeleteCompleted(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		s.logger.Info("completed jobs cleared", zap.Int64("count", cleared))
		s.publishStatus(ctx)
	}
	return cleared, nil
}

// Stats returns the queue counts by status.
func (s *Service) Stats(ctx context.Context) (job.Stats, error) {
	return s.repo.CountByStatus(ctx)
}

// publishStatus emits a queue_status event and refreshes the depth
// gauges. Best effort: a count failure is logged, never propagated,
// because the triggering transition already committed.
func (s *Service) publishStatus(ctx context.Context) {
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logger.Warn("queue status count failed", zap.Error(err))
		return
	}

	s.metrics.QueueDepth.WithLabelValues(string(job.StatusPending)).Set(float64(stats.Pending))
	s.metrics.QueueDepth.WithLabelValues(string(job.StatusProcessing)).Set(float64(stats.Processing))
	s.metrics.QueueDepth.WithLabelValues(string(job.StatusComplete)).Set(float64(stats.Complete))
	s.metrics.QueueDepth.WithLabelValues(string(job.StatusFailed)).Set(float64(stats.Failed))

	s.bus.Publish(domainevents.QueueStatus{
		Pending:    stats.Pending,
		Processing: stats.Processing,
		Complete:   stats.Complete,
		Failed:     stats.Failed,
		Timestamp:  time.Now().UTC(),
	})
}
