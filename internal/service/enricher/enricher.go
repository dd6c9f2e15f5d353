// Package enricher runs Phase 2: a pool of workers drains the durable
// queue, sends each node through the deep model analysis and commits
// the result in one transaction. A worker never decides retry policy
// itself; it reports the failure and its retryability to the queue
// service and moves on.
package enricher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"curio-backend/internal/domain/audit"
	domainevents "curio-backend/internal/domain/events"
	"curio-backend/internal/domain/job"
	"curio-backend/internal/domain/metadata"
	"curio-backend/internal/domain/node"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/infrastructure/events"
	"curio-backend/internal/observability"
	"curio-backend/internal/repository"
	"curio-backend/internal/service/hierarchy"
	"curio-backend/internal/service/llm"
	"curio-backend/internal/service/queue"
)

// Config sizes the worker pool and names the model settings.
type Config struct {
	Workers      int
	PollInterval time.Duration
	Model        string
	MaxTokens    int64
}

// Service is the Phase-2 worker pool.
type Service struct {
	queue       *queue.Service
	nodes       repository.NodeRepository
	meta        repository.MetadataRepository
	audits      repository.AuditRepository
	tx          repository.TransactionManager
	hier        *hierarchy.Service
	llm         *llm.Client
	bus         *events.Bus
	invalidator repository.HierarchyInvalidator
	cfg         Config
	logger      *zap.Logger
	metrics     *observability.Collector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires the enrichment pool. invalidator may be nil when no
// caching hierarchy reader is installed.
func NewService(
	q *queue.Service,
	nodes repository.NodeRepository,
	meta repository.MetadataRepository,
	audits repository.AuditRepository,
	tx repository.TransactionManager,
	hier *hierarchy.Service,
	llmClient *llm.Client,
	bus *events.Bus,
	invalidator repository.HierarchyInvalidator,
	cfg Config,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Service {
	return &Service{
		queue:       q,
		nodes:       nodes,
		meta:        meta,
		audits:      audits,
		tx:          tx,
		hier:        hier,
		llm:         llmClient,
		bus:         bus,
		invalidator: invalidator,
		cfg:         cfg,
		logger:      logger.Named("enricher"),
		metrics:     metrics,
	}
}

// Start launches the workers. Each polls the queue on its own timer so
// a slow job on one worker never stalls the others.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		workerID := fmt.Sprintf("enricher-%s", uuid.New().String()[:8])
		s.wg.Add(1)
		go s.run(ctx, workerID)
	}
	s.logger.Info("enrichment workers started",
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("pollInterval", s.cfg.PollInterval))
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, workerID string) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("workerId", workerID))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		for {
			j, err := s.queue.Claim(ctx, workerID)
			if err != nil {
				logger.Error("claim failed", zap.Error(err))
				break
			}
			if j == nil {
				break
			}
			s.metrics.WorkersBusy.Inc()
			s.process(ctx, logger, j)
			s.metrics.WorkersBusy.Dec()

			if ctx.Err() != nil {
				return
			}
		}
		timer.Reset(s.cfg.PollInterval)
	}
}

// process runs one claimed job to a settled outcome.
func (s *Service) process(ctx context.Context, logger *zap.Logger, j *job.Job) {
	logger = logger.With(
		zap.String("jobId", j.ID),
		zap.String("nodeId", j.NodeID),
		zap.Int("attempt", j.Attempts))
	start := time.Now()

	updates, err := s.enrichNode(ctx, j)
	if err != nil {
		s.settleFailure(ctx, logger, j, err)
		return
	}

	if _, err := s.queue.Complete(ctx, j.ID); err != nil {
		logger.Error("job completion failed", zap.Error(err))
		return
	}
	logger.Info("node enriched",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("hierarchyUpdates", len(updates)))
	s.bus.Publish(domainevents.EnrichmentComplete{
		NodeID:           j.NodeID,
		Success:          true,
		HierarchyUpdates: updates,
		Timestamp:        time.Now().UTC(),
	})
}

// enrichNode performs the model call and commits the node delta. The
// returned updates list the code moves caused by a revised
// classification; it is empty when the node stayed put.
func (s *Service) enrichNode(ctx context.Context, j *job.Job) ([]domainevents.HierarchyUpdate, error) {
	id, err := node.ParseID(j.NodeID)
	if err != nil {
		return nil, err
	}
	n, err := s.nodes.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resp, err := s.llm.Complete(ctx, "enrich", llm.Request{
		Model:       s.cfg.Model,
		System:      systemPrompt(),
		Prompt:      userPrompt(n),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, err
	}
	p, err := parsePayload(resp.Text)
	if err != nil {
		return nil, err
	}

	return s.commit(ctx, id, p)
}

// commit applies the payload to the node in one transaction: the
// enrichment delta, the metadata links, and, when the model revised the
// classification, a re-placement in both views with the sibling
// restructures that entails.
func (s *Service) commit(ctx context.Context, id node.ID, p *payload) ([]domainevents.HierarchyUpdate, error) {
	var (
		updates []domainevents.HierarchyUpdate
		pairs   []repository.PrefixPair
	)

	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		updates = updates[:0]
		pairs = pairs[:0]

		// Reload inside the transaction; the node may have moved since
		// the job was claimed.
		n, err := s.nodes.Get(txCtx, id)
		if err != nil {
			return err
		}

		n.ApplyEnrichment(p.enrichment())

		if proposed, ok := p.classification(n.Classification()); ok && n.ApplyClassification(proposed) {
			for _, view := range node.Views {
				oldCode := n.HierarchyCode(view)
				plan, err := s.hier.PlanPlacement(txCtx, view, n.BasePathFor(view), hierarchy.MemberOf(n, view))
				if err != nil {
					return err
				}
				if err := s.hier.ExecuteRestructure(txCtx, plan, audit.TriggerEnrichment); err != nil {
					return err
				}
				if err := n.SetHierarchyCode(view, plan.NewCode); err != nil {
					return err
				}
				if err := s.audits.Record(txCtx, audit.NewEntry(
					id.String(), view.String(), oldCode, plan.NewCode,
					audit.ChangeMoved, audit.TriggerEnrichment,
					"classification revised during enrichment")); err != nil {
					return err
				}
				updates = append(updates, domainevents.HierarchyUpdate{
					View:    view.String(),
					OldCode: oldCode,
					NewCode: plan.NewCode,
				})
				pairs = append(pairs, plan.PrefixPairs()...)
				pairs = append(pairs, repository.PrefixPair{Old: oldCode, New: plan.NewCode})
			}
		}

		if err := s.nodes.Update(txCtx, n); err != nil {
			return err
		}
		return s.meta.SetNodeMetadata(txCtx, id, metadata.SourceEnrichment, p.metadataCodes())
	})
	if err != nil {
		return nil, err
	}

	if s.invalidator != nil {
		// Titles and counts feed the tree projections, so even an
		// in-place enrichment stales the cache.
		if len(pairs) > 0 {
			s.invalidator.InvalidatePrefixes(pairs)
		} else {
			s.invalidator.InvalidateAll()
		}
	}
	return updates, nil
}

// settleFailure reports the failed attempt to the queue and, when the
// job settles permanently, tells subscribers.
func (s *Service) settleFailure(ctx context.Context, logger *zap.Logger, j *job.Job, cause error) {
	logger.Warn("enrichment attempt failed", zap.Error(cause))

	settled, err := s.queue.Fail(ctx, j.ID, cause.Error(), retryable(cause, j.Attempts))
	if err != nil {
		logger.Error("job settlement failed", zap.Error(err))
		return
	}
	if settled.Status == job.StatusFailed {
		s.bus.Publish(domainevents.EnrichmentComplete{
			NodeID:       j.NodeID,
			Success:      false,
			ErrorMessage: cause.Error(),
			Timestamp:    time.Now().UTC(),
		})
	}
}

// retryable maps a failure to the queue's retry decision. Malformed
// model output gets exactly one more chance; a model that keeps
// returning garbage for the same node will not improve on attempt five.
func retryable(err error, attempt int) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeSchemaValidationFailed, apperrors.CodeLLMParsingError:
		return attempt < 2
	default:
		return apperrors.CodeOf(err).IsRetryable()
	}
}
