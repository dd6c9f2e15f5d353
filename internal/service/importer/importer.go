// Package importer orchestrates Phase 1: one URL in, one placed node
// out. The pipeline is validate, duplicate check, extract, classify,
// plan, commit, enqueue. Everything up to the commit honors client
// cancellation; once the transaction starts the import runs to its end.
package importer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"curio-backend/internal/domain/audit"
	"curio-backend/internal/domain/job"
	"curio-backend/internal/domain/metadata"
	"curio-backend/internal/domain/node"
	"curio-backend/internal/domain/taxonomy"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/observability"
	"curio-backend/internal/redact"
	"curio-backend/internal/repository"
	"curio-backend/internal/service/classifier"
	"curio-backend/internal/service/extraction"
	"curio-backend/internal/service/hierarchy"
	"curio-backend/internal/service/queue"
	"curio-backend/internal/service/urlvalidation"
)

// Options tunes one import run.
type Options struct {
	// ForceRefresh bypasses both the duplicate short-circuit and the
	// classification cache: an existing node is re-extracted and
	// re-classified in place.
	ForceRefresh bool
	// CreateQueueJob schedules Phase 2 after the commit.
	CreateQueueJob bool
	// Priority orders the Phase-2 job against the rest of the queue.
	Priority int
}

// DefaultOptions enables Phase-2 scheduling at normal priority.
func DefaultOptions() Options {
	return Options{CreateQueueJob: true}
}

// HierarchyCodes names the node's position in both views.
type HierarchyCodes struct {
	Function     string `json:"function"`
	Organization string `json:"organization"`
}

// Result is the import outcome returned to the caller.
type Result struct {
	Success        bool               `json:"success"`
	NodeID         string             `json:"nodeId"`
	Cached         bool               `json:"cached"`
	Classification *classifier.Result `json:"classification,omitempty"`
	HierarchyCodes HierarchyCodes     `json:"hierarchyCodes"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	Phase2Queued   bool               `json:"phase2Queued"`
	Phase2JobID    string             `json:"phase2JobId,omitempty"`
}

// Service runs the import pipeline.
type Service struct {
	validator  *urlvalidation.Validator
	extractors *extraction.Registry
	classifier *classifier.Service
	hier       *hierarchy.Service
	nodes      repository.NodeRepository
	meta       repository.MetadataRepository
	audits     repository.AuditRepository
	tx         repository.TransactionManager
	queue      *queue.Service
	invalidator repository.HierarchyInvalidator
	tracer     *observability.TracerProvider
	logger     *zap.Logger
	metrics    *observability.Collector

	batches *batchRegistry
}

// NewService wires the pipeline. invalidator and tracer may be nil.
func NewService(
	validator *urlvalidation.Validator,
	extractors *extraction.Registry,
	cls *classifier.Service,
	hier *hierarchy.Service,
	nodes repository.NodeRepository,
	meta repository.MetadataRepository,
	audits repository.AuditRepository,
	tx repository.TransactionManager,
	q *queue.Service,
	invalidator repository.HierarchyInvalidator,
	tracer *observability.TracerProvider,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Service {
	return &Service{
		validator:   validator,
		extractors:  extractors,
		classifier:  cls,
		hier:        hier,
		nodes:       nodes,
		meta:        meta,
		audits:      audits,
		tx:          tx,
		queue:       q,
		invalidator: invalidator,
		tracer:      tracer,
		logger:      logger.Named("importer"),
		metrics:     metrics,
		batches:     newBatchRegistry(),
	}
}

// Import runs the pipeline for one URL.
func (s *Service) Import(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	start := time.Now()
	result, err := s.run(ctx, rawURL, opts)
	s.metrics.ImportDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		s.metrics.ImportsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("import failed",
			zap.String("url", redact.URL(rawURL)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	case result.Cached:
		s.metrics.ImportsTotal.WithLabelValues("cached").Inc()
	default:
		s.metrics.ImportsTotal.WithLabelValues("imported").Inc()
		s.logger.Info("import complete",
			zap.String("nodeId", result.NodeID),
			zap.String("functionCode", result.HierarchyCodes.Function),
			zap.String("organizationCode", result.HierarchyCodes.Organization),
			zap.Bool("phase2Queued", result.Phase2Queued),
			zap.Duration("elapsed", time.Since(start)))
	}
	return result, nil
}

func (s *Service) run(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	canonical, err := s.stageValidate(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.nodes.GetByURL(ctx, canonical.String())
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && !opts.ForceRefresh {
		return &Result{
			Success: true,
			NodeID:  existing.ID.String(),
			Cached:  true,
			HierarchyCodes: HierarchyCodes{
				Function:     existing.FunctionHierarchyCode,
				Organization: existing.OrganizationHierarchyCode,
			},
		}, nil
	}

	extracted, err := s.stageExtract(ctx, canonical)
	if err != nil {
		return nil, err
	}

	classification, err := s.stageClassify(ctx, canonical, extracted, opts.ForceRefresh)
	if err != nil {
		return nil, err
	}

	n, err := s.buildNode(existing, canonical, extracted, classification.Classification)
	if err != nil {
		return nil, err
	}

	if err := s.stageCommit(ctx, n, existing != nil, classification.Confidence); err != nil {
		return nil, err
	}

	result := &Result{
		Success:        true,
		NodeID:         n.ID.String(),
		Classification: classification,
		HierarchyCodes: HierarchyCodes{
			Function:     n.FunctionHierarchyCode,
			Organization: n.OrganizationHierarchyCode,
		},
		Metadata: n.ExtractedFields,
	}

	// The node is committed; a cancelled client no longer aborts the
	// Phase-2 handoff.
	if opts.CreateQueueJob {
		j, _, err := s.queue.Enqueue(context.WithoutCancel(ctx), n.ID.String(), job.PhaseEnrichment, opts.Priority)
		if err != nil {
			s.logger.Error("phase-2 enqueue failed after commit",
				zap.String("nodeId", n.ID.String()),
				zap.Error(err))
		} else {
			result.Phase2Queued = true
			result.Phase2JobID = j.ID
		}
	}
	return result, nil
}

func (s *Service) stageValidate(ctx context.Context, rawURL string) (urlvalidation.Canonical, error) {
	_, span := s.span(ctx, "validate")
	defer span()
	return s.validator.Validate(rawURL)
}

func (s *Service) stageExtract(ctx context.Context, u urlvalidation.Canonical) (*extraction.Extracted, error) {
	ctx, span := s.span(ctx, "extract", attribute.String("host", u.Host()))
	defer span()
	return s.extractors.Extract(ctx, u)
}

func (s *Service) stageClassify(ctx context.Context, u urlvalidation.Canonical, e *extraction.Extracted, forceRefresh bool) (*classifier.Result, error) {
	ctx, span := s.span(ctx, "classify", attribute.String("host", u.Host()))
	defer span()
	return s.classifier.Classify(ctx, classifier.Input{
		URL:             u.String(),
		Title:           e.Title,
		Domain:          u.Host(),
		Description:     e.Description,
		Author:          e.Author,
		SiteName:        e.SiteName,
		Excerpt:         e.Content,
		ContentTypeHint: e.ContentTypeHint,
	}, forceRefresh)
}

// buildNode assembles the aggregate, creating it fresh or carrying the
// identity of the node being refreshed. An organization the classifier
// could not name is derived from the source domain.
func (s *Service) buildNode(existing *node.Node, u urlvalidation.Canonical, e *extraction.Extracted, c taxonomy.Classification) (*node.Node, error) {
	if c.Organization == taxonomy.DefaultOrganization {
		if code, ok := taxonomy.OrganizationForDomain(u.Host()); ok {
			c.Organization = code
		} else {
			c.Organization = taxonomy.DeriveOrganization(u.Host())
		}
	}

	if existing == nil {
		return node.New(node.Draft{
			CanonicalURL:   u.String(),
			Title:          e.Title,
			SourceDomain:   u.Host(),
			Company:        e.SiteName,
			Classification: c,
			Extracted:      e.Fields(),
			ShortDesc:      e.Description,
			LogoURL:        e.Favicon,
		})
	}

	n := existing
	if e.Title != "" {
		n.Title = e.Title
	}
	if e.Description != "" {
		n.ShortDescription = e.Description
	}
	n.ExtractedFields = e.Fields()
	n.ApplyClassification(c)
	n.RecomputeDescriptor()
	return n, nil
}

// stageCommit places the node and persists everything in one
// transaction: sibling restructures, the node row, the audit trail and
// the classifier-derived metadata links.
func (s *Service) stageCommit(ctx context.Context, n *node.Node, refresh bool, confidence float64) error {
	ctx, span := s.span(ctx, "commit", attribute.String("nodeId", n.ID.String()))
	defer span()

	var pairs []repository.PrefixPair
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		pairs = pairs[:0]

		plans, err := s.hier.PlanForNode(txCtx, n)
		if err != nil {
			return err
		}

		entries := make([]audit.Entry, 0, len(node.Views))
		for _, view := range node.Views {
			plan := plans[view]
			if err := s.hier.ExecuteRestructure(txCtx, plan, audit.TriggerImport); err != nil {
				return err
			}
			oldCode := n.HierarchyCode(view)
			if err := n.SetHierarchyCode(view, plan.NewCode); err != nil {
				return err
			}
			change, reason := audit.ChangeCreated, "imported"
			if refresh {
				change, reason = audit.ChangeUpdated, "re-imported with refresh"
			}
			entries = append(entries, audit.NewEntry(
				n.ID.String(), view.String(), oldCode, plan.NewCode,
				change, audit.TriggerImport, reason))
			pairs = append(pairs, plan.PrefixPairs()...)
		}

		if refresh {
			err = s.nodes.Update(txCtx, n)
		} else {
			err = s.nodes.Create(txCtx, n)
		}
		if err != nil {
			return err
		}
		if err := s.audits.Record(txCtx, entries...); err != nil {
			return err
		}
		return s.meta.SetNodeMetadata(txCtx, n.ID, metadata.SourceClassifier, classifierCodes(n, confidence))
	})
	if err != nil {
		return err
	}

	if s.invalidator != nil {
		s.invalidator.InvalidatePrefixes(pairs)
	}
	return nil
}

// classifierCodes projects the node's classification into metadata
// links. These are stored as-is: taxonomy codes are already canonical
// and shorter than the free-tag minimum length.
func classifierCodes(n *node.Node, confidence float64) []metadata.Code {
	mk := func(typ, code string) metadata.Code {
		return metadata.Code{
			Type:       typ,
			Code:       code,
			Confidence: confidence,
			Source:     metadata.SourceClassifier,
		}
	}
	return []metadata.Code{
		mk(taxonomy.MetaSegment, n.SegmentCode),
		mk(taxonomy.MetaCategory, n.CategoryCode),
		mk(taxonomy.MetaContentType, n.ContentTypeCode),
		mk(taxonomy.MetaOrganization, n.Organization),
	}
}

// span opens a pipeline stage span when tracing is configured. The
// returned func ends it.
func (s *Service) span(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func()) {
	if s.tracer == nil {
		return ctx, func() {}
	}
	ctx, sp := s.tracer.StartStage(ctx, stage, attrs...)
	return ctx, func() { sp.End() }
}
