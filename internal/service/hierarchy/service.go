package hierarchy

import (
	"context"

	"go.uber.org/zap"

	"curio-backend/internal/domain/audit"
	"curio-backend/internal/domain/node"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/observability"
	"curio-backend/internal/repository"
)

// Service plans placements against live store state, executes the
// resulting mutations and serves tree projections. Projections read
// through the (usually cached) reader; planning reads the node
// repository directly so it always sees committed state.
type Service struct {
	nodes   repository.NodeRepository
	reader  repository.HierarchyReader
	audits  repository.AuditRepository
	planner *Planner
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewService wires the hierarchy engine.
func NewService(nodes repository.NodeRepository, reader repository.HierarchyReader, audits repository.AuditRepository, logger *zap.Logger, metrics *observability.Collector) *Service {
	return &Service{
		nodes:   nodes,
		reader:  reader,
		audits:  audits,
		planner: NewPlanner(),
		logger:  logger.Named("hierarchy"),
		metrics: metrics,
	}
}

// PlanPlacement computes the plan that places incoming under basePath
// in the view. The cohort is the live subtree under the base path,
// excluding the incoming node itself when it is being re-placed.
func (s *Service) PlanPlacement(ctx context.Context, view node.View, basePath string, incoming Member) (*Plan, error) {
	cohort, err := s.nodes.GetSubtree(ctx, view, basePath)
	if err != nil {
		return nil, err
	}
	siblings := make([]Member, 0, len(cohort))
	for _, n := range cohort {
		if n.ID.String() == incoming.NodeID {
			continue
		}
		siblings = append(siblings, MemberOf(n, view))
	}
	plan, err := s.planner.PlanRestructure(PlanInput{
		View:     view,
		BasePath: basePath,
		NewNode:  incoming,
		Siblings: siblings,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("placement planned",
		zap.String("view", view.String()),
		zap.String("basePath", basePath),
		zap.String("newCode", plan.NewCode),
		zap.Int("mutations", len(plan.Mutations)),
	)
	return plan, nil
}

// PlanForNode plans both views for a node from its classification.
func (s *Service) PlanForNode(ctx context.Context, n *node.Node) (map[node.View]*Plan, error) {
	plans := make(map[node.View]*Plan, len(node.Views))
	for _, view := range node.Views {
		plan, err := s.PlanPlacement(ctx, view, n.BasePathFor(view), MemberOf(n, view))
		if err != nil {
			return nil, err
		}
		plans[view] = plan
	}
	return plans, nil
}

// ExecuteRestructure applies a plan's sibling mutations and writes one
// audit entry per displaced node. It must run inside the transaction
// that persists the incoming node; the caller invalidates the
// hierarchy cache once that transaction commits.
func (s *Service) ExecuteRestructure(ctx context.Context, plan *Plan, trigger audit.TriggeredBy) error {
	if plan == nil || len(plan.Mutations) == 0 {
		return nil
	}
	if err := ValidatePlan(plan); err != nil {
		return err
	}
	if err := s.nodes.ApplyCodeMutations(ctx, plan.View, plan.Mutations); err != nil {
		return apperrors.Internal(apperrors.CodeDatabaseTransactionError, "restructure failed to apply").
			WithOperation("hierarchy.restructure").
			WithContext("view", plan.View.String()).
			WithContext("basePath", plan.BasePath).
			WithCause(err).Build()
	}

	related := make([]string, 0, len(plan.Assignments))
	for id := range plan.Assignments {
		related = append(related, id)
	}
	entries := make([]audit.Entry, 0, len(plan.Mutations))
	for _, m := range plan.Mutations {
		entries = append(entries,
			audit.NewEntry(m.NodeID, plan.View.String(), m.OldCode, m.NewCode,
				audit.ChangeRestructured, trigger, plan.Description).
				WithRelated(otherIDs(related, m.NodeID)))
	}
	if err := s.audits.Record(ctx, entries...); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RestructureN.Inc()
	}
	s.logger.Info("restructure executed",
		zap.String("view", plan.View.String()),
		zap.String("basePath", plan.BasePath),
		zap.Int("mutations", len(plan.Mutations)),
		zap.String("description", plan.Description),
	)
	return nil
}

func otherIDs(all []string, except string) []string {
	out := make([]string, 0, len(all)-1)
	for _, id := range all {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

// GetTree returns the full forest for a view.
func (s *Service) GetTree(ctx context.Context, view node.View) ([]*TreeNode, error) {
	nodes, err := s.reader.GetSubtree(ctx, view, "")
	if err != nil {
		return nil, err
	}
	return BuildTree(view, "", nodes), nil
}

// GetSubtree returns the forest under a code prefix.
func (s *Service) GetSubtree(ctx context.Context, view node.View, prefix string) ([]*TreeNode, error) {
	nodes, err := s.reader.GetSubtree(ctx, view, prefix)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, apperrors.NotFound(apperrors.CodeResourceNotFound, "nothing stored under prefix").
			WithContext("view", view.String()).
			WithContext("prefix", prefix).Build()
	}
	return BuildTree(view, prefix, nodes), nil
}

// GetAncestry returns the stored nodes from the view root down to the
// node, ending with the node itself.
func (s *Service) GetAncestry(ctx context.Context, view node.View, id node.ID) ([]*node.Node, error) {
	return s.reader.GetAncestry(ctx, view, id)
}

// GetNodeByCode resolves an exact hierarchy code.
func (s *Service) GetNodeByCode(ctx context.Context, view node.View, code string) (*node.Node, error) {
	return s.reader.GetNodeByHierarchyCode(ctx, view, code)
}
