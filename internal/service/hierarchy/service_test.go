package hierarchy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"curio-backend/internal/domain/audit"
	"curio-backend/internal/domain/node"
	"curio-backend/internal/domain/taxonomy"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/observability"
	"curio-backend/internal/repository/mocks"
)

func newTestService(repo *mocks.MockRepository) *Service {
	return NewService(repo, repo, repo.Audit(), zap.NewNop(), observability.NewCollector("curio"))
}

func seedNode(t *testing.T, repo *mocks.MockRepository, company, domain string, added time.Time, fnCode, orgCode string) *node.Node {
	t.Helper()
	n, err := node.New(node.Draft{
		CanonicalURL: "https://" + domain + "/" + fnCode,
		Title:        company + " reference",
		SourceDomain: domain,
		Company:      company,
		Classification: taxonomy.Classification{
			Segment:      fnCode[:1],
			Category:     "LLM",
			ContentType:  "T",
			Organization: orgCode[:4],
			Confidence:   0.9,
		},
	})
	require.NoError(t, err)
	n.DateAdded = added
	require.NoError(t, n.SetHierarchyCode(node.ViewFunction, fnCode))
	require.NoError(t, n.SetHierarchyCode(node.ViewOrganization, orgCode))
	require.NoError(t, repo.Create(context.Background(), n))
	return n
}

func TestPlanPlacementLoadsCohort(t *testing.T) {
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)
	resident := seedNode(t, repo, "Anthropic", "anthropic.com", t0, "A.LLM.T.1", "ANTH.LLM.T.1")

	plan, err := svc.PlanPlacement(context.Background(), node.ViewFunction, "A.LLM.T",
		member("newcomer", "", "OpenAI", "openai.com", t1))
	require.NoError(t, err)

	assert.Equal(t, "A.LLM.T.2.1", plan.NewCode)
	require.Len(t, plan.Mutations, 1)
	assert.Equal(t, resident.ID.String(), plan.Mutations[0].NodeID)
	assert.Equal(t, "A.LLM.T.1.1", plan.Mutations[0].NewCode)
}

func TestPlanPlacementExcludesSelf(t *testing.T) {
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)
	resident := seedNode(t, repo, "Anthropic", "anthropic.com", t0, "A.LLM.T.1", "ANTH.LLM.T.1")

	// Replanning the only resident must not treat it as its own sibling.
	plan, err := svc.PlanPlacement(context.Background(), node.ViewFunction, "A.LLM.T",
		MemberOf(resident, node.ViewFunction))
	require.NoError(t, err)

	assert.Equal(t, "A.LLM.T.1", plan.NewCode)
	assert.Empty(t, plan.Mutations)
	assert.False(t, plan.SiblingsChanged)
}

func TestPlanForNodeCoversBothViews(t *testing.T) {
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)
	seedNode(t, repo, "Anthropic", "anthropic.com", t0, "A.LLM.T.1", "ANTH.LLM.T.1")

	incoming, err := node.New(node.Draft{
		CanonicalURL: "https://openai.com/research",
		Title:        "Research index",
		SourceDomain: "openai.com",
		Company:      "OpenAI",
		Classification: taxonomy.Classification{
			Segment:      "A",
			Category:     "LLM",
			ContentType:  "T",
			Organization: "OAIA",
			Confidence:   0.8,
		},
	})
	require.NoError(t, err)

	plans, err := svc.PlanForNode(context.Background(), incoming)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	// The function base path is contested, the organization one is not.
	assert.Equal(t, "A.LLM.T.2.1", plans[node.ViewFunction].NewCode)
	assert.Len(t, plans[node.ViewFunction].Mutations, 1)
	assert.Equal(t, "OAIA.LLM.T.1", plans[node.ViewOrganization].NewCode)
	assert.Empty(t, plans[node.ViewOrganization].Mutations)
}

func TestExecuteRestructureAppliesMutationsAndAudits(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)
	resident := seedNode(t, repo, "Anthropic", "anthropic.com", t0, "A.LLM.T.1", "ANTH.LLM.T.1")

	plan, err := svc.PlanPlacement(ctx, node.ViewFunction, "A.LLM.T",
		member("newcomer", "", "OpenAI", "openai.com", t1))
	require.NoError(t, err)

	require.NoError(t, svc.ExecuteRestructure(ctx, plan, audit.TriggerImport))

	moved, err := repo.Get(ctx, resident.ID)
	require.NoError(t, err)
	assert.Equal(t, "A.LLM.T.1.1", moved.FunctionHierarchyCode)
	assert.Equal(t, "ANTH.LLM.T.1", moved.OrganizationHierarchyCode, "other view untouched")

	entries := repo.AuditEntries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, resident.ID.String(), e.NodeID)
	assert.Equal(t, node.ViewFunction.String(), e.HierarchyType)
	assert.Equal(t, "A.LLM.T.1", e.OldCode)
	assert.Equal(t, "A.LLM.T.1.1", e.NewCode)
	assert.Equal(t, audit.ChangeRestructured, e.ChangeType)
	assert.Equal(t, audit.TriggerImport, e.TriggeredBy)
	assert.NotEmpty(t, e.Reason)
	assert.Contains(t, e.RelatedNodeIDs, "newcomer")
	assert.NotContains(t, e.RelatedNodeIDs, resident.ID.String())
}

func TestExecuteRestructureNoopPlan(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)

	require.NoError(t, svc.ExecuteRestructure(ctx, nil, audit.TriggerImport))

	plan, err := svc.PlanPlacement(ctx, node.ViewFunction, "A.LLM.T",
		member("first", "", "Anthropic", "anthropic.com", t0))
	require.NoError(t, err)
	require.Empty(t, plan.Mutations)

	require.NoError(t, svc.ExecuteRestructure(ctx, plan, audit.TriggerImport))
	assert.Empty(t, repo.AuditEntries())
}

func TestExecuteRestructureApplyFailure(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)
	seedNode(t, repo, "Anthropic", "anthropic.com", t0, "A.LLM.T.1", "ANTH.LLM.T.1")

	plan, err := svc.PlanPlacement(ctx, node.ViewFunction, "A.LLM.T",
		member("newcomer", "", "OpenAI", "openai.com", t1))
	require.NoError(t, err)

	repo.SetError("ApplyCodeMutations", errors.New("disk full"))
	err = svc.ExecuteRestructure(ctx, plan, audit.TriggerImport)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDatabaseTransactionError, apperrors.CodeOf(err))
	assert.Empty(t, repo.AuditEntries(), "no audit rows for a failed restructure")
}

func TestExecuteRestructureStalePlan(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)
	resident := seedNode(t, repo, "Anthropic", "anthropic.com", t0, "A.LLM.T.1", "ANTH.LLM.T.1")

	plan, err := svc.PlanPlacement(ctx, node.ViewFunction, "A.LLM.T",
		member("newcomer", "", "OpenAI", "openai.com", t1))
	require.NoError(t, err)

	// A concurrent writer moves the resident between planning and execution.
	moved, err := repo.Get(ctx, resident.ID)
	require.NoError(t, err)
	require.NoError(t, moved.SetHierarchyCode(node.ViewFunction, "A.LLM.T.7"))
	require.NoError(t, repo.Update(ctx, moved))

	err = svc.ExecuteRestructure(ctx, plan, audit.TriggerImport)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDatabaseTransactionError, apperrors.CodeOf(err))

	current, err := repo.Get(ctx, resident.ID)
	require.NoError(t, err)
	assert.Equal(t, "A.LLM.T.7", current.FunctionHierarchyCode, "stale plan must not clobber newer state")
}

func TestGetSubtreeProjection(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)
	a := seedNode(t, repo, "Anthropic", "anthropic.com", t0, "A.LLM.T.1.1", "ANTH.LLM.T.1")
	seedNode(t, repo, "OpenAI", "openai.com", t1, "A.LLM.T.2.1", "OAIA.LLM.T.1")
	seedNode(t, repo, "Vercel", "vercel.com", t2, "T.DEV.R.1", "VRCL.DEV.R.1")

	forest, err := svc.GetSubtree(ctx, node.ViewFunction, "A.LLM.T")
	require.NoError(t, err)
	require.Len(t, forest, 2)

	assert.Equal(t, "A.LLM.T.1", forest[0].Code)
	assert.Equal(t, "Anthropic", forest[0].Label)
	assert.Equal(t, 1, forest[0].Count)
	require.Len(t, forest[0].Children, 1)
	leaf := forest[0].Children[0]
	assert.Equal(t, "A.LLM.T.1.1", leaf.Code)
	assert.Equal(t, a.ID.String(), leaf.NodeID)
	assert.Equal(t, a.Title, leaf.Title)

	assert.Equal(t, "A.LLM.T.2", forest[1].Code)
	assert.Equal(t, "OpenAI", forest[1].Label)
}

func TestGetSubtreeEmptyPrefix(t *testing.T) {
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)

	_, err := svc.GetSubtree(context.Background(), node.ViewFunction, "Z.ZZZ.Z")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetTreeProjection(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)
	seedNode(t, repo, "Anthropic", "anthropic.com", t0, "A.LLM.T.1.1", "ANTH.LLM.T.1")
	seedNode(t, repo, "OpenAI", "openai.com", t1, "A.LLM.T.2.1", "OAIA.LLM.T.1")
	seedNode(t, repo, "Vercel", "vercel.com", t2, "T.DEV.R.1", "VRCL.DEV.R.1")

	roots, err := svc.GetTree(ctx, node.ViewFunction)
	require.NoError(t, err)
	require.Len(t, roots, 2)

	assert.Equal(t, "A", roots[0].Code)
	assert.Equal(t, "AI & Machine Learning", roots[0].Label)
	assert.Equal(t, 2, roots[0].Count)
	assert.Equal(t, "T", roots[1].Code)
	assert.Equal(t, "Technology", roots[1].Label)
	assert.Equal(t, 1, roots[1].Count)

	require.Len(t, roots[0].Children, 1)
	llm := roots[0].Children[0]
	assert.Equal(t, "A.LLM", llm.Code)
	assert.Equal(t, 2, llm.Count)
	require.Len(t, llm.Children, 1)
	assert.Equal(t, "Thread", llm.Children[0].Label)
}

func TestGetNodeByCode(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockRepository()
	svc := newTestService(repo)
	n := seedNode(t, repo, "Anthropic", "anthropic.com", t0, "A.LLM.T.1", "ANTH.LLM.T.1")

	got, err := svc.GetNodeByCode(ctx, node.ViewOrganization, "ANTH.LLM.T.1")
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	_, err = svc.GetNodeByCode(ctx, node.ViewFunction, "A.LLM.T.9")
	assert.True(t, apperrors.IsNotFound(err))
}
