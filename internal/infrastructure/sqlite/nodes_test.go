package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curio-backend/internal/domain/metadata"
	"curio-backend/internal/domain/node"
	"curio-backend/internal/domain/taxonomy"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/repository"
)

func buildNode(t *testing.T, url, company, domain string) *node.Node {
	t.Helper()
	n, err := node.New(node.Draft{
		CanonicalURL: url,
		Title:        company + " research notes",
		SourceDomain: domain,
		Company:      company,
		Classification: taxonomy.Classification{
			Segment:      "A",
			Category:     "LLM",
			ContentType:  "T",
			Organization: "ANTH",
			Confidence:   0.9,
		},
	})
	require.NoError(t, err)
	return n
}

func TestNodeCreateAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	n := buildNode(t, "https://anthropic.com/research", "Anthropic", "anthropic.com")
	n.MetadataTags = []string{"Go", "SQLite"}
	n.KeyConcepts = []string{"persistence", "indexing"}
	n.ExtractedFields = map[string]any{"author": "jane"}
	n.RecomputeDescriptor()
	require.NoError(t, repo.Create(ctx, n))

	got, err := repo.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "Anthropic research notes", got.Title)
	assert.Equal(t, "anthropic.com", got.SourceDomain)
	assert.Equal(t, []string{"Go", "SQLite"}, got.MetadataTags)
	assert.Equal(t, []string{"persistence", "indexing"}, got.KeyConcepts)
	assert.Equal(t, "jane", got.ExtractedFields["author"])
	assert.Equal(t, n.Descriptor, got.Descriptor)
	assert.WithinDuration(t, n.DateAdded, got.DateAdded, time.Second)
	assert.False(t, got.IsDeleted)
}

func TestNodeCreateRejectsLiveDuplicateURL(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	first := buildNode(t, "https://anthropic.com/research", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, first))

	dup := buildNode(t, "https://anthropic.com/research", "Someone Else", "anthropic.com")
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, apperrors.CodeDuplicateEntry, apperrors.CodeOf(err))

	// A soft-deleted holder releases the URL.
	require.NoError(t, repo.SoftDelete(ctx, first.ID))
	assert.NoError(t, repo.Create(ctx, dup))
}

func TestNodeCreateRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	first := buildNode(t, "https://anthropic.com/one", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, first))

	clash := buildNode(t, "https://anthropic.com/two", "Anthropic", "anthropic.com")
	clash.ID = first.ID
	err := repo.Create(ctx, clash)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, apperrors.CodeDuplicateEntry, apperrors.CodeOf(err))
}

func TestNodeGetMissing(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	_, err := repo.Get(ctx, node.NewID())
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, apperrors.CodeNodeNotFound, apperrors.CodeOf(err))

	_, err = repo.GetByURL(ctx, "https://nowhere.example/missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestNodeUpdatePersistsAndReindexes(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	n := buildNode(t, "https://anthropic.com/research", "Anthropic", "anthropic.com")
	n.Title = "Transformer architecture overview"
	n.RecomputeDescriptor()
	require.NoError(t, repo.Create(ctx, n))

	n.Title = "Attention internals guide"
	n.MetadataTags = []string{"attention"}
	n.RecomputeDescriptor()
	n.Touch()
	require.NoError(t, repo.Update(ctx, n))

	got, err := repo.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Attention internals guide", got.Title)
	assert.Equal(t, []string{"attention"}, got.MetadataTags)

	// The search index tracks the update: old tokens are gone, new
	// tokens hit.
	stale, err := repo.KeywordSearch(ctx, repository.SearchQuery{Text: "transformer"})
	require.NoError(t, err)
	assert.Empty(t, stale.Items)

	fresh, err := repo.KeywordSearch(ctx, repository.SearchQuery{Text: "internals"})
	require.NoError(t, err)
	require.Len(t, fresh.Items, 1)
	assert.Equal(t, n.ID, fresh.Items[0].ID)
}

func TestNodeUpdateMissing(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)

	ghost := buildNode(t, "https://anthropic.com/ghost", "Anthropic", "anthropic.com")
	err := repo.Update(context.Background(), ghost)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestNodeSoftDeleteHidesAndReleasesMetadata(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	meta := NewMetadataRepository(s)
	ctx := context.Background()

	n := buildNode(t, "https://anthropic.com/research", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, n))
	require.NoError(t, meta.SetNodeMetadata(ctx, n.ID, metadata.SourceClassifier, []metadata.Code{
		{Type: "technology", Code: "GO", Confidence: 0.8},
	}))

	entry, err := meta.GetRegistryEntry(ctx, "technology", "GO")
	require.NoError(t, err)
	require.Equal(t, 1, entry.UsageCount)

	require.NoError(t, repo.SoftDelete(ctx, n.ID))

	_, err = repo.Get(ctx, n.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = repo.GetByURL(ctx, n.URL)
	assert.True(t, apperrors.IsNotFound(err))

	entry, err = meta.GetRegistryEntry(ctx, "technology", "GO")
	require.NoError(t, err)
	assert.Zero(t, entry.UsageCount, "deleting the node returns its usage")

	links, err := meta.GetNodeMetadata(ctx, n.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	// Deleting twice reports the node gone.
	err = repo.SoftDelete(ctx, n.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestNodeListPaginatedFilters(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	anthropic := buildNode(t, "https://anthropic.com/a", "Anthropic", "anthropic.com")
	anthropic.DateAdded = base
	require.NoError(t, repo.Create(ctx, anthropic))

	openai := buildNode(t, "https://openai.com/a", "OpenAI", "openai.com")
	openai.DateAdded = base.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, openai))

	vercel := buildNode(t, "https://vercel.com/a", "Vercel", "vercel.com")
	vercel.SegmentCode = "T"
	vercel.CategoryCode = "DEV"
	vercel.ContentTypeCode = "A"
	vercel.Organization = "VERC"
	vercel.DateAdded = base.Add(-2 * time.Hour)
	require.NoError(t, repo.Create(ctx, vercel))

	bySegment, err := repo.ListPaginated(ctx, repository.NodeFilter{Segment: "A"}, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, bySegment.PageInfo.Total)

	byCompany, err := repo.ListPaginated(ctx, repository.NodeFilter{Company: "anthropic"}, repository.Page{})
	require.NoError(t, err)
	require.Len(t, byCompany.Items, 1)
	assert.Equal(t, anthropic.ID, byCompany.Items[0].ID)

	byDomain, err := repo.ListPaginated(ctx, repository.NodeFilter{Domain: "OPENAI.COM"}, repository.Page{})
	require.NoError(t, err)
	require.Len(t, byDomain.Items, 1)
	assert.Equal(t, openai.ID, byDomain.Items[0].ID)

	// Newest first, window respected.
	pageOne, err := repo.ListPaginated(ctx, repository.NodeFilter{}, repository.Page{Number: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, pageOne.Items, 2)
	assert.Equal(t, anthropic.ID, pageOne.Items[0].ID)
	assert.Equal(t, openai.ID, pageOne.Items[1].ID)
	assert.True(t, pageOne.PageInfo.HasMore)

	pageTwo, err := repo.ListPaginated(ctx, repository.NodeFilter{}, repository.Page{Number: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, pageTwo.Items, 1)
	assert.Equal(t, vercel.ID, pageTwo.Items[0].ID)
	assert.False(t, pageTwo.PageInfo.HasMore)

	all, err := repo.ListAll(ctx, repository.NodeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, anthropic.ID, all[0].ID)
}

func TestNodeKeywordSearchFilters(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tagged := buildNode(t, "https://anthropic.com/tagged", "Anthropic", "anthropic.com")
	tagged.Title = "Scaling transformer inference"
	tagged.MetadataTags = []string{"Go", "SQLite"}
	tagged.AISummary = "Detailed summary of inference scaling."
	tagged.DateAdded = base
	tagged.RecomputeDescriptor()
	require.NoError(t, repo.Create(ctx, tagged))

	plain := buildNode(t, "https://openai.com/plain", "OpenAI", "openai.com")
	plain.Title = "Transformer training diary"
	plain.DateAdded = base.Add(-48 * time.Hour)
	plain.RecomputeDescriptor()
	require.NoError(t, repo.Create(ctx, plain))

	both, err := repo.KeywordSearch(ctx, repository.SearchQuery{Text: "transformer"})
	require.NoError(t, err)
	assert.Len(t, both.Items, 2)

	// Tag filters require every tag, case-insensitively.
	byTag, err := repo.KeywordSearch(ctx, repository.SearchQuery{Tags: []string{"go"}})
	require.NoError(t, err)
	require.Len(t, byTag.Items, 1)
	assert.Equal(t, tagged.ID, byTag.Items[0].ID)

	none, err := repo.KeywordSearch(ctx, repository.SearchQuery{Tags: []string{"go", "missing"}})
	require.NoError(t, err)
	assert.Empty(t, none.Items)

	enriched := true
	withSummary, err := repo.KeywordSearch(ctx, repository.SearchQuery{HasMetadata: &enriched})
	require.NoError(t, err)
	require.Len(t, withSummary.Items, 1)
	assert.Equal(t, tagged.ID, withSummary.Items[0].ID)

	cutoff := base.Add(-time.Hour)
	recent, err := repo.KeywordSearch(ctx, repository.SearchQuery{AddedAfter: &cutoff})
	require.NoError(t, err)
	require.Len(t, recent.Items, 1)
	assert.Equal(t, tagged.ID, recent.Items[0].ID)

	older, err := repo.KeywordSearch(ctx, repository.SearchQuery{AddedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, older.Items, 1)
	assert.Equal(t, plain.ID, older.Items[0].ID)

	byTitle, err := repo.KeywordSearch(ctx, repository.SearchQuery{Sort: repository.SortTitleAsc})
	require.NoError(t, err)
	require.Len(t, byTitle.Items, 2)
	assert.Equal(t, tagged.ID, byTitle.Items[0].ID, "Scaling sorts before Transformer")
}

func TestNodeAdvancedSearchFacets(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	for i, url := range []string{"https://anthropic.com/1", "https://anthropic.com/2"} {
		n := buildNode(t, url, "Anthropic", "anthropic.com")
		n.DateAdded = time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC)
		require.NoError(t, repo.Create(ctx, n))
	}
	other := buildNode(t, "https://vercel.com/1", "Vercel", "vercel.com")
	other.SegmentCode = "T"
	other.CategoryCode = "DEV"
	other.ContentTypeCode = "A"
	other.Organization = "VERC"
	require.NoError(t, repo.Create(ctx, other))

	res, err := repo.AdvancedSearch(ctx, repository.SearchQuery{Page: repository.Page{Limit: 1}})
	require.NoError(t, err)

	// Facets cover the whole match set even though the page holds one item.
	assert.Len(t, res.Items, 1)
	assert.Equal(t, 3, res.PageInfo.Total)
	assert.Equal(t, map[string]int{"A": 2, "T": 1}, res.Facets.Segments)
	assert.Equal(t, map[string]int{"LLM": 2, "DEV": 1}, res.Facets.Categories)
	assert.Equal(t, map[string]int{"T": 2, "A": 1}, res.Facets.ContentTypes)
	assert.Equal(t, map[string]int{"ANTH": 2, "VERC": 1}, res.Facets.Organizations)
}

func TestNodeGetSubtreeRespectsLabelBoundaries(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	padded := buildNode(t, "https://x.ai/padded", "xAI", "x.ai")
	padded.Organization = "XAI_"
	require.NoError(t, padded.SetHierarchyCode(node.ViewFunction, "A.LLM.T.1"))
	require.NoError(t, padded.SetHierarchyCode(node.ViewOrganization, "XAI_.LLM.T.1"))
	require.NoError(t, repo.Create(ctx, padded))

	lookalike := buildNode(t, "https://xaia.example/one", "XAIA Labs", "xaia.example")
	lookalike.Organization = "XAIA"
	require.NoError(t, lookalike.SetHierarchyCode(node.ViewFunction, "A.LLM.T.2"))
	require.NoError(t, lookalike.SetHierarchyCode(node.ViewOrganization, "XAIA.LLM.T.1"))
	require.NoError(t, repo.Create(ctx, lookalike))

	// An underscore in the prefix is literal, not a wildcard.
	under, err := repo.GetSubtree(ctx, node.ViewOrganization, "XAI_.LLM.T")
	require.NoError(t, err)
	require.Len(t, under, 1)
	assert.Equal(t, padded.ID, under[0].ID)

	// "…T.1" must not swallow "…T.10".
	ten := buildNode(t, "https://anthropic.com/ten", "Anthropic", "anthropic.com")
	require.NoError(t, ten.SetHierarchyCode(node.ViewFunction, "A.LLM.T.10"))
	require.NoError(t, ten.SetHierarchyCode(node.ViewOrganization, "ANTH.LLM.T.1"))
	require.NoError(t, repo.Create(ctx, ten))

	one, err := repo.GetSubtree(ctx, node.ViewFunction, "A.LLM.T.1")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, padded.ID, one[0].ID)

	// An empty prefix returns every placed node in the view, in code order.
	unplaced := buildNode(t, "https://anthropic.com/unplaced", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, unplaced))

	all, err := repo.GetSubtree(ctx, node.ViewFunction, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A.LLM.T.1", all[0].FunctionHierarchyCode)
	assert.Equal(t, "A.LLM.T.10", all[1].FunctionHierarchyCode)
	assert.Equal(t, "A.LLM.T.2", all[2].FunctionHierarchyCode)
}

func TestNodeGetAncestrySkipsUnoccupiedLevels(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	parent := buildNode(t, "https://anthropic.com/parent", "Anthropic", "anthropic.com")
	require.NoError(t, parent.SetHierarchyCode(node.ViewFunction, "A.LLM.T.2"))
	require.NoError(t, parent.SetHierarchyCode(node.ViewOrganization, "ANTH.LLM.T.1"))
	require.NoError(t, repo.Create(ctx, parent))

	leaf := buildNode(t, "https://anthropic.com/leaf", "Anthropic", "anthropic.com")
	require.NoError(t, leaf.SetHierarchyCode(node.ViewFunction, "A.LLM.T.2.1"))
	require.NoError(t, leaf.SetHierarchyCode(node.ViewOrganization, "ANTH.LLM.T.2"))
	require.NoError(t, repo.Create(ctx, leaf))

	chain, err := repo.GetAncestry(ctx, node.ViewFunction, leaf.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, parent.ID, chain[0].ID)
	assert.Equal(t, leaf.ID, chain[1].ID)

	_, err = repo.GetAncestry(ctx, node.ViewFunction, node.NewID())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestNodeGetByHierarchyCode(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	n := buildNode(t, "https://anthropic.com/research", "Anthropic", "anthropic.com")
	require.NoError(t, n.SetHierarchyCode(node.ViewFunction, "A.LLM.T.1"))
	require.NoError(t, n.SetHierarchyCode(node.ViewOrganization, "ANTH.LLM.T.1"))
	require.NoError(t, repo.Create(ctx, n))

	got, err := repo.GetNodeByHierarchyCode(ctx, node.ViewOrganization, "ANTH.LLM.T.1")
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	_, err = repo.GetNodeByHierarchyCode(ctx, node.ViewFunction, "A.LLM.T.9")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestNodeApplyCodeMutationsSwapsSiblings(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	a := buildNode(t, "https://anthropic.com/a", "Anthropic", "anthropic.com")
	require.NoError(t, a.SetHierarchyCode(node.ViewFunction, "A.LLM.T.1"))
	require.NoError(t, a.SetHierarchyCode(node.ViewOrganization, "ANTH.LLM.T.1"))
	require.NoError(t, repo.Create(ctx, a))

	b := buildNode(t, "https://anthropic.com/b", "Anthropic", "anthropic.com")
	require.NoError(t, b.SetHierarchyCode(node.ViewFunction, "A.LLM.T.2"))
	require.NoError(t, b.SetHierarchyCode(node.ViewOrganization, "ANTH.LLM.T.2"))
	require.NoError(t, repo.Create(ctx, b))

	// A straight swap trips the unique code index unless the batch is
	// parked first.
	err := repo.ApplyCodeMutations(ctx, node.ViewFunction, []node.CodeMutation{
		{NodeID: a.ID.String(), View: node.ViewFunction, OldCode: "A.LLM.T.1", NewCode: "A.LLM.T.2"},
		{NodeID: b.ID.String(), View: node.ViewFunction, OldCode: "A.LLM.T.2", NewCode: "A.LLM.T.1"},
	})
	require.NoError(t, err)

	gotA, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "A.LLM.T.2", gotA.FunctionHierarchyCode)
	assert.Equal(t, "A.LLM.T.1", gotB.FunctionHierarchyCode)

	// The other view is untouched.
	assert.Equal(t, "ANTH.LLM.T.1", gotA.OrganizationHierarchyCode)
	assert.Equal(t, "ANTH.LLM.T.2", gotB.OrganizationHierarchyCode)
}

func TestNodeApplyCodeMutationsRejectsStaleBatch(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	ctx := context.Background()

	a := buildNode(t, "https://anthropic.com/a", "Anthropic", "anthropic.com")
	require.NoError(t, a.SetHierarchyCode(node.ViewFunction, "A.LLM.T.1"))
	require.NoError(t, a.SetHierarchyCode(node.ViewOrganization, "ANTH.LLM.T.1"))
	require.NoError(t, repo.Create(ctx, a))

	err := repo.ApplyCodeMutations(ctx, node.ViewFunction, []node.CodeMutation{
		{NodeID: a.ID.String(), View: node.ViewFunction, OldCode: "A.LLM.T.7", NewCode: "A.LLM.T.8"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, apperrors.CodeDatabaseConstraintViolation, apperrors.CodeOf(err))

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A.LLM.T.1", got.FunctionHierarchyCode, "stale batch leaves codes alone")

	err = repo.ApplyCodeMutations(ctx, node.ViewFunction, []node.CodeMutation{
		{NodeID: node.NewID().String(), View: node.ViewFunction, OldCode: "A.LLM.T.1", NewCode: "A.LLM.T.2"},
	})
	assert.True(t, apperrors.IsNotFound(err))

	assert.NoError(t, repo.ApplyCodeMutations(ctx, node.ViewFunction, nil))
}
