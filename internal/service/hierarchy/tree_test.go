package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curio-backend/internal/domain/node"
)

func placedNode(t *testing.T, company, domain, code string) *node.Node {
	t.Helper()
	n, err := node.New(node.Draft{
		CanonicalURL: "https://" + domain + "/" + code,
		Title:        code,
		SourceDomain: domain,
		Company:      company,
	})
	require.NoError(t, err)
	require.NoError(t, n.SetHierarchyCode(node.ViewFunction, code))
	return n
}

func TestBuildTreeNumericSiblingOrder(t *testing.T) {
	nodes := []*node.Node{
		placedNode(t, "Vercel", "vercel.com", "T.DEV.R.10"),
		placedNode(t, "Vercel", "vercel.com", "T.DEV.R.2"),
		placedNode(t, "Vercel", "vercel.com", "T.DEV.R.9"),
	}

	roots := BuildTree(node.ViewFunction, "", nodes)
	require.Len(t, roots, 1)
	r := roots[0].Children[0].Children[0]
	require.Equal(t, "T.DEV.R", r.Code)
	require.Len(t, r.Children, 3)
	assert.Equal(t, "T.DEV.R.2", r.Children[0].Code)
	assert.Equal(t, "T.DEV.R.9", r.Children[1].Code)
	assert.Equal(t, "T.DEV.R.10", r.Children[2].Code, "position 10 sorts after 9")
}

func TestBuildTreeCountsAggregate(t *testing.T) {
	nodes := []*node.Node{
		placedNode(t, "Anthropic", "anthropic.com", "A.LLM.T.1.1.1"),
		placedNode(t, "Anthropic", "docs.anthropic.com", "A.LLM.T.1.2.1"),
	}

	roots := BuildTree(node.ViewFunction, "", nodes)
	require.Len(t, roots, 1)
	assert.Equal(t, 2, roots[0].Count)

	group := roots[0].Children[0].Children[0].Children[0]
	require.Equal(t, "A.LLM.T.1", group.Code)
	assert.Equal(t, 2, group.Count)
	assert.Equal(t, "Anthropic", group.Label, "shared company names the group")
	require.Len(t, group.Children, 2)
	assert.Equal(t, 1, group.Children[0].Count)
}

func TestBuildTreeLabelFallbacks(t *testing.T) {
	nodes := []*node.Node{
		placedNode(t, "", "blog.example.com", "A.LLM.T.1.1"),
		placedNode(t, "", "blog.example.com", "A.LLM.T.1.2"),
		placedNode(t, "Anthropic", "anthropic.com", "A.LLM.T.2.1"),
		placedNode(t, "OpenAI", "openai.com", "A.LLM.T.2.2"),
	}

	forest := BuildTree(node.ViewFunction, "A.LLM.T", nodes)
	require.Len(t, forest, 2)

	assert.Equal(t, "blog.example.com", forest[0].Label, "no company, shared domain labels the group")
	assert.Equal(t, "2", forest[1].Label, "mixed attributes fall back to the raw index")
}

func TestBuildTreeUniformIsCaseInsensitive(t *testing.T) {
	nodes := []*node.Node{
		placedNode(t, "Anthropic", "anthropic.com", "A.LLM.T.1.1"),
		placedNode(t, "anthropic", "anthropic.com", "A.LLM.T.1.2"),
	}

	forest := BuildTree(node.ViewFunction, "A.LLM.T", nodes)
	require.Len(t, forest, 1)
	assert.Equal(t, "Anthropic", forest[0].Label, "first spelling wins")
}

func TestBuildTreeFiltersOutsideRoot(t *testing.T) {
	inside := placedNode(t, "Anthropic", "anthropic.com", "A.LLM.T.1")
	outside := placedNode(t, "Vercel", "vercel.com", "T.DEV.R.1")
	unplaced, err := node.New(node.Draft{CanonicalURL: "https://example.com/x"})
	require.NoError(t, err)

	forest := BuildTree(node.ViewFunction, "A.LLM.T", []*node.Node{inside, outside, unplaced})
	require.Len(t, forest, 1)
	assert.Equal(t, "A.LLM.T.1", forest[0].Code)
	assert.Equal(t, inside.ID.String(), forest[0].NodeID)
}

func TestBuildTreeSubtreeRootedAtLeaf(t *testing.T) {
	leaf := placedNode(t, "Anthropic", "anthropic.com", "A.LLM.T.1.1")

	forest := BuildTree(node.ViewFunction, "A.LLM.T.1.1", []*node.Node{leaf})
	require.Len(t, forest, 1)
	assert.Equal(t, leaf.ID.String(), forest[0].NodeID)
	assert.Equal(t, 1, forest[0].Count)
	assert.Empty(t, forest[0].Children)
}
