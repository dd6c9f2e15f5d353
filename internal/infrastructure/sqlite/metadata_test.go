package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curio-backend/internal/domain/metadata"
	apperrors "curio-backend/internal/errors"
)

func TestRegistryUpsertKeepsEarliestDisplayName(t *testing.T) {
	s := newTestStore(t)
	meta := NewMetadataRepository(s)
	ctx := context.Background()

	created, err := meta.UpsertRegistryEntry(ctx, "technology", "GO", "Go")
	require.NoError(t, err)
	assert.Equal(t, "Go", created.DisplayName)
	assert.NotZero(t, created.ID)

	// A later assertion never overwrites a stored display name.
	again, err := meta.UpsertRegistryEntry(ctx, "technology", "GO", "Golang")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "Go", again.DisplayName)

	// But it fills one that was missing.
	bare, err := meta.UpsertRegistryEntry(ctx, "technology", "RUST", "")
	require.NoError(t, err)
	assert.Empty(t, bare.DisplayName)

	filled, err := meta.UpsertRegistryEntry(ctx, "technology", "RUST", "Rust")
	require.NoError(t, err)
	assert.Equal(t, bare.ID, filled.ID)
	assert.Equal(t, "Rust", filled.DisplayName)
}

func TestRegistryGetMissing(t *testing.T) {
	s := newTestStore(t)
	meta := NewMetadataRepository(s)

	_, err := meta.GetRegistryEntry(context.Background(), "technology", "ZIG")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, apperrors.CodeResourceNotFound, apperrors.CodeOf(err))
}

func TestRegistryListOrdersByUsage(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	meta := NewMetadataRepository(s)
	ctx := context.Background()

	first := buildNode(t, "https://anthropic.com/1", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, first))
	second := buildNode(t, "https://anthropic.com/2", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, second))

	require.NoError(t, meta.SetNodeMetadata(ctx, first.ID, metadata.SourceClassifier, []metadata.Code{
		{Type: "technology", Code: "GO", Confidence: 0.9},
		{Type: "topic", Code: "SEARCH", Confidence: 0.7},
	}))
	require.NoError(t, meta.SetNodeMetadata(ctx, second.ID, metadata.SourceClassifier, []metadata.Code{
		{Type: "technology", Code: "GO", Confidence: 0.8},
	}))

	all, err := meta.ListRegistryEntries(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "GO", all[0].Code)
	assert.Equal(t, 2, all[0].UsageCount)
	assert.Equal(t, "SEARCH", all[1].Code)
	assert.Equal(t, 1, all[1].UsageCount)

	tech, err := meta.ListRegistryEntries(ctx, "technology")
	require.NoError(t, err)
	require.Len(t, tech, 1)
	assert.Equal(t, "GO", tech[0].Code)
}

func TestSetNodeMetadataReplacesOnlyItsSource(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	meta := NewMetadataRepository(s)
	ctx := context.Background()

	n := buildNode(t, "https://anthropic.com/1", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, n))

	require.NoError(t, meta.SetNodeMetadata(ctx, n.ID, metadata.SourceClassifier, []metadata.Code{
		{Type: "technology", Code: "GO", Confidence: 0.9},
	}))
	require.NoError(t, meta.AddNodeMetadata(ctx, n.ID, []metadata.Code{
		{Type: "topic", Code: "SEARCH", Confidence: 1, Source: metadata.SourceUser},
	}))

	// Replacing the classifier's assertions leaves the user link alone.
	require.NoError(t, meta.SetNodeMetadata(ctx, n.ID, metadata.SourceClassifier, []metadata.Code{
		{Type: "technology", Code: "RUST", Confidence: 0.6},
	}))

	links, err := meta.GetNodeMetadata(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "RUST", links[0].Entry.Code)
	assert.Equal(t, metadata.SourceClassifier, links[0].Source)
	assert.Equal(t, "SEARCH", links[1].Entry.Code)
	assert.Equal(t, metadata.SourceUser, links[1].Source)

	// The displaced code keeps its registry entry at zero usage.
	gone, err := meta.GetRegistryEntry(ctx, "technology", "GO")
	require.NoError(t, err)
	assert.Zero(t, gone.UsageCount)
}

func TestSetNodeMetadataTakesOverExistingLink(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	meta := NewMetadataRepository(s)
	ctx := context.Background()

	n := buildNode(t, "https://anthropic.com/1", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, n))

	require.NoError(t, meta.SetNodeMetadata(ctx, n.ID, metadata.SourceClassifier, []metadata.Code{
		{Type: "technology", Code: "GO", Confidence: 0.5},
	}))
	// The enricher re-asserts the same code: the link flips source and
	// confidence without double-counting usage.
	require.NoError(t, meta.SetNodeMetadata(ctx, n.ID, metadata.SourceEnrichment, []metadata.Code{
		{Type: "technology", Code: "GO", Confidence: 0.95},
	}))

	links, err := meta.GetNodeMetadata(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, metadata.SourceEnrichment, links[0].Source)
	assert.InDelta(t, 0.95, links[0].Confidence, 1e-9)

	entry, err := meta.GetRegistryEntry(ctx, "technology", "GO")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.UsageCount)
}

func TestAddNodeMetadataSkipsExistingLinks(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	meta := NewMetadataRepository(s)
	ctx := context.Background()

	n := buildNode(t, "https://anthropic.com/1", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, n))

	require.NoError(t, meta.AddNodeMetadata(ctx, n.ID, []metadata.Code{
		{Type: "technology", Code: "GO", Confidence: 0.9, Source: metadata.SourceUser},
	}))
	require.NoError(t, meta.AddNodeMetadata(ctx, n.ID, []metadata.Code{
		{Type: "technology", Code: "GO", Confidence: 0.1, Source: metadata.SourceClassifier},
		{Type: "topic", Code: "SEARCH", Confidence: 0.8, Source: metadata.SourceClassifier},
	}))

	links, err := meta.GetNodeMetadata(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "GO", links[0].Entry.Code)
	assert.Equal(t, metadata.SourceUser, links[0].Source, "existing link keeps its row")
	assert.InDelta(t, 0.9, links[0].Confidence, 1e-9)

	entry, err := meta.GetRegistryEntry(ctx, "technology", "GO")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.UsageCount)
}

func TestGetNodeMetadataSortsByTypeThenCode(t *testing.T) {
	s := newTestStore(t)
	repo := NewNodeRepository(s)
	meta := NewMetadataRepository(s)
	ctx := context.Background()

	n := buildNode(t, "https://anthropic.com/1", "Anthropic", "anthropic.com")
	require.NoError(t, repo.Create(ctx, n))

	require.NoError(t, meta.AddNodeMetadata(ctx, n.ID, []metadata.Code{
		{Type: "topic", Code: "SEARCH", Source: metadata.SourceUser},
		{Type: "technology", Code: "SQLITE", Source: metadata.SourceUser},
		{Type: "technology", Code: "GO", Source: metadata.SourceUser},
	}))

	links, err := meta.GetNodeMetadata(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, "GO", links[0].Entry.Code)
	assert.Equal(t, "SQLITE", links[1].Entry.Code)
	assert.Equal(t, "SEARCH", links[2].Entry.Code)
}
