package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curio-backend/internal/domain/audit"
	"curio-backend/internal/repository"
)

func TestAuditRecordAndListForNode(t *testing.T) {
	s := newTestStore(t)
	audits := NewAuditRepository(s)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	placed := audit.NewEntry("node-1", "function", "", "A.LLM.T.1",
		audit.ChangeCreated, audit.TriggerImport, "initial placement")
	placed.ChangedAt = t0

	moved := audit.NewEntry("node-1", "function", "A.LLM.T.1", "A.LLM.T.1.1",
		audit.ChangeRestructured, audit.TriggerRestructure, "company split").
		WithRelated([]string{"node-2", "node-3"})
	moved.ChangedAt = t0.Add(time.Minute)

	other := audit.NewEntry("node-2", "organization", "", "ANTH.LLM.T.1",
		audit.ChangeCreated, audit.TriggerImport, "initial placement")
	other.ChangedAt = t0.Add(2 * time.Minute)

	require.NoError(t, audits.Record(ctx, placed, moved, other))

	page, err := audits.ListForNode(ctx, "node-1", repository.Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.PageInfo.Total)

	// Newest first; the restructure entry carries its cohort.
	assert.Equal(t, moved.ID, page.Items[0].ID)
	assert.Equal(t, []string{"node-2", "node-3"}, page.Items[0].RelatedNodeIDs)
	assert.Equal(t, audit.ChangeRestructured, page.Items[0].ChangeType)
	assert.Equal(t, audit.TriggerRestructure, page.Items[0].TriggeredBy)
	assert.Equal(t, placed.ID, page.Items[1].ID)
	assert.Empty(t, page.Items[1].RelatedNodeIDs)
}

func TestAuditListRecentOrdersAndPages(t *testing.T) {
	s := newTestStore(t)
	audits := NewAuditRepository(s)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		e := audit.NewEntry("node-1", "function", "", "A.LLM.T.1",
			audit.ChangeCreated, audit.TriggerImport, "")
		e.ChangedAt = t0.Add(time.Duration(i) * time.Minute)
		ids = append(ids, e.ID)
		require.NoError(t, audits.Record(ctx, e))
	}

	first, err := audits.ListRecent(ctx, repository.Page{Number: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, first.PageInfo.Total)
	assert.True(t, first.PageInfo.HasMore)
	require.Len(t, first.Items, 2)
	assert.Equal(t, ids[4], first.Items[0].ID)
	assert.Equal(t, ids[3], first.Items[1].ID)

	last, err := audits.ListRecent(ctx, repository.Page{Number: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.Equal(t, ids[0], last.Items[0].ID)
}

func TestAuditRecordRoundTripsMetadata(t *testing.T) {
	s := newTestStore(t)
	audits := NewAuditRepository(s)
	ctx := context.Background()

	e := audit.NewEntry("node-1", "organization", "ANTH.LLM.T.1", "ANTH.LLM.T.2",
		audit.ChangeMoved, audit.TriggerUserMove, "manual correction")
	e.Metadata = map[string]any{"requestedBy": "owner"}
	require.NoError(t, audits.Record(ctx, e))

	page, err := audits.ListRecent(ctx, repository.Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	got := page.Items[0]
	assert.Equal(t, "ANTH.LLM.T.1", got.OldCode)
	assert.Equal(t, "ANTH.LLM.T.2", got.NewCode)
	assert.Equal(t, "manual correction", got.Reason)
	assert.Equal(t, "owner", got.Metadata["requestedBy"])
	assert.WithinDuration(t, e.ChangedAt, got.ChangedAt, time.Second)

	assert.NoError(t, audits.Record(ctx), "empty batch is a no-op")
}
