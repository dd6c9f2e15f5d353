package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curio-backend/internal/domain/taxonomy"
)

func validDraft() Draft {
	return Draft{
		CanonicalURL: "https://example.com/article",
		Title:        "Understanding Transformers",
		SourceDomain: "example.com",
		Company:      "Example Labs",
		Classification: taxonomy.Classification{
			Segment:      "A",
			Category:     "LLM",
			ContentType:  "A",
			Organization: "EXAM",
			Confidence:   0.9,
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("CreatesValidNode", func(t *testing.T) {
		n, err := New(validDraft())
		require.NoError(t, err)

		assert.False(t, n.ID.IsEmpty())
		assert.Equal(t, "A", n.SegmentCode)
		assert.Equal(t, "LLM", n.CategoryCode)
		assert.False(t, n.Placed())
		assert.False(t, n.IsDeleted)
		assert.NoError(t, n.Validate())
	})

	t.Run("EmptyURLRejected", func(t *testing.T) {
		d := validDraft()
		d.CanonicalURL = "   "
		_, err := New(d)
		require.Error(t, err)
	})

	t.Run("MissingTitleFallsBackToURL", func(t *testing.T) {
		d := validDraft()
		d.Title = ""
		n, err := New(d)
		require.NoError(t, err)
		assert.Equal(t, d.CanonicalURL, n.Title)
	})

	t.Run("ClassificationSanitizedOnCreate", func(t *testing.T) {
		d := validDraft()
		d.Classification = taxonomy.Classification{
			Segment:      "ZZ",
			Category:     "LLM",
			ContentType:  "nope",
			Organization: "x",
			Confidence:   3,
		}
		n, err := New(d)
		require.NoError(t, err)

		assert.Equal(t, taxonomy.DefaultSegment, n.SegmentCode)
		assert.Equal(t, taxonomy.DefaultCategory, n.CategoryCode)
		assert.Equal(t, taxonomy.DefaultContentType, n.ContentTypeCode)
		assert.Equal(t, taxonomy.DefaultOrganization, n.Organization)
		assert.Equal(t, 1.0, n.Confidence)
		assert.NoError(t, n.Validate())
	})

	t.Run("DescriptorBuiltFromFields", func(t *testing.T) {
		n, err := New(validDraft())
		require.NoError(t, err)
		assert.Contains(t, n.Descriptor, "Understanding Transformers")
		assert.Contains(t, n.Descriptor, "Example Labs")
		assert.Contains(t, n.Descriptor, "example.com")
	})
}

func TestHierarchyPlacement(t *testing.T) {
	t.Run("BasePathPerView", func(t *testing.T) {
		n, _ := New(validDraft())
		assert.Equal(t, "A.LLM.A", n.BasePathFor(ViewFunction))
		assert.Equal(t, "EXAM.LLM.A", n.BasePathFor(ViewOrganization))
	})

	t.Run("SetHierarchyCode", func(t *testing.T) {
		n, _ := New(validDraft())
		require.NoError(t, n.SetHierarchyCode(ViewFunction, "A.LLM.A.1"))
		require.NoError(t, n.SetHierarchyCode(ViewOrganization, "EXAM.LLM.A.1"))

		assert.True(t, n.Placed())
		assert.Equal(t, "A.LLM.A.1", n.HierarchyCode(ViewFunction))
		assert.Equal(t, "EXAM.LLM.A.1", n.HierarchyCode(ViewOrganization))
	})

	t.Run("MalformedCodeRejected", func(t *testing.T) {
		n, _ := New(validDraft())
		assert.Error(t, n.SetHierarchyCode(ViewFunction, "a.llm"))
	})
}

func TestApplyClassification(t *testing.T) {
	t.Run("ReportsCodeChange", func(t *testing.T) {
		n, _ := New(validDraft())
		changed := n.ApplyClassification(taxonomy.Classification{
			Segment: "T", Category: "DEV", ContentType: "R", Organization: "GHUB", Confidence: 0.8,
		})
		assert.True(t, changed)
		assert.Equal(t, "T", n.SegmentCode)
	})

	t.Run("ConfidenceOnlyChangeNotReported", func(t *testing.T) {
		n, _ := New(validDraft())
		c := n.Classification()
		c.Confidence = 0.5
		assert.False(t, n.ApplyClassification(c))
		assert.Equal(t, 0.5, n.Confidence)
	})
}

func TestApplyEnrichment(t *testing.T) {
	t.Run("MergesNonEmptyFields", func(t *testing.T) {
		n, _ := New(validDraft())
		n.ApplyEnrichment(Enrichment{
			Title:       "Transformers, Explained",
			AISummary:   "A walkthrough of attention.",
			KeyConcepts: []string{"attention", "self-supervision"},
		})

		assert.Equal(t, "Transformers, Explained", n.Title)
		assert.Equal(t, "A walkthrough of attention.", n.AISummary)
		assert.True(t, n.Enriched())
		assert.Contains(t, n.Descriptor, "attention")
		// Untouched fields survive.
		assert.Equal(t, "Example Labs", n.Company)
	})

	t.Run("EmptyFieldsDoNotErase", func(t *testing.T) {
		n, _ := New(validDraft())
		n.ApplyEnrichment(Enrichment{AISummary: "first pass"})
		n.ApplyEnrichment(Enrichment{Title: "Better Title"})
		assert.Equal(t, "first pass", n.AISummary)
	})
}

func TestSoftDelete(t *testing.T) {
	n, _ := New(validDraft())
	require.NoError(t, n.SetHierarchyCode(ViewFunction, "A.LLM.A.1"))
	n.SoftDelete()

	assert.True(t, n.IsDeleted)
	// Codes are retained for audit history.
	assert.Equal(t, "A.LLM.A.1", n.FunctionHierarchyCode)
}

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equals(parsed))

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)
}
