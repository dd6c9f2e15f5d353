package metadata

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curio-backend/internal/domain/taxonomy"
)

func TestNormalize(t *testing.T) {
	t.Run("ValidCode", func(t *testing.T) {
		c, ok := Code{Type: "TEC", Code: "  go lang ", Confidence: 0.8}.Normalize()
		require.True(t, ok)
		assert.Equal(t, "GO_LANG", c.Code)
		assert.Equal(t, SourceEnrichment, c.Source)
	})

	t.Run("UnknownTypeDropped", func(t *testing.T) {
		_, ok := Code{Type: "XYZ", Code: "golang"}.Normalize()
		assert.False(t, ok)
	})

	t.Run("ShortCodeDropped", func(t *testing.T) {
		_, ok := Code{Type: "TEC", Code: "g"}.Normalize()
		assert.False(t, ok)
	})

	t.Run("ConfidenceClamped", func(t *testing.T) {
		c, ok := Code{Type: "TEC", Code: "golang", Confidence: 7}.Normalize()
		require.True(t, ok)
		assert.Equal(t, 1.0, c.Confidence)
	})

	t.Run("ExplicitSourceKept", func(t *testing.T) {
		c, ok := Code{Type: "ORG", Code: "ACME", Source: SourceClassifier}.Normalize()
		require.True(t, ok)
		assert.Equal(t, SourceClassifier, c.Source)
	})
}

func TestNormalizeSet(t *testing.T) {
	t.Run("DeduplicatesKeepingHighestConfidence", func(t *testing.T) {
		out := NormalizeSet([]Code{
			{Type: "TEC", Code: "golang", Confidence: 0.4},
			{Type: "TEC", Code: "GOLANG", Confidence: 0.9},
		})
		require.Len(t, out, 1)
		assert.Equal(t, 0.9, out[0].Confidence)
	})

	t.Run("PerTypeCapEnforced", func(t *testing.T) {
		var in []Code
		for i := 0; i < taxonomy.MaxTagsPerType+3; i++ {
			in = append(in, Code{Type: "CON", Code: fmt.Sprintf("CONCEPT_%d", i), Confidence: 0.5})
		}
		out := NormalizeSet(in)
		assert.Len(t, out, taxonomy.MaxTagsPerType)
	})

	t.Run("CapCountedPerType", func(t *testing.T) {
		in := []Code{
			{Type: "TEC", Code: "golang"},
			{Type: "TEC", Code: "sqlite"},
			{Type: "ORG", Code: "ACME"},
		}
		out := NormalizeSet(in)
		assert.Len(t, out, 3)
	})

	t.Run("InvalidEntriesSkipped", func(t *testing.T) {
		out := NormalizeSet([]Code{
			{Type: "BAD", Code: "golang"},
			{Type: "TEC", Code: "x"},
			{Type: "TEC", Code: "kept"},
		})
		require.Len(t, out, 1)
		assert.Equal(t, "KEPT", out[0].Code)
	})
}
