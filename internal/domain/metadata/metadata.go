// Package metadata defines the typed-tag registry shared by all nodes
// and the links that attach registry entries to individual nodes.
package metadata

import (
	"time"

	"curio-backend/internal/domain/taxonomy"
)

// Source names the subsystem that asserted a node-metadata link.
type Source string

const (
	SourceClassifier Source = "classifier"
	SourceEnrichment Source = "enrichment"
	SourceUser       Source = "user"
)

// RegistryEntry is one (type, code) pair in the shared registry.
// Entries are created on first reference and never deleted; the usage
// count tracks live links and is floored at zero.
type RegistryEntry struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	Code        string    `json:"code"`
	DisplayName string    `json:"displayName,omitempty"`
	Description string    `json:"description,omitempty"`
	UsageCount  int       `json:"usageCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Link attaches a registry entry to a node with the asserting
// subsystem and its confidence.
type Link struct {
	ID         int64     `json:"id"`
	NodeID     string    `json:"nodeId"`
	RegistryID int64     `json:"registryId"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Code is the unpersisted form of a typed tag, as produced by the
// classifier or the enricher before registry resolution.
type Code struct {
	Type        string  `json:"type"`
	Code        string  `json:"code"`
	DisplayName string  `json:"displayName,omitempty"`
	Confidence  float64 `json:"confidence"`
	Source      Source  `json:"source"`
}

// Normalize coerces the code into storable form. It returns false when
// the type is unknown or the code text is too short to keep.
func (c Code) Normalize() (Code, bool) {
	if !taxonomy.ValidMetadataType(c.Type) {
		return Code{}, false
	}
	code, ok := taxonomy.NormalizeTagCode(c.Code)
	if !ok {
		return Code{}, false
	}
	out := c
	out.Code = code
	out.Confidence = taxonomy.ClampConfidence(c.Confidence)
	if out.Source == "" {
		out.Source = SourceEnrichment
	}
	return out, true
}

// NormalizeSet normalizes a batch, drops invalid entries, deduplicates
// by (type, code) keeping the highest confidence, and enforces the
// per-type cap.
func NormalizeSet(codes []Code) []Code {
	type key struct{ typ, code string }
	best := make(map[key]Code)
	order := make([]key, 0, len(codes))
	perType := make(map[string]int)

	for _, raw := range codes {
		c, ok := raw.Normalize()
		if !ok {
			continue
		}
		k := key{c.Type, c.Code}
		if prev, seen := best[k]; seen {
			if c.Confidence > prev.Confidence {
				best[k] = c
			}
			continue
		}
		if perType[c.Type] >= taxonomy.MaxTagsPerType {
			continue
		}
		perType[c.Type]++
		best[k] = c
		order = append(order, k)
	}

	out := make([]Code, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}
