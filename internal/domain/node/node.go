// Package node defines the curated-item aggregate and its value objects.
// A node is derived from exactly one source URL and is positioned in two
// independent hierarchies, the function view and the organization view.
package node

import (
	"strings"
	"time"

	"curio-backend/internal/domain/taxonomy"
	apperrors "curio-backend/internal/errors"
)

// Node is a curated item derived from one source URL.
//
// Invariants maintained by this aggregate:
//   - classification codes always belong to their taxonomy sets
//   - both hierarchy codes are set together once the node is placed
//   - the descriptor string tracks the searchable fields
type Node struct {
	ID           ID     `json:"id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	SourceDomain string `json:"sourceDomain"`
	Company      string `json:"company,omitempty"`

	SegmentCode     string  `json:"segment"`
	CategoryCode    string  `json:"category"`
	ContentTypeCode string  `json:"contentType"`
	Organization    string  `json:"organization"`
	Confidence      float64 `json:"confidence"`

	FunctionHierarchyCode     string `json:"functionHierarchyCode,omitempty"`
	OrganizationHierarchyCode string `json:"organizationHierarchyCode,omitempty"`
	FunctionParentID          string `json:"functionParentId,omitempty"`
	OrganizationParentID      string `json:"organizationParentId,omitempty"`

	ExtractedFields map[string]any `json:"extractedFields,omitempty"`
	MetadataTags    []string       `json:"metadataTags,omitempty"`
	KeyConcepts     []string       `json:"keyConcepts,omitempty"`

	ShortDescription  string `json:"shortDescription,omitempty"`
	PhraseDescription string `json:"phraseDescription,omitempty"`
	AISummary         string `json:"aiSummary,omitempty"`
	Descriptor        string `json:"descriptor,omitempty"`
	LogoURL           string `json:"logoUrl,omitempty"`

	IsDeleted bool      `json:"isDeleted"`
	DateAdded time.Time `json:"dateAdded"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Draft carries everything the orchestrator knows about a node before
// hierarchy placement.
type Draft struct {
	CanonicalURL   string
	Title          string
	SourceDomain   string
	Company        string
	Classification taxonomy.Classification
	Extracted      map[string]any
	ShortDesc      string
	LogoURL        string
}

// New creates a node from a draft. The classification is sanitized, the
// title falls back to the canonical URL and hierarchy codes stay empty
// until the placement plan commits.
func New(d Draft) (*Node, error) {
	if strings.TrimSpace(d.CanonicalURL) == "" {
		return nil, apperrors.Validation(apperrors.CodeURLEmpty, "node requires a canonical URL").Build()
	}

	title := strings.TrimSpace(d.Title)
	if title == "" {
		title = d.CanonicalURL
	}

	c := d.Classification.Sanitized()
	now := time.Now().UTC()

	n := &Node{
		ID:               NewID(),
		Title:            title,
		URL:              d.CanonicalURL,
		SourceDomain:     strings.ToLower(d.SourceDomain),
		Company:          strings.TrimSpace(d.Company),
		SegmentCode:      c.Segment,
		CategoryCode:     c.Category,
		ContentTypeCode:  c.ContentType,
		Organization:     c.Organization,
		Confidence:       c.Confidence,
		ExtractedFields:  d.Extracted,
		ShortDescription: strings.TrimSpace(d.ShortDesc),
		LogoURL:          d.LogoURL,
		DateAdded:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	n.RecomputeDescriptor()
	return n, nil
}

// Classification projects the node's current codes back into a
// classification value.
func (n *Node) Classification() taxonomy.Classification {
	return taxonomy.Classification{
		Segment:      n.SegmentCode,
		Category:     n.CategoryCode,
		ContentType:  n.ContentTypeCode,
		Organization: n.Organization,
		Confidence:   n.Confidence,
	}
}

// ApplyClassification replaces the node's codes with a sanitized copy
// of c and reports whether any code actually changed. Hierarchy codes
// must be regenerated by the caller when it returns true.
func (n *Node) ApplyClassification(c taxonomy.Classification) bool {
	s := c.Sanitized()
	changed := s.Segment != n.SegmentCode ||
		s.Category != n.CategoryCode ||
		s.ContentType != n.ContentTypeCode ||
		s.Organization != n.Organization

	n.SegmentCode = s.Segment
	n.CategoryCode = s.Category
	n.ContentTypeCode = s.ContentType
	n.Organization = s.Organization
	n.Confidence = s.Confidence
	if changed {
		n.Touch()
	}
	return changed
}

// HierarchyCode returns the node's code in the given view.
func (n *Node) HierarchyCode(view View) string {
	if view == ViewOrganization {
		return n.OrganizationHierarchyCode
	}
	return n.FunctionHierarchyCode
}

// SetHierarchyCode places the node at code within the given view.
func (n *Node) SetHierarchyCode(view View, code string) error {
	if !ValidHierarchyCode(code) {
		return apperrors.Internal(apperrors.CodeInternalError, "malformed hierarchy code").
			WithContext("view", string(view)).
			WithContext("code", code).
			Build()
	}
	if view == ViewOrganization {
		n.OrganizationHierarchyCode = code
	} else {
		n.FunctionHierarchyCode = code
	}
	n.Touch()
	return nil
}

// BasePathFor returns the three-level prefix the node belongs under in
// the given view, derived solely from its classification.
func (n *Node) BasePathFor(view View) string {
	if view == ViewOrganization {
		return BasePath(n.Organization, n.CategoryCode, n.ContentTypeCode)
	}
	return BasePath(n.SegmentCode, n.CategoryCode, n.ContentTypeCode)
}

// Placed reports whether the node has been assigned codes in both views.
func (n *Node) Placed() bool {
	return n.FunctionHierarchyCode != "" && n.OrganizationHierarchyCode != ""
}

// Enrichment is the Phase-2 delta applied to a node.
type Enrichment struct {
	Title             string
	Company           string
	PhraseDescription string
	ShortDescription  string
	AISummary         string
	KeyConcepts       []string
	MetadataTags      []string
	LogoURL           string
}

// ApplyEnrichment merges a Phase-2 result into the node. Empty fields
// leave the current value alone so a partial enrichment never erases
// earlier data. The descriptor is recomputed afterwards.
func (n *Node) ApplyEnrichment(e Enrichment) {
	if t := strings.TrimSpace(e.Title); t != "" {
		n.Title = t
	}
	if c := strings.TrimSpace(e.Company); c != "" {
		n.Company = c
	}
	if e.PhraseDescription != "" {
		n.PhraseDescription = e.PhraseDescription
	}
	if e.ShortDescription != "" {
		n.ShortDescription = e.ShortDescription
	}
	if e.AISummary != "" {
		n.AISummary = e.AISummary
	}
	if len(e.KeyConcepts) > 0 {
		n.KeyConcepts = e.KeyConcepts
	}
	if len(e.MetadataTags) > 0 {
		n.MetadataTags = e.MetadataTags
	}
	if e.LogoURL != "" {
		n.LogoURL = e.LogoURL
	}
	n.RecomputeDescriptor()
	n.Touch()
}

// SoftDelete marks the node deleted. Deleted nodes keep their codes but
// no longer participate in uniqueness or hierarchy queries.
func (n *Node) SoftDelete() {
	n.IsDeleted = true
	n.Touch()
}

// Enriched reports whether Phase 2 has completed for this node.
func (n *Node) Enriched() bool {
	return n.AISummary != ""
}

// RecomputeDescriptor rebuilds the lexical-search descriptor from the
// node's current fields.
func (n *Node) RecomputeDescriptor() {
	parts := make([]string, 0, 5)
	for _, p := range []string{
		n.Title,
		n.Company,
		n.SourceDomain,
		strings.Join(n.KeyConcepts, " "),
		strings.Join(n.MetadataTags, " "),
	} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	n.Descriptor = strings.Join(parts, " | ")
}

// Touch updates the modification timestamp.
func (n *Node) Touch() {
	n.UpdatedAt = time.Now().UTC()
}

// Validate checks the aggregate's invariants.
func (n *Node) Validate() error {
	if n.ID.IsEmpty() {
		return apperrors.Validation(apperrors.CodeInvalidInput, "node id is required").Build()
	}
	if n.URL == "" {
		return apperrors.Validation(apperrors.CodeURLEmpty, "node URL is required").Build()
	}
	if !taxonomy.ValidSegment(n.SegmentCode) {
		return apperrors.Validation(apperrors.CodeInvalidInput, "unknown segment code").
			WithContext("segment", n.SegmentCode).
			Build()
	}
	if !taxonomy.ValidCategory(n.SegmentCode, n.CategoryCode) {
		return apperrors.Validation(apperrors.CodeInvalidInput, "category does not belong to segment").
			WithContext("segment", n.SegmentCode).
			WithContext("category", n.CategoryCode).
			Build()
	}
	if !taxonomy.ValidContentType(n.ContentTypeCode) {
		return apperrors.Validation(apperrors.CodeInvalidInput, "unknown content type code").
			WithContext("contentType", n.ContentTypeCode).
			Build()
	}
	if !taxonomy.ValidOrganization(n.Organization) {
		return apperrors.Validation(apperrors.CodeInvalidInput, "malformed organization code").
			WithContext("organization", n.Organization).
			Build()
	}
	if n.FunctionHierarchyCode != "" && !ValidHierarchyCode(n.FunctionHierarchyCode) {
		return apperrors.Internal(apperrors.CodeInternalError, "malformed function hierarchy code").
			WithContext("code", n.FunctionHierarchyCode).
			Build()
	}
	if n.OrganizationHierarchyCode != "" && !ValidHierarchyCode(n.OrganizationHierarchyCode) {
		return apperrors.Internal(apperrors.CodeInternalError, "malformed organization hierarchy code").
			WithContext("code", n.OrganizationHierarchyCode).
			Build()
	}
	return nil
}
