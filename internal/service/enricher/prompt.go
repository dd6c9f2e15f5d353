package enricher

import (
	"encoding/json"
	"fmt"
	"strings"

	"curio-backend/internal/domain/metadata"
	"curio-backend/internal/domain/node"
	"curio-backend/internal/domain/taxonomy"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/service/llm"
)

// Output caps enforced after parsing.
const (
	maxKeyConcepts  = 10
	maxMetadataTags = 15
	maxContextChars = 4000
)

// payload is the strict JSON shape the model must return.
type payload struct {
	ImprovedTitle     string   `json:"improvedTitle"`
	Company           string   `json:"company"`
	PhraseDescription string   `json:"phraseDescription"`
	ShortDescription  string   `json:"shortDescription"`
	AISummary         string   `json:"aiSummary"`
	KeyConcepts       []string `json:"keyConcepts"`
	MetadataTags      []string `json:"metadataTags"`
	LogoURL           string   `json:"logoUrl"`

	// Codes maps a registry type (ORG, DOM, FNC, ...) to scored codes.
	Codes map[string][]scoredCode `json:"codes"`
}

type scoredCode struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
}

// systemPrompt enumerates the output contract for the deep analysis.
func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a knowledge curator performing deep analysis of saved web content. Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"improvedTitle": "...", "company": "...", "phraseDescription": "...", "shortDescription": "...", "aiSummary": "...", "keyConcepts": ["..."], "metadataTags": ["..."], "logoUrl": "...", "codes": {"TEC": [{"code": "...", "confidence": 0.0}]}}` + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("  - improvedTitle: a cleaner title, or empty to keep the current one\n")
	b.WriteString("  - phraseDescription: 3-8 words; shortDescription: one sentence; aiSummary: 2-4 paragraphs\n")
	fmt.Fprintf(&b, "  - keyConcepts: at most %d lowercase terms, most important first\n", maxKeyConcepts)
	fmt.Fprintf(&b, "  - metadataTags: at most %d freeform lowercase tags\n", maxMetadataTags)
	fmt.Fprintf(&b, "  - codes: keys from {%s}, at most %d codes per type, uppercase, confidence in [0,1]\n",
		strings.Join(taxonomy.MetadataTypes, ", "), taxonomy.MaxTagsPerType)
	b.WriteString("  - include SEG/CAT/TYP/ORG codes only when the current classification is wrong\n")
	b.WriteString("  - logoUrl: the producer's logo if evident from the content, else empty\n")
	return b.String()
}

// userPrompt flattens the node into the analysis request.
func userPrompt(n *node.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nDomain: %s\nTitle: %s\n", n.URL, n.SourceDomain, n.Title)
	if n.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", n.Company)
	}
	fmt.Fprintf(&b, "Current classification: segment=%s category=%s contentType=%s organization=%s\n",
		n.SegmentCode, n.CategoryCode, n.ContentTypeCode, n.Organization)
	if n.ShortDescription != "" {
		fmt.Fprintf(&b, "Description: %s\n", n.ShortDescription)
	}

	if len(n.ExtractedFields) > 0 {
		if data, err := json.Marshal(n.ExtractedFields); err == nil {
			text := string(data)
			if len(text) > maxContextChars {
				text = text[:maxContextChars]
			}
			fmt.Fprintf(&b, "\nExtracted fields:\n%s\n", text)
		}
	}
	b.WriteString("\nAnalyze this content.")
	return b.String()
}

// parsePayload extracts and validates the model's JSON answer.
func parsePayload(text string) (*payload, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, apperrors.Validation(apperrors.CodeSchemaValidationFailed, "enrichment response is not valid JSON").
			WithOperation("enricher.parse").
			WithCause(err).Build()
	}
	if p.AISummary == "" {
		return nil, apperrors.Validation(apperrors.CodeSchemaValidationFailed, "enrichment response missing aiSummary").
			WithOperation("enricher.parse").Build()
	}
	return &p, nil
}

// enrichment converts the payload into the node delta, applying the
// output caps.
func (p *payload) enrichment() node.Enrichment {
	return node.Enrichment{
		Title:             p.ImprovedTitle,
		Company:           p.Company,
		PhraseDescription: strings.TrimSpace(p.PhraseDescription),
		ShortDescription:  strings.TrimSpace(p.ShortDescription),
		AISummary:         strings.TrimSpace(p.AISummary),
		KeyConcepts:       lowerTerms(p.KeyConcepts, maxKeyConcepts),
		MetadataTags:      lowerTerms(p.MetadataTags, maxMetadataTags),
		LogoURL:           strings.TrimSpace(p.LogoURL),
	}
}

// metadataCodes flattens the typed code map into normalized registry
// codes attributed to the enrichment source.
func (p *payload) metadataCodes() []metadata.Code {
	var out []metadata.Code
	for _, typ := range taxonomy.MetadataTypes {
		for _, sc := range p.Codes[typ] {
			out = append(out, metadata.Code{
				Type:       typ,
				Code:       sc.Code,
				Confidence: sc.Confidence,
				Source:     metadata.SourceEnrichment,
			})
		}
	}
	return metadata.NormalizeSet(out)
}

// classification projects SEG/CAT/TYP/ORG codes into a classification
// override. ok is false when the payload does not propose one.
func (p *payload) classification(current taxonomy.Classification) (taxonomy.Classification, bool) {
	pick := func(typ string) (string, bool) {
		best := ""
		bestConf := -1.0
		for _, sc := range p.Codes[typ] {
			if sc.Confidence > bestConf {
				best = strings.ToUpper(strings.TrimSpace(sc.Code))
				bestConf = sc.Confidence
			}
		}
		return best, best != ""
	}

	proposed := current
	any := false
	if v, ok := pick(taxonomy.MetaSegment); ok {
		proposed.Segment = v
		any = true
	}
	if v, ok := pick(taxonomy.MetaCategory); ok {
		proposed.Category = v
		any = true
	}
	if v, ok := pick(taxonomy.MetaContentType); ok {
		proposed.ContentType = v
		any = true
	}
	if v, ok := pick(taxonomy.MetaOrganization); ok && taxonomy.ValidOrganization(v) {
		proposed.Organization = v
		any = true
	}
	if !any {
		return current, false
	}
	return proposed.Sanitized(), true
}

// lowerTerms lowercases, trims, deduplicates and caps a term list,
// preserving order.
func lowerTerms(terms []string, limit int) []string {
	seen := make(map[string]bool, len(terms))
	var out []string
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}
