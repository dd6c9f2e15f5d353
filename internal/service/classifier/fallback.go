package classifier

import (
	"net/url"
	"strings"

	"curio-backend/internal/domain/taxonomy"
)

// fallbackConfidence caps every table-driven classification; the model
// path is the only source of higher confidence.
const fallbackConfidence = 0.3

// derivedConfidence is used when even the table has no opinion.
const derivedConfidence = 0.15

// domainRule is a classification preset for a well-known source.
type domainRule struct {
	segment      string
	category     string
	contentType  string
	organization string
}

// fallbackTable maps registrable domains to presets. Matching is
// suffix-aware so en.wikipedia.org hits the wikipedia.org row.
var fallbackTable = map[string]domainRule{
	"github.com":           {"T", "DEV", "R", "GHUB"},
	"gitlab.com":           {"T", "DEV", "R", "GTLB"},
	"youtube.com":          {"M", "FLM", "V", "GOOG"},
	"youtu.be":             {"M", "FLM", "V", "GOOG"},
	"twitter.com":          {"M", "CEL", "T", "XCOM"},
	"x.com":                {"M", "CEL", "T", "XCOM"},
	"arxiv.org":            {"A", "OTH", "P", "ARXV"},
	"huggingface.co":       {"A", "LLM", "R", "HUGF"},
	"stackoverflow.com":    {"T", "DEV", "A", "STOV"},
	"wikipedia.org":        {"E", "OTH", "A", "WIKI"},
	"medium.com":           {"T", "OTH", "A", "MEDM"},
	"news.ycombinator.com": {"T", "OTH", "N", "YCMB"},
	"reddit.com":           {"M", "CEL", "T", "RDDT"},
}

// fallback classifies without the model: a known-domain preset when the
// table matches, otherwise safe defaults with an organization derived
// from the domain label and a content type guessed from the path.
func (s *Service) fallback(in Input) *Result {
	s.metrics.ClassifierRequests.WithLabelValues("fallback").Inc()

	if rule, domain, ok := lookupDomain(in.Domain); ok {
		c := taxonomy.Classification{
			Segment:      rule.segment,
			Category:     rule.category,
			ContentType:  rule.contentType,
			Organization: rule.organization,
			Confidence:   fallbackConfidence,
			Reasoning:    "Matched known source " + domain,
		}
		return &Result{Classification: c.Sanitized(), Fallback: true}
	}

	org := taxonomy.DeriveOrganization(in.Domain)
	c := taxonomy.Classification{
		Segment:      taxonomy.DefaultSegment,
		Category:     taxonomy.DefaultCategory,
		ContentType:  contentTypeFromPath(in),
		Organization: org,
		Confidence:   derivedConfidence,
		Reasoning:    "Derived from domain " + in.Domain,
	}
	return &Result{Classification: c.Sanitized(), Fallback: true}
}

func lookupDomain(host string) (domainRule, string, bool) {
	h := strings.ToLower(host)
	if rule, ok := fallbackTable[h]; ok {
		return rule, h, true
	}
	for domain, rule := range fallbackTable {
		if strings.HasSuffix(h, "."+domain) {
			return rule, domain, true
		}
	}
	return domainRule{}, "", false
}

// contentTypeFromPath applies cheap path heuristics: the extractor's
// hint wins, then /watch means video and .pdf means paper.
func contentTypeFromPath(in Input) string {
	if taxonomy.ValidContentType(in.ContentTypeHint) {
		return in.ContentTypeHint
	}

	path := ""
	if parsed, err := url.Parse(in.URL); err == nil {
		path = strings.ToLower(parsed.Path)
	}
	switch {
	case strings.Contains(path, "/watch"):
		return "V"
	case strings.HasSuffix(path, ".pdf"):
		return "P"
	default:
		return taxonomy.DefaultContentType
	}
}
