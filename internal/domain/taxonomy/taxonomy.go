// Package taxonomy defines the fixed classification code sets and the
// sanitization rules applied to every classifier output. The sets are
// closed: anything outside them is coerced to a safe default rather
// than rejected, because classification must never fail an import.
package taxonomy

import (
	"regexp"
	"sort"
	"strings"
)

// Safe defaults used whenever a classifier field falls outside its set.
const (
	DefaultSegment      = "T"
	DefaultCategory     = "OTH"
	DefaultContentType  = "A"
	DefaultOrganization = "UNKN"
)

// MaxReasoningLength truncates classifier explanations.
const MaxReasoningLength = 200

// segments maps each segment code to its display name.
var segments = map[string]string{
	"A": "AI & Machine Learning",
	"B": "Business",
	"C": "Creative",
	"D": "Data",
	"E": "Education",
	"F": "Finance",
	"H": "Health & Science",
	"M": "Media & Entertainment",
	"S": "Security",
	"T": "Technology",
}

// segmentCategories lists the category codes belonging to each segment.
// Every set contains OTH, the coercion target for mismatches.
var segmentCategories = map[string][]string{
	"A": {"LLM", "CVN", "NLP", "AGT", "MLO", "GEN", "SFT", "OTH"},
	"B": {"MKT", "SLS", "STR", "OPS", "ENT", "HRM", "OTH"},
	"C": {"DSG", "UXD", "ART", "WRT", "PHO", "MUS", "OTH"},
	"D": {"ENG", "VIS", "SQL", "BIG", "STA", "OTH"},
	"E": {"K12", "UNI", "MOC", "LNG", "OTH"},
	"F": {"INV", "CRY", "BNK", "ACC", "PFI", "OTH"},
	"H": {"MED", "BIO", "PSY", "FIT", "NUT", "OTH"},
	"M": {"FLM", "GAM", "POD", "TVS", "CEL", "OTH"},
	"S": {"APP", "NET", "CRP", "OSN", "THR", "OTH"},
	"T": {"DEV", "WEB", "MOB", "CLD", "DBS", "SYS", "HWR", "OTH"},
}

// contentTypes maps each content-type code to its display name.
var contentTypes = map[string]string{
	"T": "Thread",
	"A": "Article",
	"V": "Video",
	"P": "Paper",
	"R": "Repository",
	"G": "Guide",
	"S": "Slides",
	"C": "Course",
	"I": "Interactive",
	"N": "News",
	"K": "Book",
	"U": "Unknown",
}

// organizationAliases maps well-known producer domains to their codes.
var organizationAliases = map[string]string{
	"github.com":           "GHUB",
	"gist.github.com":      "GHUB",
	"gitlab.com":           "GTLB",
	"youtube.com":          "GOOG",
	"youtu.be":             "GOOG",
	"google.com":           "GOOG",
	"openai.com":           "OAIA",
	"anthropic.com":        "ANTH",
	"microsoft.com":        "MSFT",
	"meta.com":             "META",
	"amazon.com":           "AMZN",
	"apple.com":            "APPL",
	"huggingface.co":       "HUGF",
	"stackoverflow.com":    "STOV",
	"wikipedia.org":        "WIKI",
	"reddit.com":           "RDDT",
	"news.ycombinator.com": "YCMB",
	"medium.com":           "MEDM",
	"arxiv.org":            "ARXV",
	"twitter.com":          "XCOM",
	"x.com":                "XCOM",
	"netflix.com":          "NFLX",
}

var organizationPattern = regexp.MustCompile(`^[A-Z_]{4}$`)

// Classification is the four-axis result of Phase 1 plus its confidence.
type Classification struct {
	Segment      string  `json:"segment"`
	Category     string  `json:"category"`
	ContentType  string  `json:"contentType"`
	Organization string  `json:"organization"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

// ValidSegment reports membership in the segment set.
func ValidSegment(code string) bool {
	_, ok := segments[code]
	return ok
}

// ValidContentType reports membership in the content-type set.
func ValidContentType(code string) bool {
	_, ok := contentTypes[code]
	return ok
}

// ValidCategory reports whether category belongs to the segment's set.
func ValidCategory(segment, category string) bool {
	for _, c := range segmentCategories[segment] {
		if c == category {
			return true
		}
	}
	return false
}

// ValidOrganization reports whether code is 4 uppercase letters or underscores.
func ValidOrganization(code string) bool {
	return organizationPattern.MatchString(code)
}

// SegmentName returns the display name for a segment code.
func SegmentName(code string) string {
	return segments[code]
}

// ContentTypeName returns the display name for a content-type code.
func ContentTypeName(code string) string {
	return contentTypes[code]
}

// Segments returns all segment codes in stable order.
func Segments() []string {
	out := make([]string, 0, len(segments))
	for code := range segments {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// ContentTypes returns all content-type codes in stable order.
func ContentTypes() []string {
	out := make([]string, 0, len(contentTypes))
	for code := range contentTypes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// CategoriesFor returns the category codes for a segment.
func CategoriesFor(segment string) []string {
	src := segmentCategories[segment]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// OrganizationForDomain resolves a canonical source domain to a known
// producer code.
func OrganizationForDomain(domain string) (string, bool) {
	code, ok := organizationAliases[strings.ToLower(domain)]
	return code, ok
}

// DeriveOrganization builds a 4-character code from the first label of
// an unknown domain, padded with underscores. "example.com" gives EXAM.
func DeriveOrganization(domain string) string {
	label := strings.ToLower(domain)
	if i := strings.IndexByte(label, '.'); i > 0 {
		label = label[:i]
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(label) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
			if b.Len() == 4 {
				break
			}
		}
	}
	code := b.String()
	if code == "" {
		return DefaultOrganization
	}
	for len(code) < 4 {
		code += "_"
	}
	return code
}

// ClampConfidence forces a confidence into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Sanitized returns a copy with every field coerced into its allowed
// set: unknown segments and content types take the defaults, a category
// outside the chosen segment's set becomes OTH, a malformed organization
// becomes UNKN, confidence is clamped and reasoning truncated.
func (c Classification) Sanitized() Classification {
	out := c

	if !ValidSegment(out.Segment) {
		out.Segment = DefaultSegment
	}
	if !ValidCategory(out.Segment, out.Category) {
		out.Category = DefaultCategory
	}
	if !ValidContentType(out.ContentType) {
		out.ContentType = DefaultContentType
	}
	out.Organization = strings.ToUpper(strings.TrimSpace(out.Organization))
	if !ValidOrganization(out.Organization) {
		out.Organization = DefaultOrganization
	}
	out.Confidence = ClampConfidence(out.Confidence)
	if len(out.Reasoning) > MaxReasoningLength {
		out.Reasoning = out.Reasoning[:MaxReasoningLength]
	}
	return out
}
