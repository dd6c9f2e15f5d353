package taxonomy

import "strings"

// Metadata type codes accepted by the registry. Enrichment output is
// keyed by these; anything else is discarded.
const (
	MetaOrganization = "ORG"
	MetaDomain       = "DOM"
	MetaFunction     = "FNC"
	MetaTechnology   = "TEC"
	MetaConcept      = "CON"
	MetaIndustry     = "IND"
	MetaAudience     = "AUD"
	MetaProcess      = "PRC"
	MetaLicense      = "LIC"
	MetaLanguage     = "LNG"
	MetaPlatform     = "PLT"
	MetaSegment      = "SEG"
	MetaCategory     = "CAT"
	MetaContentType  = "TYP"
)

// MetadataTypes lists every registry type code in canonical order.
var MetadataTypes = []string{
	MetaOrganization,
	MetaDomain,
	MetaFunction,
	MetaTechnology,
	MetaConcept,
	MetaIndustry,
	MetaAudience,
	MetaProcess,
	MetaLicense,
	MetaLanguage,
	MetaPlatform,
	MetaSegment,
	MetaCategory,
	MetaContentType,
}

// Tag code length bounds after normalization.
const (
	MinTagCodeLength = 2
	MaxTagCodeLength = 50
)

// MaxTagsPerType caps how many tags of one type a single enrichment
// may attach to a node.
const MaxTagsPerType = 5

// ValidMetadataType reports membership in the registry type set.
func ValidMetadataType(code string) bool {
	for _, t := range MetadataTypes {
		if t == code {
			return true
		}
	}
	return false
}

// NormalizeTagCode uppercases a tag code, collapses internal whitespace
// to underscores, strips everything outside [A-Z0-9_] and trims to the
// length bounds. It returns false when the result is too short to store.
func NormalizeTagCode(raw string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	code = strings.Join(strings.Fields(code), "_")

	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	code = b.String()

	if len(code) > MaxTagCodeLength {
		code = code[:MaxTagCodeLength]
	}
	if len(code) < MinTagCodeLength {
		return "", false
	}
	return code, true
}
