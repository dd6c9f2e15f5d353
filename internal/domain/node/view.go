package node

import (
	"regexp"
	"strings"

	apperrors "curio-backend/internal/errors"
)

// View names one of the two independent hierarchies over the node set.
type View string

const (
	// ViewFunction organizes nodes by segment, category and content type.
	ViewFunction View = "function"
	// ViewOrganization organizes nodes by producing organization.
	ViewOrganization View = "organization"
)

// Views lists both hierarchy views.
var Views = []View{ViewFunction, ViewOrganization}

// ParseView validates a view name from an API path or query.
func ParseView(raw string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(raw))) {
	case ViewFunction:
		return ViewFunction, nil
	case ViewOrganization:
		return ViewOrganization, nil
	default:
		return "", apperrors.Validation(apperrors.CodeInvalidInput, "unknown hierarchy view").
			WithContext("view", raw).
			Build()
	}
}

// Valid reports whether v is one of the two known views.
func (v View) Valid() bool {
	return v == ViewFunction || v == ViewOrganization
}

func (v View) String() string {
	return string(v)
}

// hierarchyCodePattern accepts codes of the form PREFIX.CAT.CT with any
// number of trailing sub-segment labels. The first label admits
// underscores because short organization codes are padded with them.
var hierarchyCodePattern = regexp.MustCompile(`^[A-Z0-9_]+\.[A-Z0-9]+\.[A-Z](\.[A-Za-z0-9]+)*$`)

// ValidHierarchyCode reports whether code is a well-formed hierarchy code.
func ValidHierarchyCode(code string) bool {
	return hierarchyCodePattern.MatchString(code)
}

// BasePath joins the top three levels of a view into its base path,
// e.g. BasePath("A", "LLM", "T") = "A.LLM.T".
func BasePath(first, category, contentType string) string {
	return first + "." + category + "." + contentType
}

// CodeBase returns the first three labels of a code, or "" when the
// code has fewer than three labels.
func CodeBase(code string) string {
	parts := strings.Split(code, ".")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[:3], ".")
}

// ParentPath returns the code with its last label removed. The parent
// of a base path is "".
func ParentPath(code string) string {
	i := strings.LastIndexByte(code, '.')
	if i < 0 {
		return ""
	}
	parent := code[:i]
	if strings.Count(parent, ".") < 2 {
		return ""
	}
	return parent
}

// SubDepth returns the number of sub-segment labels beyond the base
// path. "A.LLM.T.2.1" has depth 2.
func SubDepth(code string) int {
	n := strings.Count(code, ".")
	if n < 3 {
		return 0
	}
	return n - 2
}

// CodeHasPrefix reports whether code sits at or below prefix, comparing
// whole labels so that "A.LLM.T" does not match "A.LLM.TX.1".
func CodeHasPrefix(code, prefix string) bool {
	if prefix == "" {
		return true
	}
	return code == prefix || strings.HasPrefix(code, prefix+".")
}
