package node

import "testing"

func TestValidHierarchyCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{name: "base path", code: "A.LLM.T", want: true},
		{name: "one sub segment", code: "A.LLM.T.1", want: true},
		{name: "nested sub segments", code: "A.LLM.T.2.1", want: true},
		{name: "organization view base", code: "OAIA.LLM.T.1", want: true},
		{name: "underscore padded org", code: "XAI_.LLM.T.1", want: true},
		{name: "unknown org prefix", code: "UNKN.OTH.A.3", want: true},
		{name: "empty", code: "", want: false},
		{name: "single label", code: "A", want: false},
		{name: "two labels", code: "A.LLM", want: false},
		{name: "lowercase segment", code: "a.LLM.T", want: false},
		{name: "multi letter content type", code: "A.LLM.TT", want: false},
		{name: "trailing dot", code: "A.LLM.T.", want: false},
		{name: "empty sub segment", code: "A.LLM.T..1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidHierarchyCode(tt.code); got != tt.want {
				t.Errorf("ValidHierarchyCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestCodeHelpers(t *testing.T) {
	if got := BasePath("A", "LLM", "T"); got != "A.LLM.T" {
		t.Errorf("BasePath() = %q", got)
	}
	if got := CodeBase("A.LLM.T.2.1"); got != "A.LLM.T" {
		t.Errorf("CodeBase() = %q", got)
	}
	if got := CodeBase("A.LLM"); got != "" {
		t.Errorf("CodeBase() on short code = %q, want empty", got)
	}
	if got := ParentPath("A.LLM.T.2.1"); got != "A.LLM.T.2" {
		t.Errorf("ParentPath() = %q", got)
	}
	if got := ParentPath("A.LLM.T.1"); got != "A.LLM.T" {
		t.Errorf("ParentPath() = %q", got)
	}
	if got := ParentPath("A.LLM.T"); got != "" {
		t.Errorf("ParentPath() of base = %q, want empty", got)
	}
	if got := SubDepth("A.LLM.T"); got != 0 {
		t.Errorf("SubDepth(base) = %d", got)
	}
	if got := SubDepth("A.LLM.T.2.1"); got != 2 {
		t.Errorf("SubDepth() = %d", got)
	}
}

func TestCodeHasPrefix(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		prefix string
		want   bool
	}{
		{name: "exact match", code: "A.LLM.T", prefix: "A.LLM.T", want: true},
		{name: "child", code: "A.LLM.T.1", prefix: "A.LLM.T", want: true},
		{name: "grandchild", code: "A.LLM.T.2.1", prefix: "A.LLM.T", want: true},
		{name: "label boundary respected", code: "A.LLM.TX.1", prefix: "A.LLM.T", want: false},
		{name: "different branch", code: "B.MKT.A.1", prefix: "A.LLM.T", want: false},
		{name: "empty prefix matches all", code: "A.LLM.T.1", prefix: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeHasPrefix(tt.code, tt.prefix); got != tt.want {
				t.Errorf("CodeHasPrefix(%q, %q) = %v, want %v", tt.code, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestParseView(t *testing.T) {
	if v, err := ParseView("function"); err != nil || v != ViewFunction {
		t.Errorf("ParseView(function) = %v, %v", v, err)
	}
	if v, err := ParseView(" Organization "); err != nil || v != ViewOrganization {
		t.Errorf("ParseView(Organization) = %v, %v", v, err)
	}
	if _, err := ParseView("category"); err == nil {
		t.Error("ParseView(category) should fail")
	}
}
