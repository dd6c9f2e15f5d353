// Package redact keeps credentials out of logs and audit bodies.
package redact

import (
	"net/url"
	"regexp"
)

// Placeholder replaces sensitive values in rendered output.
const Placeholder = "[REDACTED]"

var sensitiveKey = regexp.MustCompile(`(?i)key|password|secret|token|credential`)

// Key reports whether an option name is considered sensitive.
func Key(name string) bool {
	return sensitiveKey.MatchString(name)
}

// Value returns the value unchanged unless its key is sensitive.
// Empty values stay empty so "unset" remains visible in logs.
func Value(key, value string) string {
	if value != "" && Key(key) {
		return Placeholder
	}
	return value
}

// Map returns a copy of m with sensitive entries replaced. Nested maps
// are walked; other value kinds pass through untouched.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = Map(vv)
		case string:
			out[k] = Value(k, vv)
		default:
			if Key(k) {
				out[k] = Placeholder
			} else {
				out[k] = v
			}
		}
	}
	return out
}

// URL strips userinfo from a raw URL before it reaches a log line.
// Hostnames are not sensitive; embedded credentials are.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
