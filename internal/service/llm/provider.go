// Package llm wraps the model provider behind a small interface and
// adds the egress policy: a global concurrency cap, a circuit breaker
// and the unified error mapping. Both pipeline phases go through here.
package llm

import (
	"context"
	"strings"

	apperrors "curio-backend/internal/errors"
)

// Request is one completion call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Response carries the completion text and the token usage reported by
// the provider.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Provider is the model backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	IsAvailable() bool
}

// ExtractJSON pulls the first JSON object out of a completion. Models
// wrap JSON in markdown fences or prose often enough that strict
// unmarshalling of the raw text is not workable.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", apperrors.External(apperrors.CodeLLMParsingError, "completion contains no JSON object").
			WithOperation("llm.ExtractJSON").
			Build()
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	return "", apperrors.External(apperrors.CodeLLMParsingError, "completion contains an unterminated JSON object").
		WithOperation("llm.ExtractJSON").
		Build()
}
