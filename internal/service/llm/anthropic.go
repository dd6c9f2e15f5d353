package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	apperrors "curio-backend/internal/errors"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	available bool
}

// NewAnthropicProvider builds the provider. An empty key yields a
// provider that reports unavailable so the classifier can fall back
// without a network round trip.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	if apiKey == "" {
		return &AnthropicProvider{}
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		available: true,
	}
}

// IsAvailable reports whether the provider was configured with a key.
func (p *AnthropicProvider) IsAvailable() bool {
	return p.available
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if !p.IsAvailable() {
		return nil, apperrors.External(apperrors.CodeLLMNotInitialized, "no API key configured").
			WithOperation("llm.Complete").
			Build()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapAPIError(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		b.WriteString(block.Text)
	}

	return &Response{
		Text:         b.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// mapAPIError classifies SDK failures into the unified taxonomy.
func mapAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(apperrors.CodeLLMTimeout, "model call timed out").
			WithOperation("llm.Complete").
			WithCause(err).
			Build()
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return apperrors.RateLimit(apperrors.CodeLLMRateLimited, "model rate limit hit").
				WithOperation("llm.Complete").
				WithCause(err).
				Build()
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return apperrors.External(apperrors.CodeLLMNotInitialized, "API key rejected").
				WithOperation("llm.Complete").
				WithCause(err).
				Build()
		case apiErr.StatusCode >= 500:
			return apperrors.External(apperrors.CodeLLMUnavailable, "model backend unavailable").
				WithOperation("llm.Complete").
				WithCause(err).
				Build()
		default:
			return apperrors.External(apperrors.CodeLLMInvalidResponse, "model request rejected").
				WithOperation("llm.Complete").
				WithContext("status", apiErr.StatusCode).
				WithCause(err).
				Build()
		}
	}

	return apperrors.External(apperrors.CodeLLMUnavailable, "model call failed").
		WithOperation("llm.Complete").
		WithCause(err).
		Build()
}
