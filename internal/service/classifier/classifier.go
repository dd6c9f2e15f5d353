// Package classifier implements Phase 1: a fast, cheap classification
// of a URL into the fixed taxonomy. The model does the real work; a
// URL-pattern fallback guarantees that classification never fails an
// import, only degrades in confidence.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"curio-backend/internal/domain/taxonomy"
	"curio-backend/internal/infrastructure/cache"
	"curio-backend/internal/observability"
	"curio-backend/internal/service/llm"
)

// maxExcerptChars bounds the page text sent to the model.
const maxExcerptChars = 1500

// Input is everything Phase 1 may consider.
type Input struct {
	URL         string
	Title       string
	Domain      string
	Description string
	Author      string
	SiteName    string
	// Excerpt is flattened page text; anything past maxExcerptChars is
	// dropped before prompting.
	Excerpt string
	// ContentTypeHint is the extractor's advisory guess.
	ContentTypeHint string
}

// Result is the classification plus its provenance.
type Result struct {
	taxonomy.Classification

	FromCache    bool  `json:"fromCache"`
	Fallback     bool  `json:"fallback"`
	InputTokens  int64 `json:"inputTokens,omitempty"`
	OutputTokens int64 `json:"outputTokens,omitempty"`
}

// Service classifies URLs, caching results by canonical URL.
type Service struct {
	llm     *llm.Client
	cache   *cache.MemoryCache
	ttl     time.Duration
	model   string
	tokens  int64
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewService builds the classifier. model and maxTokens come from the
// LLM config's classify settings.
func NewService(llmClient *llm.Client, c *cache.MemoryCache, model string, maxTokens int64, ttl time.Duration,
	logger *zap.Logger, metrics *observability.Collector) *Service {
	return &Service{
		llm:     llmClient,
		cache:   c,
		ttl:     ttl,
		model:   model,
		tokens:  maxTokens,
		logger:  logger,
		metrics: metrics,
	}
}

// Classify returns the taxonomy placement for in. forceRefresh bypasses
// the cache read (the fresh result still replaces the cached one).
// The only error condition is context cancellation; every model failure
// degrades to the URL-pattern fallback instead.
func (s *Service) Classify(ctx context.Context, in Input, forceRefresh bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !forceRefresh {
		if v, ok := s.cache.Get(in.URL); ok {
			s.metrics.ClassifierRequests.WithLabelValues("cache").Inc()
			return &Result{Classification: v.(taxonomy.Classification), FromCache: true}, nil
		}
	}

	result := s.classifyWithModel(ctx, in)
	if result == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result = s.fallback(in)
	}

	s.cache.Set(in.URL, result.Classification, s.ttl)
	return result, nil
}

// classifyWithModel runs the model call; nil means fall back.
func (s *Service) classifyWithModel(ctx context.Context, in Input) *Result {
	if !s.llm.IsAvailable() {
		return nil
	}

	resp, err := s.llm.Complete(ctx, "classify", llm.Request{
		Model:       s.model,
		System:      systemPrompt(),
		Prompt:      userPrompt(in),
		MaxTokens:   s.tokens,
		Temperature: 0.2,
	})
	if err != nil {
		s.logger.Warn("classification model call failed, using fallback",
			zap.String("domain", in.Domain),
			zap.Error(err))
		return nil
	}

	raw, err := llm.ExtractJSON(resp.Text)
	if err != nil {
		s.logger.Warn("classification response unparseable, using fallback",
			zap.String("domain", in.Domain),
			zap.Error(err))
		return nil
	}

	var parsed taxonomy.Classification
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		s.logger.Warn("classification JSON malformed, using fallback",
			zap.String("domain", in.Domain),
			zap.Error(err))
		return nil
	}

	s.metrics.ClassifierRequests.WithLabelValues("llm").Inc()
	return &Result{
		Classification: parsed.Sanitized(),
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
	}
}

// systemPrompt enumerates the closed taxonomy the model must stay in.
func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You classify saved web content into a fixed taxonomy. Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"segment": "...", "category": "...", "contentType": "...", "organization": "...", "confidence": 0.0, "reasoning": "..."}` + "\n\n")

	b.WriteString("Segments (pick exactly one code):\n")
	for _, code := range taxonomy.Segments() {
		fmt.Fprintf(&b, "  %s = %s; categories: %s\n",
			code, taxonomy.SegmentName(code), strings.Join(taxonomy.CategoriesFor(code), ", "))
	}

	b.WriteString("\nContent types (pick exactly one code):\n")
	for _, code := range taxonomy.ContentTypes() {
		fmt.Fprintf(&b, "  %s = %s\n", code, taxonomy.ContentTypeName(code))
	}

	b.WriteString("\nRules:\n")
	b.WriteString("  - category must belong to the chosen segment's list; use OTH when unsure\n")
	b.WriteString("  - organization is a 4-character uppercase code for the content's producer (GHUB, GOOG, OAIA, ...); use UNKN when unknown\n")
	b.WriteString("  - confidence is your calibrated certainty in [0,1]\n")
	b.WriteString("  - reasoning is one sentence, at most 200 characters\n")
	return b.String()
}

func userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nDomain: %s\n", in.URL, in.Domain)
	if in.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", in.Title)
	}
	if in.SiteName != "" {
		fmt.Fprintf(&b, "Site: %s\n", in.SiteName)
	}
	if in.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", in.Author)
	}
	if in.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", in.Description)
	}
	if in.ContentTypeHint != "" {
		fmt.Fprintf(&b, "Content type hint: %s\n", in.ContentTypeHint)
	}
	if in.Excerpt != "" {
		excerpt := in.Excerpt
		if len(excerpt) > maxExcerptChars {
			excerpt = excerpt[:maxExcerptChars]
		}
		fmt.Fprintf(&b, "\nPage excerpt:\n%s\n", excerpt)
	}
	b.WriteString("\nClassify this content.")
	return b.String()
}
