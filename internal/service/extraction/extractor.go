// Package extraction turns a canonical URL into structured source
// metadata. Site-specific extractors use the source's own API where one
// exists; everything else falls through to the generic HTML extractor.
package extraction

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/observability"
	"curio-backend/internal/service/urlvalidation"
)

// Extractor pulls source metadata for URLs it recognizes.
type Extractor interface {
	Name() string
	Version() string
	// Priority orders extractors when several match; higher wins.
	Priority() int
	CanHandle(u urlvalidation.Canonical) bool
	Extract(ctx context.Context, u urlvalidation.Canonical) (*Extracted, error)
}

// Extracted is the normalized output of one extractor run.
type Extracted struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
	Image       string `json:"image,omitempty"`

	// Content is flattened page text used as classifier excerpt input.
	Content   string `json:"content,omitempty"`
	WordCount int    `json:"wordCount,omitempty"`
	Language  string `json:"language,omitempty"`

	// ContentTypeHint is the extractor's guess at the taxonomy content
	// type, advisory for the classifier.
	ContentTypeHint string `json:"contentTypeHint,omitempty"`

	// Payload carries extractor-specific fields (stars, video id, ...).
	Payload map[string]any `json:"payload,omitempty"`

	Extractor        string `json:"extractor"`
	ExtractorVersion string `json:"extractorVersion"`
}

// Fields flattens the result into the node's extracted-fields map.
func (e *Extracted) Fields() map[string]any {
	out := map[string]any{
		"extractor":        e.Extractor,
		"extractorVersion": e.ExtractorVersion,
	}
	if e.Title != "" {
		out["title"] = e.Title
	}
	if e.Description != "" {
		out["description"] = e.Description
	}
	if e.Author != "" {
		out["author"] = e.Author
	}
	if e.SiteName != "" {
		out["siteName"] = e.SiteName
	}
	if e.Favicon != "" {
		out["favicon"] = e.Favicon
	}
	if e.Image != "" {
		out["image"] = e.Image
	}
	if e.WordCount > 0 {
		out["wordCount"] = e.WordCount
	}
	if e.Language != "" {
		out["language"] = e.Language
	}
	for k, v := range e.Payload {
		out[k] = v
	}
	return out
}

// Registry resolves the extractor responsible for a URL. Resolution is
// deterministic: extractors are held sorted by priority descending,
// name ascending, and the first match wins.
type Registry struct {
	extractors []Extractor
	logger     *zap.Logger
	metrics    *observability.Collector
}

// NewRegistry builds a registry over the given extractors.
func NewRegistry(logger *zap.Logger, metrics *observability.Collector, extractors ...Extractor) *Registry {
	sorted := make([]Extractor, len(extractors))
	copy(sorted, extractors)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() > sorted[j].Priority()
		}
		return sorted[i].Name() < sorted[j].Name()
	})
	return &Registry{
		extractors: sorted,
		logger:     logger,
		metrics:    metrics,
	}
}

// Resolve returns the extractor that will handle u, or nil when none
// matches (which only happens if the generic extractor is absent).
func (r *Registry) Resolve(u urlvalidation.Canonical) Extractor {
	for _, e := range r.extractors {
		if e.CanHandle(u) {
			return e
		}
	}
	return nil
}

// Extract resolves and runs the matching extractor, stamping the result
// with the extractor's identity.
func (r *Registry) Extract(ctx context.Context, u urlvalidation.Canonical) (*Extracted, error) {
	e := r.Resolve(u)
	if e == nil {
		return nil, apperrors.Internal(apperrors.CodeScrapeFailed, "no extractor for URL").
			WithOperation("extraction.Extract").
			WithContext("host", u.Host()).
			Build()
	}

	start := time.Now()
	result, err := e.Extract(ctx, u)
	elapsed := time.Since(start)

	r.metrics.ExtractorDuration.WithLabelValues(e.Name()).Observe(elapsed.Seconds())
	if err != nil {
		r.metrics.ExtractorRequests.WithLabelValues(e.Name(), "error").Inc()
		r.logger.Warn("extraction failed",
			zap.String("extractor", e.Name()),
			zap.String("host", u.Host()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	result.Extractor = e.Name()
	result.ExtractorVersion = e.Version()
	r.metrics.ExtractorRequests.WithLabelValues(e.Name(), "ok").Inc()
	r.logger.Debug("extraction complete",
		zap.String("extractor", e.Name()),
		zap.String("host", u.Host()),
		zap.Int("wordCount", result.WordCount),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

// Names lists the registered extractors in resolution order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		out[i] = e.Name()
	}
	return out
}
