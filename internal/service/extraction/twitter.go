package extraction

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"curio-backend/internal/infrastructure/fetch"

	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/service/urlvalidation"
)

const twitterOEmbedBase = "https://publish.twitter.com/oembed"

// TwitterExtractor resolves tweet metadata through the public oEmbed
// endpoint, which still answers for both twitter.com and x.com URLs.
type TwitterExtractor struct {
	client  *fetch.Client
	apiBase string
}

func NewTwitterExtractor(client *fetch.Client) *TwitterExtractor {
	return &TwitterExtractor{client: client, apiBase: twitterOEmbedBase}
}

func (e *TwitterExtractor) Name() string    { return "twitter" }
func (e *TwitterExtractor) Version() string { return "1.0" }
func (e *TwitterExtractor) Priority() int   { return 85 }

// CanHandle matches status URLs: /{handle}/status/{id}.
func (e *TwitterExtractor) CanHandle(u urlvalidation.Canonical) bool {
	switch u.Host() {
	case "twitter.com", "x.com", "mobile.twitter.com":
	default:
		return false
	}
	return strings.Contains(u.Path(), "/status/")
}

type twitterOEmbed struct {
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
	HTML       string `json:"html"`
}

var htmlTags = regexp.MustCompile(`<[^>]*>`)

func (e *TwitterExtractor) Extract(ctx context.Context, u urlvalidation.Canonical) (*Extracted, error) {
	q := url.Values{}
	q.Set("url", u.String())
	q.Set("omit_script", "true")
	resp, err := e.client.Get(ctx, e.apiBase+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var o twitterOEmbed
	if err := json.Unmarshal(resp.Body, &o); err != nil {
		return nil, apperrors.External(apperrors.CodeScrapeInvalidContent, "oEmbed response is not JSON").
			WithOperation("extraction.twitter").
			WithCause(err).
			Build()
	}

	handle := strings.Trim(pathTail(o.AuthorURL), "/")
	text := strings.TrimSpace(htmlTags.ReplaceAllString(o.HTML, " "))
	text = strings.Join(strings.Fields(text), " ")

	title := text
	if len(title) > 80 {
		title = title[:80] + "..."
	}
	if title == "" {
		title = "Post by @" + handle
	}

	return &Extracted{
		Title:           title,
		Description:     text,
		Author:          o.AuthorName,
		SiteName:        "X",
		Content:         text,
		WordCount:       len(strings.Fields(text)),
		ContentTypeHint: "T",
		Payload: map[string]any{
			"authorHandle": handle,
			"text":         text,
		},
	}, nil
}

func pathTail(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	return parts[len(parts)-1]
}
