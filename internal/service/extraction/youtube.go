package extraction

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"curio-backend/internal/infrastructure/fetch"

	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/service/urlvalidation"
)

const youtubeOEmbedBase = "https://www.youtube.com/oembed"

// YouTubeExtractor resolves video metadata through the oEmbed endpoint,
// which needs no API key.
type YouTubeExtractor struct {
	client  *fetch.Client
	apiBase string
}

func NewYouTubeExtractor(client *fetch.Client) *YouTubeExtractor {
	return &YouTubeExtractor{client: client, apiBase: youtubeOEmbedBase}
}

func (e *YouTubeExtractor) Name() string    { return "youtube" }
func (e *YouTubeExtractor) Version() string { return "1.0" }
func (e *YouTubeExtractor) Priority() int   { return 90 }

func (e *YouTubeExtractor) CanHandle(u urlvalidation.Canonical) bool {
	return youtubeVideoID(u) != ""
}

type youtubeOEmbed struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
	ProviderName string `json:"provider_name"`
}

func (e *YouTubeExtractor) Extract(ctx context.Context, u urlvalidation.Canonical) (*Extracted, error) {
	videoID := youtubeVideoID(u)

	q := url.Values{}
	q.Set("url", u.String())
	q.Set("format", "json")
	resp, err := e.client.Get(ctx, e.apiBase+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var o youtubeOEmbed
	if err := json.Unmarshal(resp.Body, &o); err != nil {
		return nil, apperrors.External(apperrors.CodeScrapeInvalidContent, "oEmbed response is not JSON").
			WithOperation("extraction.youtube").
			WithCause(err).
			Build()
	}

	return &Extracted{
		Title:           o.Title,
		Author:          o.AuthorName,
		SiteName:        "YouTube",
		Favicon:         "https://www.youtube.com/favicon.ico",
		Image:           o.ThumbnailURL,
		ContentTypeHint: "V",
		Payload: map[string]any{
			"videoID":   videoID,
			"channel":   o.AuthorName,
			"thumbnail": o.ThumbnailURL,
		},
	}, nil
}

// youtubeVideoID pulls the video identifier out of the supported URL
// shapes: youtube.com/watch?v=ID, youtu.be/ID, youtube.com/shorts/ID
// and youtube.com/embed/ID. Empty means the URL is not a video page.
func youtubeVideoID(u urlvalidation.Canonical) string {
	switch u.Host() {
	case "youtu.be":
		return strings.Trim(u.Path(), "/")
	case "youtube.com", "m.youtube.com":
		if parsed, err := url.Parse(u.String()); err == nil {
			if id := parsed.Query().Get("v"); id != "" {
				return id
			}
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if rest, ok := strings.CutPrefix(u.Path(), prefix); ok && rest != "" {
				return strings.Trim(rest, "/")
			}
		}
	}
	return ""
}
