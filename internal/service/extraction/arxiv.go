package extraction

import (
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	"curio-backend/internal/infrastructure/fetch"

	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/service/urlvalidation"
)

const arxivAPIBase = "https://export.arxiv.org/api/query"

// ArxivExtractor reads paper metadata from the arXiv Atom API.
type ArxivExtractor struct {
	client  *fetch.Client
	apiBase string
}

func NewArxivExtractor(client *fetch.Client) *ArxivExtractor {
	return &ArxivExtractor{client: client, apiBase: arxivAPIBase}
}

func (e *ArxivExtractor) Name() string    { return "arxiv" }
func (e *ArxivExtractor) Version() string { return "1.0" }
func (e *ArxivExtractor) Priority() int   { return 80 }

func (e *ArxivExtractor) CanHandle(u urlvalidation.Canonical) bool {
	return u.Host() == "arxiv.org" && arxivID(u.Path()) != ""
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	PrimaryCategory struct {
		Term string `xml:"term,attr"`
	} `xml:"primary_category"`
}

func (e *ArxivExtractor) Extract(ctx context.Context, u urlvalidation.Canonical) (*Extracted, error) {
	id := arxivID(u.Path())

	q := url.Values{}
	q.Set("id_list", id)
	q.Set("max_results", "1")
	resp, err := e.client.Get(ctx, e.apiBase+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var feed arxivFeed
	if err := xml.Unmarshal(resp.Body, &feed); err != nil {
		return nil, apperrors.External(apperrors.CodeScrapeInvalidContent, "arXiv API returned malformed Atom").
			WithOperation("extraction.arxiv").
			WithCause(err).
			Build()
	}
	if len(feed.Entries) == 0 || strings.TrimSpace(feed.Entries[0].Title) == "" {
		return nil, apperrors.External(apperrors.CodeScrapeFailed, "arXiv entry not found").
			WithOperation("extraction.arxiv").
			WithContext("arxivID", id).
			Build()
	}

	entry := feed.Entries[0]
	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	// Atom entries wrap long fields across indented lines.
	title := strings.Join(strings.Fields(entry.Title), " ")
	summary := strings.Join(strings.Fields(entry.Summary), " ")

	payload := map[string]any{"arxivID": id}
	if len(authors) > 0 {
		payload["authors"] = authors
	}
	if entry.Published != "" {
		payload["publishedAt"] = entry.Published
	}
	if entry.PrimaryCategory.Term != "" {
		payload["primaryCategory"] = entry.PrimaryCategory.Term
	}

	return &Extracted{
		Title:           title,
		Description:     summary,
		Author:          strings.Join(authors, ", "),
		SiteName:        "arXiv",
		Content:         summary,
		WordCount:       len(strings.Fields(summary)),
		ContentTypeHint: "P",
		Payload:         payload,
	}, nil
}

// arxivID extracts the paper identifier from /abs/, /pdf/ and /html/
// paths, keeping any version suffix and tolerating the legacy
// archive/NNNNNNN form.
func arxivID(path string) string {
	rest := strings.Trim(path, "/")
	var ok bool
	for _, prefix := range []string{"abs/", "pdf/", "html/"} {
		if r, found := strings.CutPrefix(rest, prefix); found {
			rest, ok = r, true
			break
		}
	}
	if !ok || rest == "" {
		return ""
	}
	return strings.TrimSuffix(rest, ".pdf")
}
