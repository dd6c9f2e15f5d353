package extraction

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"curio-backend/internal/infrastructure/fetch"

	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/service/urlvalidation"
)

// maxContentBytes bounds the flattened page text kept for the LLM phases.
const maxContentBytes = 16 * 1024

// GenericExtractor is the fallback for any URL without a site-specific
// extractor: fetch the page and mine the markup for title, metadata and
// readable text.
type GenericExtractor struct {
	client *fetch.Client
}

func NewGenericExtractor(client *fetch.Client) *GenericExtractor {
	return &GenericExtractor{client: client}
}

func (e *GenericExtractor) Name() string    { return "generic" }
func (e *GenericExtractor) Version() string { return "1.0" }
func (e *GenericExtractor) Priority() int   { return 0 }

func (e *GenericExtractor) CanHandle(urlvalidation.Canonical) bool { return true }

// boilerplateTags never contribute to the readable text.
var boilerplateTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"svg":      {},
	"nav":      {},
	"header":   {},
	"footer":   {},
	"aside":    {},
	"form":     {},
	"iframe":   {},
	"button":   {},
}

type pageData struct {
	title   string
	lang    string
	meta    map[string]string
	favicon string
	text    strings.Builder
}

func (e *GenericExtractor) Extract(ctx context.Context, u urlvalidation.Canonical) (*Extracted, error) {
	resp, err := e.client.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	switch ct := resp.ContentType(); ct {
	case "", "text/html", "application/xhtml+xml":
	default:
		return nil, apperrors.External(apperrors.CodeScrapeInvalidContent, "not an HTML page").
			WithOperation("extraction.generic").
			WithContext("contentType", ct).
			Build()
	}

	doc, err := html.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, apperrors.External(apperrors.CodeScrapeFailed, "cannot parse HTML").
			WithOperation("extraction.generic").
			WithCause(err).
			Build()
	}

	page := &pageData{meta: make(map[string]string)}
	collect(doc, page)

	base, _ := url.Parse(resp.FinalURL)

	title := firstOf(page.meta["og:title"], page.meta["twitter:title"], page.title)
	description := firstOf(page.meta["og:description"], page.meta["twitter:description"], page.meta["description"])
	author := firstOf(page.meta["author"], page.meta["article:author"])
	siteName := page.meta["og:site_name"]
	image := resolveRef(base, firstOf(page.meta["og:image"], page.meta["twitter:image"]))

	favicon := resolveRef(base, page.favicon)
	if favicon == "" && base != nil {
		favicon = base.Scheme + "://" + base.Host + "/favicon.ico"
	}

	content := strings.Join(strings.Fields(page.text.String()), " ")
	if len(content) > maxContentBytes {
		cut := content[:maxContentBytes]
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		content = cut
	}

	return &Extracted{
		Title:           strings.TrimSpace(title),
		Description:     strings.TrimSpace(description),
		Author:          strings.TrimSpace(author),
		SiteName:        strings.TrimSpace(siteName),
		Favicon:         favicon,
		Image:           image,
		Content:         content,
		WordCount:       len(strings.Fields(content)),
		Language:        page.lang,
		ContentTypeHint: hintFromOGType(page.meta["og:type"]),
	}, nil
}

// collect walks the parse tree once, filling page.
func collect(n *html.Node, page *pageData) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "html":
			if lang := attr(n, "lang"); lang != "" {
				page.lang = lang
			}
		case "title":
			if page.title == "" {
				page.title = textOf(n)
			}
			return
		case "meta":
			key := strings.ToLower(attr(n, "property"))
			if key == "" {
				key = strings.ToLower(attr(n, "name"))
			}
			if key != "" {
				if content := attr(n, "content"); content != "" {
					if _, seen := page.meta[key]; !seen {
						page.meta[key] = content
					}
				}
			}
			return
		case "link":
			rel := strings.ToLower(attr(n, "rel"))
			if page.favicon == "" && (strings.Contains(rel, "icon")) {
				page.favicon = attr(n, "href")
			}
			return
		default:
			if _, skip := boilerplateTags[n.Data]; skip {
				return
			}
		}
	}

	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			page.text.WriteString(t)
			page.text.WriteByte(' ')
		}
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collect(child, page)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			b.WriteString(child.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

func firstOf(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func resolveRef(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	if base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

// hintFromOGType maps an OpenGraph type onto the taxonomy content types.
func hintFromOGType(ogType string) string {
	t := strings.ToLower(strings.TrimSpace(ogType))
	switch {
	case strings.HasPrefix(t, "video"):
		return "V"
	case strings.HasPrefix(t, "music"):
		return "V"
	case strings.HasPrefix(t, "book"):
		return "K"
	case strings.HasPrefix(t, "article"):
		return "A"
	default:
		return "A"
	}
}
