package extraction

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"curio-backend/internal/config"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/infrastructure/fetch"
	"curio-backend/internal/observability"
	"curio-backend/internal/service/urlvalidation"
)

func newFetchClient() *fetch.Client {
	return fetch.NewClient(config.FetchConfig{
		Timeout:            2 * time.Second,
		MaxBodyBytes:       1 << 20,
		PerHostConcurrency: 4,
		GlobalConcurrency:  16,
		UserAgent:          "curio-backend/test",
	}, zap.NewNop())
}

func mustCanonical(t *testing.T, raw string) urlvalidation.Canonical {
	t.Helper()
	c, err := urlvalidation.NewValidator(urlvalidation.Options{}).Validate(raw)
	require.NoError(t, err)
	return c
}

type fakeExtractor struct {
	name    string
	prio    int
	handles bool
}

func (f *fakeExtractor) Name() string                                { return f.name }
func (f *fakeExtractor) Version() string                             { return "0.0" }
func (f *fakeExtractor) Priority() int                               { return f.prio }
func (f *fakeExtractor) CanHandle(urlvalidation.Canonical) bool      { return f.handles }
func (f *fakeExtractor) Extract(context.Context, urlvalidation.Canonical) (*Extracted, error) {
	return &Extracted{Title: f.name}, nil
}

func TestRegistry(t *testing.T) {
	logger := zap.NewNop()
	metrics := observability.NewCollector("curio")
	u := mustCanonical(t, "https://example.com/a")

	t.Run("HighestPriorityWins", func(t *testing.T) {
		low := &fakeExtractor{name: "low", prio: 10, handles: true}
		high := &fakeExtractor{name: "high", prio: 90, handles: true}
		r := NewRegistry(logger, metrics, low, high)
		assert.Equal(t, "high", r.Resolve(u).Name())
	})

	t.Run("TieBrokenByName", func(t *testing.T) {
		b := &fakeExtractor{name: "bravo", prio: 50, handles: true}
		a := &fakeExtractor{name: "alpha", prio: 50, handles: true}
		r := NewRegistry(logger, metrics, b, a)
		assert.Equal(t, "alpha", r.Resolve(u).Name())
		assert.Equal(t, []string{"alpha", "bravo"}, r.Names())
	})

	t.Run("NonMatchingSkipped", func(t *testing.T) {
		skip := &fakeExtractor{name: "skip", prio: 90, handles: false}
		fallback := &fakeExtractor{name: "fallback", prio: 0, handles: true}
		r := NewRegistry(logger, metrics, skip, fallback)
		assert.Equal(t, "fallback", r.Resolve(u).Name())
	})

	t.Run("ExtractStampsIdentity", func(t *testing.T) {
		r := NewRegistry(logger, metrics, &fakeExtractor{name: "only", prio: 1, handles: true})
		got, err := r.Extract(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, "only", got.Extractor)
		assert.Equal(t, "0.0", got.ExtractorVersion)
	})

	t.Run("NoMatchIsError", func(t *testing.T) {
		r := NewRegistry(logger, metrics)
		_, err := r.Extract(context.Background(), u)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeScrapeFailed, apperrors.CodeOf(err))
	})
}

func TestGitHubExtractor(t *testing.T) {
	e := NewGitHubExtractor(newFetchClient(), "")

	t.Run("CanHandle", func(t *testing.T) {
		cases := []struct {
			url  string
			want bool
		}{
			{"https://github.com/golang/go", true},
			{"https://github.com/golang/go/tree/master/src", true},
			{"https://github.com/golang", false},
			{"https://github.com/orgs/golang/repositories", false},
			{"https://gist.github.com/user/abc123", false},
			{"https://example.com/golang/go", false},
		}
		for _, tc := range cases {
			assert.Equal(t, tc.want, e.CanHandle(mustCanonical(t, tc.url)), tc.url)
		}
	})

	t.Run("ExtractMapsRepoFields", func(t *testing.T) {
		var gotAuth, gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"full_name": "golang/go",
				"description": "The Go programming language",
				"language": "Go",
				"topics": ["go", "language"],
				"stargazers_count": 120000,
				"forks_count": 17000,
				"open_issues_count": 9000,
				"default_branch": "master",
				"pushed_at": "2026-08-20T10:00:00Z",
				"license": {"spdx_id": "BSD-3-Clause", "name": "BSD 3-Clause"},
				"owner": {"login": "golang", "avatar_url": "https://avatars.example/golang.png"}
			}`))
		}))
		defer srv.Close()

		tokened := NewGitHubExtractor(newFetchClient(), "ghp_secret")
		tokened.apiBase = srv.URL

		got, err := tokened.Extract(context.Background(), mustCanonical(t, "https://github.com/golang/go"))
		require.NoError(t, err)

		assert.Equal(t, "/repos/golang/go", gotPath)
		assert.Equal(t, "Bearer ghp_secret", gotAuth)
		assert.Equal(t, "golang/go", got.Title)
		assert.Equal(t, "The Go programming language", got.Description)
		assert.Equal(t, "golang", got.Author)
		assert.Equal(t, "GitHub", got.SiteName)
		assert.Equal(t, "R", got.ContentTypeHint)
		assert.Equal(t, 120000, got.Payload["stars"])
		assert.Equal(t, 17000, got.Payload["forks"])
		assert.Equal(t, "Go", got.Payload["language"])
		assert.Equal(t, "BSD-3-Clause", got.Payload["license"])
		assert.Equal(t, "master", got.Payload["defaultBranch"])
	})
}

func TestYouTubeExtractor(t *testing.T) {
	e := NewYouTubeExtractor(newFetchClient())

	t.Run("CanHandle", func(t *testing.T) {
		cases := []struct {
			url  string
			want bool
		}{
			{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
			{"https://youtu.be/dQw4w9WgXcQ", true},
			{"https://youtube.com/shorts/abc123", true},
			{"https://youtube.com/embed/abc123", true},
			{"https://youtube.com/channel/UC12345", false},
			{"https://vimeo.com/12345", false},
		}
		for _, tc := range cases {
			assert.Equal(t, tc.want, e.CanHandle(mustCanonical(t, tc.url)), tc.url)
		}
	})

	t.Run("ExtractMapsOEmbed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.URL.Query().Get("url"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"title": "Never Gonna Give You Up",
				"author_name": "Rick Astley",
				"thumbnail_url": "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg",
				"provider_name": "YouTube"
			}`))
		}))
		defer srv.Close()
		e.apiBase = srv.URL

		got, err := e.Extract(context.Background(), mustCanonical(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
		require.NoError(t, err)

		assert.Equal(t, "Never Gonna Give You Up", got.Title)
		assert.Equal(t, "Rick Astley", got.Author)
		assert.Equal(t, "V", got.ContentTypeHint)
		assert.Equal(t, "dQw4w9WgXcQ", got.Payload["videoID"])
		assert.Equal(t, "Rick Astley", got.Payload["channel"])
	})
}

func TestTwitterExtractor(t *testing.T) {
	e := NewTwitterExtractor(newFetchClient())

	t.Run("CanHandle", func(t *testing.T) {
		assert.True(t, e.CanHandle(mustCanonical(t, "https://x.com/someone/status/12345")))
		assert.True(t, e.CanHandle(mustCanonical(t, "https://twitter.com/someone/status/12345")))
		assert.False(t, e.CanHandle(mustCanonical(t, "https://x.com/someone")))
		assert.False(t, e.CanHandle(mustCanonical(t, "https://example.com/a/status/1")))
	})

	t.Run("ExtractStripsMarkup", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"author_name": "Some One",
				"author_url": "https://twitter.com/someone",
				"html": "<blockquote><p>Shipping is a feature too</p>&mdash; Some One</blockquote>"
			}`))
		}))
		defer srv.Close()
		e.apiBase = srv.URL

		got, err := e.Extract(context.Background(), mustCanonical(t, "https://x.com/someone/status/12345"))
		require.NoError(t, err)

		assert.Equal(t, "Some One", got.Author)
		assert.Equal(t, "someone", got.Payload["authorHandle"])
		assert.Contains(t, got.Payload["text"], "Shipping is a feature too")
		assert.NotContains(t, got.Payload["text"], "<p>")
		assert.Equal(t, "T", got.ContentTypeHint)
	})
}

func TestArxivExtractor(t *testing.T) {
	e := NewArxivExtractor(newFetchClient())

	t.Run("CanHandle", func(t *testing.T) {
		assert.True(t, e.CanHandle(mustCanonical(t, "https://arxiv.org/abs/2301.12345")))
		assert.True(t, e.CanHandle(mustCanonical(t, "https://arxiv.org/pdf/2301.12345v2")))
		assert.False(t, e.CanHandle(mustCanonical(t, "https://arxiv.org/list/cs.AI/recent")))
		assert.False(t, e.CanHandle(mustCanonical(t, "https://example.com/abs/2301.12345")))
	})

	t.Run("ExtractParsesAtom", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "2301.12345", r.URL.Query().Get("id_list"))
			w.Header().Set("Content-Type", "application/atom+xml")
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/2301.12345v1</id>
    <title>Attention Is Still
      All You Need</title>
    <summary>We revisit the transformer
      architecture.</summary>
    <published>2023-01-30T18:59:59Z</published>
    <author><name>Alice Researcher</name></author>
    <author><name>Bob Scholar</name></author>
    <arxiv:primary_category term="cs.CL"/>
  </entry>
</feed>`))
		}))
		defer srv.Close()
		e.apiBase = srv.URL

		got, err := e.Extract(context.Background(), mustCanonical(t, "https://arxiv.org/abs/2301.12345"))
		require.NoError(t, err)

		assert.Equal(t, "Attention Is Still All You Need", got.Title)
		assert.Equal(t, "We revisit the transformer architecture.", got.Description)
		assert.Equal(t, "P", got.ContentTypeHint)
		assert.Equal(t, "2301.12345", got.Payload["arxivID"])
		assert.Equal(t, []string{"Alice Researcher", "Bob Scholar"}, got.Payload["authors"])
		assert.Equal(t, "cs.CL", got.Payload["primaryCategory"])
	})

	t.Run("EmptyFeedIsError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
		}))
		defer srv.Close()
		e.apiBase = srv.URL

		_, err := e.Extract(context.Background(), mustCanonical(t, "https://arxiv.org/abs/2301.99999"))
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeScrapeFailed, apperrors.CodeOf(err))
	})
}
