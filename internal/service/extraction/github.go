package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"curio-backend/internal/infrastructure/fetch"

	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/service/urlvalidation"
)

const githubAPIBase = "https://api.github.com"

// GitHubExtractor reads repository metadata from the GitHub REST API
// instead of scraping the HTML page.
type GitHubExtractor struct {
	client  *fetch.Client
	token   string
	apiBase string
}

// NewGitHubExtractor builds the extractor. token may be empty; set it to
// raise the unauthenticated rate limit.
func NewGitHubExtractor(client *fetch.Client, token string) *GitHubExtractor {
	return &GitHubExtractor{client: client, token: token, apiBase: githubAPIBase}
}

func (e *GitHubExtractor) Name() string    { return "github" }
func (e *GitHubExtractor) Version() string { return "1.0" }
func (e *GitHubExtractor) Priority() int   { return 90 }

// CanHandle matches repository URLs: github.com with at least an owner
// and a repo path segment. Gists and user profiles fall through to the
// generic extractor.
func (e *GitHubExtractor) CanHandle(u urlvalidation.Canonical) bool {
	if u.Host() != "github.com" {
		return false
	}
	owner, repo := splitRepoPath(u.Path())
	return owner != "" && repo != ""
}

type githubRepo struct {
	FullName    string   `json:"full_name"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Topics      []string `json:"topics"`
	Stars       int      `json:"stargazers_count"`
	Forks       int      `json:"forks_count"`
	OpenIssues  int      `json:"open_issues_count"`
	Branch      string   `json:"default_branch"`
	PushedAt    string   `json:"pushed_at"`
	License     *struct {
		SPDXID string `json:"spdx_id"`
		Name   string `json:"name"`
	} `json:"license"`
	Owner struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	} `json:"owner"`
}

func (e *GitHubExtractor) Extract(ctx context.Context, u urlvalidation.Canonical) (*Extracted, error) {
	owner, repo := splitRepoPath(u.Path())

	opts := []fetch.RequestOption{fetch.WithHeader("Accept", "application/vnd.github+json")}
	if e.token != "" {
		opts = append(opts, fetch.WithHeader("Authorization", "Bearer "+e.token))
	}

	resp, err := e.client.Get(ctx, fmt.Sprintf("%s/repos/%s/%s", e.apiBase, owner, repo), opts...)
	if err != nil {
		return nil, err
	}

	var r githubRepo
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return nil, apperrors.External(apperrors.CodeScrapeInvalidContent, "github API returned malformed JSON").
			WithOperation("extraction.github").
			WithCause(err).
			Build()
	}

	payload := map[string]any{
		"stars":         r.Stars,
		"forks":         r.Forks,
		"openIssues":    r.OpenIssues,
		"defaultBranch": r.Branch,
	}
	if r.Language != "" {
		payload["language"] = r.Language
	}
	if len(r.Topics) > 0 {
		payload["topics"] = r.Topics
	}
	if r.License != nil && r.License.SPDXID != "" && r.License.SPDXID != "NOASSERTION" {
		payload["license"] = r.License.SPDXID
	}
	if r.PushedAt != "" {
		payload["pushedAt"] = r.PushedAt
	}

	title := r.FullName
	if title == "" {
		title = owner + "/" + repo
	}

	return &Extracted{
		Title:           title,
		Description:     r.Description,
		Author:          r.Owner.Login,
		SiteName:        "GitHub",
		Favicon:         "https://github.com/favicon.ico",
		Image:           r.Owner.AvatarURL,
		Content:         r.Description,
		ContentTypeHint: "R",
		Payload:         payload,
	}, nil
}

// splitRepoPath extracts the owner and repo from a GitHub path, ignoring
// deeper segments such as /tree/main.
func splitRepoPath(path string) (owner, repo string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", ""
	}
	// Non-repository namespaces that share the /{a}/{b} shape.
	switch parts[0] {
	case "orgs", "users", "topics", "collections", "sponsors", "settings", "marketplace":
		return "", ""
	}
	return parts[0], parts[1]
}
