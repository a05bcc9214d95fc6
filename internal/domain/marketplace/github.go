package marketplace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// pluginTopic is the repository topic that marks a Pipewise plugin on GitHub.
const pluginTopic = "pipewise-plugin"

// GitHubSource searches GitHub for topic-tagged plugin repositories.
type GitHubSource struct {
	apiURL string
	rawURL string
	client *http.Client
	log    zerolog.Logger
}

// GitHubOption configures a GitHubSource.
type GitHubOption func(*GitHubSource)

// WithGitHubAPIURL overrides the API base URL (testing).
func WithGitHubAPIURL(u string) GitHubOption {
	return func(s *GitHubSource) { s.apiURL = u }
}

// WithGitHubRawURL overrides the raw-content base URL (testing).
func WithGitHubRawURL(u string) GitHubOption {
	return func(s *GitHubSource) { s.rawURL = u }
}

// WithGitHubClient overrides the HTTP client.
func WithGitHubClient(client *http.Client) GitHubOption {
	return func(s *GitHubSource) { s.client = client }
}

// WithGitHubLogger sets the source logger.
func WithGitHubLogger(log zerolog.Logger) GitHubOption {
	return func(s *GitHubSource) { s.log = log }
}

// NewGitHubSource creates the code-host source.
func NewGitHubSource(opts ...GitHubOption) *GitHubSource {
	s := &GitHubSource{
		apiURL: "https://api.github.com",
		rawURL: "https://raw.githubusercontent.com",
		client: newHTTPClient(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the source identifier.
func (s *GitHubSource) Name() string {
	return string(SourceGitHub)
}

// Search issues a topic-filtered repository search sorted by stars descending
// and maps each repository into a marketplace Plugin.
func (s *GitHubSource) Search(ctx context.Context, query string, limit int) ([]Plugin, error) {
	q := "topic:" + pluginTopic
	if query != "" {
		q = query + " " + q
	}

	u, err := url.Parse(s.apiURL + "/search/repositories")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	params := u.Query()
	params.Set("q", q)
	params.Set("sort", "stars")
	params.Set("order", "desc")
	if limit > 0 {
		params.Set("per_page", fmt.Sprintf("%d", min(limit, 100)))
	}
	u.RawQuery = params.Encode()

	body, err := s.get(ctx, u.String(), "application/vnd.github+json")
	if err != nil {
		return nil, err
	}

	// GitHub responses are untrusted input; gjson tolerates missing or
	// differently-typed nested fields without failing the whole mapping.
	items := gjson.GetBytes(body, "items")
	if !items.Exists() {
		return nil, fmt.Errorf("search response missing items")
	}

	results := make([]Plugin, 0)
	items.ForEach(func(_, item gjson.Result) bool {
		results = append(results, s.repoToPlugin(item))
		return limit <= 0 || len(results) < limit
	})
	return results, nil
}

// Release is one published release of a plugin repository.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	TarballURL  string    `json:"tarball_url"`
}

// Releases lists published releases for a repository ("owner/name").
func (s *GitHubSource) Releases(ctx context.Context, fullName string) ([]Release, error) {
	body, err := s.get(ctx, fmt.Sprintf("%s/repos/%s/releases", s.apiURL, fullName), "application/vnd.github+json")
	if err != nil {
		return nil, err
	}

	releases := make([]Release, 0)
	gjson.ParseBytes(body).ForEach(func(_, r gjson.Result) bool {
		rel := Release{
			TagName:    r.Get("tag_name").String(),
			Name:       r.Get("name").String(),
			Prerelease: r.Get("prerelease").Bool(),
			TarballURL: r.Get("tarball_url").String(),
		}
		if t, err := time.Parse(time.RFC3339, r.Get("published_at").String()); err == nil {
			rel.PublishedAt = t
		}
		releases = append(releases, rel)
		return true
	})
	return releases, nil
}

// ManifestPreview is the subset of a plugin manifest fetched for repositories
// that do not surface one in search results.
type ManifestPreview struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Nodes       []string `json:"nodes"`
}

// FetchManifest probes manifest.json on the main branch, falling back to
// master for older repositories.
func (s *GitHubSource) FetchManifest(ctx context.Context, fullName string) (*ManifestPreview, error) {
	if fullName == "" {
		return nil, fmt.Errorf("missing repository full name")
	}

	var body []byte
	var err error
	for _, branch := range []string{"main", "master"} {
		rawURL := fmt.Sprintf("%s/%s/%s/manifest.json", s.rawURL, fullName, branch)
		body, err = s.get(ctx, rawURL, "application/json")
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("manifest not found for %s: %w", fullName, err)
	}

	doc := gjson.ParseBytes(body)
	preview := &ManifestPreview{
		ID:          doc.Get("id").String(),
		Name:        doc.Get("name").String(),
		Version:     doc.Get("version").String(),
		Description: doc.Get("description").String(),
	}
	doc.Get("nodes").ForEach(func(_, n gjson.Result) bool {
		preview.Nodes = append(preview.Nodes, n.String())
		return true
	})
	return preview, nil
}

func (s *GitHubSource) repoToPlugin(item gjson.Result) Plugin {
	branch := item.Get("default_branch").String()
	if branch == "" {
		branch = "main"
	}

	p := Plugin{
		ID:          item.Get("name").String(),
		Name:        item.Get("name").String(),
		Description: item.Get("description").String(),
		Author:      item.Get("owner.login").String(),
		IconURL:     item.Get("owner.avatar_url").String(),
		Source:      SourceGitHub,
		SourceURL:   item.Get("html_url").String(),
		Stars:       int(item.Get("stargazers_count").Int()),
		Forks:       int(item.Get("forks_count").Int()),
	}
	item.Get("topics").ForEach(func(_, t gjson.Result) bool {
		if topic := t.String(); topic != pluginTopic {
			p.Categories = append(p.Categories, topic)
		}
		return true
	})
	if p.SourceURL != "" {
		p.DownloadURL = fmt.Sprintf("%s/archive/refs/heads/%s.tar.gz", p.SourceURL, branch)
	}
	if t, err := time.Parse(time.RFC3339, item.Get("created_at").String()); err == nil {
		p.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, item.Get("updated_at").String()); err == nil {
		p.UpdatedAt = t
	}
	return p
}

// get performs a GET request and returns the size-capped body.
func (s *GitHubSource) get(ctx context.Context, u, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API error (status %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

var _ Source = (*GitHubSource)(nil)
