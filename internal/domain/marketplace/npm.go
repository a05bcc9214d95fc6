package marketplace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// npmKeyword is the keyword npm plugin packages must carry.
	npmKeyword = "pipewise-plugin"
	// npmNamePrefix is stripped from package names for display.
	npmNamePrefix = "pipewise-plugin-"
)

// NPMSource searches the npm package index for keyword-tagged plugins.
type NPMSource struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NPMOption configures an NPMSource.
type NPMOption func(*NPMSource)

// WithNPMBaseURL overrides the registry base URL (testing).
func WithNPMBaseURL(u string) NPMOption {
	return func(s *NPMSource) { s.baseURL = u }
}

// WithNPMClient overrides the HTTP client.
func WithNPMClient(client *http.Client) NPMOption {
	return func(s *NPMSource) { s.client = client }
}

// WithNPMLogger sets the source logger.
func WithNPMLogger(log zerolog.Logger) NPMOption {
	return func(s *NPMSource) { s.log = log }
}

// NewNPMSource creates the package-registry source.
func NewNPMSource(opts ...NPMOption) *NPMSource {
	s := &NPMSource{
		baseURL: "https://registry.npmjs.org",
		client:  newHTTPClient(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the source identifier.
func (s *NPMSource) Name() string {
	return string(SourceNPM)
}

// Search issues a keyword-filtered text search against the package index.
func (s *NPMSource) Search(ctx context.Context, query string, limit int) ([]Plugin, error) {
	text := "keywords:" + npmKeyword
	if query != "" {
		text = query + " " + text
	}

	size := 20
	if limit > 0 {
		size = min(limit, 250)
	}
	u := fmt.Sprintf("%s/-/v1/search?text=%s&size=%d", s.baseURL, url.QueryEscape(text), size)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("npm registry error (status %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	objects := gjson.GetBytes(body, "objects")
	if !objects.Exists() {
		return nil, fmt.Errorf("search response missing objects")
	}

	results := make([]Plugin, 0)
	objects.ForEach(func(_, obj gjson.Result) bool {
		if p, ok := s.packageToPlugin(obj); ok {
			results = append(results, p)
		}
		return limit <= 0 || len(results) < limit
	})
	return results, nil
}

// packageToPlugin maps one search object into a Plugin. Every nested field is
// optional in the response, so extraction must not assume presence.
func (s *NPMSource) packageToPlugin(obj gjson.Result) (Plugin, bool) {
	pkg := obj.Get("package")
	name := pkg.Get("name").String()
	if name == "" {
		return Plugin{}, false
	}
	version := pkg.Get("version").String()

	p := Plugin{
		ID:          name,
		Name:        displayName(name),
		Version:     version,
		Description: pkg.Get("description").String(),
		Author:      pkg.Get("author.name").String(),
		Downloads:   int(obj.Get("downloads.monthly").Int()),
		Rating:      obj.Get("score.final").Float(),
		Source:      SourceNPM,
		SourceURL:   pkg.Get("links.npm").String(),
		DownloadURL: s.tarballURL(name, version),
	}
	pkg.Get("keywords").ForEach(func(_, k gjson.Result) bool {
		if kw := k.String(); kw != npmKeyword {
			p.Categories = append(p.Categories, kw)
		}
		return true
	})
	if t, err := time.Parse(time.RFC3339, pkg.Get("date").String()); err == nil {
		p.UpdatedAt = t
	}
	return p, true
}

// DownloadURL resolves a versioned tarball URL for a package.
func (s *NPMSource) DownloadURL(_ context.Context, id, version string) (string, error) {
	if id == "" || version == "" {
		return "", fmt.Errorf("package name and version are required")
	}
	return s.tarballURL(id, version), nil
}

// tarballURL synthesizes the registry tarball location. Scoped packages keep
// the scope in the path but not in the file name.
func (s *NPMSource) tarballURL(name, version string) string {
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	return fmt.Sprintf("%s/%s/-/%s-%s.tgz", s.baseURL, name, base, version)
}

// displayName strips the plugin name prefix and title-cases the remainder.
func displayName(pkgName string) string {
	name := pkgName
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimPrefix(name, npmNamePrefix)

	words := strings.Split(name, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var (
	_ Source              = (*NPMSource)(nil)
	_ DownloadURLProvider = (*NPMSource)(nil)
)
