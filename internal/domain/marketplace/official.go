package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRegistryURL is the curated Pipewise plugin registry document.
const DefaultRegistryURL = "https://registry.pipewise.dev/plugins.json"

// registryTTL is how long a fetched registry document stays valid in-process.
const registryTTL = 5 * time.Minute

// registryEntry is one plugin entry in the official registry document.
type registryEntry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Downloads   int      `json:"downloads"`
	Tags        []string `json:"tags"`
	Repo        string   `json:"repo"` // "owner/name"
	Verified    bool     `json:"verified"`
}

// registryDocument is the JSON document served at the registry URL.
type registryDocument struct {
	Featured  []registryEntry `json:"featured"`
	Community []registryEntry `json:"community"`
}

// OfficialSource serves search results from the curated registry document,
// fetched from a fixed URL and cached in-process with a short TTL.
type OfficialSource struct {
	url    string
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	doc       *registryDocument
	fetchedAt time.Time
}

// OfficialOption configures an OfficialSource.
type OfficialOption func(*OfficialSource)

// WithOfficialURL overrides the registry document URL (testing).
func WithOfficialURL(url string) OfficialOption {
	return func(s *OfficialSource) { s.url = url }
}

// WithOfficialClient overrides the HTTP client.
func WithOfficialClient(client *http.Client) OfficialOption {
	return func(s *OfficialSource) { s.client = client }
}

// WithOfficialLogger sets the source logger.
func WithOfficialLogger(log zerolog.Logger) OfficialOption {
	return func(s *OfficialSource) { s.log = log }
}

// WithOfficialClock overrides the clock used for cache expiry (testing).
func WithOfficialClock(now func() time.Time) OfficialOption {
	return func(s *OfficialSource) { s.now = now }
}

// NewOfficialSource creates the official registry source.
func NewOfficialSource(opts ...OfficialOption) *OfficialSource {
	s := &OfficialSource{
		url:    DefaultRegistryURL,
		client: newHTTPClient(),
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the source identifier.
func (s *OfficialSource) Name() string {
	return string(SourceOfficial)
}

// Search filters registry entries by case-insensitive substring match against
// name, description, and tags. Featured entries come first and are flagged.
func (s *OfficialSource) Search(ctx context.Context, query string, limit int) ([]Plugin, error) {
	doc, err := s.document(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Plugin, 0, len(doc.Featured)+len(doc.Community))
	for _, e := range doc.Featured {
		if matchesQuery(e, query) {
			results = append(results, s.toPlugin(e, true))
		}
	}
	for _, e := range doc.Community {
		if matchesQuery(e, query) {
			results = append(results, s.toPlugin(e, false))
		}
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Featured returns only the featured subset of the registry.
func (s *OfficialSource) Featured(ctx context.Context) ([]Plugin, error) {
	doc, err := s.document(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Plugin, 0, len(doc.Featured))
	for _, e := range doc.Featured {
		results = append(results, s.toPlugin(e, true))
	}
	return results, nil
}

// PluginInfo looks a plugin up by id across both registry sections.
func (s *OfficialSource) PluginInfo(ctx context.Context, id string) (*Plugin, error) {
	doc, err := s.document(ctx)
	if err != nil {
		return nil, err
	}

	for _, e := range doc.Featured {
		if e.ID == id {
			p := s.toPlugin(e, true)
			return &p, nil
		}
	}
	for _, e := range doc.Community {
		if e.ID == id {
			p := s.toPlugin(e, false)
			return &p, nil
		}
	}
	return nil, fmt.Errorf("plugin %q not found in registry", id)
}

// document returns the registry document, fetching it only when the cached
// copy is missing or older than the TTL.
func (s *OfficialSource) document(ctx context.Context) (*registryDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc != nil && s.now().Sub(s.fetchedAt) < registryTTL {
		return s.doc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching registry: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading registry response: %w", err)
	}

	var doc registryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing registry document: %w", err)
	}

	s.doc = &doc
	s.fetchedAt = s.now()
	return s.doc, nil
}

func (s *OfficialSource) toPlugin(e registryEntry, featured bool) Plugin {
	p := Plugin{
		ID:          e.ID,
		Name:        e.Name,
		Version:     e.Version,
		Description: e.Description,
		Author:      e.Author,
		Downloads:   e.Downloads,
		Categories:  e.Tags,
		Verified:    e.Verified,
		Featured:    featured,
		Source:      SourceOfficial,
	}
	if e.Repo != "" {
		p.SourceURL = "https://github.com/" + e.Repo
		p.DownloadURL = fmt.Sprintf("https://github.com/%s/archive/refs/heads/main.tar.gz", e.Repo)
	}
	return p
}

// matchesQuery reports whether an entry matches the free-text query.
func matchesQuery(e registryEntry, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(e.Name), q) ||
		strings.Contains(strings.ToLower(e.Description), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

var (
	_ Source       = (*OfficialSource)(nil)
	_ InfoProvider = (*OfficialSource)(nil)
)
