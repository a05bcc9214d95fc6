package marketplace

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	// maxResponseSize limits API response bodies to prevent memory exhaustion (2MB).
	maxResponseSize = 2 * 1024 * 1024

	// defaultTimeout bounds every catalog request.
	defaultTimeout = 30 * time.Second

	// userAgent identifies the host to remote catalogs.
	userAgent = "pipewise"
)

// Source is one remote plugin catalog.
//
// Implementations may return an error; the aggregator wraps every source in
// failSoft, which enforces the fail-soft contract at the interface boundary
// rather than trusting each implementation.
type Source interface {
	// Name returns the stable source identifier used for source selection.
	Name() string

	// Search returns plugins matching the query, ordered by source-defined
	// relevance descending. An empty query returns the source's most
	// relevant entries.
	Search(ctx context.Context, query string, limit int) ([]Plugin, error)
}

// InfoProvider is an optional source capability for single-plugin lookup.
type InfoProvider interface {
	PluginInfo(ctx context.Context, id string) (*Plugin, error)
}

// DownloadURLProvider is an optional source capability for resolving a
// version-specific archive URL.
type DownloadURLProvider interface {
	DownloadURL(ctx context.Context, id, version string) (string, error)
}

// failSoft wraps a Source so that no network, parse, or schema failure can
// escape to the caller: errors and panics degrade to an empty result.
type failSoft struct {
	inner Source
	log   zerolog.Logger
}

func newFailSoft(inner Source, log zerolog.Logger) *failSoft {
	return &failSoft{inner: inner, log: log.With().Str("source", inner.Name()).Logger()}
}

func (f *failSoft) Name() string {
	return f.inner.Name()
}

func (f *failSoft) Search(ctx context.Context, query string, limit int) (results []Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Interface("panic", r).Msg("source panicked during search")
			results, err = nil, nil
		}
	}()

	results, err = f.inner.Search(ctx, query, limit)
	if err != nil {
		f.log.Warn().Err(err).Str("query", query).Msg("source search degraded to empty results")
		return nil, nil
	}
	return results, nil
}

// newHTTPClient returns the client all sources share the configuration of.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}
