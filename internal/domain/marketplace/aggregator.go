package marketplace

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// popularTTL is how long a cached popular-plugins result stays valid.
const popularTTL = 5 * time.Minute

// Aggregator fans a query out to every selected source concurrently and
// merges the results into one ranked list.
type Aggregator struct {
	log     zerolog.Logger
	sources []Source
	now     func() time.Time

	mu      sync.Mutex
	popular map[int]popularEntry
}

type popularEntry struct {
	results   []Plugin
	fetchedAt time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the aggregator logger.
func WithAggregatorLogger(log zerolog.Logger) AggregatorOption {
	return func(a *Aggregator) { a.log = log }
}

// WithAggregatorClock overrides the clock used for cache expiry (testing).
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator over the given sources. Every source is
// wrapped so that its failures degrade to empty results instead of escaping.
func NewAggregator(sources []Source, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		log:     zerolog.Nop(),
		now:     time.Now,
		popular: make(map[int]popularEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, s := range sources {
		a.sources = append(a.sources, newFailSoft(s, a.log))
	}
	return a
}

// Sources returns the names of all registered sources.
func (a *Aggregator) Sources() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

// Search fans the query out to the selected sources (all of them when
// sourceNames is empty), waits for every source to finish, and merges the
// results sorted by stars+downloads descending, truncated to
// limit × number-of-sources. A failing source contributes an empty slice.
func (a *Aggregator) Search(ctx context.Context, query string, sourceNames []string, limit int) []Plugin {
	selected := a.selectSources(sourceNames)
	if len(selected) == 0 {
		return nil
	}

	// Fan-out-then-join: ranking needs all available data, so no unit is
	// cancelled early on another's completion or failure.
	perSource := make([][]Plugin, len(selected))
	var wg sync.WaitGroup
	for i, src := range selected {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			results, _ := src.Search(ctx, query, limit)
			perSource[i] = results
		}(i, src)
	}
	wg.Wait()

	merged := make([]Plugin, 0)
	for _, results := range perSource {
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Popularity() > merged[j].Popularity()
	})

	if total := limit * len(selected); limit > 0 && len(merged) > total {
		merged = merged[:total]
	}
	return merged
}

// Popular returns the highest-ranked plugins across all sources, cached
// per-limit with a short TTL. A cache hit performs zero network calls.
func (a *Aggregator) Popular(ctx context.Context, limit int) []Plugin {
	a.mu.Lock()
	if entry, ok := a.popular[limit]; ok && a.now().Sub(entry.fetchedAt) < popularTTL {
		results := entry.results
		a.mu.Unlock()
		return results
	}
	a.mu.Unlock()

	results := a.Search(ctx, "", nil, limit)

	a.mu.Lock()
	a.popular[limit] = popularEntry{results: results, fetchedAt: a.now()}
	a.mu.Unlock()
	return results
}

// selectSources resolves the requested source names, defaulting to all.
func (a *Aggregator) selectSources(names []string) []Source {
	if len(names) == 0 {
		return a.sources
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	selected := make([]Source, 0, len(names))
	for _, s := range a.sources {
		if wanted[s.Name()] {
			selected = append(selected, s)
		}
	}
	return selected
}
