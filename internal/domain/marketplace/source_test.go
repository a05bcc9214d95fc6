package marketplace

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource is a scriptable source for aggregator and wrapper tests.
type stubSource struct {
	name    string
	results []Plugin
	err     error
	panics  bool
	calls   int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Search(_ context.Context, _ string, _ int) ([]Plugin, error) {
	s.calls++
	if s.panics {
		panic("source exploded")
	}
	return s.results, s.err
}

func TestFailSoft_PassesResultsThrough(t *testing.T) {
	t.Parallel()

	want := []Plugin{{ID: "a"}, {ID: "b"}}
	fs := newFailSoft(&stubSource{name: "stub", results: want}, zerolog.Nop())

	got, err := fs.Search(context.Background(), "query", 10)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFailSoft_ErrorDegradesToEmpty(t *testing.T) {
	t.Parallel()

	fs := newFailSoft(&stubSource{name: "stub", err: errors.New("network down")}, zerolog.Nop())

	got, err := fs.Search(context.Background(), "query", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFailSoft_PanicDegradesToEmpty(t *testing.T) {
	t.Parallel()

	fs := newFailSoft(&stubSource{name: "stub", panics: true}, zerolog.Nop())

	got, err := fs.Search(context.Background(), "query", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
