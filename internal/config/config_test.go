package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NotEmpty(t, cfg.PluginDir)
	assert.NotEmpty(t, cfg.ConfigDir)
}

func TestLoad_LayersOverDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
plugin_dir = "/srv/pipewise/plugins"
sources = ["official", "github"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/pipewise/plugins", cfg.PluginDir)
	assert.Equal(t, []string{"official", "github"}, cfg.Sources)
	// Unset keys keep their defaults.
	assert.Equal(t, Default().ConfigDir, cfg.ConfigDir)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("plugin_dir = ["), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config")
}
