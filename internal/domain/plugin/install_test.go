package plugin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewise/pipewise/internal/domain/marketplace"
)

// serveArchive exposes a prebuilt archive file over HTTP the way GitHub and
// npm serve tarballs.
func serveArchive(t *testing.T, path string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, path)
	}))
	t.Cleanup(server.Close)
	return server
}

func pluginArchive(t *testing.T, id string) string {
	t.Helper()
	// GitHub branch tarballs nest everything under "<repo>-<ref>/".
	return buildTarGz(t, []archiveEntry{
		{name: id + "-main", dir: true},
		{name: id + "-main/" + ManifestFileName, body: `{"id":"` + id + `","name":"Fixture","version":"2.0.0","nodes":["` + id + `.run"]}`},
		{name: id + "-main/init.lua", body: `function on_load() end`},
	})
}

func TestInstallFromMarketplace(t *testing.T) {
	t.Parallel()

	archive := pluginArchive(t, "http-tools")
	server := serveArchive(t, archive)

	registry := NewNodeRegistry()
	m, pluginDir, _ := newTestManager(t, WithNodeSink(registry))

	var stages []string
	err := m.InstallFromMarketplace(context.Background(), marketplace.Plugin{
		ID:          "http-tools",
		Version:     "2.0.0",
		DownloadURL: server.URL + "/http-tools.tar.gz",
	}, func(stage string, _ int) {
		if len(stages) == 0 || stages[len(stages)-1] != stage {
			stages = append(stages, stage)
		}
	})
	require.NoError(t, err)

	// The nested archive root was flattened into <pluginDir>/<id>.
	assert.FileExists(t, filepath.Join(pluginDir, "http-tools", ManifestFileName))
	assert.FileExists(t, filepath.Join(pluginDir, "http-tools", "init.lua"))

	p, ok := m.Plugin("http-tools")
	require.True(t, ok)
	assert.True(t, p.Enabled)
	assert.Equal(t, "2.0.0", p.Manifest.Version)
	assert.False(t, p.Manifest.InstalledAt.IsZero())
	assert.Equal(t, []string{"http-tools.http-tools.run"}, registry.NodeTypes())

	assert.Equal(t, []string{"download", "extract", "validate", "install", "activate", "done"}, stages)

	// Staging is cleaned up.
	entries, err := os.ReadDir(filepath.Join(pluginDir, stagingDirName))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestInstallFromMarketplace_NoManifestAnywhere(t *testing.T) {
	t.Parallel()

	archive := buildTarGz(t, []archiveEntry{
		{name: "junk-main", dir: true},
		{name: "junk-main/readme.md", body: "no manifest here"},
	})
	server := serveArchive(t, archive)

	m, pluginDir, _ := newTestManager(t)
	err := m.InstallFromMarketplace(context.Background(), marketplace.Plugin{
		ID:          "junk",
		DownloadURL: server.URL + "/junk.tar.gz",
	}, nil)
	require.Error(t, err)
	assert.True(t, IsArchiveError(err))
	assert.NoDirExists(t, filepath.Join(pluginDir, "junk"))
}

func TestInstallFromMarketplace_InvalidManifest(t *testing.T) {
	t.Parallel()

	archive := buildTarGz(t, []archiveEntry{
		{name: ManifestFileName, body: `{"id":"x"}`},
	})
	server := serveArchive(t, archive)

	m, _, _ := newTestManager(t)
	err := m.InstallFromMarketplace(context.Background(), marketplace.Plugin{
		ID:          "x",
		DownloadURL: server.URL + "/x.tar.gz",
	}, nil)
	require.Error(t, err)
	assert.True(t, IsArchiveError(err))
}

func TestInstallFromMarketplace_DownloadErrorLeavesExistingInstall(t *testing.T) {
	t.Parallel()

	m, pluginDir, _ := newTestManager(t)
	installFixture(t, pluginDir, "http-tools")
	_, err := m.DiscoverPlugins()
	require.NoError(t, err)

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	err = m.InstallFromMarketplace(context.Background(), marketplace.Plugin{
		ID:          "http-tools",
		DownloadURL: server.URL + "/gone.tar.gz",
	}, nil)
	require.ErrorContains(t, err, "status 404")

	// The failed reinstall never touched the existing directory.
	assert.FileExists(t, filepath.Join(pluginDir, "http-tools", ManifestFileName))
	p, ok := m.Plugin("http-tools")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", p.Manifest.Version)
}

func TestInstallFromMarketplace_MissingFields(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)

	err := m.InstallFromMarketplace(context.Background(), marketplace.Plugin{}, nil)
	assert.ErrorContains(t, err, "no id")

	err = m.InstallFromMarketplace(context.Background(), marketplace.Plugin{ID: "x"}, nil)
	assert.ErrorContains(t, err, "no download URL")
}

func TestUpdate_SameVersionIsNoop(t *testing.T) {
	t.Parallel()

	m, pluginDir, _ := newTestManager(t)
	installFixture(t, pluginDir, "http-tools")
	_, err := m.DiscoverPlugins()
	require.NoError(t, err)

	updated, err := m.Update(context.Background(), marketplace.Plugin{
		ID:      "http-tools",
		Version: "1.0.0",
	}, nil)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestUpdate_NewVersionReinstalls(t *testing.T) {
	t.Parallel()

	m, pluginDir, _ := newTestManager(t)
	installFixture(t, pluginDir, "http-tools")
	_, err := m.DiscoverPlugins()
	require.NoError(t, err)

	archive := pluginArchive(t, "http-tools")
	server := serveArchive(t, archive)

	updated, err := m.Update(context.Background(), marketplace.Plugin{
		ID:          "http-tools",
		Version:     "2.0.0",
		DownloadURL: server.URL + "/http-tools.tar.gz",
	}, nil)
	require.NoError(t, err)
	assert.True(t, updated)

	p, ok := m.Plugin("http-tools")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", p.Manifest.Version)
}

func TestUpdate_UnknownPlugin(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	_, err := m.Update(context.Background(), marketplace.Plugin{ID: "ghost", Version: "1.0.0"}, nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestFindManifestDir_PrefersShallowest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	deep := filepath.Join(root, "outer", "vendor", "dep")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deep, ManifestFileName), []byte("{}"), 0o644))
	shallow := filepath.Join(root, "outer")
	require.NoError(t, os.WriteFile(filepath.Join(shallow, ManifestFileName), []byte("{}"), 0o644))

	dir, err := findManifestDir(root)
	require.NoError(t, err)
	assert.Equal(t, shallow, dir)
}
