package plugin

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pipewise/pipewise/internal/domain/marketplace"
)

const (
	// stagingDirName is the scratch area under the plugin root. Keeping it
	// on the same filesystem as the final directories makes the install
	// rename atomic.
	stagingDirName = ".staging"

	// downloadTimeout bounds a full archive download.
	downloadTimeout = 5 * time.Minute

	// maxArchiveSize caps a plugin archive download (64MB).
	maxArchiveSize int64 = 64 * 1024 * 1024
)

// ProgressFunc receives best-effort install progress. Callbacks are
// synchronous and must not block for long; errors in reporting never affect
// the pipeline's correctness.
type ProgressFunc func(stage string, percent int)

// InstallFromMarketplace downloads, validates, and atomically installs a
// plugin from a marketplace search result, then re-runs discovery and
// enables it. The destination directory is only mutated by the atomic
// replace step; any earlier failure leaves an existing installation intact.
// The pipeline holds no per-id lock: concurrent installs of the same id are
// the caller's responsibility to serialize.
func (m *Manager) InstallFromMarketplace(ctx context.Context, mp marketplace.Plugin, progress ProgressFunc) error {
	if mp.ID == "" {
		return fmt.Errorf("marketplace plugin has no id")
	}
	if mp.DownloadURL == "" {
		return fmt.Errorf("marketplace plugin %s has no download URL", mp.ID)
	}
	report := func(stage string, percent int) {
		if progress != nil {
			progress(stage, percent)
		}
	}

	staging := filepath.Join(m.pluginDir, stagingDirName, mp.ID+"-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	// Staging is removed unconditionally, success or failure.
	defer func() { _ = os.RemoveAll(staging) }()

	report("download", 0)
	archivePath := filepath.Join(staging, "plugin.archive")
	if err := m.download(ctx, mp.DownloadURL, archivePath, report); err != nil {
		m.log.Error().Err(err).Str("plugin", mp.ID).Msg("plugin download failed")
		return err
	}

	report("extract", 50)
	extracted := filepath.Join(staging, "extracted")
	if err := extractArchive(archivePath, extracted); err != nil {
		m.log.Error().Err(err).Str("plugin", mp.ID).Msg("plugin extraction failed")
		return err
	}

	// Archives routinely nest the content under a repository-name root
	// directory; the manifest can live anywhere in the extracted tree.
	report("validate", 70)
	rootDir, err := findManifestDir(extracted)
	if err != nil {
		m.log.Error().Err(err).Str("plugin", mp.ID).Msg("plugin validation failed")
		return &ArchiveError{URL: mp.DownloadURL, Reason: err.Error()}
	}
	if _, err := LoadManifestFromDir(rootDir); err != nil {
		m.log.Error().Err(err).Str("plugin", mp.ID).Msg("plugin manifest invalid")
		return &ArchiveError{URL: mp.DownloadURL, Reason: err.Error()}
	}

	// Atomic replace: the only step that mutates the permanent directory.
	report("install", 85)
	dest := filepath.Join(m.pluginDir, mp.ID)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("removing previous installation: %w", err)
	}
	if err := os.Rename(rootDir, dest); err != nil {
		return fmt.Errorf("moving plugin into place: %w", err)
	}

	if err := stampTimestamps(dest, time.Now()); err != nil {
		m.log.Warn().Err(err).Str("plugin", mp.ID).Msg("could not stamp install timestamps")
	}

	report("activate", 95)
	if _, err := m.DiscoverPlugins(); err != nil {
		return fmt.Errorf("rediscovering plugins: %w", err)
	}
	if !m.Enable(mp.ID) {
		return fmt.Errorf("installed plugin %s did not appear after rediscovery", mp.ID)
	}

	report("done", 100)
	m.log.Info().Str("plugin", mp.ID).Str("version", mp.Version).Msg("plugin installed")
	return nil
}

// Update reinstalls a plugin when the marketplace lists a different version
// than the one on disk. Returns true when an install actually ran.
func (m *Manager) Update(ctx context.Context, mp marketplace.Plugin, progress ProgressFunc) (bool, error) {
	installed, ok := m.Plugin(mp.ID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPlugin, mp.ID)
	}
	if installed.Manifest.Version == mp.Version {
		return false, nil
	}
	if err := m.InstallFromMarketplace(ctx, mp, progress); err != nil {
		return false, err
	}
	return true, nil
}

// download fetches url fully into dest, reporting coarse progress when the
// server provides a content length.
func (m *Manager) download(ctx context.Context, url, dest string, report ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", "pipewise")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading plugin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}

	written, copyErr := io.Copy(f, io.LimitReader(resp.Body, maxArchiveSize))
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing download: %w", closeErr)
	}
	if written == maxArchiveSize {
		return fmt.Errorf("archive exceeds size limit of %d bytes", maxArchiveSize)
	}

	if total := resp.ContentLength; total > 0 {
		pct := int(float64(written) / float64(total) * 50)
		report("download", min(pct, 50))
	} else {
		report("download", 50)
	}
	return nil
}

// findManifestDir walks the extracted tree for a manifest file and returns
// the shallowest directory containing one.
func findManifestDir(root string) (string, error) {
	var found string
	foundDepth := -1

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ManifestFileName {
			return nil
		}
		dir := filepath.Dir(path)
		depth := pathDepth(root, dir)
		if foundDepth == -1 || depth < foundDepth {
			found, foundDepth = dir, depth
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching for %s: %w", ManifestFileName, err)
	}
	if found == "" {
		return "", fmt.Errorf("no %s found anywhere in the archive", ManifestFileName)
	}
	return found, nil
}

func pathDepth(root, dir string) int {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return 0
	}
	depth := 1
	for _, r := range rel {
		if r == filepath.Separator {
			depth++
		}
	}
	return depth
}
