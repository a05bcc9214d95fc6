package plugin

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type archiveEntry struct {
	name string
	body string
	dir  bool
}

func buildTarGz(t *testing.T, entries []archiveEntry) string {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644}
		if e.dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func buildZip(t *testing.T, entries []archiveEntry) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		name := e.name
		if e.dir {
			name += "/"
		}
		w, err := zw.Create(name)
		require.NoError(t, err)
		if !e.dir {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractArchive_TarGz(t *testing.T) {
	t.Parallel()

	archive := buildTarGz(t, []archiveEntry{
		{name: "plugin-main", dir: true},
		{name: "plugin-main/manifest.json", body: `{"id":"x"}`},
		{name: "plugin-main/init.lua", body: `print("hi")`},
	})

	dest := t.TempDir()
	require.NoError(t, extractArchive(archive, dest))

	data, err := os.ReadFile(filepath.Join(dest, "plugin-main", "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"x"}`, string(data))
}

func TestExtractArchive_Zip(t *testing.T) {
	t.Parallel()

	archive := buildZip(t, []archiveEntry{
		{name: "plugin", dir: true},
		{name: "plugin/init.lua", body: "return"},
	})

	dest := t.TempDir()
	require.NoError(t, extractArchive(archive, dest))

	data, err := os.ReadFile(filepath.Join(dest, "plugin", "init.lua"))
	require.NoError(t, err)
	assert.Equal(t, "return", string(data))
}

func TestExtractArchive_TarTraversalRejected(t *testing.T) {
	t.Parallel()

	archive := buildTarGz(t, []archiveEntry{
		{name: "../evil.txt", body: "pwned"},
	})

	dest := t.TempDir()
	err := extractArchive(archive, dest)
	require.Error(t, err)
	assert.True(t, IsPathTraversal(err))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil.txt"))
}

func TestExtractArchive_ZipTraversalRejected(t *testing.T) {
	t.Parallel()

	archive := buildZip(t, []archiveEntry{
		{name: "../../evil.txt", body: "pwned"},
	})

	err := extractArchive(archive, t.TempDir())
	require.Error(t, err)
	assert.True(t, IsPathTraversal(err))
}

func TestExtractArchive_SymlinksSkipped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "link",
		Typeflag: tar.TypeSymlink,
		Linkname: "/etc/passwd",
	}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "real.txt",
		Typeflag: tar.TypeReg,
		Size:     2,
		Mode:     0o644,
	}))
	_, err := tw.Write([]byte("ok"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	archive := filepath.Join(t.TempDir(), "a.tar.gz")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	dest := t.TempDir()
	require.NoError(t, extractArchive(archive, dest))
	assert.NoFileExists(t, filepath.Join(dest, "link"))
	assert.FileExists(t, filepath.Join(dest, "real.txt"))
}

func TestExtractArchive_EmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.tar.gz")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	err := extractArchive(path, t.TempDir())
	require.Error(t, err)
	assert.True(t, IsArchiveError(err))
}

func TestExtractArchive_GarbageIsNotTar(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.bin")
	require.NoError(t, os.WriteFile(path, []byte("this is definitely not an archive of any kind"), 0o644))

	err := extractArchive(path, t.TempDir())
	assert.Error(t, err)
}
