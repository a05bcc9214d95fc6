package plugin

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// extractArchive unpacks a downloaded plugin archive into destDir. The
// format is detected from the file's magic bytes rather than its name:
// gzip-compressed tar (GitHub/npm tarballs), plain tar, and zip are accepted.
func extractArchive(archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = file.Close() }()

	magic := make([]byte, 4)
	n, err := io.ReadFull(file, magic)
	if err != nil && n < 2 {
		return &ArchiveError{URL: archivePath, Reason: "archive is empty or truncated"}
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding archive: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating extraction directory: %w", err)
	}

	switch {
	case magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer func() { _ = gz.Close() }()
		return extractTar(gz, destDir)
	case bytes.HasPrefix(magic, []byte("PK")):
		return extractZip(archivePath, destDir)
	default:
		// Plain tar has no magic at offset 0; let the tar reader decide.
		return extractTar(file, destDir)
	}
}

// extractTar unpacks a tar stream, guarding every entry against path
// traversal. Unsupported entry types (symlinks, devices) are skipped.
func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ArchiveError{URL: destDir, Reason: fmt.Sprintf("reading tar: %v", err)}
		}

		target, err := sanitizePath(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, fs.FileMode(header.Mode)&0o777); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractZip unpacks a zip archive with the same traversal guarantees.
func extractZip(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return &ArchiveError{URL: archivePath, Reason: fmt.Sprintf("reading zip: %v", err)}
	}
	defer func() { _ = zr.Close() }()

	for _, entry := range zr.File {
		target, err := sanitizePath(destDir, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry: %w", err)
		}
		err = writeFile(target, rc, entry.Mode()&0o777)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// sanitizePath joins an archive entry name onto the destination, rejecting
// entries that would escape it.
func sanitizePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.Clean(name))
	clean := filepath.Clean(destDir) + string(os.PathSeparator)
	if !strings.HasPrefix(target, clean) && target != filepath.Clean(destDir) {
		return "", &PathTraversalError{Path: name}
	}
	return target, nil
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if mode == 0 {
		mode = 0o644
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing file: %w", err)
	}
	return f.Close()
}
