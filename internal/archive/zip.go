// Package archive extracts untrusted release packages with path-traversal
// protection. Archives come from a network source, so every entry path is
// validated before a single byte is written.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// UnsafeArchiveError reports an entry whose path would escape the
// extraction directory.
type UnsafeArchiveError struct {
	Entry string
}

func (e *UnsafeArchiveError) Error() string {
	return fmt.Sprintf("unsafe path in archive: %s", e.Entry)
}

// Extract unpacks the archive at archivePath beneath destDir, dispatching
// on the file extension. ZIP and gzipped tar packages are supported.
func Extract(archivePath, destDir string) error {
	name := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(archivePath, destDir)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return extractTarGz(archivePath, destDir)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
}

// extractZip unpacks a ZIP archive, preserving relative structure.
// Validation of all entry names happens as a complete pre-pass; if any
// entry is unsafe nothing is extracted.
func extractZip(archivePath, destDir string) error {
	log := logger.NewLogger("archive")
	log.Debugf("Extracting %s to %s", archivePath, destDir)

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		// ErrInsecurePath still yields a readable archive; the pre-pass
		// below names the offending entry instead.
		if reader == nil || !errors.Is(err, zip.ErrInsecurePath) {
			return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
		}
	}
	defer reader.Close()

	for _, f := range reader.File {
		if !entryIsSafe(destDir, f.Name) {
			return &UnsafeArchiveError{Entry: f.Name}
		}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination %s: %w", destDir, err)
	}

	for _, f := range reader.File {
		if err := extractEntry(f, destDir); err != nil {
			return err
		}
	}

	log.Debugf("Extracted %d entries", len(reader.File))
	return nil
}

// entryIsSafe reports whether name, joined to destDir and cleaned, stays a
// descendant of destDir. Absolute paths, volume-qualified paths and
// traversal sequences all fail the check.
func entryIsSafe(destDir, name string) bool {
	if name == "" {
		return false
	}
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return false
	}
	// ZIP names use forward slashes regardless of platform.
	joined := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, joined)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}

func extractEntry(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(f.Name))

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", target, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read archive entry %s: %w", f.Name, err)
	}
	defer src.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return dst.Close()
}
