package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// extractTarGz unpacks a gzipped tar archive beneath destDir. Like the
// ZIP path, entry names are validated in a full pre-pass before anything
// is written; the archive is read twice to keep that property on a
// stream format.
func extractTarGz(archivePath, destDir string) error {
	log := logger.NewLogger("archive")
	log.Debugf("Extracting %s to %s", archivePath, destDir)

	if err := walkTarGz(archivePath, func(hdr *tar.Header, _ io.Reader) error {
		if !entryIsSafe(destDir, hdr.Name) {
			return &UnsafeArchiveError{Entry: hdr.Name}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination %s: %w", destDir, err)
	}

	count := 0
	err := walkTarGz(archivePath, func(hdr *tar.Header, r io.Reader) error {
		count++
		return writeTarEntry(hdr, r, destDir, log)
	})
	if err != nil {
		return err
	}

	log.Debugf("Extracted %d entries", count)
	return nil
}

func walkTarGz(archivePath string, fn func(*tar.Header, io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive %s: %w", archivePath, err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

func writeTarEntry(hdr *tar.Header, r io.Reader, destDir string, log *logger.Logger) error {
	target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", target, err)
		}
		return nil
	case tar.TypeReg:
	default:
		// Links and special files have no place in a release package.
		log.Warnf("Skipping non-regular archive entry %s", hdr.Name)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}

	mode := os.FileMode(hdr.Mode).Perm()
	if mode == 0 {
		mode = 0644
	}

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return dst.Close()
}
