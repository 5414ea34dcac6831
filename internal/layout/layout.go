// Package layout knows the on-disk shape of an installed cabplanner copy:
// one canonical executable, a sibling _internal directory of runtime
// support files, and the user database that must survive every update.
package layout

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

const (
	// ExeName is the canonical executable inside an installation root.
	ExeName = "cabplanner.exe"

	// SupportDirName holds the bundled runtime support files.
	SupportDirName = "_internal"

	// StateFileName is the persisted user database. Updates never touch it.
	StateFileName = "cabplanner.db"

	// ShortcutName is the launch shortcut kept beside the executable.
	ShortcutName = "Cabplanner.lnk"

	// SuccessMarkerName is written after a completed swap.
	SuccessMarkerName = ".update_success"
)

// ErrExecutableNotFound reports that no usable executable was located.
var ErrExecutableNotFound = fmt.Errorf("executable not found")

// FindExecutableRoot searches the subtree under searchDir for exeName and
// returns the directory containing it. With several matches the first in
// traversal order wins and the duplicates are logged; duplicate packaging
// artifacts are a packaging defect, not a fatal one. A zero-byte match is
// never a valid executable and counts as not found.
func FindExecutableRoot(searchDir, exeName string) (string, error) {
	log := logger.NewLogger("layout")
	log.Debugf("Searching for %s under %s", exeName, searchDir)

	var matches []string
	err := filepath.WalkDir(searchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == exeName {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to search %s: %w", searchDir, err)
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s not under %s", ErrExecutableNotFound, exeName, searchDir)
	}

	if len(matches) > 1 {
		log.Warnf("Multiple %s files found, using first one", exeName)
		for _, m := range matches {
			log.Warnf("Found: %s", m)
		}
	}

	chosen := matches[0]
	info, err := os.Stat(chosen)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", chosen, err)
	}
	if info.Size() == 0 {
		log.Errorf("Executable %s is empty", chosen)
		return "", fmt.Errorf("%w: %s is zero bytes", ErrExecutableNotFound, chosen)
	}

	root := filepath.Dir(chosen)
	log.Debugf("Found application root: %s", root)
	return root, nil
}

// VerifyLayout reports whether root has the expected onedir package
// shape: the executable plus a support directory that is actually a
// directory. The specific missing element is logged.
func VerifyLayout(root string) bool {
	log := logger.NewLogger("layout")

	exePath := filepath.Join(root, ExeName)
	if _, err := os.Stat(exePath); err != nil {
		log.Errorf("Missing %s in %s", ExeName, root)
		return false
	}

	supportPath := filepath.Join(root, SupportDirName)
	info, err := os.Stat(supportPath)
	if err != nil || !info.IsDir() {
		log.Errorf("Missing %s/ directory in %s", SupportDirName, root)
		return false
	}

	log.Debugf("Verified onedir structure in %s", root)
	return true
}
