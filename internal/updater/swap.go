package updater

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bmruszaj/cabplanner/internal/layout"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

const (
	// BackupSuffix marks the moved-aside originals during a swap.
	BackupSuffix = ".bak"

	manifestName = "backup-manifest.yaml"
)

// backupManifest records the BackupSet beside the backups themselves, so
// an interrupted swap can be diagnosed from disk alone.
type backupManifest struct {
	AttemptID        string    `yaml:"attempt_id"`
	TakenAt          time.Time `yaml:"taken_at"`
	Executable       string    `yaml:"executable"`
	ExecutableBackup string    `yaml:"executable_backup"`
	SupportDir       string    `yaml:"support_dir"`
	SupportDirBackup string    `yaml:"support_dir_backup"`
}

// BackupSet holds the original executable and support directory moved
// aside during one swap. It lives only for the duration of the attempt:
// discarded on success, restored on failure.
type BackupSet struct {
	exePath    string
	exeBackup  string
	supPath    string
	supBackup  string
	manifest   string
	hadExe     bool
	hadSupport bool
	log        *logger.Logger
}

// takeBackup moves the live executable and support directory to sibling
// .bak paths. Stale backups from an earlier attempt are removed first.
// If the support directory cannot be moved after the executable already
// was, the executable is moved back so the installation is never left
// half backed up.
func takeBackup(installDir, attemptID string) (*BackupSet, error) {
	b := &BackupSet{
		exePath:  filepath.Join(installDir, layout.ExeName),
		supPath:  filepath.Join(installDir, layout.SupportDirName),
		manifest: filepath.Join(installDir, manifestName),
		log:      logger.NewLogger("updater"),
	}
	b.exeBackup = b.exePath + BackupSuffix
	b.supBackup = b.supPath + BackupSuffix

	if err := os.Remove(b.exeBackup); err == nil {
		b.log.Warnf("Removed stale backup %s", b.exeBackup)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale backup %s: %w", b.exeBackup, err)
	}
	if err := os.RemoveAll(b.supBackup); err != nil {
		return nil, fmt.Errorf("failed to remove stale backup %s: %w", b.supBackup, err)
	}

	if _, err := os.Stat(b.exePath); err == nil {
		if err := os.Rename(b.exePath, b.exeBackup); err != nil {
			return nil, fmt.Errorf("failed to back up executable: %w", err)
		}
		b.hadExe = true
		b.log.Infof("Backed up executable to %s", b.exeBackup)
	}

	if _, err := os.Stat(b.supPath); err == nil {
		if err := os.Rename(b.supPath, b.supBackup); err != nil {
			if b.hadExe {
				if rerr := os.Rename(b.exeBackup, b.exePath); rerr != nil {
					b.log.Errorf("Could not undo executable backup %s -> %s: %v",
						b.exeBackup, b.exePath, rerr)
				}
			}
			return nil, fmt.Errorf("failed to back up support directory: %w", err)
		}
		b.hadSupport = true
		b.log.Infof("Backed up support directory to %s", b.supBackup)
	}

	if err := b.writeManifest(attemptID); err != nil {
		b.log.Warnf("Could not write backup manifest: %v", err)
	}

	return b, nil
}

func (b *BackupSet) writeManifest(attemptID string) error {
	m := backupManifest{
		AttemptID:        attemptID,
		TakenAt:          time.Now().UTC(),
		Executable:       b.exePath,
		ExecutableBackup: b.exeBackup,
		SupportDir:       b.supPath,
		SupportDirBackup: b.supBackup,
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return err
	}
	return os.WriteFile(b.manifest, data, 0644)
}

// Restore puts both backed-up paths back, deleting whatever partial new
// content sits at the destinations first.
func (b *BackupSet) Restore() error {
	if b.hadExe {
		if err := os.Remove(b.exePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear partial executable %s: %w", b.exePath, err)
		}
		if err := os.Rename(b.exeBackup, b.exePath); err != nil {
			return fmt.Errorf("failed to restore executable from %s: %w", b.exeBackup, err)
		}
	}
	if b.hadSupport {
		if err := os.RemoveAll(b.supPath); err != nil {
			return fmt.Errorf("failed to clear partial support directory %s: %w", b.supPath, err)
		}
		if err := os.Rename(b.supBackup, b.supPath); err != nil {
			return fmt.Errorf("failed to restore support directory from %s: %w", b.supBackup, err)
		}
	}
	if err := os.Remove(b.manifest); err != nil && !os.IsNotExist(err) {
		b.log.Warnf("Could not remove backup manifest: %v", err)
	}
	return nil
}

// Discard deletes the backups after a successful swap. Failures are
// logged, not escalated; leftover backups are harmless.
func (b *BackupSet) Discard() {
	if b.hadExe {
		if err := os.Remove(b.exeBackup); err != nil && !os.IsNotExist(err) {
			b.log.Warnf("Could not remove backup %s: %v", b.exeBackup, err)
		}
	}
	if b.hadSupport {
		if err := os.RemoveAll(b.supBackup); err != nil {
			b.log.Warnf("Could not remove backup %s: %v", b.supBackup, err)
		}
	}
	if err := os.Remove(b.manifest); err != nil && !os.IsNotExist(err) {
		b.log.Warnf("Could not remove backup manifest: %v", err)
	}
}

// installNew copies the staged executable and support directory into the
// installation. The persisted-state file is never among the copied paths.
func installNew(stagedRoot, installDir string) error {
	newExe := filepath.Join(stagedRoot, layout.ExeName)
	if err := copyFile(newExe, filepath.Join(installDir, layout.ExeName)); err != nil {
		return fmt.Errorf("failed to install executable: %w", err)
	}

	newSup := filepath.Join(stagedRoot, layout.SupportDirName)
	if err := copyDir(newSup, filepath.Join(installDir, layout.SupportDirName)); err != nil {
		return fmt.Errorf("failed to install support directory: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}
