package updater

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

const (
	lockFileName = ".update_lock"

	// staleLockAge is how old a leftover lock must be before a new
	// attempt may break it; a crashed updater never cleans up its own.
	staleLockAge = time.Hour
)

// installLock rejects a second concurrent update attempt against the
// same installation directory. The directory itself is the resource; the
// marker file is its mutex.
type installLock struct {
	path  string
	token string
	log   *logger.Logger
}

func acquireLock(installDir string) (*installLock, error) {
	l := &installLock{
		path:  filepath.Join(installDir, lockFileName),
		token: uuid.New().String(),
		log:   logger.NewLogger("updater"),
	}

	if info, err := os.Stat(l.path); err == nil {
		if time.Since(info.ModTime()) < staleLockAge {
			return nil, ErrUpdateInProgress
		}
		l.log.Warnf("Breaking stale update lock %s (age %s)", l.path, time.Since(info.ModTime()).Round(time.Second))
		if err := os.Remove(l.path); err != nil {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrUpdateInProgress
		}
		return nil, fmt.Errorf("failed to create update lock: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s pid=%d\n", l.token, os.Getpid()); err != nil {
		os.Remove(l.path)
		return nil, fmt.Errorf("failed to write update lock: %w", err)
	}
	return l, nil
}

func (l *installLock) release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.log.Warnf("Failed to remove update lock %s: %v", l.path, err)
	}
}
