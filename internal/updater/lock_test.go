package updater

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLockExcludesSecondAttempt(t *testing.T) {
	dir := t.TempDir()

	lock, err := acquireLock(dir)
	if err != nil {
		t.Fatalf("acquireLock() error = %v", err)
	}

	if _, err := acquireLock(dir); !errors.Is(err, ErrUpdateInProgress) {
		t.Errorf("second acquire error = %v, want ErrUpdateInProgress", err)
	}

	lock.release()

	again, err := acquireLock(dir)
	if err != nil {
		t.Fatalf("acquire after release error = %v", err)
	}
	again.release()
}

func TestLockBreaksStale(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, lockFileName)

	if err := os.WriteFile(lockPath, []byte("dead-attempt pid=1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * staleLockAge)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	lock, err := acquireLock(dir)
	if err != nil {
		t.Fatalf("acquireLock() over stale lock error = %v", err)
	}
	lock.release()

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file still present after release")
	}
}
