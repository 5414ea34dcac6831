//go:build !windows

package platform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureShortcutRefreshesExistingEntry(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	p := New()
	entryPath := filepath.Join(os.Getenv("HOME"), ".local", "share", "applications", "cabplanner.desktop")

	if err := p.EnsureShortcut("/opt/old/cabplanner.exe"); err != nil {
		t.Fatalf("EnsureShortcut() error = %v", err)
	}

	// A second call with a new location must repoint the existing entry,
	// not keep the stale one.
	if err := p.EnsureShortcut("/opt/new/cabplanner.exe"); err != nil {
		t.Fatalf("EnsureShortcut() refresh error = %v", err)
	}

	data, err := os.ReadFile(entryPath)
	if err != nil {
		t.Fatalf("read desktop entry: %v", err)
	}
	if !strings.Contains(string(data), "Exec=/opt/new/cabplanner.exe") {
		t.Errorf("desktop entry not repointed:\n%s", data)
	}
	if strings.Contains(string(data), "/opt/old/") {
		t.Errorf("stale path survived refresh:\n%s", data)
	}
}
