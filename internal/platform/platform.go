// Package platform hides OS-specific launch, shortcut and process-wait
// mechanics behind a small interface so the update orchestrator stays
// free of shell scripting.
package platform

import (
	"context"
	"fmt"
	"time"
)

// ErrStillRunning reports that the previous application instance did not
// exit within the bounded wait.
var ErrStillRunning = fmt.Errorf("previous instance still running")

// Platform is the OS collaborator used during an update.
type Platform interface {
	// Launch starts the application executable detached from the
	// updater process.
	Launch(exePath string) error

	// EnsureShortcut creates or refreshes the launch shortcut so it
	// points at exePath, overwriting a stale one.
	EnsureShortcut(exePath string) error

	// WaitForExit polls for a running process with the given image name,
	// up to attempts polls spaced by interval. Returns ErrStillRunning
	// when the process is still alive after the last attempt.
	WaitForExit(ctx context.Context, procName string, attempts int, interval time.Duration) error
}

// New returns the Platform implementation for the current OS.
func New() Platform {
	return newPlatform()
}
