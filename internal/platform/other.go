//go:build !windows

package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmruszaj/cabplanner/internal/cmdrunner"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// unixPlatform covers development and CI hosts. The packaged product
// ships on Windows; this implementation keeps the pipeline exercisable
// elsewhere.
type unixPlatform struct {
	runner cmdrunner.CommandRunner
	log    *logger.Logger
}

func newPlatform() Platform {
	return &unixPlatform{
		runner: cmdrunner.NewCommandsRunner(),
		log:    logger.NewLogger("platform"),
	}
}

func (p *unixPlatform) Launch(exePath string) error {
	p.log.Infof("Launching %s", exePath)
	return p.runner.StartDetached(exePath)
}

func (p *unixPlatform) EnsureShortcut(exePath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to resolve home directory: %w", err)
	}

	appsDir := filepath.Join(home, ".local", "share", "applications")
	if err := os.MkdirAll(appsDir, 0755); err != nil {
		return fmt.Errorf("failed to create applications directory: %w", err)
	}

	// Rewritten unconditionally so an entry pointing at an old install
	// location gets repointed.
	entryPath := filepath.Join(appsDir, "cabplanner.desktop")
	entry := fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=Cabplanner
Exec=%s
Path=%s
Terminal=false
`, exePath, filepath.Dir(exePath))

	if err := os.WriteFile(entryPath, []byte(entry), 0644); err != nil {
		return fmt.Errorf("failed to write desktop entry: %w", err)
	}

	p.log.Infof("Refreshed desktop entry %s", entryPath)
	return nil
}

func (p *unixPlatform) WaitForExit(ctx context.Context, procName string, attempts int, interval time.Duration) error {
	// Unix builds of the app carry no .exe suffix in their process name.
	procName = strings.TrimSuffix(procName, ".exe")
	for i := 0; i < attempts; i++ {
		if !p.isRunning(ctx, procName) {
			p.log.Debugf("Process %s has exited", procName)
			return nil
		}
		p.log.Debugf("Waiting for %s to exit, attempt %d/%d", procName, i+1, attempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return ErrStillRunning
}

func (p *unixPlatform) isRunning(ctx context.Context, procName string) bool {
	// pgrep exits non-zero when nothing matches.
	return p.runner.RunQuiet(ctx, "pgrep", "-x", procName) == nil
}
