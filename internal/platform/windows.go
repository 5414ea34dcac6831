//go:build windows

package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmruszaj/cabplanner/internal/cmdrunner"
	"github.com/bmruszaj/cabplanner/internal/layout"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// shortcutScript recreates the launch shortcut through WScript.Shell.
// Arguments: install dir. Kept as a generated script because shortcut
// creation has no usable Win32 surface from a cross-compiled binary.
const shortcutScript = `param([string]$InstallDir)
$exe = Join-Path $InstallDir 'cabplanner.exe'
$lnk = Join-Path $InstallDir 'Cabplanner.lnk'
if (-not (Test-Path $exe)) { exit 1 }
$WScriptShell = New-Object -ComObject WScript.Shell
$Shortcut = $WScriptShell.CreateShortcut($lnk)
$Shortcut.TargetPath = $exe
$Shortcut.WorkingDirectory = $InstallDir
$Shortcut.IconLocation = "$exe,0"
$Shortcut.Description = "Cabplanner Application"
$Shortcut.Save()
exit 0
`

type windowsPlatform struct {
	runner cmdrunner.CommandRunner
	log    *logger.Logger
}

func newPlatform() Platform {
	return &windowsPlatform{
		runner: cmdrunner.NewCommandsRunner(),
		log:    logger.NewLogger("platform"),
	}
}

func (p *windowsPlatform) Launch(exePath string) error {
	p.log.Infof("Launching %s", exePath)
	return p.runner.StartDetached(exePath)
}

func (p *windowsPlatform) EnsureShortcut(exePath string) error {
	installDir := filepath.Dir(exePath)
	shortcutPath := filepath.Join(installDir, layout.ShortcutName)

	// CreateShortcut overwrites an existing .lnk, so a stale shortcut
	// left by a moved install gets repointed rather than kept.
	scriptPath := filepath.Join(os.TempDir(), "cabplanner_shortcut.ps1")
	if err := os.WriteFile(scriptPath, []byte(shortcutScript), 0644); err != nil {
		return fmt.Errorf("failed to write shortcut script: %w", err)
	}
	defer os.Remove(scriptPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := p.runner.Run(ctx, "powershell",
		"-NoProfile", "-NonInteractive", "-WindowStyle", "Hidden",
		"-ExecutionPolicy", "Bypass",
		"-File", scriptPath, installDir)
	if err != nil {
		return fmt.Errorf("shortcut creation failed: %w", err)
	}

	p.log.Infof("Refreshed shortcut %s", shortcutPath)
	return nil
}

func (p *windowsPlatform) WaitForExit(ctx context.Context, procName string, attempts int, interval time.Duration) error {
	for i := 0; i < attempts; i++ {
		running, err := p.isRunning(ctx, procName)
		if err != nil {
			return err
		}
		if !running {
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

func (p *windowsPlatform) isRunning(ctx context.Context, procName string) (bool, error) {
	// tasklist exits 0 either way; the filter echoes the image name only
	// when a matching process exists.
	out, err := p.runner.RunAndTrimmedOutput(ctx, "tasklist",
		"/FI", fmt.Sprintf("IMAGENAME eq %s", procName), "/NH")
	if err != nil {
		return false, fmt.Errorf("failed to query process list: %w", err)
	}
	return strings.Contains(strings.ToLower(out), strings.ToLower(procName)), nil
}
