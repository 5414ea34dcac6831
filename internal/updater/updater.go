// Package updater drives one update attempt end to end: check the
// release registry, download and verify the package, then swap it over
// the live installation with backup and rollback. Nothing before the
// swap phase touches the installation; the persisted user database is
// never touched at all.
package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bmruszaj/cabplanner/internal/archive"
	"github.com/bmruszaj/cabplanner/internal/config"
	"github.com/bmruszaj/cabplanner/internal/download"
	"github.com/bmruszaj/cabplanner/internal/layout"
	"github.com/bmruszaj/cabplanner/internal/platform"
	"github.com/bmruszaj/cabplanner/internal/registry"
	"github.com/bmruszaj/cabplanner/internal/semver"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// Phase is one state of the update pipeline.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseChecking
	PhaseDownloading
	PhaseVerifying
	PhaseStaging
	PhaseSwapping
	PhaseSucceeded
	PhaseRolledBack
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseChecking:
		return "checking"
	case PhaseDownloading:
		return "downloading"
	case PhaseVerifying:
		return "verifying"
	case PhaseStaging:
		return "staging"
	case PhaseSwapping:
		return "swapping"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseRolledBack:
		return "rolled_back"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressFunc receives advisory overall progress (0-100). It must not
// block the pipeline.
type ProgressFunc func(phase Phase, percent int)

// Outcome is the terminal result of one update attempt.
type Outcome struct {
	Phase   Phase
	Updated bool
	Version string
	Err     error
}

// Orchestrator runs the update pipeline as a single sequential attempt.
// It is not safe for concurrent use; a second attempt against the same
// installation is rejected through the install lock.
type Orchestrator struct {
	cfg            config.UpdateConfig
	source         registry.Source
	downloader     *download.Downloader
	platform       platform.Platform
	policy         Policy
	installDir     string
	currentVersion string
	progress       ProgressFunc
	log            *logger.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy overrides the asset selection policy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithProgress installs an advisory progress callback.
func WithProgress(f ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = f }
}

// WithDownloader substitutes the asset downloader.
func WithDownloader(d *download.Downloader) Option {
	return func(o *Orchestrator) { o.downloader = d }
}

// New creates an orchestrator for the installation at installDir running
// currentVersion.
func New(cfg config.UpdateConfig, source registry.Source, plat platform.Platform,
	installDir, currentVersion string, opts ...Option) *Orchestrator {

	o := &Orchestrator{
		cfg:            cfg,
		source:         source,
		downloader:     download.NewDownloader(cfg.DownloadTimeout),
		platform:       plat,
		policy:         DefaultPolicy(),
		installDir:     installDir,
		currentVersion: currentVersion,
	}
	if !cfg.PreferLargerAsset {
		o.policy.PreferLarger = false
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) report(phase Phase, percent int) {
	if o.progress != nil {
		o.progress(phase, percent)
	}
}

// Run executes one full update attempt. An up-to-date installation is a
// no-op ending at Idle, not a failure. Cancellation is honored at each
// phase boundary before Swapping; once backups are taken the swap runs
// to completion, success or rollback.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	attemptID := uuid.New().String()
	o.log = logger.NewLogger("updater")
	log := o.log.WithFields(logger.Fields{"attempt_id": attemptID})

	log.Infof("Checking for updates (current version %s)", o.currentVersion)
	o.report(PhaseChecking, 0)

	release, err := o.source.LatestRelease(ctx, o.cfg.Repo)
	if err != nil {
		log.Errorf("Update check failed: %v", err)
		return Outcome{Phase: PhaseFailed, Err: fmt.Errorf("update check failed: %w", err)}
	}

	if release.Prerelease && !o.cfg.AllowPrerelease {
		log.Infof("Latest release %s is a prerelease, skipping", release.TagName)
		return Outcome{Phase: PhaseIdle}
	}

	if !semver.IsNewer(o.currentVersion, release.TagName) {
		log.Infof("Already up to date (current %s, latest %s)", o.currentVersion, release.TagName)
		return Outcome{Phase: PhaseIdle}
	}
	log.Infof("Update available: %s -> %s", o.currentVersion, release.TagName)

	asset, err := SelectAsset(release.Assets, o.policy)
	if err != nil {
		log.Errorf("No installable asset in release %s", release.TagName)
		return Outcome{Phase: PhaseFailed, Err: err}
	}

	lock, err := acquireLock(o.installDir)
	if err != nil {
		log.Errorf("Could not lock installation: %v", err)
		return Outcome{Phase: PhaseFailed, Err: err}
	}
	defer lock.release()

	stagingDir := filepath.Join(os.TempDir(), "cabplanner-update-"+attemptID)
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return Outcome{Phase: PhaseFailed, Err: fmt.Errorf("failed to create staging directory: %w", err)}
	}
	defer o.cleanupStaging(stagingDir)

	stagedRoot, err := o.downloadAndVerify(ctx, asset, stagingDir)
	if err != nil {
		log.Errorf("Update aborted before touching the installation: %v", err)
		return Outcome{Phase: PhaseFailed, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return Outcome{Phase: PhaseFailed, Err: err}
	}

	outcome := o.stageAndSwap(ctx, stagedRoot, release.TagName, attemptID)
	return outcome
}

// downloadAndVerify covers the Downloading and Verifying phases. Any
// failure here discards temporary artifacts only; the live installation
// has not been touched and no rollback is needed.
func (o *Orchestrator) downloadAndVerify(ctx context.Context, asset *registry.Asset, stagingDir string) (string, error) {
	o.report(PhaseDownloading, 0)
	pkgPath := filepath.Join(stagingDir, filepath.Base(asset.Name))

	err := o.downloader.Fetch(ctx, asset.DownloadURL, pkgPath, func(pct int) {
		// Download spans 0-70 of the overall progress scale.
		o.report(PhaseDownloading, pct*70/100)
	})
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	o.report(PhaseVerifying, 75)
	extractDir := filepath.Join(stagingDir, "extracted")
	if err := archive.Extract(pkgPath, extractDir); err != nil {
		return "", err
	}

	o.report(PhaseVerifying, 85)
	root, err := layout.FindExecutableRoot(extractDir, layout.ExeName)
	if err != nil {
		return "", &LayoutError{Reason: err.Error()}
	}
	if !layout.VerifyLayout(root) {
		return "", &LayoutError{Reason: "package does not match the expected onedir structure"}
	}

	return root, nil
}

// stageAndSwap covers the Staging and Swapping phases.
func (o *Orchestrator) stageAndSwap(ctx context.Context, stagedRoot, tag, attemptID string) Outcome {
	log := o.log.WithFields(logger.Fields{"attempt_id": attemptID})
	o.report(PhaseStaging, 90)

	// A state file shipped inside the package must never reach the live
	// install; the user's database survives every update.
	packagedState := filepath.Join(stagedRoot, layout.StateFileName)
	if _, err := os.Stat(packagedState); err == nil {
		if err := os.Remove(packagedState); err != nil {
			return Outcome{Phase: PhaseFailed,
				Err: fmt.Errorf("failed to remove packaged state file: %w", err)}
		}
		log.Infof("Removed packaged %s to preserve user data", layout.StateFileName)
	}

	err := o.platform.WaitForExit(ctx, layout.ExeName, o.cfg.WaitAttempts, o.cfg.WaitInterval)
	if err != nil {
		if !errors.Is(err, platform.ErrStillRunning) {
			return Outcome{Phase: PhaseFailed, Err: err}
		}
		if o.cfg.FailOnWaitTimeout {
			log.Errorf("Previous instance still running after %d attempts, failing update", o.cfg.WaitAttempts)
			return Outcome{Phase: PhaseFailed, Err: err}
		}
		// Swapping files still held open by a lingering process is the
		// primary residual risk of this pipeline.
		log.Errorf("Previous instance still running after %d attempts; proceeding with swap anyway", o.cfg.WaitAttempts)
	}

	o.report(PhaseSwapping, 95)
	log.Info("Swapping new version into place")

	backup, err := takeBackup(o.installDir, attemptID)
	if err != nil {
		return Outcome{Phase: PhaseFailed, Err: fmt.Errorf("failed to take backup: %w", err)}
	}

	if err := installNew(stagedRoot, o.installDir); err != nil {
		swapErr := &SwapError{Err: err}
		log.Errorf("Swap failed, rolling back: %v", err)
		if rerr := backup.Restore(); rerr != nil {
			log.WithFields(logger.Fields{
				"install_dir": o.installDir,
				"swap_error":  err.Error(),
			}).Errorf("ROLLBACK FAILED, manual intervention required: %v", rerr)
			return Outcome{Phase: PhaseFailed, Err: &RollbackError{SwapErr: err, RestoreErr: rerr}}
		}
		log.Info("Rollback complete, original installation restored")
		return Outcome{Phase: PhaseRolledBack, Err: swapErr}
	}

	o.finishSwap(backup)
	o.report(PhaseSucceeded, 100)
	log.Infof("Updated to %s", tag)
	return Outcome{Phase: PhaseSucceeded, Updated: true, Version: tag}
}

// finishSwap runs the post-install tail: shortcut, success marker,
// backup cleanup, relaunch. None of these can fail the update; the new
// files are already in place.
func (o *Orchestrator) finishSwap(backup *BackupSet) {
	log := o.log
	exePath := filepath.Join(o.installDir, layout.ExeName)

	if o.shouldEnsureShortcut() {
		if err := o.platform.EnsureShortcut(exePath); err != nil {
			log.Warnf("Could not create launch shortcut: %v", err)
		}
	}

	markerPath := filepath.Join(o.installDir, layout.SuccessMarkerName)
	if err := os.WriteFile(markerPath, []byte{}, 0644); err != nil {
		log.Warnf("Could not write success marker: %v", err)
	}

	backup.Discard()

	if err := o.platform.Launch(exePath); err != nil {
		// The update itself succeeded; a relaunch failure only means
		// the user starts the app by hand.
		log.Errorf("Failed to relaunch application: %v", err)
	}
}

// shouldEnsureShortcut applies the first-run heuristic: refresh the
// shortcut when it is absent, or when the state file is absent (a fresh
// install that has never run).
func (o *Orchestrator) shouldEnsureShortcut() bool {
	shortcut := filepath.Join(o.installDir, layout.ShortcutName)
	if _, err := os.Stat(shortcut); os.IsNotExist(err) {
		return true
	}
	state := filepath.Join(o.installDir, layout.StateFileName)
	if _, err := os.Stat(state); os.IsNotExist(err) {
		return true
	}
	return false
}

func (o *Orchestrator) cleanupStaging(stagingDir string) {
	if err := os.RemoveAll(stagingDir); err != nil {
		o.log.Warnf("Could not remove staging directory %s: %v", stagingDir, err)
	}
}

// NormalizeTag returns the bare numeric form of a release tag for
// display, or the tag unchanged when it does not parse.
func NormalizeTag(tag string) string {
	v, err := semver.Parse(tag)
	if err != nil {
		return strings.TrimSpace(tag)
	}
	return v.String()
}
