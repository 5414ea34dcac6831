package updater

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmruszaj/cabplanner/internal/config"
	"github.com/bmruszaj/cabplanner/internal/layout"
	"github.com/bmruszaj/cabplanner/internal/platform"
	"github.com/bmruszaj/cabplanner/internal/registry"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// fakeSource serves a canned release.
type fakeSource struct {
	release *registry.Release
	err     error
}

func (f *fakeSource) LatestRelease(ctx context.Context, repo string) (*registry.Release, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.release, nil
}

// fakePlatform records calls instead of touching the OS.
type fakePlatform struct {
	mu            sync.Mutex
	launched      []string
	shortcuts     []string
	waitErr       error
	shortcutErr   error
	launchErr     error
}

func (f *fakePlatform) Launch(exePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, exePath)
	return f.launchErr
}

func (f *fakePlatform) EnsureShortcut(exePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shortcuts = append(f.shortcuts, exePath)
	return f.shortcutErr
}

func (f *fakePlatform) WaitForExit(ctx context.Context, procName string, attempts int, interval time.Duration) error {
	return f.waitErr
}

// packageZip builds a release archive with the expected onedir shape.
func packageZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func onedirZip(t *testing.T) []byte {
	return packageZip(t, map[string]string{
		"cabplanner/" + layout.ExeName:                      "new binary",
		"cabplanner/" + layout.SupportDirName + "/data.so":  "new lib",
		"cabplanner/" + layout.SupportDirName + "/more.dll": "more",
	})
}

func serveAsset(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig() config.UpdateConfig {
	return config.UpdateConfig{
		Repo:              "bmruszaj/cabplanner",
		CheckTimeout:      5 * time.Second,
		DownloadTimeout:   5 * time.Second,
		WaitAttempts:      1,
		WaitInterval:      time.Millisecond,
		PreferLargerAsset: true,
	}
}

func releaseWithAsset(tag, url string, size int) *registry.Release {
	return &registry.Release{
		TagName: tag,
		Assets: []registry.Asset{
			{Name: "cabplanner-windows.zip", DownloadURL: url, Size: int64(size)},
		},
	}
}

// windowsZipPolicy keeps asset selection deterministic across host
// platforms in these tests.
func zipTestOptions(extra ...Option) []Option {
	return append([]Option{WithPolicy(Policy{
		PackagingExt:   ".zip",
		PlatformTokens: []string{"windows"},
		ExcludeTokens:  []string{"source"},
		PreferLarger:   true,
	})}, extra...)
}

func TestRunInstallsUpdate(t *testing.T) {
	payload := onedirZip(t)
	server := serveAsset(t, payload)

	install := t.TempDir()
	makeInstall(t, install)

	source := &fakeSource{release: releaseWithAsset("v1.1.0", server.URL, len(payload))}
	plat := &fakePlatform{}

	orch := New(testConfig(), source, plat, install, "1.0.0", zipTestOptions()...)
	outcome := orch.Run(context.Background())

	require.NoError(t, outcome.Err)
	assert.Equal(t, PhaseSucceeded, outcome.Phase)
	assert.True(t, outcome.Updated)
	assert.Equal(t, "v1.1.0", outcome.Version)

	assert.Equal(t, "new binary", readInstallFile(t, filepath.Join(install, layout.ExeName)))
	assert.Equal(t, "new lib", readInstallFile(t, filepath.Join(install, layout.SupportDirName, "data.so")))

	// The user database survives.
	assert.Equal(t, "user data", readInstallFile(t, filepath.Join(install, layout.StateFileName)))

	// Success marker written, backups discarded, app relaunched.
	_, err := os.Stat(filepath.Join(install, layout.SuccessMarkerName))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(install, layout.ExeName+BackupSuffix))
	assert.True(t, os.IsNotExist(err), "backup not discarded")
	require.Len(t, plat.launched, 1)
	assert.Equal(t, filepath.Join(install, layout.ExeName), plat.launched[0])

	// Lock released.
	_, err = os.Stat(filepath.Join(install, lockFileName))
	assert.True(t, os.IsNotExist(err), "lock not released")
}

func TestRunUpToDateIsNoOp(t *testing.T) {
	install := t.TempDir()
	makeInstall(t, install)

	source := &fakeSource{release: releaseWithAsset("v1.0.0", "http://unused", 1)}
	orch := New(testConfig(), source, &fakePlatform{}, install, "1.0.0", zipTestOptions()...)

	outcome := orch.Run(context.Background())
	require.NoError(t, outcome.Err)
	assert.Equal(t, PhaseIdle, outcome.Phase)
	assert.False(t, outcome.Updated)
	assert.Equal(t, "old binary", readInstallFile(t, filepath.Join(install, layout.ExeName)))
}

func TestRunSkipsPrerelease(t *testing.T) {
	install := t.TempDir()
	makeInstall(t, install)

	release := releaseWithAsset("v2.0.0-rc.1", "http://unused", 1)
	release.Prerelease = true

	orch := New(testConfig(), &fakeSource{release: release}, &fakePlatform{}, install, "1.0.0", zipTestOptions()...)
	outcome := orch.Run(context.Background())

	require.NoError(t, outcome.Err)
	assert.Equal(t, PhaseIdle, outcome.Phase)
}

func TestRunCheckFailure(t *testing.T) {
	install := t.TempDir()
	source := &fakeSource{err: fmt.Errorf("registry unreachable")}

	orch := New(testConfig(), source, &fakePlatform{}, install, "1.0.0", zipTestOptions()...)
	outcome := orch.Run(context.Background())

	assert.Equal(t, PhaseFailed, outcome.Phase)
	assert.Error(t, outcome.Err)
}

func TestRunBadLayoutLeavesInstallUntouched(t *testing.T) {
	// Package without the support directory fails verification.
	payload := packageZip(t, map[string]string{
		"cabplanner/" + layout.ExeName: "new binary",
	})
	server := serveAsset(t, payload)

	install := t.TempDir()
	makeInstall(t, install)

	source := &fakeSource{release: releaseWithAsset("v1.1.0", server.URL, len(payload))}
	orch := New(testConfig(), source, &fakePlatform{}, install, "1.0.0", zipTestOptions()...)

	outcome := orch.Run(context.Background())
	assert.Equal(t, PhaseFailed, outcome.Phase)

	var layoutErr *LayoutError
	require.ErrorAs(t, outcome.Err, &layoutErr)

	assert.Equal(t, "old binary", readInstallFile(t, filepath.Join(install, layout.ExeName)))
	assert.Equal(t, "user data", readInstallFile(t, filepath.Join(install, layout.StateFileName)))
}

func TestRunScrubsPackagedStateFile(t *testing.T) {
	payload := packageZip(t, map[string]string{
		"cabplanner/" + layout.ExeName:                     "new binary",
		"cabplanner/" + layout.SupportDirName + "/data.so": "new lib",
		"cabplanner/" + layout.StateFileName:               "vendor seeded db",
	})
	server := serveAsset(t, payload)

	install := t.TempDir()
	makeInstall(t, install)

	source := &fakeSource{release: releaseWithAsset("v1.1.0", server.URL, len(payload))}
	orch := New(testConfig(), source, &fakePlatform{}, install, "1.0.0", zipTestOptions()...)

	outcome := orch.Run(context.Background())
	require.NoError(t, outcome.Err)
	assert.Equal(t, PhaseSucceeded, outcome.Phase)

	// The packaged database must not overwrite the user's.
	assert.Equal(t, "user data", readInstallFile(t, filepath.Join(install, layout.StateFileName)))
}

func TestStageAndSwapRollsBackWhenInstallFails(t *testing.T) {
	install := t.TempDir()
	makeInstall(t, install)

	// A staged root carrying the executable but no support directory
	// makes the install step fail after the backups were taken, which
	// is exactly the window the rollback has to cover.
	staged := t.TempDir()
	writeInstallFile(t, filepath.Join(staged, layout.ExeName), "new binary")

	orch := New(testConfig(), &fakeSource{}, &fakePlatform{}, install, "1.0.0", zipTestOptions()...)
	orch.log = logger.NewLogger("updater")

	outcome := orch.stageAndSwap(context.Background(), staged, "v1.1.0", "attempt-1")

	assert.Equal(t, PhaseRolledBack, outcome.Phase)
	var swapErr *SwapError
	require.ErrorAs(t, outcome.Err, &swapErr)

	// The original installation is back byte for byte.
	assert.Equal(t, "old binary", readInstallFile(t, filepath.Join(install, layout.ExeName)))
	assert.Equal(t, "old lib", readInstallFile(t, filepath.Join(install, layout.SupportDirName, "data.so")))
	assert.Equal(t, "user data", readInstallFile(t, filepath.Join(install, layout.StateFileName)))

	// The rollback consumes its backups and manifest.
	assert.NoFileExists(t, filepath.Join(install, layout.ExeName+BackupSuffix))
	assert.NoDirExists(t, filepath.Join(install, layout.SupportDirName+BackupSuffix))
	assert.NoFileExists(t, filepath.Join(install, manifestName))
}

func TestRunWaitTimeoutHonorsConfig(t *testing.T) {
	payload := onedirZip(t)
	server := serveAsset(t, payload)

	install := t.TempDir()
	makeInstall(t, install)

	cfg := testConfig()
	cfg.FailOnWaitTimeout = true

	source := &fakeSource{release: releaseWithAsset("v1.1.0", server.URL, len(payload))}
	plat := &fakePlatform{waitErr: platform.ErrStillRunning}

	orch := New(cfg, source, plat, install, "1.0.0", zipTestOptions()...)
	outcome := orch.Run(context.Background())

	assert.Equal(t, PhaseFailed, outcome.Phase)
	assert.Equal(t, "old binary", readInstallFile(t, filepath.Join(install, layout.ExeName)))
}

func TestRunWaitTimeoutProceedsByDefault(t *testing.T) {
	payload := onedirZip(t)
	server := serveAsset(t, payload)

	install := t.TempDir()
	makeInstall(t, install)

	source := &fakeSource{release: releaseWithAsset("v1.1.0", server.URL, len(payload))}
	plat := &fakePlatform{waitErr: platform.ErrStillRunning}

	orch := New(testConfig(), source, plat, install, "1.0.0", zipTestOptions()...)
	outcome := orch.Run(context.Background())

	require.NoError(t, outcome.Err)
	assert.Equal(t, PhaseSucceeded, outcome.Phase)
	assert.Equal(t, "new binary", readInstallFile(t, filepath.Join(install, layout.ExeName)))
}

func TestRunRejectsConcurrentAttempt(t *testing.T) {
	payload := onedirZip(t)
	server := serveAsset(t, payload)

	install := t.TempDir()
	makeInstall(t, install)

	lock, err := acquireLock(install)
	require.NoError(t, err)
	defer lock.release()

	source := &fakeSource{release: releaseWithAsset("v1.1.0", server.URL, len(payload))}
	orch := New(testConfig(), source, &fakePlatform{}, install, "1.0.0", zipTestOptions()...)

	outcome := orch.Run(context.Background())
	assert.Equal(t, PhaseFailed, outcome.Phase)
	assert.ErrorIs(t, outcome.Err, ErrUpdateInProgress)
	assert.Equal(t, "old binary", readInstallFile(t, filepath.Join(install, layout.ExeName)))
}

func TestRunNoSuitableAsset(t *testing.T) {
	install := t.TempDir()
	makeInstall(t, install)

	release := &registry.Release{
		TagName: "v1.1.0",
		Assets: []registry.Asset{
			{Name: "Source-Code.zip", DownloadURL: "http://unused", Size: 1},
		},
	}

	orch := New(testConfig(), &fakeSource{release: release}, &fakePlatform{}, install, "1.0.0", zipTestOptions()...)
	outcome := orch.Run(context.Background())

	assert.Equal(t, PhaseFailed, outcome.Phase)
	assert.ErrorIs(t, outcome.Err, ErrNoSuitableAsset)
}

func TestRunRelaunchFailureStillSucceeds(t *testing.T) {
	payload := onedirZip(t)
	server := serveAsset(t, payload)

	install := t.TempDir()
	makeInstall(t, install)

	source := &fakeSource{release: releaseWithAsset("v1.1.0", server.URL, len(payload))}
	plat := &fakePlatform{launchErr: fmt.Errorf("exec format error")}

	orch := New(testConfig(), source, plat, install, "1.0.0", zipTestOptions()...)
	outcome := orch.Run(context.Background())

	require.NoError(t, outcome.Err)
	assert.Equal(t, PhaseSucceeded, outcome.Phase)
}

func TestRunProgressMonotonic(t *testing.T) {
	payload := onedirZip(t)
	server := serveAsset(t, payload)

	install := t.TempDir()
	makeInstall(t, install)

	var last int
	progress := func(phase Phase, pct int) {
		if pct < last {
			t.Errorf("progress went backwards in %s: %d after %d", phase, pct, last)
		}
		last = pct
	}

	source := &fakeSource{release: releaseWithAsset("v1.1.0", server.URL, len(payload))}
	orch := New(testConfig(), source, &fakePlatform{}, install, "1.0.0",
		zipTestOptions(WithProgress(progress))...)

	outcome := orch.Run(context.Background())
	require.NoError(t, outcome.Err)
	assert.Equal(t, 100, last)
}
