package updater

import (
	"runtime"
	"strings"

	"github.com/bmruszaj/cabplanner/internal/registry"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// Policy decides which release asset to install. It is a named,
// overridable value rather than hard-coded logic: the larger-payload
// tie-break in particular is a heuristic (a full onedir package outweighs
// a thin single-file build) that product can turn off when packaging
// changes make it unreliable.
type Policy struct {
	// PackagingExt is the archive extension for this platform's
	// packaging kind (".zip" on windows, ".tar.gz" elsewhere).
	PackagingExt string

	// PlatformTokens mark an asset as built for this platform.
	PlatformTokens []string

	// ExcludeTokens mark assets that are plainly not packaged builds.
	ExcludeTokens []string

	// PreferLarger breaks remaining ties by payload size.
	PreferLarger bool
}

// DefaultPolicy returns the selection policy for the current platform.
func DefaultPolicy() Policy {
	p := Policy{
		ExcludeTokens: []string{"source"},
		PreferLarger:  true,
	}
	switch runtime.GOOS {
	case "windows":
		p.PackagingExt = ".zip"
		p.PlatformTokens = []string{"windows", "win64", "win32"}
	case "darwin":
		p.PackagingExt = ".tar.gz"
		p.PlatformTokens = []string{"darwin", "macos", "osx"}
	default:
		p.PackagingExt = ".tar.gz"
		p.PlatformTokens = []string{runtime.GOOS}
	}
	return p
}

// SelectAsset picks exactly one asset from the release under the policy:
// platform-marked assets beat generic ones, source archives are excluded,
// and remaining ties go to the larger payload. ErrNoSuitableAsset when
// nothing qualifies.
func SelectAsset(assets []registry.Asset, policy Policy) (*registry.Asset, error) {
	log := logger.NewLogger("updater")

	var candidates []registry.Asset
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if policy.excluded(name) {
			log.Debugf("Excluding asset %s", a.Name)
			continue
		}
		if !strings.HasSuffix(name, policy.PackagingExt) {
			continue
		}
		candidates = append(candidates, a)
	}

	if len(candidates) == 0 {
		return nil, ErrNoSuitableAsset
	}

	var platformMatches []registry.Asset
	for _, a := range candidates {
		if policy.platformMarked(strings.ToLower(a.Name)) {
			platformMatches = append(platformMatches, a)
		}
	}
	if len(platformMatches) > 0 {
		candidates = platformMatches
	}

	chosen := candidates[0]
	if policy.PreferLarger {
		for _, a := range candidates[1:] {
			if a.Size > chosen.Size {
				chosen = a
			}
		}
	}

	log.WithFields(logger.Fields{
		"asset": chosen.Name,
		"size":  chosen.Size,
	}).Info("Selected release asset")
	return &chosen, nil
}

func (p Policy) excluded(name string) bool {
	for _, tok := range p.ExcludeTokens {
		if strings.Contains(name, tok) {
			return true
		}
	}
	return false
}

func (p Policy) platformMarked(name string) bool {
	for _, tok := range p.PlatformTokens {
		if strings.Contains(name, tok) {
			return true
		}
	}
	return false
}
