// Package semver normalizes and orders cabplanner version identifiers.
//
// Release tags come in several spellings ("1.4.0", "v1.4.0",
// "cabplanner-1.4.0", even "cabplanner-v1.4.0"); all of them normalize to
// the same version before comparison.
package semver

import (
	"fmt"
	"strings"

	mmsemver "github.com/Masterminds/semver/v3"

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// ProductPrefix is the literal product-name prefix stripped from tags.
const ProductPrefix = "cabplanner-"

// ErrInvalidVersion reports an empty or unparsable version string.
var ErrInvalidVersion = fmt.Errorf("invalid version")

// Parse normalizes and parses a version string. Leading whitespace, one
// "v" prefix and one product-name prefix are stripped; both prefixes are
// stripped independently so stacked prefixes normalize fully.
func Parse(text string) (*mmsemver.Version, error) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty version string", ErrInvalidVersion)
	}

	cleaned = strings.TrimPrefix(cleaned, ProductPrefix)
	cleaned = strings.TrimPrefix(cleaned, "v")
	// A tag like "v" + product prefix is unusual but tolerated.
	cleaned = strings.TrimPrefix(cleaned, ProductPrefix)

	v, err := mmsemver.StrictNewVersion(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, text, err)
	}
	return v, nil
}

// Compare returns -1, 0 or 1 for a < b, a == b, a > b.
func Compare(a, b *mmsemver.Version) int {
	return a.Compare(b)
}

// IsNewer reports whether latest is strictly newer than current. A parse
// failure on either side is logged and yields false: a broken version
// string suppresses the update, it never crashes the check.
func IsNewer(current, latest string) bool {
	log := logger.NewLogger("semver")

	cur, err := Parse(current)
	if err != nil {
		log.Warnf("Could not parse current version %q: %v", current, err)
		return false
	}

	lat, err := Parse(latest)
	if err != nil {
		log.Warnf("Could not parse latest version %q: %v", latest, err)
		return false
	}

	return lat.GreaterThan(cur)
}
