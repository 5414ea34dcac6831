// Package registry queries the release registry for published cabplanner
// builds. The Source interface keeps the network client substitutable by
// a canned test double.
package registry

import (
	"context"
	"fmt"
)

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

// Release identifies one published release. Immutable once fetched.
type Release struct {
	TagName    string  `json:"tag_name"`
	Name       string  `json:"name"`
	Prerelease bool    `json:"prerelease"`
	Assets     []Asset `json:"assets"`
}

// Source fetches the latest published release for a repository.
type Source interface {
	LatestRelease(ctx context.Context, repo string) (*Release, error)
}

// ErrMalformedResponse reports a registry response missing required fields.
var ErrMalformedResponse = fmt.Errorf("malformed registry response")

// ErrRateLimited reports the registry's anonymous rate limit.
var ErrRateLimited = fmt.Errorf("rate limited by release registry")
