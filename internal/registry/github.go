package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

const (
	defaultAPIBase = "https://api.github.com"
	defaultTimeout = 10 * time.Second

	// tokenEnvVar supplies the optional bearer credential. Absence is
	// fine; unauthenticated calls just share GitHub's anonymous budget.
	tokenEnvVar = "GITHUB_TOKEN"
)

// GitHubSource implements Source against the GitHub releases API.
type GitHubSource struct {
	apiBase    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

// Option configures a GitHubSource.
type Option func(*GitHubSource)

// WithToken sets an explicit bearer credential.
func WithToken(token string) Option {
	return func(s *GitHubSource) { s.token = token }
}

// WithAPIBase points the client at a different API endpoint. Tests use
// this with an httptest server.
func WithAPIBase(base string) Option {
	return func(s *GitHubSource) { s.apiBase = base }
}

// WithTimeout overrides the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *GitHubSource) { s.httpClient.Timeout = timeout }
}

// NewGitHubSource creates a registry client. When no token option is
// given the GITHUB_TOKEN environment variable is consulted.
func NewGitHubSource(opts ...Option) *GitHubSource {
	s := &GitHubSource{
		apiBase: defaultAPIBase,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		// GitHub allows 60 anonymous calls per hour; one request per
		// minute with a small burst keeps repeated checks inside that.
		limiter: rate.NewLimiter(rate.Every(time.Minute), 5),
		log:     logger.NewLogger("registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.token == "" {
		s.token = os.Getenv(tokenEnvVar)
	}
	return s
}

// LatestRelease fetches the latest published release for repo
// ("owner/name"). Network and timeout errors propagate: the caller
// decides whether "could not check" differs from "no update".
func (s *GitHubSource) LatestRelease(ctx context.Context, repo string) (*Release, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", s.apiBase, repo)
	s.log.Debugf("Fetching latest release from %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "cabplanner-updater")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.WithError(err).Error("Failed to fetch release info")
		return nil, fmt.Errorf("failed to fetch release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release registry returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		s.log.WithError(err).Error("Failed to decode release response")
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if release.TagName == "" {
		return nil, fmt.Errorf("%w: missing tag_name", ErrMalformedResponse)
	}
	for _, a := range release.Assets {
		if a.Name == "" || a.DownloadURL == "" {
			return nil, fmt.Errorf("%w: asset missing name or download url", ErrMalformedResponse)
		}
	}

	s.log.WithFields(logger.Fields{
		"tag":    release.TagName,
		"assets": len(release.Assets),
	}).Debug("Fetched latest release")

	return &release, nil
}
