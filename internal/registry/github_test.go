package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastSource builds a client against a test server. The default limiter
// burst covers every call a single test makes, so no test ever blocks.
func fastSource(base string, opts ...Option) *GitHubSource {
	opts = append([]Option{WithAPIBase(base)}, opts...)
	return NewGitHubSource(opts...)
}

func TestLatestRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/bmruszaj/cabplanner/releases/latest", r.URL.Path)
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"tag_name": "v1.5.0",
			"name": "Release 1.5.0",
			"prerelease": false,
			"assets": [
				{"name": "cabplanner-windows.zip", "browser_download_url": "https://example.com/a.zip", "size": 1234}
			]
		}`))
	}))
	defer server.Close()

	source := fastSource(server.URL)
	release, err := source.LatestRelease(context.Background(), "bmruszaj/cabplanner")
	require.NoError(t, err)

	assert.Equal(t, "v1.5.0", release.TagName)
	assert.False(t, release.Prerelease)
	require.Len(t, release.Assets, 1)
	assert.Equal(t, "cabplanner-windows.zip", release.Assets[0].Name)
	assert.Equal(t, int64(1234), release.Assets[0].Size)
}

func TestLatestReleaseSendsToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"tag_name": "v1.0.0", "assets": []}`))
	}))
	defer server.Close()

	source := fastSource(server.URL, WithToken("secret"))
	_, err := source.LatestRelease(context.Background(), "bmruszaj/cabplanner")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestLatestReleaseRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	source := fastSource(server.URL)
	_, err := source.LatestRelease(context.Background(), "bmruszaj/cabplanner")
	assert.True(t, errors.Is(err, ErrRateLimited), "error = %v, want ErrRateLimited", err)
}

func TestLatestReleaseServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	source := fastSource(server.URL)
	_, err := source.LatestRelease(context.Background(), "bmruszaj/cabplanner")
	assert.Error(t, err)
}

func TestLatestReleaseMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `<html>oops</html>`,
		"missing tag_name": `{"assets": []}`,
		"asset without url": `{"tag_name": "v1.0.0",
			"assets": [{"name": "x.zip", "size": 1}]}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			source := fastSource(server.URL)
			_, err := source.LatestRelease(context.Background(), "bmruszaj/cabplanner")
			assert.True(t, errors.Is(err, ErrMalformedResponse), "error = %v, want ErrMalformedResponse", err)
		})
	}
}

func TestLatestReleaseTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	source := fastSource(server.URL, WithTimeout(20*time.Millisecond))
	_, err := source.LatestRelease(context.Background(), "bmruszaj/cabplanner")
	assert.Error(t, err)
}
