package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchWritesFile(t *testing.T) {
	payload := []byte("release package bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "update.zip")
	d := NewDownloader(0)
	if err := d.Fetch(context.Background(), server.URL, dest, nil); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("downloaded content = %q, want %q", got, payload)
	}
}

func TestFetchReportsProgress(t *testing.T) {
	payload := make([]byte, 64*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	var last int
	dest := filepath.Join(t.TempDir(), "update.zip")
	d := NewDownloader(0)
	err := d.Fetch(context.Background(), server.URL, dest, func(pct int) {
		if pct < last {
			t.Errorf("progress went backwards: %d after %d", pct, last)
		}
		last = pct
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestFetchEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "update.zip")
	d := NewDownloader(0)
	err := d.Fetch(context.Background(), server.URL, dest, nil)
	if !errors.Is(err, ErrDownloadIncomplete) {
		t.Fatalf("Fetch() error = %v, want ErrDownloadIncomplete", err)
	}

	// The partial file must not linger.
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial download left behind")
	}
}

func TestFetchTruncatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("short"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "update.zip")
	d := NewDownloader(0)
	err := d.Fetch(context.Background(), server.URL, dest, nil)
	if err == nil {
		t.Fatal("Fetch() should fail on a truncated body")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial download left behind")
	}
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "update.zip")
	d := NewDownloader(0)
	if err := d.Fetch(context.Background(), server.URL, dest, nil); err == nil {
		t.Fatal("Fetch() should fail on a 404")
	}
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "update.zip")
	d := NewDownloader(0)
	if err := d.Fetch(ctx, "http://127.0.0.1:0/nowhere", dest, nil); err == nil {
		t.Fatal("Fetch() should fail with a cancelled context")
	}
}
