// Package download streams release assets to disk.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// ErrDownloadIncomplete reports a zero-length or truncated download.
var ErrDownloadIncomplete = fmt.Errorf("download incomplete")

// ProgressFunc receives advisory progress in percent (0-100). It must not
// block; reporting never stalls the transfer.
type ProgressFunc func(percent int)

// Downloader streams HTTP assets to local files.
type Downloader struct {
	httpClient *http.Client
	log        *logger.Logger
}

// NewDownloader creates a downloader. headerTimeout bounds how long the
// server may take to start responding; the body transfer itself carries
// no overall timeout, large packages are bounded through the request
// context instead.
func NewDownloader(headerTimeout time.Duration) *Downloader {
	transport := &http.Transport{}
	if headerTimeout > 0 {
		transport.ResponseHeaderTimeout = headerTimeout
	}
	return &Downloader{
		httpClient: &http.Client{Transport: transport},
		log:        logger.NewLogger("download"),
	}
}

// Fetch streams url into destPath. The Content-Length header, when
// present, is verified against the byte count written; a mismatch or an
// empty body fails with ErrDownloadIncomplete and removes the partial
// file.
func (d *Downloader) Fetch(ctx context.Context, url, destPath string, progress ProgressFunc) (err error) {
	d.log.WithFields(logger.Fields{
		"url":  url,
		"dest": destPath,
	}).Debug("Starting download")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", "cabplanner-updater")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.log.WithError(err).Error("Download request failed")
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		d.log.Warn("No Content-Length header in response")
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(destPath)
		}
	}()

	written, err := copyWithProgress(out, resp.Body, total, progress)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", destPath, err)
	}

	if written == 0 {
		return fmt.Errorf("%w: zero bytes received", ErrDownloadIncomplete)
	}
	if total > 0 && written != total {
		d.log.Errorf("Download size mismatch: expected %d, got %d", total, written)
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrDownloadIncomplete, total, written)
	}

	d.log.WithFields(logger.Fields{"bytes": written}).Debug("Download completed")
	return nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
			if progress != nil && total > 0 {
				pct := int(written * 100 / total)
				if pct > 100 {
					pct = 100
				}
				progress(pct)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
