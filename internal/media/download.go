package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DefaultRetries is the attempt bound used when callers pass zero.
const DefaultRetries = 3

// DownloadError is returned once every attempt has failed.
type DownloadError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Downloader fetches remote files to disk with a per-attempt timeout and
// linear backoff between attempts.
type Downloader struct {
	client  *http.Client
	timeout time.Duration
	backoff time.Duration
	log     *zap.Logger
}

// NewDownloader builds a downloader. Redirects are not followed by the client;
// DownloadRemote follows exactly one itself.
func NewDownloader(timeout, backoff time.Duration, log *zap.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		backoff: backoff,
		log:     log,
	}
}

// DownloadRemote streams url into dest. A failed attempt never leaves a
// partial file behind.
func (d *Downloader) DownloadRemote(ctx context.Context, url, dest string, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = DefaultRetries
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = d.attempt(ctx, url, dest)
		if lastErr == nil {
			return nil
		}
		d.log.Warn("download attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return &DownloadError{URL: url, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * d.backoff):
		}
	}
	return &DownloadError{URL: url, Attempts: maxRetries, Err: lastErr}
}

func (d *Downloader) attempt(ctx context.Context, url, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.get(ctx, url)
	if err != nil {
		return err
	}
	if isRedirect(resp.StatusCode) {
		loc, err := resp.Location()
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("redirect without location: %w", err)
		}
		resp, err = d.get(ctx, loc.String())
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	part := dest + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return err
	}
	return nil
}

func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return d.client.Do(req)
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
