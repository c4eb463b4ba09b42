package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/yidakra/livevtt-sub000/errors"
	"github.com/yidakra/livevtt-sub000/log"
)

const segmentDownloadTimeout = 30 * time.Second

// SegmentDownloader streams upstream segment bytes into scratch files owned
// by the pipeline. Failures leave no partial file behind; the segment may be
// retried next cycle if it is still in the window.
type SegmentDownloader struct {
	httpClient *retryablehttp.Client
	scratchDir string
	userAgent  string
}

func NewSegmentDownloader(scratchDir, userAgent string) *SegmentDownloader {
	client := retryablehttp.NewClient()
	client.RetryMax = 2                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 1 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.HTTPClient = &http.Client{
		Timeout: segmentDownloadTimeout, // Give up on requests that take more than this long
	}
	client.Logger = log.NewRetryableHTTPLogger()

	return &SegmentDownloader{
		httpClient: client,
		scratchDir: scratchDir,
		userAgent:  userAgent,
	}
}

// Download fetches the segment at the given URL into a fresh scratch file
// and returns its path
func (d *SegmentDownloader) Download(ctx context.Context, segmentURI string, segmentURL *url.URL) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, segmentURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build segment request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("segment download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		err := fmt.Errorf("segment download returned %d for %s", resp.StatusCode, segmentURL.Redacted())
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", errors.Unretriable(err)
		}
		return "", err
	}

	scratchFile, err := os.CreateTemp(d.scratchDir, "seg-*.ts")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	written, err := io.Copy(scratchFile, resp.Body)
	closeErr := scratchFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && resp.ContentLength >= 0 && written != resp.ContentLength {
		err = fmt.Errorf("segment truncated: got %d of %d bytes", written, resp.ContentLength)
	}
	if err != nil {
		if removeErr := os.Remove(scratchFile.Name()); removeErr != nil {
			log.LogError(segmentURI, "failed to remove partial scratch file", removeErr)
		}
		return "", fmt.Errorf("segment download failed: %w", err)
	}
	return scratchFile.Name(), nil
}
