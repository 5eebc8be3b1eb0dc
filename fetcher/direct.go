package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"

	"clipwave/job"
)

// ErrNotDirectMedia is returned for sources that need an extractor.
var ErrNotDirectMedia = errors.New("source is not a direct media url")

// Direct downloads a plain media URL over HTTP.
type Direct struct {
	client  *http.Client
	maxSize int64
}

func NewDirect(client *http.Client, maxSize int64) *Direct {
	if client == nil {
		client = http.DefaultClient
	}
	return &Direct{client: client, maxSize: maxSize}
}

func (d *Direct) Name() string { return "direct-http" }

func (d *Direct) Fetch(ctx context.Context, src job.Source, dest string) (string, error) {
	if src.IsYouTube() {
		return "", ErrNotDirectMedia
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file, status: %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && (mt == "text/html" || mt == "application/xhtml+xml") {
			return "", fmt.Errorf("%w: got %s", ErrNotDirectMedia, mt)
		}
	}
	if d.maxSize > 0 && resp.ContentLength > d.maxSize {
		return "", fmt.Errorf("input file size %d exceeds limit of %d bytes", resp.ContentLength, d.maxSize)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	var body io.Reader = resp.Body
	if d.maxSize > 0 {
		body = &io.LimitedReader{R: resp.Body, N: d.maxSize + 1}
	}
	written, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && d.maxSize > 0 && written > d.maxSize {
		err = fmt.Errorf("input file size exceeds limit of %d bytes", d.maxSize)
	}
	if err == nil && written == 0 {
		err = errors.New("downloaded file is empty")
	}
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to write downloaded file: %w", err)
	}
	return dest, nil
}
