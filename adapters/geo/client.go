package geo

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client downloads GEO files over HTTP with bounded retries
type Client struct {
	HTTP     *http.Client
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
}

// NewClient returns a client with the given retry policy
func NewClient(attempts int, backoff, timeout time.Duration, logger *zap.Logger) *Client {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		HTTP:     &http.Client{Timeout: timeout},
		Attempts: attempts,
		Backoff:  backoff,
		Logger:   logger,
	}
}

// statusError is a non-2xx response; 4xx responses are not retried
type statusError struct {
	URL    string
	Status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: http %d", e.URL, e.Status)
}

func (e *statusError) retryable() bool { return e.Status >= 500 || e.Status == http.StatusTooManyRequests }

// Fetch downloads url, retrying transport errors and 5xx responses. The wait
// between attempts doubles from Backoff.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	wait := c.Backoff
	for attempt := 1; attempt <= c.Attempts; attempt++ {
		data, err := c.get(ctx, url)
		if err == nil {
			c.Logger.Debug("downloaded", zap.String("url", url), zap.Int("bytes", len(data)), zap.Int("attempt", attempt))
			return data, nil
		}
		lastErr = err
		if se, ok := err.(*statusError); ok && !se.retryable() {
			break
		}
		if ctx.Err() != nil || attempt == c.Attempts {
			break
		}
		c.Logger.Warn("download failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{URL: url, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

// Decompress gunzips data when it carries the gzip magic number and returns
// it unchanged otherwise
func Decompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}
