package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout = 10 * time.Second
	chunkSize           = 8192
)

// Fetcher materializes a resolved Source at a target path.
type Fetcher struct {
	HTTPClient *http.Client
	logger     *slog.Logger
}

// NewFetcher builds a fetcher whose connect and response-header phases are
// each bounded by timeout. The body itself is streamed without a deadline.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Fetcher{
		HTTPClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "fetcher"),
	}
}

// Fetch writes the bytes of src to target.
func (f *Fetcher) Fetch(ctx context.Context, src *Source, target, userAgent string) error {
	if src.Kind == SourceInline {
		data, err := DecodeInline(src.Payload)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		return nil
	}

	if err := f.download(ctx, src.URL, target, userAgent); err != nil {
		_ = os.Remove(target)
		return &DownloadFailedError{URL: src.URL, Err: err}
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, url, target, userAgent string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	buf := make([]byte, chunkSize)
	written, copyErr := io.CopyBuffer(out, struct{ io.Reader }{resp.Body}, buf)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to read body: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", target, closeErr)
	}

	f.logger.Debug("image downloaded", "url", url, "path", target, "bytes", written)
	return nil
}

// DecodeInline decodes a base64 payload taken from a data URI.
func DecodeInline(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, lastErr)
}
