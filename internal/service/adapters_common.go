package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/sitewatch/internal/apperrors"
)

// userAgent identifies this pipeline to every external fetcher and to the
// site under surveillance itself (link checker, HTML form detection).
const userAgent = "thyme-sitewatch/1.0 (+site-health-pipeline)"

// doJSON issues an HTTP request and decodes a JSON body into out. Non-2xx
// responses are wrapped as RemoteError so adapters can distinguish "the
// remote call failed" (recoverable at the pipeline level) from malformed
// payloads (DataError, raised by the caller once it inspects the decoded
// shape).
func doJSON(ctx context.Context, client *http.Client, method, urlStr string, headers map[string]string, body io.Reader, out any, source string) error {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", source, err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &apperrors.RemoteError{Source: source, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperrors.RemoteError{Source: source, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperrors.RemoteError{Source: source, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &apperrors.DataError{Source: source, Err: err}
	}
	return nil
}

// newHTTPClient builds an http.Client with a fixed timeout, shared across
// every adapter's calls except the link checker, which builds its own
// client so it can capture redirects itself.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// RawPayload is the opaque-structured-map acceptance shape for dynamic
// external JSON (tool inputs, signal payloads, audit opportunities):
// accepted without a schema on ingress, validated only at the point a field
// is actually consumed (spec.md §9 design notes).
type RawPayload map[string]any

func (p RawPayload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func (p RawPayload) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func logAdapterFailure(logger *slog.Logger, adapter string, err error) {
	logger.Warn("adapter call failed, returning partial result", "adapter", adapter, "error", err)
}
