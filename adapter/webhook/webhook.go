// Package webhook relays packet events to an HTTP endpoint.
//
// Each event is POSTed once per attempt. Receivers can deduplicate retried
// deliveries with the Idempotency-Key header, which is stable per
// connection and sequence index.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/justapithecus/tproto/adapter"
	"github.com/justapithecus/tproto/iox"
)

// Defaults.
const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3
)

// Headers set on every request in addition to Config.Headers.
const (
	HeaderConnID         = "X-Tproto-Conn-Id"
	HeaderSequenceIndex  = "X-Tproto-Sequence-Index"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the endpoint to POST to (required).
	URL string
	// Headers are added to each request. They cannot override Content-Type.
	Headers map[string]string
	// Encoding is the request body format (default json).
	Encoding adapter.Encoding
	// Timeout bounds each request (default 10s).
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// Backoff is the wait before the first retry (default 500ms).
	Backoff time.Duration
}

// Adapter publishes packet events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New validates cfg and creates a webhook adapter. No request is made.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("webhook adapter: retries must be >= 0, got %d", cfg.Retries)
	}
	enc, err := adapter.ParseEncoding(string(cfg.Encoding))
	if err != nil {
		return nil, fmt.Errorf("webhook adapter: %w", err)
	}
	cfg.Encoding = enc
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Temporary reports whether the status is worth retrying: 5xx, 408 and 429.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// Publish POSTs the encoded event. Network errors and temporary statuses
// are retried with exponential backoff; other 4xx responses fail at once.
func (a *Adapter) Publish(ctx context.Context, event *adapter.PacketEvent) error {
	body, err := adapter.EncodeEvent(event, a.config.Encoding)
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		err := a.post(ctx, event, body)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return adapter.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, event *adapter.PacketEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return adapter.Permanent(fmt.Errorf("create request: %w", err))
	}
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
	seq := strconv.FormatUint(event.SequenceIndex, 10)
	req.Header.Set("Content-Type", a.config.Encoding.ContentType())
	req.Header.Set(HeaderConnID, event.ConnID)
	req.Header.Set(HeaderSequenceIndex, seq)
	req.Header.Set(HeaderIdempotencyKey, event.ConnID+":"+seq)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	// Drained so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drops idle keep-alive connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
