// Copyright 2024-2026 Aiku AI

// Package delivery POSTs relay payloads to the relay target and retries
// failed deliveries with a linear backoff.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

const (
	// HeaderDeliveryID carries an id that is stable across retries of the
	// same payload so the target can deduplicate.
	HeaderDeliveryID = "X-Relay-Delivery-Id"
	// HeaderAttempt carries the 1-based attempt number.
	HeaderAttempt = "X-Relay-Attempt"

	userAgent = "chatrelay/1"
)

// ErrTransient marks a failed attempt. Transport errors, timeouts and
// non-2xx responses are all transient; the target's failure semantics are
// not richer than "did not acknowledge".
var ErrTransient = errors.New("transient delivery failure")

// Failure describes one failed attempt.
type Failure struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("relay target responded with HTTP %d", f.StatusCode)
	}
	return fmt.Sprintf("relay target unreachable: %v", f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Is(target error) bool {
	return target == ErrTransient
}

// Request is a single delivery attempt.
type Request struct {
	URL        string
	DeliveryID string
	Attempt    int
	Body       any
}

// Client performs single delivery attempts. It is safe for concurrent use
// and is never modified after construction.
type Client struct {
	// HTTP is used for every attempt; nil means http.DefaultClient.
	HTTP    *http.Client
	Timeout time.Duration
}

// NewClient returns a Client with its own http.Client and the given
// per-attempt timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{}, Timeout: timeout}
}

// Deliver POSTs req.Body as JSON and returns the response status code. Any
// failure is reported as a *Failure matching ErrTransient, except for
// payloads that cannot be serialized, which are returned as plain errors.
func (c *Client) Deliver(ctx context.Context, req Request) (int, error) {
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	body, err := json.Marshal(req.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return 0, &Failure{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if req.DeliveryID != "" {
		httpReq.Header.Set(HeaderDeliveryID, req.DeliveryID)
	}
	if req.Attempt > 0 {
		httpReq.Header.Set(HeaderAttempt, fmt.Sprint(req.Attempt))
	}

	res, err := hc.Do(httpReq)
	if err != nil {
		return 0, &Failure{Err: err}
	}
	defer res.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return res.StatusCode, &Failure{StatusCode: res.StatusCode}
	}
	return res.StatusCode, nil
}
