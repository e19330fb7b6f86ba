// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TransportConfig configures the shared HTTP transport used for every
// Server Client operation except update_task, whose retry policy is
// owned by the runner's own update-retry loop rather than the transport
// layer.
type TransportConfig struct {
	// Timeout is the per-request timeout, applied to both the retrying
	// and the plain client. On the retrying client it bounds the whole
	// request including its retries. Zero means no timeout.
	Timeout time.Duration

	// RetryAttempts is the number of retries layered onto poll and
	// registration calls. 0 disables retries.
	RetryAttempts int

	// UserAgent is sent on every request.
	UserAgent string

	Logger *slog.Logger
}

// DefaultTransportConfig returns a 10s per-request timeout and 2 retries
// on registration/poll calls.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Timeout:       10 * time.Second,
		RetryAttempts: 2,
		UserAgent:     "conductor-worker/1.0",
	}
}

// newHTTPClients builds the pair of *http.Client values every HTTPClient
// uses: retrying for poll and registration calls, plain for update_task,
// whose retry policy is owned by the runner's own update-retry loop.
// Both wrap the same underlying *http.Transport, so connection pooling
// is shared rather than duplicated: one pooled transport per client,
// regardless of which retry decorator wraps it.
func newHTTPClients(cfg TransportConfig) (retrying, plain *http.Client) {
	base := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logging := &loggingTransport{base: base, userAgent: cfg.UserAgent, logger: logger}

	plain = &http.Client{Transport: logging, Timeout: cfg.Timeout}

	var final http.RoundTripper = logging
	if cfg.RetryAttempts > 0 {
		final = &retryTransport{base: logging, maxAttempts: cfg.RetryAttempts + 1}
	}
	retrying = &http.Client{Transport: final, Timeout: cfg.Timeout}

	return retrying, plain
}

// loggingTransport injects a User-Agent and logs sanitized request
// summaries.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()
	logURL := sanitizeURL(req.URL)

	if err != nil {
		t.logger.Warn("http request failed", "method", req.Method, "url", logURL, "duration_ms", duration, "error", err.Error())
		return resp, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	t.logger.Log(req.Context(), level, "http request", "method", req.Method, "url", logURL, "status", resp.StatusCode, "duration_ms", duration)
	return resp, err
}

// retryTransport layers exponential backoff with jitter onto idempotent
// poll/registration calls. update_task deliberately does not pass
// through this layer.
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffWithJitter(attempt - 1)
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
			// The previous attempt consumed the body; rewind it or give up.
			if req.Body != nil {
				if req.GetBody == nil {
					break
				}
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req.Body = body
			}
		}

		resp, err := t.base.RoundTrip(req)
		if err == nil && !shouldRetryStatus(resp.StatusCode) {
			return resp, nil
		}

		lastErr, lastResp = err, resp
		if err != nil && !isRetryableError(err) {
			return nil, err
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}

func shouldRetryStatus(status int) bool {
	return (status >= 500 && status < 600) || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRetryableError(urlErr.Err)
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"connection refused", "connection reset", "no such host", "eof"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func backoffWithJitter(attempt int) time.Duration {
	base := 200 * time.Millisecond
	backoff := float64(base) * math.Pow(2, float64(attempt-1))
	const max = 5 * float64(time.Second)
	if backoff > max {
		backoff = max
	}
	jitter := rand.Float64() * backoff * 0.2
	return time.Duration(backoff + jitter)
}

var sensitiveParams = []string{"api_key", "apikey", "token", "password", "auth", "secret", "key", "credential"}

// sanitizeURL redacts sensitive query parameters before a URL is logged.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	for param := range q {
		lower := strings.ToLower(param)
		for _, s := range sensitiveParams {
			if strings.Contains(lower, s) {
				q.Set(param, "[REDACTED]")
				break
			}
		}
	}
	safe := *u
	safe.RawQuery = q.Encode()
	return safe.String()
}
