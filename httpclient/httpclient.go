// Package httpclient implements C5: the retrying, rate-limited,
// authenticated HTTP request pipeline.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flowbridge/connectkit/auth"
	"github.com/flowbridge/connectkit/ops"
	"github.com/flowbridge/connectkit/ratelimit"
	"github.com/flowbridge/connectkit/template"
)

// retryableStatuses is the exact set of status codes treated as transient: a
// 500-class mix of standard and Cloudflare-specific gateway errors.
var retryableStatuses = map[int]bool{
	500: true, 502: true, 503: true, 504: true,
	520: true, 521: true, 522: true, 523: true, 524: true,
}

// RateLimitedError reports exhausted retries on a 429 response.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

// HTTPStatusError wraps a non-retryable or retries-exhausted HTTP response.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

// TimeoutError reports a request that timed out on every attempt.
type TimeoutError struct {
	TimeoutMs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %dms", e.TimeoutMs)
}

// RequestConfig carries per-request overrides.
type RequestConfig struct {
	Params      map[string]string
	Headers     map[string]string
	Body        []byte
	Timeout     time.Duration
	MaxRetries  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffType    BackoffType
}

// Client is the request pipeline: rate limit, authenticate, send, classify,
// retry with backoff.
type Client struct {
	HTTP        *http.Client
	RateLimiter *ratelimit.Limiter
	Auth        *auth.Authenticator
	Logger      ops.Logger

	DefaultTimeout    time.Duration
	DefaultMaxRetries int
	DefaultBackoffType BackoffType
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
}

// Do executes one logical request, including rate limiting, auth, retry and
// backoff.
func (c *Client) Do(ctx context.Context, method, rawURL string, tctx *template.Context, cfg RequestConfig) (*http.Response, []byte, error) {
	var maxRetries = cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = c.DefaultMaxRetries
	}
	var backoffType = cfg.BackoffType
	if backoffType == "" {
		backoffType = c.DefaultBackoffType
	}
	var initial = cfg.InitialBackoff
	if initial == 0 {
		initial = c.InitialBackoff
	}
	var maxBackoff = cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = c.MaxBackoff
	}
	var timeout = cfg.Timeout
	if timeout == 0 {
		timeout = c.DefaultTimeout
	}

	var attempts = maxRetries + 1 // max_retries = N permits up to N+1 attempts.

	for attempt := 0; attempt < attempts; attempt++ {
		if c.RateLimiter != nil {
			if err := c.RateLimiter.Wait(ctx); err != nil {
				return nil, nil, fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}

		req, err := c.buildRequest(ctx, method, rawURL, tctx, cfg, timeout)
		if err != nil {
			return nil, nil, err
		}

		if c.Auth != nil {
			if err := c.Auth.Apply(ctx, req, tctx); err != nil {
				return nil, nil, fmt.Errorf("applying authentication: %w", err)
			}
		}

		resp, body, classification, cerr := c.send(req)

		switch classification {
		case outcomeSuccess:
			if c.Logger != nil {
				c.Logger.Debugf("request succeeded: %s %s -> %d", method, rawURL, resp.StatusCode)
			}
			return resp, body, nil

		case outcomeRateLimited:
			var retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			if attempt < attempts-1 {
				c.warnRetry(method, rawURL, attempt, resp.StatusCode, time.Duration(retryAfter)*time.Second)
				if err := sleep(ctx, time.Duration(retryAfter)*time.Second); err != nil {
					return nil, nil, err
				}
				continue
			}
			return nil, nil, &RateLimitedError{RetryAfterSeconds: retryAfter}

		case outcomeRetryableStatus:
			if attempt < attempts-1 {
				var delay = Backoff(backoffType, attempt, initial, maxBackoff)
				c.warnRetry(method, rawURL, attempt, resp.StatusCode, delay)
				if err := sleep(ctx, delay); err != nil {
					return nil, nil, err
				}
				continue
			}
			return nil, nil, &HTTPStatusError{Status: resp.StatusCode, Body: snippet(body)}

		case outcomeNonRetryableStatus:
			return nil, nil, &HTTPStatusError{Status: resp.StatusCode, Body: snippet(body)}

		case outcomeTimeout:
			if attempt < attempts-1 {
				var delay = Backoff(backoffType, attempt, initial, maxBackoff)
				c.warnRetry(method, rawURL, attempt, 0, delay)
				if err := sleep(ctx, delay); err != nil {
					return nil, nil, err
				}
				continue
			}
			return nil, nil, &TimeoutError{TimeoutMs: timeout.Milliseconds()}

		case outcomeConnectError:
			if attempt < attempts-1 {
				var delay = Backoff(backoffType, attempt, initial, maxBackoff)
				c.warnRetry(method, rawURL, attempt, 0, delay)
				if err := sleep(ctx, delay); err != nil {
					return nil, nil, err
				}
				continue
			}
			return nil, nil, fmt.Errorf("connecting to %s: %w", rawURL, cerr)
		}
	}

	return nil, nil, fmt.Errorf("exhausted retries for %s %s", method, rawURL)
}

func (c *Client) warnRetry(method, rawURL string, attempt, status int, delay time.Duration) {
	if c.Logger == nil {
		return
	}
	c.Logger.Warnf("retrying %s %s: attempt=%d status=%d delay=%s", method, rawURL, attempt, status, delay)
}

func (c *Client) buildRequest(ctx context.Context, method, rawURL string, tctx *template.Context, cfg RequestConfig, timeout time.Duration) (*http.Request, error) {
	renderedURL, err := template.Render(rawURL, tctx)
	if err != nil {
		return nil, fmt.Errorf("rendering request url: %w", err)
	}

	u, err := url.Parse(renderedURL)
	if err != nil {
		return nil, fmt.Errorf("parsing request url %q: %w", renderedURL, err)
	}

	params, err := template.RenderMap(cfg.Params, tctx)
	if err != nil {
		return nil, fmt.Errorf("rendering query params: %w", err)
	}
	if len(params) > 0 {
		var q = u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var reqCtx = ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		_ = cancel // request lifetime is bounded by reqCtx; caller reads body before returning.
	}

	var bodyReader io.Reader
	if cfg.Body != nil {
		bodyReader = bytes.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	headers, err := template.RenderMap(cfg.Headers, tctx)
	if err != nil {
		return nil, fmt.Errorf("rendering headers: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRateLimited
	outcomeRetryableStatus
	outcomeNonRetryableStatus
	outcomeTimeout
	outcomeConnectError
)

func (c *Client) send(req *http.Request) (*http.Response, []byte, outcome, error) {
	var client = c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, outcomeTimeout, err
		}
		return nil, nil, outcomeConnectError, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, outcomeConnectError, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		return resp, body, outcomeSuccess, nil
	case resp.StatusCode == 429:
		return resp, body, outcomeRateLimited, nil
	case retryableStatuses[resp.StatusCode]:
		return resp, body, outcomeRetryableStatus, nil
	default:
		return resp, body, outcomeNonRetryableStatus, nil
	}
}

func isTimeout(err error) bool {
	type timeoutError interface{ Timeout() bool }
	if te, ok := err.(timeoutError); ok {
		return te.Timeout()
	}
	return false
}

// parseRetryAfter matches original_source/src/http/client.rs's
// extract_retry_after: an integer second count, defaulting to 60 on any
// missing header or parse failure. There is no HTTP-date support.
func parseRetryAfter(header string) int {
	if header == "" {
		return 60
	}
	n, err := strconv.Atoi(header)
	if err != nil {
		return 60
	}
	return n
}

func snippet(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	var t = time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
