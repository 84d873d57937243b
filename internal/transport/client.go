// Package transport provides the HTTP client shared by the fleet and
// partner API clients: authentication, client-side rate limiting, retries
// on throttling and server errors, and JSON decoding into typed errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/logging"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
var DefaultHTTPTimeout = constants.DefaultHTTPTimeout

// Client provides HTTP client functionality with authentication.
type Client struct {
	provider   string
	baseURL    string
	http       *http.Client
	auth       Authenticator
	credential string
	limiter    *rate.Limiter
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit limits the client to rps requests per second.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithRetries sets the number of attempts made for retryable responses.
func WithRetries(attempts int) Option {
	return func(c *Client) {
		c.attempts = max(attempts, 1)
	}
}

// WithBackoff sets the base and maximum delay between attempts.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.backoff = base
		c.maxBackoff = maxDelay
	}
}

// New creates a new transport client for the named provider rooted at baseURL.
func New(provider, baseURL string, auth Authenticator, credential string, opts ...Option) *Client {
	if auth == nil {
		auth = &NoAuth{}
	}
	c := &Client{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: DefaultHTTPTimeout},
		auth:       auth,
		credential: credential,
		limiter:    rate.NewLimiter(rate.Limit(constants.DefaultRequestsPerSecond), constants.BurstSize),
		attempts:   constants.MaxTransportRetries,
		backoff:    constants.RetryBackoff,
		maxBackoff: constants.MaxRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the name used in errors and logs.
func (c *Client) Provider() string { return c.provider }

// URL resolves path and query against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

// PostJSON performs a POST request with body encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, path string, query url.Values, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, errors.WrapParse("json", "request body", err)
		}
	}
	return c.Do(ctx, http.MethodPost, path, query, payload)
}

// Do performs a request with authentication applied, retrying on 429 and
// 5xx responses and on transport errors. When attempts are exhausted the
// last response is returned for the caller to decode.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	logger := logging.FromContext(ctx)
	endpoint := c.URL(path, query)

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := c.newRequest(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &errors.APIError{Provider: c.provider, Endpoint: path, Message: err.Error(), Err: err}
		case retryable(resp.StatusCode) && attempt < c.attempts:
			lastErr = &errors.APIError{Provider: c.provider, Endpoint: path, StatusCode: resp.StatusCode, Message: resp.Status}
			drain(resp)
		default:
			return resp, nil
		}

		if attempt == c.attempts {
			break
		}
		delay := c.delay(attempt, resp)
		logger.Warn().
			Err(lastErr).
			Str("provider", c.provider).
			Str("endpoint", path).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retrying request")
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.WrapResource("create", "request", method+" "+endpoint, err)
	}
	if c.credential != "" {
		c.auth.Apply(req, c.credential)
	}

	// Set common headers
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// delay returns the wait before the next attempt, honoring Retry-After.
func (c *Client) delay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			return min(time.Duration(secs)*time.Second, c.maxBackoff)
		}
	}
	d := c.backoff << (attempt - 1)
	if d <= 0 || d > c.maxBackoff {
		d = c.maxBackoff
	}
	return d
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
