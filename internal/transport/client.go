// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Configuration constants.
const (
	// DefaultTimeout bounds every call, including retries.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of extra attempts for idempotent GETs.
	DefaultMaxRetries = 2

	// DefaultRetryBaseDelay is the first backoff delay.
	DefaultRetryBaseDelay = 500 * time.Millisecond

	// DefaultRetryMaxDelay caps a single backoff delay.
	DefaultRetryMaxDelay = 5 * time.Second

	// DefaultUserAgent is sent when Config.UserAgent is empty.
	DefaultUserAgent = "chatsync/0.1.0"

	// MaxResponseSize is the maximum accepted response body.
	MaxResponseSize = 10 * 1024 * 1024
)

// sharedHTTPClient pools connections for every Client that does not bring
// its own. It has no overall timeout; calls are bounded by their context.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// TokenSource returns the current bearer token, or "" when there is none.
// It is called on every attempt, never cached.
type TokenSource func() string

// Config holds the client's tuning knobs.
type Config struct {
	// Timeout bounds a whole call (all attempts). Zero disables it.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts for GET requests after a
	// network error, 5xx or 429. Other verbs are never retried.
	MaxRetries int

	// RetryBaseDelay and RetryMaxDelay shape the exponential backoff.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// RateLimit is the sustained requests per second; zero disables
	// limiting. RateBurst is the bucket size.
	RateLimit float64
	RateBurst int

	UserAgent string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: DefaultRetryBaseDelay,
		RetryMaxDelay:  DefaultRetryMaxDelay,
		RateLimit:      10,
		RateBurst:      20,
		UserAgent:      DefaultUserAgent,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client issues JSON requests against one service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
	cfg        Config
	log        *logrus.Entry
}

// New creates a client for baseURL. tokens may be nil for services that
// never need a credential.
func New(baseURL string, tokens TokenSource, cfg Config, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: sharedHTTPClient,
		tokens:     tokens,
		cfg:        cfg,
		log:        logger.WithFields(logrus.Fields{"component": "transport", "base_url": baseURL}),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// WithHTTPClient replaces the pooled HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	token    string
	explicit bool
	noAuth   bool
}

// WithToken sends token instead of consulting the TokenSource.
func WithToken(token string) CallOption {
	return func(o *callOptions) {
		o.token = token
		o.explicit = true
	}
}

// NoAuth sends no Authorization header.
func NoAuth() CallOption {
	return func(o *callOptions) {
		o.noAuth = true
	}
}

// Get issues a GET request. GETs are retried on transient failures.
func (c *Client) Get(ctx context.Context, path string, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST request with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT request with body encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do issues a request. A nil body sends no payload.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...CallOption) (*Response, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if method != http.MethodGet || c.cfg.MaxRetries <= 0 {
		return c.send(ctx, method, path, payload, o)
	}
	return c.sendWithRetry(ctx, method, path, payload, o)
}

// sendWithRetry repeats send with exponential backoff while the failure is
// transient.
func (c *Client) sendWithRetry(ctx context.Context, method, path string, payload []byte, o callOptions) (*Response, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryBaseDelay
	eb.MaxInterval = c.cfg.RetryMaxDelay
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries)), ctx)

	var resp *Response
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		r, err := c.send(ctx, method, path, payload, o)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			c.log.WithFields(logrus.Fields{"method": method, "path": path, "attempt": attempt}).
				WithError(err).Debug("transient failure, retrying")
			return err
		}
		resp = r
		return nil
	}, b)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// send performs one attempt. A 401 is re-validated: if the TokenSource now
// yields a different token (refreshed while the request was in flight) the
// request is replayed once with it.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, o callOptions) (*Response, error) {
	token := c.tokenFor(o)
	resp, err := c.roundTrip(ctx, method, path, payload, token)
	if err == nil || !errors.Is(err, ErrUnauthorized) || o.explicit || o.noAuth || c.tokens == nil {
		return resp, err
	}
	fresh := c.tokens()
	if fresh == "" || fresh == token {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"method": method, "path": path, "token_fp": Fingerprint(fresh)}).
		Debug("credential changed in flight, replaying request")
	return c.roundTrip(ctx, method, path, payload, fresh)
}

func (c *Client) tokenFor(o callOptions) string {
	switch {
	case o.noAuth:
		return ""
	case o.explicit:
		return o.token
	case c.tokens != nil:
		return c.tokens()
	}
	return ""
}

// roundTrip performs a single HTTP exchange.
func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, token string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer httpResp.Body.Close()

	data, err := readResponse(httpResp)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   httpResp.StatusCode,
		"duration": time.Since(start),
		"token_fp": Fingerprint(token),
	}).Debug("api response")

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, newAPIError(method, path, httpResp.StatusCode, data)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: data}, nil
}

// readResponse reads the body, refusing anything over MaxResponseSize.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrNetwork, err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrResponseTooLarge, MaxResponseSize)
	}
	return body, nil
}

// isRetryable reports whether a failed GET may be attempted again.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return errors.Is(err, ErrNetwork)
}

// Fingerprint returns a short SHA-256 fingerprint of token for log lines.
func Fingerprint(token string) string {
	if token == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// RESPONSE
// =============================================================================

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// Payload returns the body with the services' {"success": ..., "data": ...}
// envelope removed when present.
func (r *Response) Payload() json.RawMessage {
	trimmed := bytes.TrimSpace(r.Body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err == nil && env.Success != nil && len(env.Data) > 0 {
		return env.Data
	}
	return trimmed
}

// Decode unmarshals the payload into v.
func (r *Response) Decode(v any) error {
	payload := r.Payload()
	if len(payload) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// DecodeList decodes a JSON array payload that a service may also wrap in an
// object as {"<key>": [...]}.
func DecodeList[T any](resp *Response, key string) ([]T, error) {
	payload := resp.Payload()
	var list []T
	if err := json.Unmarshal(payload, &list); err == nil {
		return list, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	raw, ok := wrapped[key]
	if !ok {
		return nil, fmt.Errorf("failed to parse %s: missing %q field", key, key)
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return list, nil
}
