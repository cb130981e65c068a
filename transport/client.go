// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loop-social/loopkit/identity"
	"github.com/loop-social/loopkit/lib/casing"
	"github.com/loop-social/loopkit/lib/clock"
	"github.com/loop-social/loopkit/lib/netutil"
	"github.com/loop-social/loopkit/session"
)

// RetryPolicy drives the transport's handling of transient failures:
// network errors, timeouts, 429, and 5xx. It is configuration, not
// per-call behavior.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means the default (2); a negative value disables retries
	// entirely.
	MaxRetries int

	// BackoffFactor multiplies the wait per attempt. Values >= 1 give
	// monotonically non-decreasing waits.
	BackoffFactor float64

	// BaseWait is the wait before the first retry.
	BaseWait time.Duration

	// WaitOnRateLimit honors a server-provided Retry-After hint on
	// 429 instead of the computed backoff, when the hint is longer.
	WaitOnRateLimit bool

	// Timeout bounds each attempt. A timed-out attempt is a transient
	// failure eligible for retry.
	Timeout time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	switch {
	case p.MaxRetries < 0:
		p.MaxRetries = 0
	case p.MaxRetries == 0:
		p.MaxRetries = 2
	}
	if p.BackoffFactor == 0 {
		p.BackoffFactor = 2
	}
	if p.BaseWait == 0 {
		p.BaseWait = 500 * time.Millisecond
	}
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}
	return p
}

// Wait returns the backoff wait before retrying a given zero-based
// attempt: BaseWait scaled by BackoffFactor once per prior attempt.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	wait := float64(p.BaseWait)
	for i := 0; i < attempt; i++ {
		wait *= p.BackoffFactor
	}
	return time.Duration(wait)
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Endpoints overrides the backend hosts. Zero fields keep the
	// production defaults.
	Endpoints Endpoints

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Clock drives timestamps and backoff waits. If nil, the real
	// clock is used.
	Clock clock.Clock

	// Store is the session store backing header state and token
	// refresh write-back. Required.
	Store *session.Store

	// Signer builds the per-request header set. Its Host field is
	// overwritten per request with the resolved realm's host.
	Signer identity.Signer

	// Policy is the retry policy. Zero fields keep the defaults.
	Policy RetryPolicy
}

// Client issues Loop API requests. It is safe for concurrent use; a
// token refresh is a mutual-exclusion region — at most one refresh is
// in flight, and requests needing a fresh token wait on it rather than
// triggering independent refreshes.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	logger     *slog.Logger
	clock      clock.Clock
	store      *session.Store
	signer     identity.Signer
	policy     RetryPolicy

	refreshMu sync.Mutex
}

// NewClient creates a transport client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("transport: Store is required")
	}

	endpoints := config.Endpoints
	defaults := DefaultEndpoints()
	if endpoints.API == "" {
		endpoints.API = defaults.API
	}
	if endpoints.Settings == "" {
		endpoints.Settings = defaults.Settings
	}
	if endpoints.Analytics == "" {
		endpoints.Analytics = defaults.Analytics
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	signer := config.Signer
	if signer.Device == (identity.Device{}) {
		signer.Device = identity.DefaultDevice()
	}
	if signer.Locale == "" {
		signer.Locale = "en"
	}

	return &Client{
		endpoints:  endpoints,
		httpClient: httpClient,
		logger:     logger,
		clock:      clk,
		store:      config.Store,
		signer:     signer,
		policy:     config.Policy.withDefaults(),
	}, nil
}

// Store returns the session store the client reads headers from and
// writes refreshed tokens back to.
func (c *Client) Store() *session.Store {
	return c.store
}

// Request issues one API call described by the descriptor and returns
// the response body translated to domain key convention. Failures are
// typed *APIError values classified by status; transient failures are
// retried per the policy before the last classified error surfaces.
func (c *Client) Request(ctx context.Context, descriptor RequestDescriptor) (json.RawMessage, error) {
	if descriptor.RequireAuth && c.store.Get().AccessToken == "" {
		return nil, &APIError{
			Kind:     KindAuthentication,
			Envelope: Envelope{Result: "error", Message: "no access token for authenticated request"},
		}
	}

	refreshed := false
	for attempt := 0; ; attempt++ {
		body, err := c.do(ctx, descriptor)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		var apiErr *APIError
		isAPI := errors.As(err, &apiErr)

		// One refresh-and-retry cycle per request. The refresh retry
		// does not consume a backoff attempt.
		if isAPI && !refreshed && descriptor.RequireAuth && tokenExpired(apiErr) {
			if refreshErr := c.refreshTokens(ctx, c.store.Get().AccessToken); refreshErr != nil {
				c.logger.Warn("token refresh failed",
					"path", descriptor.Path,
					"error", refreshErr,
				)
				return nil, err
			}
			refreshed = true
			continue
		}

		transient := !isAPI || apiErr.Kind == KindRateLimit || apiErr.Kind == KindServer
		if !transient || attempt >= c.policy.MaxRetries {
			return nil, err
		}

		wait := c.policy.Wait(attempt)
		if isAPI && apiErr.Kind == KindRateLimit && c.policy.WaitOnRateLimit && apiErr.RetryAfter > wait {
			wait = apiErr.RetryAfter
		}
		c.logger.Debug("retrying request",
			"method", descriptor.Method,
			"path", descriptor.Path,
			"attempt", attempt+1,
			"wait", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(wait):
		}
	}
}

// do performs a single attempt: translate, sign, send, translate back,
// classify. Any non-2xx becomes an *APIError; network and read errors
// return as-is (transient).
func (c *Client) do(ctx context.Context, descriptor RequestDescriptor) (json.RawMessage, error) {
	base := strings.TrimRight(c.endpoints.forRealm(descriptor.Realm), "/")
	requestURL := base + descriptor.Path

	if len(descriptor.Query) > 0 {
		wireQuery := url.Values{}
		for key, values := range descriptor.Query {
			wireQuery[casing.Snake(key)] = values
		}
		requestURL += "?" + wireQuery.Encode()
	}

	var bodyReader io.Reader
	if descriptor.Body != nil {
		encoded, err := json.Marshal(descriptor.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: encoding request body: %w", err)
		}
		wireBody, err := casing.JSONToWire(encoded)
		if err != nil {
			return nil, fmt.Errorf("transport: translating request body: %w", err)
		}
		bodyReader = bytes.NewReader(wireBody)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(attemptCtx, descriptor.Method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("transport: creating request: %w", err)
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base URL %q: %w", base, err)
	}

	record := c.store.Get()
	signer := c.signer
	signer.Host = parsed.Host
	request.Header = signer.Build(c.clock.Now(), record.DeviceUUID, record.AccessToken)
	request.Host = parsed.Host
	for key, values := range descriptor.Headers {
		request.Header[http.CanonicalHeaderKey(key)] = values
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", descriptor.Method, descriptor.Path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: reading response body: %w", err)
	}

	domainBody, err := casing.JSONToDomain(responseBody)
	if err != nil {
		// Non-JSON response body: keep the raw bytes for diagnostics.
		domainBody = responseBody
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return domainBody, nil
	}

	var envelope Envelope
	// A malformed error body leaves a zero envelope; the status
	// classification still stands.
	_ = json.Unmarshal(domainBody, &envelope)

	apiErr := &APIError{
		Kind:       classifyStatus(response.StatusCode),
		StatusCode: response.StatusCode,
		Envelope:   envelope,
	}
	if hint := response.Header.Get("Retry-After"); hint != "" {
		if seconds, parseErr := strconv.Atoi(hint); parseErr == nil && seconds > 0 {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	return nil, apiErr
}

// tokenExpired reports whether a classified failure indicates a stale
// access token: a 401, or the expired-token domain code on any status.
func tokenExpired(apiErr *APIError) bool {
	return apiErr.Kind == KindAuthentication || apiErr.Envelope.ErrorCode == CodeAccessTokenExpired
}
