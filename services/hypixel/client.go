// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hypixel is a rate-limited client for the Hypixel public API.
//
// The client issues one GET per call, rotates among the configured API
// keys, and honours the request budget the server advertises in the
// RateLimit-Remaining and RateLimit-Reset headers by sleeping before the
// next call. There is no automatic retry: ServiceError propagates.
package hypixel

import (
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
	"sync/atomic"
	"time"

	"github.com/AleutianAI/hypickle/pkg/validation"
	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("hypickle.hypixel")

// Resource is a single API resource kind.
type Resource string

const (
	// ResourceProfile is a player's profile and stats.
	ResourceProfile Resource = "player"

	// ResourceFriends is a player's friend list.
	ResourceFriends Resource = "friends"

	// ResourceStatus is a player's online session.
	ResourceStatus Resource = "status"

	// ResourceRecentGames is a player's recently played games.
	ResourceRecentGames Resource = "recentgames"

	// resourceLeaderboards takes no target and is only used to check keys.
	resourceLeaderboards Resource = "leaderboards"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.hypixel.net/v2"

	headerRemaining = "RateLimit-Remaining"
	headerReset     = "RateLimit-Reset"
	headerKey       = "API-Key"

	// invalidKeyCause is the service's cause text for an unknown key.
	invalidKeyCause = "Invalid API key"

	maxBodyBytes = 16 << 20
)

// Requester is the request surface consumers need from a Client.
type Requester interface {
	Request(ctx context.Context, kind Resource, target string) (Document, error)
}

var _ Requester = (*Client)(nil)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL.
	BaseURL string

	// Timeout bounds a single request. Defaults to 30s.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client

	// Clock drives rate-limit waits. Defaults to SystemClock.
	Clock Clock

	// Logger receives wait and error logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics receives call and wait counts. May be nil.
	Metrics *telemetry.Metrics
}

// DefaultConfig returns a Config pointing at the public API.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Timeout:   30 * time.Second,
		UserAgent: "hypickle/1.0",
	}
}

// Client issues rate-limited requests to the stats API.
//
// # Description
//
// Before each call, if a resume-at time from an earlier response is still
// in the future, the client sleeps until then. After each response, when
// the server reports at most one request left in its budget, the client
// stores resume-at = now + RateLimit-Reset + 1s for the next call.
//
// # Thread Safety
//
// Safe for concurrent use. The crawl itself is sequential, so concurrent
// callers only share the resume-at time; they do not queue.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	keys      *KeyRing
	clock     Clock
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	userAgent string

	mu       sync.Mutex
	resumeAt time.Time

	calls atomic.Int64
}

// NewClient creates a Client that authenticates with keys.
//
// # Inputs
//
//   - cfg: Client configuration. Zero fields take defaults.
//   - keys: Key ring used for every request. Must not be nil.
//
// # Outputs
//
//   - *Client: Ready client.
//   - error: Non-nil if keys is nil or BaseURL does not parse.
func NewClient(cfg Config, keys *KeyRing) (*Client, error) {
	if keys == nil {
		return nil, ErrNoKeys
	}
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	return &Client{
		baseURL:   base,
		http:      httpClient,
		keys:      keys,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With(slog.String("component", "hypixel")),
		metrics:   cfg.Metrics,
		userAgent: cfg.UserAgent,
	}, nil
}

// Calls returns the number of requests sent so far.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

// ResumeAt returns the time before which the next request will not be
// sent, or the zero time when no wait is pending.
func (c *Client) ResumeAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeAt
}

// Request fetches one resource for target.
//
// # Description
//
// target is an identifier for every resource and may be a handle only for
// ResourceProfile. The returned document is the payload under the
// resource's own key when the response has one (for example "player"),
// otherwise the whole response.
//
// # Outputs
//
//   - Document: The decoded payload.
//   - error: *NotFoundError when a profile lookup finds no player,
//     *ServiceError for every other failure, ErrHandleNotAllowed for a
//     handle on a non-profile resource, or ctx.Err() when cancelled.
//
// # Example
//
//	doc, err := client.Request(ctx, hypixel.ResourceFriends, id)
//	if errors.Is(err, hypixel.ErrNotFound) {
//	    // drop the edge
//	}
func (c *Client) Request(ctx context.Context, kind Resource, target string) (Document, error) {
	ctx, span := tracer.Start(ctx, "hypixel.Client.Request",
		trace.WithAttributes(
			attribute.String("resource", string(kind)),
			attribute.String("target", target),
		),
	)
	defer span.End()

	isID, err := validation.IsIdentifier(target)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("request %s: %w", kind, err)
	}
	if !isID && kind != ResourceProfile {
		err := fmt.Errorf("%s(%s): %w", kind, target, ErrHandleNotAllowed)
		telemetry.RecordError(span, err)
		return nil, err
	}

	param := "name"
	if isID {
		param = "uuid"
	}

	var doc Document
	err = c.keys.use(func(key string) error {
		var err error
		doc, err = c.do(ctx, kind, target, url.Values{param: {target}}, key)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanOK(span)
	return doc, nil
}

// ValidateKey checks key against the service without using the ring.
//
// Returns nil for a working key, an error wrapping ErrInvalidKey when the
// service rejects it, and any other failure unchanged.
func (c *Client) ValidateKey(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "hypixel.Client.ValidateKey")
	defer span.End()

	_, err := c.do(ctx, resourceLeaderboards, "", nil, strings.TrimSpace(key))
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Cause == invalidKeyCause {
		err = fmt.Errorf("%w: %s", ErrInvalidKey, svcErr.Cause)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanOK(span)
	return nil
}

// do performs a single request, waiting out any pending budget reset first.
func (c *Client) do(ctx context.Context, kind Resource, target string, query url.Values, key string) (Document, error) {
	if err := c.waitForBudget(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL.JoinPath(string(kind))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(headerKey, key)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.calls.Add(1)
	start := time.Now()
	doc, err := c.send(req, kind, target)
	c.metrics.RecordAPICall(ctx, string(kind), outcomeOf(err), time.Since(start))
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return doc, err
}

func (c *Client) send(req *http.Request, kind Resource, target string) (Document, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ServiceError{Resource: kind, Target: target, Err: err}
	}
	defer resp.Body.Close()

	c.observeBudget(resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &ServiceError{Resource: kind, Target: target, Status: resp.StatusCode, Err: err}
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		if err == nil {
			err = errors.New("empty response body")
		}
		return nil, &ServiceError{
			Resource: kind,
			Target:   target,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("decode response: %w", err),
		}
	}

	success, _ := doc.Bool("success")
	if !success || resp.StatusCode < 200 || resp.StatusCode > 299 {
		cause, _ := doc.String("cause")
		c.logger.Debug("request failed",
			slog.String("resource", string(kind)),
			slog.String("target", target),
			slog.Int("status", resp.StatusCode),
			slog.String("cause", cause),
		)
		return nil, &ServiceError{Resource: kind, Target: target, Status: resp.StatusCode, Cause: cause}
	}

	if kind == ResourceProfile {
		if v, ok := doc[string(kind)]; !ok || v == nil {
			return nil, &NotFoundError{Target: target}
		}
	}

	if payload, ok := doc.Object(string(kind)); ok {
		return payload, nil
	}
	return doc, nil
}

// waitForBudget sleeps until resumeAt when it lies in the future. A
// cancelled sleep leaves resumeAt in place for the next caller.
func (c *Client) waitForBudget(ctx context.Context) error {
	c.mu.Lock()
	resumeAt := c.resumeAt
	c.resumeAt = time.Time{}
	c.mu.Unlock()

	if resumeAt.IsZero() {
		return nil
	}
	wait := resumeAt.Sub(c.clock.Now())
	if wait < 0 {
		return nil
	}

	c.logger.Info("sleeping for rate limiting",
		slog.String("until", resumeAt.Format(time.Kitchen)),
		slog.Duration("wait", wait),
	)
	if err := c.clock.Sleep(ctx, wait); err != nil {
		c.mu.Lock()
		if c.resumeAt.IsZero() {
			c.resumeAt = resumeAt
		}
		c.mu.Unlock()
		return err
	}
	c.metrics.RecordRateLimitWait(ctx, wait)
	return nil
}

// observeBudget records a resume-at time when the budget is nearly spent.
func (c *Client) observeBudget(h http.Header) {
	remaining, err := strconv.Atoi(strings.TrimSpace(h.Get(headerRemaining)))
	if err != nil || remaining > 1 {
		return
	}
	reset, err := strconv.Atoi(strings.TrimSpace(h.Get(headerReset)))
	if err != nil || reset < 0 {
		reset = 0
	}
	resumeAt := c.clock.Now().Add(time.Duration(reset+1) * time.Second)

	c.mu.Lock()
	if resumeAt.After(c.resumeAt) {
		c.resumeAt = resumeAt
	}
	c.mu.Unlock()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
