// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rpc calls other HTTP services and maps their failures onto the
// error kinds the pipeline understands.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	serr "github.com/stacklok/summerboot/pkg/errors"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/versions"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxTries        = 3
	defaultInitialInterval = 200 * time.Millisecond
	maxBodySnippet         = 256
)

var idempotentMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete,
}

// Result is a completed call.
type Result struct {
	Status  int
	Header  http.Header
	Body    []byte
	Elapsed time.Duration
	// Remote is the error the remote service reported, if any.
	Remote *serr.Err
}

// Decode unmarshals the JSON body into v.
func (r *Result) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client performs calls with retries on transient gateway failures.
type Client struct {
	http            *http.Client
	codes           *serr.Codes
	maxTries        uint
	initialInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithCodes sets the error code table.
func WithCodes(c *serr.Codes) Option {
	return func(cl *Client) {
		cl.codes = c
	}
}

// WithRetry sets the number of attempts for idempotent requests and the
// first backoff interval. maxTries of 1 disables retries.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(cl *Client) {
		cl.maxTries = maxTries
		cl.initialInterval = initial
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:            &http.Client{Timeout: defaultTimeout},
		codes:           serr.NewCodes(),
		maxTries:        defaultMaxTries,
		initialInterval: defaultInitialInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxTries == 0 {
		c.maxTries = 1
	}
	return c
}

// retryable marks a response worth another attempt.
type retryable struct {
	status int
}

func (r *retryable) Error() string {
	return "transient status " + strconv.Itoa(r.status)
}

// Do sends req. A status outside successStatuses (any 2xx when none are
// given) fails with the remote error, or with
// HTTPCLIENT_UNEXPECTED_RESPONSE_FORMAT when the body cannot be read as one.
// The Result is returned whenever a response arrived.
func (c *Client) Do(ctx context.Context, req *http.Request, successStatuses ...int) (*Result, error) {
	maxTries := uint(1)
	if slices.Contains(idempotentMethods, req.Method) && (req.Body == nil || req.GetBody != nil) {
		maxTries = c.maxTries
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.initialInterval
	expBackoff.MaxInterval = 20 * c.initialInterval
	expBackoff.Reset()

	attempt := 0
	var last *Result
	operation := func() (*Result, error) {
		attempt++
		res, err := c.send(ctx, req, attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		last = res
		if res.Status == http.StatusBadGateway || res.Status == http.StatusServiceUnavailable {
			if secs, convErr := strconv.Atoi(res.Header.Get("Retry-After")); convErr == nil && secs > 0 {
				return res, backoff.RetryAfter(secs)
			}
			return res, &retryable{status: res.Status}
		}
		return res, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debugf("retrying %s %s after %v: %v", req.Method, req.URL.Redacted(), d, err)
		}),
	)
	if res == nil {
		res = last
	}
	if res == nil {
		return nil, c.transportError(err)
	}
	if err != nil && !errors.As(err, new(*retryable)) && !errors.As(err, new(*backoff.RetryAfterError)) {
		return res, c.transportError(err)
	}

	if isSuccess(res.Status, successStatuses) {
		return res, nil
	}
	return res, c.remoteError(res)
}

func (c *Client) send(ctx context.Context, req *http.Request, attempt int) (*Result, error) {
	r := req.Clone(ctx)
	if attempt > 1 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		r.Body = body
	}

	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", "summerboot/"+versions.Version)
	}

	start := time.Now()
	resp, err := c.http.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Result{
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    body,
		Elapsed: time.Since(start),
	}, nil
}

func isSuccess(status int, successStatuses []int) bool {
	if len(successStatuses) == 0 {
		return status >= 200 && status < 300
	}
	return slices.Contains(successStatuses, status)
}

// transportError maps a failed round trip.
func (c *Client) transportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return serr.Fail(http.StatusGatewayTimeout, c.codes.Err(serr.KindRequestTimeout, "remote call timed out", err))
	case errors.Is(err, context.Canceled):
		return serr.Fail(http.StatusInternalServerError, c.codes.Err(serr.KindAppInterrupted, "remote call interrupted", err))
	default:
		return serr.Fail(http.StatusBadGateway, c.codes.Err(serr.KindAppUnexpected, "remote call failed", err))
	}
}

// remoteError reads the Err a remote summerboot service sends with a
// failure status.
func (c *Client) remoteError(res *Result) error {
	if gjson.ValidBytes(res.Body) {
		code := gjson.GetBytes(res.Body, "errorCode")
		msg := gjson.GetBytes(res.Body, "message")
		if code.Exists() && msg.Exists() {
			e := serr.New(int(code.Int()), gjson.GetBytes(res.Body, "tag").String(), msg.String(), nil)
			for _, cause := range gjson.GetBytes(res.Body, "causes").Array() {
				e.Causes = append(e.Causes, cause.String())
			}
			res.Remote = e
			return serr.Fail(res.Status, e)
		}
	}
	snippet := string(res.Body)
	if len(snippet) > maxBodySnippet {
		snippet = snippet[:maxBodySnippet]
	}
	return serr.Fail(http.StatusInternalServerError, c.codes.Err(serr.KindUnexpectedFormat,
		fmt.Sprintf("unexpected response %d: %s", res.Status, snippet), nil))
}
