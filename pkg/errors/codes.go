// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Kind names a class of failure. Each kind maps to a numeric error code that
// deployments may override.
type Kind string

// Error kinds
const (
	KindAuthRequireToken   Kind = "AUTH_REQUIRE_TOKEN"
	KindAuthExpiredToken   Kind = "AUTH_EXPIRED_TOKEN"
	KindAuthRevokedToken   Kind = "AUTH_REVOKED_TOKEN"
	KindAuthInvalidToken   Kind = "AUTH_INVALID_TOKEN"
	KindAuthInvalidUser    Kind = "AUTH_INVALID_USER"
	KindAuthNoPermission   Kind = "AUTH_NO_PERMISSION"
	KindAuthLoginLocked    Kind = "AUTH_LOGIN_LOCKED"
	KindRequestBadHeader   Kind = "REQUEST_BAD_HEADER"
	KindRequestNotFound    Kind = "REQUEST_NOT_FOUND"
	KindRequestTooMany     Kind = "REQUEST_TOO_MANY"
	KindServicePaused      Kind = "SERVICE_PAUSED"
	KindAppUnexpected      Kind = "APP_UNEXPECTED_FAILURE"
	KindAppInterrupted     Kind = "APP_INTERRUPTED"
	KindRequestTimeout     Kind = "HTTPREQUEST_TIMEOUT"
	KindUnexpectedFormat   Kind = "HTTPCLIENT_UNEXPECTED_RESPONSE_FORMAT"
	KindFileStreamFailure  Kind = "IO_FILE_STREAM_FAILURE"
	KindConfigLoadFailure  Kind = "CONFIG_LOAD_FAILURE"
	KindRequestBadRequest  Kind = "REQUEST_BAD_REQUEST"
	KindAuthLogoutRejected Kind = "AUTH_LOGOUT_REJECTED"
)

var defaultCodes = map[Kind]int{
	KindAuthRequireToken:   40101,
	KindAuthExpiredToken:   40102,
	KindAuthRevokedToken:   40105,
	KindAuthInvalidToken:   40103,
	KindAuthInvalidUser:    40104,
	KindAuthNoPermission:   40301,
	KindAuthLoginLocked:    40302,
	KindAuthLogoutRejected: 40303,
	KindRequestBadRequest:  40001,
	KindRequestBadHeader:   40002,
	KindRequestNotFound:    40401,
	KindRequestTooMany:     42901,
	KindAppUnexpected:      50001,
	KindAppInterrupted:     50002,
	KindUnexpectedFormat:   50003,
	KindFileStreamFailure:  50004,
	KindConfigLoadFailure:  50005,
	KindServicePaused:      50301,
	KindRequestTimeout:     50401,
}

// CodePropertyPrefix prefixes error code overrides in server.properties,
// e.g. error.code.AUTH_EXPIRED_TOKEN=1002.
const CodePropertyPrefix = "error.code."

// Codes is a concurrency-safe table of Kind to numeric code.
type Codes struct {
	mu    sync.RWMutex
	codes map[Kind]int
}

// NewCodes returns a table pre-populated with the default codes.
func NewCodes() *Codes {
	c := &Codes{codes: make(map[Kind]int, len(defaultCodes))}
	for k, v := range defaultCodes {
		c.codes[k] = v
	}
	return c
}

// Code returns the numeric code for k, or 0 for an unknown kind.
func (c *Codes) Code(k Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.codes[k]
}

// Set overrides the code for k.
func (c *Codes) Set(k Kind, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[k] = code
}

// Snapshot returns a copy of the table keyed by kind name.
func (c *Codes) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.codes))
	for k, v := range c.codes {
		out[string(k)] = v
	}
	return out
}

// Apply reads overrides from a flat property map. Keys without the
// error.code. prefix are ignored.
func (c *Codes) Apply(props map[string]string) error {
	for key, raw := range props {
		if !strings.HasPrefix(strings.ToLower(key), CodePropertyPrefix) {
			continue
		}
		kind := Kind(strings.ToUpper(key[len(CodePropertyPrefix):]))
		code, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid error code for %s: %w", kind, err)
		}
		c.Set(kind, code)
	}
	return nil
}

// Err builds an Err for kind k.
func (c *Codes) Err(k Kind, message string, cause error) *Err {
	return New(c.Code(k), "", message, cause)
}
