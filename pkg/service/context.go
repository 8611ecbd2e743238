// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package service defines the per-request ServiceContext that request
// handlers read from and write their response into, and the handler and
// route types controllers register.
package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stacklok/summerboot/pkg/auth"
	"github.com/stacklok/summerboot/pkg/errors"
)

// HandlerFunc serves one request. Handlers write their outcome into sc. A
// returned error becomes a 500 response unless a status is attached through
// errors.WithStatus or errors.Fail. Only the text of an *errors.Err reaches
// the client; other error messages are logged.
type HandlerFunc func(ctx context.Context, sc *ServiceContext) error

// Route binds a handler to an HTTP method and path. Paths use chi patterns,
// e.g. /users/{id}.
type Route struct {
	Method  string
	Path    string
	Roles   []string
	Handler HandlerFunc
}

// POI is a labelled timestamp captured while serving a request.
type POI struct {
	Label string
	At    time.Time
}

// Common POI labels.
const (
	POIBizBegin     = "biz.begin"
	POIBizEnd       = "biz.end"
	POIAuthBegin    = "auth.begin"
	POIAuthEnd      = "auth.end"
	POIProcessBegin = "process.begin"
)

// File describes a file response.
type File struct {
	Path string
	// Download sets Content-Disposition to attachment.
	Download bool
	// OnProgress is called after every chunk written.
	OnProgress func(written, total int64)
}

// Memo is a free-form note attached to a request and included in its audit
// line.
type Memo struct {
	ID   string
	Desc string
}

// ServiceContext is the scratch state of one request. It is owned by the
// goroutine serving the request and is not safe for concurrent use.
type ServiceContext struct {
	txID    string
	request *http.Request
	body    []byte
	hitAt   time.Time
	params  map[string]string

	caller *auth.Caller
	pois   []POI
	memos  []Memo

	status      int
	header      http.Header
	text        string
	file        *File
	redirect    string
	contentType string
	charset     string
	autoResp204 bool
	err         *errors.Err
	cause       error
}

// New creates a ServiceContext for r with status 200.
func New(r *http.Request, body []byte, txID string, hitAt time.Time) *ServiceContext {
	return &ServiceContext{
		txID:    txID,
		request: r,
		body:    body,
		hitAt:   hitAt,
		status:  http.StatusOK,
		header:  make(http.Header),
		charset: "UTF-8",
		params:  map[string]string{},
	}
}

// TxID returns the request's transaction id.
func (sc *ServiceContext) TxID() string { return sc.txID }

// Request returns the inbound request.
func (sc *ServiceContext) Request() *http.Request { return sc.request }

// Body returns the inbound request body.
func (sc *ServiceContext) Body() []byte { return sc.body }

// HitAt returns when the request was received.
func (sc *ServiceContext) HitAt() time.Time { return sc.hitAt }

// Method returns the request method.
func (sc *ServiceContext) Method() string { return sc.request.Method }

// Path returns the request path.
func (sc *ServiceContext) Path() string { return sc.request.URL.Path }

// RequestHeader returns the inbound headers.
func (sc *ServiceContext) RequestHeader() http.Header { return sc.request.Header }

// Param returns a path parameter.
func (sc *ServiceContext) Param(name string) string { return sc.params[name] }

// SetParam records a path parameter.
func (sc *ServiceContext) SetParam(name, value string) { sc.params[name] = value }

// Caller returns the authenticated caller, if any.
func (sc *ServiceContext) Caller() *auth.Caller { return sc.caller }

// SetCaller records the authenticated caller.
func (sc *ServiceContext) SetCaller(c *auth.Caller) *ServiceContext {
	sc.caller = c
	return sc
}

// POI records a timestamp labelled label.
func (sc *ServiceContext) POI(label string) *ServiceContext {
	sc.pois = append(sc.pois, POI{Label: label, At: time.Now()})
	return sc
}

// POIs returns the recorded points of interest in order.
func (sc *ServiceContext) POIs() []POI { return sc.pois }

// Memo attaches a note to the request's audit line.
func (sc *ServiceContext) Memo(id, desc string) *ServiceContext {
	sc.memos = append(sc.memos, Memo{ID: id, Desc: desc})
	return sc
}

// Memos returns the attached notes.
func (sc *ServiceContext) Memos() []Memo { return sc.memos }

// Status returns the response status.
func (sc *ServiceContext) Status() int { return sc.status }

// SetStatus sets the response status.
func (sc *ServiceContext) SetStatus(status int) *ServiceContext {
	sc.status = status
	return sc
}

// Header returns the response headers.
func (sc *ServiceContext) Header() http.Header { return sc.header }

// Text returns the text response body.
func (sc *ServiceContext) Text() string { return sc.text }

// SetText sets a text response body.
func (sc *ServiceContext) SetText(body string) *ServiceContext {
	sc.text = body
	return sc
}

// File returns the file response, if any.
func (sc *ServiceContext) File() *File { return sc.file }

// SetFile makes the response stream the file at path.
func (sc *ServiceContext) SetFile(f *File) *ServiceContext {
	sc.file = f
	return sc
}

// Redirect returns the redirect target, if any.
func (sc *ServiceContext) Redirect() string { return sc.redirect }

// SetRedirect makes the response a redirect to location with status.
func (sc *ServiceContext) SetRedirect(location string, status int) *ServiceContext {
	sc.redirect = location
	sc.status = status
	return sc
}

// ContentType returns the response media type without charset.
func (sc *ServiceContext) ContentType() string { return sc.contentType }

// SetContentType sets the response media type.
func (sc *ServiceContext) SetContentType(ct string) *ServiceContext {
	sc.contentType = ct
	return sc
}

// Charset returns the response charset.
func (sc *ServiceContext) Charset() string { return sc.charset }

// SetCharset sets the response charset.
func (sc *ServiceContext) SetCharset(cs string) *ServiceContext {
	sc.charset = cs
	return sc
}

// AutoResp204 reports whether an empty 200 response is sent as 204.
func (sc *ServiceContext) AutoResp204() bool { return sc.autoResp204 }

// SetAutoResp204 controls promotion of empty 200 responses to 204.
func (sc *ServiceContext) SetAutoResp204(v bool) *ServiceContext {
	sc.autoResp204 = v
	return sc
}

// Err returns the structured error, if any.
func (sc *ServiceContext) Err() *errors.Err { return sc.err }

// Cause returns the Go error behind Err, if one was recorded.
func (sc *ServiceContext) Cause() error { return sc.cause }

// SetErr sets the response status and structured error.
func (sc *ServiceContext) SetErr(status int, e *errors.Err) *ServiceContext {
	sc.status = status
	sc.err = e
	if e != nil {
		sc.cause = e
	}
	return sc
}

// SetCause records the Go error behind a failure for logging.
func (sc *ServiceContext) SetCause(err error) *ServiceContext {
	sc.cause = err
	return sc
}

// ClearResponse drops any body, file or redirect set so far.
func (sc *ServiceContext) ClearResponse() *ServiceContext {
	sc.text = ""
	sc.file = nil
	sc.redirect = ""
	return sc
}

// Accepts reports whether the request's Accept header mentions any of the
// given fragments.
func (sc *ServiceContext) Accepts(fragments ...string) bool {
	accept := strings.ToLower(sc.request.Header.Get("Accept"))
	for _, f := range fragments {
		if strings.Contains(accept, f) {
			return true
		}
	}
	return false
}

// String summarizes the request for logs.
func (sc *ServiceContext) String() string {
	return fmt.Sprintf("%s %s %s status=%d", sc.txID, sc.request.Method, sc.request.URL.Path, sc.status)
}
