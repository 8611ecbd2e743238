// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the machine-readable error shape returned to HTTP
// clients, the table of numeric error codes, and helpers for mapping Go
// errors onto HTTP status codes.
package errors

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// Err is a machine-readable error. It serializes to JSON and XML with the
// field order errorCode, tag, message, causes.
type Err struct {
	ErrorCode int
	Tag       string
	Message   string
	Causes    []string

	cause error
}

// New creates an Err. cause stays on the server side: it is reachable
// through Unwrap and Error but never serialized. Use WithCauses for detail
// meant for the client.
func New(code int, tag, message string, cause error) *Err {
	return &Err{
		ErrorCode: code,
		Tag:       tag,
		Message:   message,
		cause:     cause,
	}
}

// WithCauses appends client-visible causes and returns e.
func (e *Err) WithCauses(causes ...string) *Err {
	e.Causes = append(e.Causes, causes...)
	return e
}

// Error returns the error message
func (e *Err) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("error %d: %s: %v", e.ErrorCode, e.Message, e.cause)
	}
	return fmt.Sprintf("error %d: %s", e.ErrorCode, e.Message)
}

// Unwrap returns the underlying error
func (e *Err) Unwrap() error {
	return e.cause
}

// wireErr fixes the serialized field order. Tag and causes are dropped when
// empty so an Err with no detail renders as {"errorCode":0,"message":""}.
type wireErr struct {
	XMLName   xml.Name    `json:"-" xml:"error"`
	ErrorCode int         `json:"errorCode" xml:"errorCode"`
	Tag       string      `json:"tag,omitempty" xml:"tag,omitempty"`
	Message   string      `json:"message" xml:"message"`
	Causes    *wireCauses `json:"causes,omitempty" xml:"causes,omitempty"`
}

// wireCauses is nil when there are no causes so that neither encoder emits
// the element.
type wireCauses struct {
	Cause []string `xml:"cause"`
}

func (c *wireCauses) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Cause)
}

func (c *wireCauses) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Cause)
}

func (e *Err) wire() wireErr {
	w := wireErr{
		ErrorCode: e.ErrorCode,
		Tag:       e.Tag,
		Message:   e.Message,
	}
	if len(e.Causes) > 0 {
		w.Causes = &wireCauses{Cause: e.Causes}
	}
	return w
}

// MarshalJSON implements json.Marshaler.
func (e *Err) MarshalJSON() ([]byte, error) {
	if e == nil {
		return json.Marshal(wireErr{})
	}
	return json.Marshal(e.wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Err) UnmarshalJSON(data []byte) error {
	var w wireErr
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.ErrorCode, e.Tag, e.Message, e.Causes = w.ErrorCode, w.Tag, w.Message, nil
	if w.Causes != nil {
		e.Causes = w.Causes.Cause
	}
	return nil
}

// MarshalXML implements xml.Marshaler.
func (e *Err) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	w := wireErr{}
	if e != nil {
		w = e.wire()
	}
	return enc.Encode(w)
}

// JSON renders the error as a JSON document.
func (e *Err) JSON() string {
	if e == nil {
		e = &Err{}
	}
	b, err := json.Marshal(e)
	if err != nil {
		// wireErr holds only strings and ints
		return `{"errorCode":0,"message":""}`
	}
	return string(b)
}

// XML renders the error as an XML document.
func (e *Err) XML() string {
	if e == nil {
		e = &Err{}
	}
	b, err := xml.Marshal(e)
	if err != nil {
		return "<error><errorCode>0</errorCode><message></message></error>"
	}
	return string(b)
}

// AsErr returns the *Err in err's chain, if any.
func AsErr(err error) (*Err, bool) {
	var e *Err
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus returns the HTTP status attached to err with httperr.WithCode,
// or 500 when none was attached.
func HTTPStatus(err error) int {
	code := httperr.Code(err)
	if code == 0 {
		return http.StatusInternalServerError
	}
	return code
}

// WithStatus attaches an HTTP status to err.
func WithStatus(err error, status int) error {
	return httperr.WithCode(err, status)
}
