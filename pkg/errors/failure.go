// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Failure pairs an Err with the HTTP status it is sent with.
type Failure struct {
	Status int
	Err    *Err
}

// Fail creates a Failure.
func Fail(status int, e *Err) *Failure {
	return &Failure{Status: status, Err: e}
}

// Error returns the error message
func (f *Failure) Error() string {
	return fmt.Sprintf("%d %s", f.Status, f.Err.Error())
}

// Unwrap returns the underlying Err
func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify returns the HTTP status and Err a pipeline should send for err.
// Failures keep their status and Err. A context deadline maps to 504 and a
// cancellation to 500. Other errors use the status attached with WithStatus
// (default 500) and an Err of kind APP_UNEXPECTED_FAILURE. Only an *Err in
// err's chain contributes text to the response; the message of any other
// error is kept as the server-side cause.
func Classify(err error, codes *Codes) (int, *Err) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Status, f.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, codes.Err(KindRequestTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusInternalServerError, codes.Err(KindAppInterrupted, "request interrupted", err)
	}
	status := HTTPStatus(err)
	if e, ok := AsErr(err); ok {
		return status, e
	}
	if status >= http.StatusInternalServerError {
		return status, codes.Err(KindAppUnexpected, http.StatusText(status), err)
	}
	return status, New(0, "", http.StatusText(status), err)
}
