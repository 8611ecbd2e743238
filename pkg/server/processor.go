// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net/http"

	"github.com/stacklok/summerboot/pkg/audit"
	"github.com/stacklok/summerboot/pkg/service"
)

// Processor hooks into every request the pipeline serves. Applications bind
// their own implementation, usually by embedding DefaultProcessor.
type Processor interface {
	// PreProcess runs before authentication. Returning false skips the
	// handler and sends whatever sc holds.
	PreProcess(ctx context.Context, r *http.Request, sc *service.ServiceContext) bool
	// AfterService runs once the response is sent. header is the copy of
	// the request header that goes into the audit line.
	AfterService(ctx context.Context, sc *service.ServiceContext, header http.Header)
	// BeforeSendingError may rewrite a synthesized error body.
	BeforeSendingError(ctx context.Context, sc *service.ServiceContext, body string) string
	// BeforeLogging may rewrite the audit line.
	BeforeLogging(line string) string
	// AfterLogging runs after the audit line is emitted.
	AfterLogging(ctx context.Context, rec *audit.Record)
}

var defaultRedactor = audit.DefaultRedactor()

// DefaultProcessor masks credentials and redacts audit lines.
type DefaultProcessor struct {
	// Redactor returns the current redaction list. DefaultRedactor is used
	// when nil.
	Redactor func() *audit.Redactor
}

var _ Processor = DefaultProcessor{}

// PreProcess admits every request.
func (DefaultProcessor) PreProcess(context.Context, *http.Request, *service.ServiceContext) bool {
	return true
}

// AfterService masks credentials in the logged request header.
func (DefaultProcessor) AfterService(_ context.Context, _ *service.ServiceContext, header http.Header) {
	audit.MaskHeaders(header, "Authorization", "Proxy-Authorization", "Cookie")
}

// BeforeSendingError returns body unchanged.
func (DefaultProcessor) BeforeSendingError(_ context.Context, _ *service.ServiceContext, body string) string {
	return body
}

// BeforeLogging applies the redaction list.
func (p DefaultProcessor) BeforeLogging(line string) string {
	r := defaultRedactor
	if p.Redactor != nil {
		if configured := p.Redactor(); configured != nil {
			r = configured
		}
	}
	return r.Redact(line)
}

// AfterLogging does nothing.
func (DefaultProcessor) AfterLogging(context.Context, *audit.Record) {}
