// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package audit builds and emits the per-request audit line and masks
// sensitive content in it.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/stacklok/summerboot/pkg/service"
)

// LevelAudit is a custom audit log level - between Info and Warn
const LevelAudit = slog.Level(2)

// NewAuditLogger creates a structured audit logger that writes to w.
func NewAuditLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: LevelAudit,
	})
	return slog.New(handler)
}

// Timings splits the time spent on a request.
type Timings struct {
	// Queuing is the time between accepting the request and starting to
	// process it.
	Queuing    time.Duration
	Processing time.Duration
	Response   time.Duration
}

// Total returns the sum of all phases.
func (t Timings) Total() time.Duration {
	return t.Queuing + t.Processing + t.Response
}

// Record holds everything an audit line is built from.
type Record struct {
	TxID       string
	Method     string
	URI        string
	Protocol   string
	RemoteAddr string
	Caller     string
	Status     int
	HitAt      time.Time

	RequestHeader  http.Header
	ResponseHeader http.Header
	ResponseBody   string

	Timings Timings
	POIs    []service.POI
	Memos   []service.Memo
	Err     error
}

// Line renders r as a multi-line audit entry.
func (r *Record) Line() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "request_%s.caller=%s %s %s %s %s status=%d queuing=%dms process=%dms response=%dms",
		r.TxID, orDash(r.Caller), orDash(r.RemoteAddr), r.Method, r.URI, r.Protocol, r.Status,
		r.Timings.Queuing.Milliseconds(), r.Timings.Processing.Milliseconds(), r.Timings.Response.Milliseconds())

	if len(r.RequestHeader) > 0 {
		sb.WriteString("\n\trequest_header=")
		writeHeader(&sb, r.RequestHeader)
	}
	if len(r.ResponseHeader) > 0 {
		sb.WriteString("\n\tresponse_header=")
		writeHeader(&sb, r.ResponseHeader)
	}
	if len(r.POIs) > 0 {
		sb.WriteString("\n\tPOI:")
		for _, p := range r.POIs {
			fmt.Fprintf(&sb, " %s=+%dms", p.Label, p.At.Sub(r.HitAt).Milliseconds())
		}
	}
	for _, m := range r.Memos {
		fmt.Fprintf(&sb, "\n\tmemo %s: %s", m.ID, m.Desc)
	}
	if r.ResponseBody != "" {
		sb.WriteString("\n\tresponse=")
		sb.WriteString(r.ResponseBody)
	}
	if r.Err != nil {
		sb.WriteString("\n\terror=")
		sb.WriteString(r.Err.Error())
	}
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeHeader(sb *strings.Builder, h http.Header) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	sb.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%s: %s", name, strings.Join(h[name], ","))
	}
	sb.WriteByte('}')
}

// Auditor emits audit lines.
type Auditor struct {
	logger *slog.Logger
}

// NewAuditor creates an Auditor writing to w, stdout when nil.
func NewAuditor(w io.Writer) *Auditor {
	return &Auditor{logger: NewAuditLogger(w)}
}

// Emit writes line, already redacted, with the key fields of rec as
// attributes.
func (a *Auditor) Emit(ctx context.Context, line string, rec *Record) {
	if a == nil {
		return
	}
	a.logger.Log(ctx, LevelAudit, line,
		"txId", rec.TxID,
		"method", rec.Method,
		"uri", rec.URI,
		"status", rec.Status,
		"caller", rec.Caller,
		"durationMs", rec.Timings.Total().Milliseconds(),
	)
}
