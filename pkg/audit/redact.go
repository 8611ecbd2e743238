// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Mask replaces redacted content.
const Mask = "***"

// DefaultPatterns redact host names leaked by resolver errors and bearer
// tokens. The first capture group, when present, is kept.
var DefaultPatterns = []string{
	`(UnknownHostException:\s*)[^\s,;)]+`,
	`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`,
}

// Redactor masks sensitive content in audit lines.
type Redactor struct {
	literals []string
	patterns []*regexp.Regexp
}

// NewRedactor creates a Redactor masking every literal and every match of
// patterns.
func NewRedactor(literals, patterns []string) (*Redactor, error) {
	r := &Redactor{}
	for _, l := range literals {
		if l = strings.TrimSpace(l); l != "" {
			r.literals = append(r.literals, l)
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// DefaultRedactor returns a Redactor using DefaultPatterns.
func DefaultRedactor() *Redactor {
	r, err := NewRedactor(nil, DefaultPatterns)
	if err != nil {
		panic(err)
	}
	return r
}

// Redact returns s with sensitive content masked. A nil Redactor returns s.
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, l := range r.literals {
		s = strings.ReplaceAll(s, l, Mask)
	}
	for _, re := range r.patterns {
		if re.NumSubexp() > 0 {
			s = re.ReplaceAllString(s, "${1}"+Mask)
		} else {
			s = re.ReplaceAllLiteralString(s, Mask)
		}
	}
	return s
}

// MaskHeaders replaces the values of the named headers with Mask.
func MaskHeaders(h http.Header, names ...string) {
	for _, name := range names {
		if _, ok := h[http.CanonicalHeaderKey(name)]; ok {
			h.Set(name, Mask)
		}
	}
}
