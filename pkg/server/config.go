// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stacklok/summerboot/pkg/audit"
	"github.com/stacklok/summerboot/pkg/errors"
)

// ConfigFileName is the file server settings are read from.
const ConfigFileName = "server.properties"

// Defaults applied by Customize.
const (
	DefaultAddr              = ":8311"
	DefaultRefHeader         = "X-Ref"
	DefaultServerTsHeader    = "X-ServerTs"
	DefaultWebResourceTTL    = time.Minute
	DefaultMaxRequestBody    = 10 << 20
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Config holds HTTP and gRPC listener settings from server.properties.
type Config struct {
	Addr              string        `mapstructure:"server.addr"`
	GRPCAddr          string        `mapstructure:"server.grpc.addr"`
	DocRoot           string        `mapstructure:"server.docroot"`
	ReadHeaderTimeout time.Duration `mapstructure:"server.read.header.timeout"`
	IdleTimeout       time.Duration `mapstructure:"server.idle.timeout"`
	RequestTimeout    time.Duration `mapstructure:"server.request.timeout"`
	MaxRequestBody    int64         `mapstructure:"server.request.max.body"`
	AutoResp204       bool          `mapstructure:"server.auto204"`
	RateLimit         float64       `mapstructure:"server.rate.limit"`
	RateBurst         int           `mapstructure:"server.rate.burst"`
	MetricsEnabled    bool          `mapstructure:"server.metrics.enabled"`
	RefHeader         string        `mapstructure:"server.header.ref"`
	ServerTsHeader    string        `mapstructure:"server.header.serverts"`
	WebResourceTTL    time.Duration `mapstructure:"server.webresource.cache.ttl"`

	RedactLiterals []string `mapstructure:"audit.redact.literals"`
	RedactPatterns []string `mapstructure:"audit.redact.patterns"`

	errorCodes map[string]string
	redactor   *audit.Redactor
}

// DefaultConfig returns a Config with defaults applied, used until
// server.properties is loaded.
func DefaultConfig() *Config {
	c := &Config{}
	if err := c.Customize(nil, ""); err != nil {
		// only custom redaction patterns can fail
		panic(err)
	}
	return c
}

// Customize applies defaults, resolves the docroot against configDir,
// compiles the redaction list and collects error code overrides.
func (c *Config) Customize(props map[string]string, configDir string) error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.MaxRequestBody <= 0 {
		c.MaxRequestBody = DefaultMaxRequestBody
	}
	if c.RefHeader == "" {
		c.RefHeader = DefaultRefHeader
	}
	if c.ServerTsHeader == "" {
		c.ServerTsHeader = DefaultServerTsHeader
	}
	if c.WebResourceTTL <= 0 {
		c.WebResourceTTL = DefaultWebResourceTTL
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int(c.RateLimit)
		if c.RateBurst < 1 {
			c.RateBurst = 1
		}
	}
	if c.DocRoot != "" && !filepath.IsAbs(c.DocRoot) && configDir != "" {
		c.DocRoot = filepath.Join(configDir, c.DocRoot)
	}

	r, err := audit.NewRedactor(c.RedactLiterals, append(append([]string{}, audit.DefaultPatterns...), c.RedactPatterns...))
	if err != nil {
		return fmt.Errorf("failed to build redaction list: %w", err)
	}
	c.redactor = r

	c.errorCodes = map[string]string{}
	for k, v := range props {
		if strings.HasPrefix(strings.ToLower(k), errors.CodePropertyPrefix) {
			c.errorCodes[k] = v
		}
	}
	// validate now so a bad override keeps the previous snapshot
	if err := errors.NewCodes().Apply(c.errorCodes); err != nil {
		return err
	}
	return nil
}

// ErrorCodes returns the error.code.* overrides to apply to the shared code
// table.
func (c *Config) ErrorCodes() map[string]string {
	return c.errorCodes
}

// Redactor returns the compiled redaction list.
func (c *Config) Redactor() *audit.Redactor {
	return c.redactor
}
