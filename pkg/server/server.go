// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server runs the HTTP request pipeline and the optional gRPC
// listener of a summerboot application.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/stacklok/summerboot/pkg/audit"
	"github.com/stacklok/summerboot/pkg/auth"
	"github.com/stacklok/summerboot/pkg/cache"
	serr "github.com/stacklok/summerboot/pkg/errors"
	"github.com/stacklok/summerboot/pkg/lifecycle"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/metrics"
	"github.com/stacklok/summerboot/pkg/registry"
)

const (
	shutdownTimeout   = 30 * time.Second
	socketPermissions = 0660
	unixPrefix        = "unix://"
	adminPrefix       = "/admin/"
)

// Server is the HTTP request pipeline.
type Server struct {
	config    func() *Config
	reg       *registry.Registry
	auth      *auth.Authenticator
	blacklist cache.Blacklist
	pause     *lifecycle.PauseFlag
	codes     *serr.Codes
	processor Processor
	metrics   *metrics.Metrics
	auditor   *audit.Auditor
	webCache  cache.Cache[string]
	now       func() time.Time

	limiterMu sync.Mutex
	limiter   *rate.Limiter

	fallback *Config
	handler  http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithBlacklist sets the token revocation list checked on authentication.
func WithBlacklist(b cache.Blacklist) Option {
	return func(s *Server) {
		s.blacklist = b
	}
}

// WithPauseFlag sets the flag that makes the server reject new requests.
func WithPauseFlag(p *lifecycle.PauseFlag) Option {
	return func(s *Server) {
		s.pause = p
	}
}

// WithCodes sets the error code table.
func WithCodes(c *serr.Codes) Option {
	return func(s *Server) {
		s.codes = c
	}
}

// WithProcessor replaces DefaultProcessor.
func WithProcessor(p Processor) Option {
	return func(s *Server) {
		s.processor = p
	}
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAuditor sets where audit lines are emitted.
func WithAuditor(a *audit.Auditor) Option {
	return func(s *Server) {
		s.auditor = a
	}
}

// WithWebCache sets the cache of resolved web resource paths.
func WithWebCache(c cache.Cache[string]) Option {
	return func(s *Server) {
		s.webCache = c
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a Server for the controllers and channel handlers in reg.
// config returns the current server configuration snapshot.
func New(config func() *Config, reg *registry.Registry, authn *auth.Authenticator, opts ...Option) *Server {
	s := &Server{
		config:   config,
		reg:      reg,
		auth:     authn,
		pause:    lifecycle.NewPauseFlag(),
		codes:    serr.NewCodes(),
		now:      time.Now,
		fallback: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.processor == nil {
		s.processor = DefaultProcessor{Redactor: func() *audit.Redactor { return s.cfg().Redactor() }}
	}
	if s.auditor == nil {
		s.auditor = audit.NewAuditor(os.Stdout)
	}
	if s.webCache == nil {
		s.webCache = cache.NewLocal(cache.WithClock[string](s.now))
	}
	s.handler = s.routes()
	return s
}

func (s *Server) cfg() *Config {
	if c := s.config(); c != nil {
		return c
	}
	return s.fallback
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
	)

	if s.metrics != nil {
		r.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !s.cfg().MetricsEnabled {
				s.serve(w, req, nil)
				return
			}
			s.metrics.Handler().ServeHTTP(w, req)
		}))
	}

	for _, c := range s.reg.Controllers() {
		for _, route := range c.Routes {
			rt := route
			rt.Roles = mergeRoles(c.Roles, route.Roles)
			r.MethodFunc(rt.Method, rt.Path, func(w http.ResponseWriter, req *http.Request) {
				s.serve(w, req, &rt)
			})
			logger.Debugf("route %s %s registered by %s", rt.Method, rt.Path, c.ID)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) { s.serve(w, req, nil) })
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) { s.serve(w, req, nil) })

	// the first inbound handler ends up outermost
	var h http.Handler = r
	handlers := s.reg.ChannelHandlers()
	for i := len(handlers) - 1; i >= 0; i-- {
		h = handlers[i].Handler.Wrap(h)
	}
	return h
}

func mergeRoles(a, b []string) []string {
	out := append(append([]string{}, a...), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// allow applies the global rate limit. The limiter is rebuilt when the
// configured rate changes.
func (s *Server) allow(cfg *Config) bool {
	if cfg.RateLimit <= 0 {
		return true
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	if s.limiter == nil || s.limiter.Limit() != rate.Limit(cfg.RateLimit) || s.limiter.Burst() != cfg.RateBurst {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return s.limiter.AllowN(s.now(), 1)
}

// Serve serves HTTP on listener until ctx is done, then shuts down
// gracefully. It is assumed that the caller sets up appropriate signal
// handling.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	cfg := s.cfg()
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	logger.Infof("starting HTTP server on %s", listener.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Infof("HTTP server stopped")
	return nil
}

// ListenAndServe listens on the configured address and calls Serve. An
// address of the form unix:///path listens on a UNIX socket.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, cleanup, err := Listen(s.cfg().Addr)
	if err != nil {
		return err
	}
	defer cleanup()
	return s.Serve(ctx, listener)
}

// Listen opens a TCP listener, or a UNIX socket for unix:// addresses. The
// returned func removes the socket file.
func Listen(address string) (net.Listener, func(), error) {
	if !strings.HasPrefix(address, unixPrefix) {
		l, err := net.Listen("tcp", address)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to listen on %s: %w", address, err)
		}
		return l, func() {}, nil
	}

	path := strings.TrimPrefix(address, unixPrefix)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, nil, fmt.Errorf("failed to remove existing socket: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create UNIX socket listener: %w", err)
	}
	if err := os.Chmod(path, socketPermissions); err != nil {
		_ = l.Close()
		return nil, nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warnf("failed to remove socket file: %v", err)
		}
	}
	return l, cleanup, nil
}

func isAdminPath(path string) bool {
	return strings.HasPrefix(path, adminPrefix)
}
