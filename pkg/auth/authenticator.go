// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/stacklok/summerboot/pkg/cache"
	serr "github.com/stacklok/summerboot/pkg/errors"
	"github.com/stacklok/summerboot/pkg/logger"
)

// ErrNoSigningKey is returned when a token must be signed but only a public
// key is configured.
var ErrNoSigningKey = errors.New("no signing key configured")

// Authenticator issues, verifies and revokes bearer tokens.
type Authenticator struct {
	config   func() *Config
	checker  CredentialChecker
	listener Listener
	codes    *serr.Codes
	now      func() time.Time

	// per-uid login limiters, dropped after an hour of inactivity
	limiters cache.Cache[*rate.Limiter]
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithListener sets the lifecycle listener.
func WithListener(l Listener) Option {
	return func(a *Authenticator) {
		a.listener = l
	}
}

// WithCodes sets the error code table.
func WithCodes(c *serr.Codes) Option {
	return func(a *Authenticator) {
		a.codes = c
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// NewAuthenticator creates an Authenticator. config returns the current
// auth configuration snapshot so reloads take effect immediately.
func NewAuthenticator(config func() *Config, checker CredentialChecker, opts ...Option) *Authenticator {
	a := &Authenticator{
		config:   config,
		checker:  checker,
		listener: NopListener{},
		codes:    serr.NewCodes(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.limiters = cache.NewLocal(cache.WithClock[*rate.Limiter](a.now))
	return a
}

// Login authenticates uid and issues a token valid for validFor (the
// configured TTL when zero). It returns the token and the caller it was
// issued to.
func (a *Authenticator) Login(
	ctx context.Context, uid, pwd string, metadata map[string]string, validFor time.Duration,
) (string, *Caller, error) {
	cfg := a.config()
	if cfg == nil {
		return "", nil, errors.New("auth configuration is not loaded")
	}
	if !a.allowLogin(cfg, uid) {
		err := serr.Fail(http.StatusForbidden, a.codes.Err(serr.KindAuthLoginLocked, "too many login attempts", nil))
		a.listener.OnLoginFailure(ctx, uid, err)
		return "", nil, err
	}

	caller, err := a.checker.Authenticate(ctx, uid, pwd, metadata)
	if err != nil {
		a.listener.OnLoginFailure(ctx, uid, err)
		return "", nil, fmt.Errorf("failed to authenticate %s: %w", uid, err)
	}
	if caller == nil {
		err := serr.Fail(http.StatusUnauthorized, a.codes.Err(serr.KindAuthInvalidUser, "invalid username or password", nil))
		a.listener.OnLoginFailure(ctx, uid, err)
		return "", nil, err
	}

	if validFor <= 0 {
		validFor = cfg.TokenTTL
	}
	token, err := a.Sign(caller, validFor)
	if err != nil {
		return "", nil, err
	}
	a.listener.OnLoginSuccess(ctx, uid, token)
	return token, caller, nil
}

// Sign issues a token for c valid for validFor.
func (a *Authenticator) Sign(c *Caller, validFor time.Duration) (string, error) {
	cfg := a.config()
	if cfg == nil || cfg.signKey == nil {
		return "", ErrNoSigningKey
	}
	now := a.now()
	claims := c.toClaims(cfg.Issuer, now, now.Add(validFor))
	token, err := jwt.NewWithClaims(cfg.method, claims).SignedString(cfg.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// VerifyBearerToken verifies the bearer token in header and returns the
// caller it was issued to. Failures are *errors.Failure values with status
// 401; overrideCode, when non-zero, replaces their error code.
func (a *Authenticator) VerifyBearerToken(
	ctx context.Context, header http.Header, blacklist cache.Blacklist, overrideCode int,
) (*Caller, error) {
	fail := func(kind serr.Kind, msg string, cause error) error {
		e := a.codes.Err(kind, msg, cause)
		if overrideCode != 0 {
			e.ErrorCode = overrideCode
		}
		return serr.Fail(http.StatusUnauthorized, e)
	}

	raw := BearerToken(header)
	if raw == "" {
		return nil, fail(serr.KindAuthRequireToken, "missing bearer token", nil)
	}
	cfg := a.config()
	if cfg == nil {
		return nil, errors.New("auth configuration is not loaded")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, cfg.keyFunc, a.parserOptions(cfg)...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fail(serr.KindAuthExpiredToken, "token expired", nil)
	case err != nil:
		logger.Debugf("rejected bearer token: %v", err)
		return nil, fail(serr.KindAuthInvalidToken, "invalid token", nil)
	}

	jti, _ := claims["jti"].(string)
	if blacklist != nil && jti != "" {
		revoked, err := blacklist.IsBlacklist(ctx, jti)
		if err != nil {
			return nil, fmt.Errorf("failed to check token revocation: %w", err)
		}
		if revoked {
			return nil, fail(serr.KindAuthRevokedToken, "token revoked", nil)
		}
	}

	caller, err := callerFromClaims(claims)
	if err != nil {
		return nil, fail(serr.KindAuthInvalidToken, "invalid token", err)
	}
	return caller, nil
}

// Logout revokes the bearer token in header. An expired token is accepted
// and nothing is recorded. It returns 204 on success; a token that cannot
// be parsed fails with 403.
func (a *Authenticator) Logout(ctx context.Context, header http.Header, blacklist cache.Blacklist) (int, error) {
	return a.LogoutToken(ctx, BearerToken(header), blacklist)
}

// LogoutToken is Logout for a raw token.
func (a *Authenticator) LogoutToken(ctx context.Context, raw string, blacklist cache.Blacklist) (int, error) {
	reject := func(cause error) (int, error) {
		return http.StatusForbidden, serr.Fail(http.StatusForbidden,
			a.codes.Err(serr.KindAuthLogoutRejected, "invalid token", cause))
	}
	if raw == "" {
		return reject(nil)
	}
	cfg := a.config()
	if cfg == nil {
		return http.StatusInternalServerError, errors.New("auth configuration is not loaded")
	}

	claims := jwt.MapClaims{}
	opts := append(a.parserOptions(cfg), jwt.WithoutClaimsValidation())
	if _, err := jwt.ParseWithClaims(raw, claims, cfg.keyFunc, opts...); err != nil {
		return reject(err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return reject(err)
	}
	remaining := exp.Sub(a.now())
	if remaining <= 0 {
		return http.StatusNoContent, nil
	}

	if jti, _ := claims["jti"].(string); jti != "" && blacklist != nil {
		if err := blacklist.Blacklist(ctx, jti, raw, remaining); err != nil {
			return http.StatusInternalServerError, fmt.Errorf("failed to revoke token: %w", err)
		}
	}
	a.listener.OnLogout(ctx, claims, raw, remaining)
	return http.StatusNoContent, nil
}

// IsCallerInRole reports whether the current role mapping grants role to c.
func (a *Authenticator) IsCallerInRole(c *Caller, role string) bool {
	cfg := a.config()
	return cfg != nil && cfg.IsCallerInRole(c, role)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(header http.Header) string {
	v := header.Get("Authorization")
	if len(v) < 7 || !strings.EqualFold(v[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(v[7:])
}

func (a *Authenticator) parserOptions(cfg *Config) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{cfg.method.Alg()}),
		jwt.WithJSONNumber(),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return opts
}

func (c *Config) keyFunc(*jwt.Token) (any, error) {
	if c.verifyKey == nil {
		return nil, errors.New("no verification key configured")
	}
	return c.verifyKey, nil
}

func (a *Authenticator) allowLogin(cfg *Config, uid string) bool {
	if cfg.LoginRatePerMinute <= 0 {
		return true
	}
	l, ok := a.limiters.Get(uid)
	if !ok {
		burst := cfg.LoginBurst
		if burst <= 0 {
			burst = cfg.LoginRatePerMinute
		}
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.LoginRatePerMinute)), burst)
	}
	a.limiters.Put(uid, l, cache.TTL(time.Hour))
	return l.AllowN(a.now(), 1)
}
