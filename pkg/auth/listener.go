// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

//go:generate mockgen -destination=mocks/mock_listener.go -package=mocks -source=listener.go Listener,CredentialChecker

// Listener is notified of token lifecycle events.
type Listener interface {
	// OnLoginSuccess is called after a token has been issued for uid.
	OnLoginSuccess(ctx context.Context, uid, token string)
	// OnLoginFailure is called when uid failed to authenticate.
	OnLoginFailure(ctx context.Context, uid string, err error)
	// OnLogout is called after a token has been revoked. remaining is how
	// long the token would still have been valid.
	OnLogout(ctx context.Context, claims jwt.MapClaims, token string, remaining time.Duration)
}

// CredentialChecker verifies a user's credentials. It returns a nil Caller
// when the credentials are wrong, and an error only when the check itself
// could not be performed.
type CredentialChecker interface {
	Authenticate(ctx context.Context, uid, pwd string, metadata map[string]string) (*Caller, error)
}

// NopListener ignores all events.
type NopListener struct{}

// OnLoginSuccess implements Listener.
func (NopListener) OnLoginSuccess(context.Context, string, string) {}

// OnLoginFailure implements Listener.
func (NopListener) OnLoginFailure(context.Context, string, error) {}

// OnLogout implements Listener.
func (NopListener) OnLogout(context.Context, jwt.MapClaims, string, time.Duration) {}
