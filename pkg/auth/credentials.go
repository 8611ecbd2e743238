// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PropertiesCredentialChecker checks passwords against the bcrypt hashes of
// users defined in auth.properties:
//
//	users.alice.password=$2a$10$...
//	users.alice.groups=ops,dev
//	users.alice.id=7
//	users.alice.tenant.id=1
//	users.alice.tenant.name=acme
type PropertiesCredentialChecker struct {
	config func() *Config
}

// NewPropertiesCredentialChecker creates a checker reading the current
// Config snapshot on every call.
func NewPropertiesCredentialChecker(config func() *Config) *PropertiesCredentialChecker {
	return &PropertiesCredentialChecker{config: config}
}

// Authenticate implements CredentialChecker.
func (p *PropertiesCredentialChecker) Authenticate(_ context.Context, uid, pwd string, _ map[string]string) (*Caller, error) {
	cfg := p.config()
	if cfg == nil {
		return nil, errors.New("auth configuration is not loaded")
	}
	u, ok := cfg.User(uid)
	if !ok || u.PasswordHash == "" {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(pwd)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, nil
		}
		return nil, err
	}
	return &Caller{
		TenantID:   u.TenantID,
		TenantName: u.TenantName,
		UserID:     u.ID,
		UserName:   uid,
		Groups:     append([]string(nil), u.Groups...),
	}, nil
}
