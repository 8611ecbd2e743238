// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth issues, verifies and revokes bearer tokens, and maps the
// authenticated Caller to and from the token's claim set.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Custom claim names.
const (
	ClaimCallerID   = "callerId"
	ClaimTenantID   = "tenantId"
	ClaimTenantName = "tenantName"
)

// reservedClaims are never copied into Caller.Props.
var reservedClaims = map[string]struct{}{
	"aud": {}, "exp": {}, "jti": {}, "iat": {}, "iss": {}, "nbf": {}, "sub": {},
	ClaimCallerID: {}, ClaimTenantID: {}, ClaimTenantName: {},
}

// Caller is an authenticated principal.
type Caller struct {
	TenantID   int64
	TenantName string
	UserID     int64
	UserName   string
	Groups     []string
	Props      map[string]Value
}

// IsInGroup reports whether the caller belongs to group.
func (c *Caller) IsInGroup(group string) bool {
	return slices.Contains(c.Groups, group)
}

// Prop returns a caller property.
func (c *Caller) Prop(key string) (Value, bool) {
	v, ok := c.Props[key]
	return v, ok
}

// SetProp sets a caller property.
func (c *Caller) SetProp(key string, v Value) {
	if c.Props == nil {
		c.Props = map[string]Value{}
	}
	c.Props[key] = v
}

// String returns a short representation that is safe to log.
func (c *Caller) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Caller{tenant:%d, user:%d, name:%q}", c.TenantID, c.UserID, c.UserName)
}

// MarshalJSON implements json.Marshaler.
func (c *Caller) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	type safeCaller struct {
		TenantID   int64            `json:"tenantId"`
		TenantName string           `json:"tenantName,omitempty"`
		UserID     int64            `json:"userId"`
		UserName   string           `json:"userName"`
		Groups     []string         `json:"groups,omitempty"`
		Props      map[string]Value `json:"props,omitempty"`
	}
	return json.Marshal(&safeCaller{
		TenantID:   c.TenantID,
		TenantName: c.TenantName,
		UserID:     c.UserID,
		UserName:   c.UserName,
		Groups:     c.Groups,
		Props:      c.Props,
	})
}

// callerContextKey is the key used to store a Caller in a context.
type callerContextKey struct{}

// WithCaller stores c in ctx. A nil caller returns ctx unchanged.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, callerContextKey{}, c)
}

// CallerFromContext returns the Caller stored in ctx.
func CallerFromContext(ctx context.Context) (*Caller, bool) {
	c, ok := ctx.Value(callerContextKey{}).(*Caller)
	return c, ok
}

// TokenID builds the jti of a token issued to c at now. Other services
// parse this format, so it must not change.
func TokenID(c *Caller, now time.Time) string {
	return strconv.FormatInt(c.TenantID, 10) + "." + strconv.FormatInt(c.UserID, 10) +
		"_" + c.UserName + "_" + strconv.FormatInt(now.UnixMilli(), 10)
}

// toClaims projects c onto a claim set.
func (c *Caller) toClaims(issuer string, issuedAt, expiresAt time.Time) jwt.MapClaims {
	claims := jwt.MapClaims{
		"jti": TokenID(c, issuedAt),
		"sub": c.UserName,
		"iat": issuedAt.Unix(),
		"exp": expiresAt.Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if len(c.Groups) > 0 {
		claims["aud"] = strings.Join(c.Groups, ",")
	}
	if c.UserID != 0 {
		claims[ClaimCallerID] = c.UserID
	}
	if c.TenantID != 0 {
		claims[ClaimTenantID] = c.TenantID
	}
	if c.TenantName != "" {
		claims[ClaimTenantName] = c.TenantName
	}
	for k, v := range c.Props {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		claims[k] = v.Any()
	}
	return claims
}

// callerFromClaims rebuilds a Caller from a verified claim set.
func callerFromClaims(claims jwt.MapClaims) (*Caller, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}

	c := &Caller{UserName: sub}
	if c.UserID, err = int64Claim(claims, ClaimCallerID); err != nil {
		return nil, err
	}
	if c.TenantID, err = int64Claim(claims, ClaimTenantID); err != nil {
		return nil, err
	}
	if name, ok := claims[ClaimTenantName].(string); ok {
		c.TenantName = name
	}
	c.Groups = groupsClaim(claims["aud"])

	for k, raw := range claims {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("claim %q: %w", k, err)
		}
		c.SetProp(k, v)
	}
	return c, nil
}

func int64Claim(claims jwt.MapClaims, name string) (int64, error) {
	switch v := claims[name].(type) {
	case nil:
		return 0, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid %q claim: %w", name, err)
		}
		return n, nil
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %q claim: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid %q claim type %T", name, v)
	}
}

// groupsClaim accepts the comma-joined form this package writes and the
// array form other issuers use.
func groupsClaim(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	case []string:
		parts = v
	}

	var groups []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			groups = append(groups, p)
		}
	}
	return groups
}
