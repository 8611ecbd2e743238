// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenID(t *testing.T) {
	t.Parallel()

	c := &Caller{TenantID: 3, UserID: 42, UserName: "alice"}
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "3.42_alice_1700000000123", TokenID(c, now))
}

func TestCaller_ClaimsRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		caller *Caller
	}{
		{
			name: "full caller",
			caller: &Caller{
				TenantID:   9,
				TenantName: "acme",
				UserID:     1234567890123,
				UserName:   "alice",
				Groups:     []string{"ops", "dev"},
				Props: map[string]Value{
					"plan":    StringValue("gold"),
					"quota":   NumberValue(12.5),
					"beta":    BoolValue(true),
					"regions": ListValue(StringValue("eu"), StringValue("us")),
					"limits":  MapValue(map[string]Value{"rps": NumberValue(10)}),
				},
			},
		},
		{
			name:   "minimal caller",
			caller: &Caller{UserName: "bob"},
		},
	}

	key := []byte("0123456789abcdef0123456789abcdef")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			now := time.Now()
			claims := tt.caller.toClaims("summer", now, now.Add(time.Hour))
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
			require.NoError(t, err)

			parsed := jwt.MapClaims{}
			_, err = jwt.ParseWithClaims(signed, parsed, func(*jwt.Token) (any, error) { return key, nil }, jwt.WithJSONNumber())
			require.NoError(t, err)

			got, err := callerFromClaims(parsed)
			require.NoError(t, err)

			assert.Equal(t, tt.caller.TenantID, got.TenantID)
			assert.Equal(t, tt.caller.TenantName, got.TenantName)
			assert.Equal(t, tt.caller.UserID, got.UserID)
			assert.Equal(t, tt.caller.UserName, got.UserName)
			assert.ElementsMatch(t, tt.caller.Groups, got.Groups)
			require.Len(t, got.Props, len(tt.caller.Props))
			for k, want := range tt.caller.Props {
				wantJSON, _ := json.Marshal(want)
				gotJSON, _ := json.Marshal(got.Props[k])
				assert.JSONEq(t, string(wantJSON), string(gotJSON), k)
			}
			for k := range reservedClaims {
				assert.NotContains(t, got.Props, k)
			}
		})
	}
}

func TestCaller_ReservedPropsAreNotEmitted(t *testing.T) {
	t.Parallel()

	c := &Caller{UserName: "alice", Props: map[string]Value{"sub": StringValue("mallory"), "x": StringValue("y")}}
	claims := c.toClaims("", time.Now(), time.Now().Add(time.Minute))
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, "y", claims["x"])
	assert.NotContains(t, claims, "aud", "empty group list has no audience")
}

func TestCallerFromClaims_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"missing sub", jwt.MapClaims{}},
		{"bad caller id", jwt.MapClaims{"sub": "a", ClaimCallerID: "x"}},
		{"unsupported prop", jwt.MapClaims{"sub": "a", "p": struct{}{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := callerFromClaims(tt.claims)
			assert.Error(t, err)
		})
	}
}

func TestGroupsClaim(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, groupsClaim("a, b,"))
	assert.Equal(t, []string{"a", "b"}, groupsClaim([]any{"a", "b", 3}))
	assert.Nil(t, groupsClaim(nil))
}

func TestCallerContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Equal(t, ctx, WithCaller(ctx, nil))

	c := &Caller{UserName: "alice"}
	got, ok := CallerFromContext(WithCaller(ctx, c))
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = CallerFromContext(ctx)
	assert.False(t, ok)
}

func TestCaller_StringAndJSON(t *testing.T) {
	t.Parallel()

	var nilCaller *Caller
	assert.Equal(t, "<nil>", nilCaller.String())

	c := &Caller{TenantID: 1, UserID: 2, UserName: "alice", Props: map[string]Value{"k": StringValue("v")}}
	assert.Equal(t, `Caller{tenant:1, user:2, name:"alice"}`, c.String())

	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tenantId":1,"userId":2,"userName":"alice","props":{"k":"v"}}`, string(b))
}

func TestValue(t *testing.T) {
	t.Parallel()

	v, err := ValueOf(map[string]any{"a": []any{"x", 1.0, true, nil}})
	require.NoError(t, err)
	m, ok := v.Map()
	require.True(t, ok)
	list, ok := m["a"].List()
	require.True(t, ok)
	require.Len(t, list, 4)
	s, _ := list[0].Str()
	assert.Equal(t, "x", s)
	n, _ := list[1].Num()
	assert.InDelta(t, 1.0, n, 0)
	assert.Equal(t, KindNull, list[3].Kind())

	_, err = ValueOf(make(chan int))
	assert.Error(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal([]byte(`{"b":2,"a":1}`), &decoded))
	out, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
	assert.Equal(t, "12.5", NumberValue(12.5).String())
}
