// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_RoleMapping(t *testing.T) {
	t.Parallel()

	cfg := &Config{SymmetricKey: base64.StdEncoding.EncodeToString([]byte("secret"))}
	require.NoError(t, cfg.Customize(map[string]string{
		"roles.admin.groups":  "ops, root",
		"roles.admin.users":   "carol",
		"roles.viewer.groups": "dev",
		"roles.broken":        "ignored",
	}, ""))

	tests := []struct {
		name   string
		caller *Caller
		role   string
		want   bool
	}{
		{"group match", &Caller{UserName: "alice", Groups: []string{"ops"}}, "admin", true},
		{"user match", &Caller{UserName: "carol"}, "admin", true},
		{"no match", &Caller{UserName: "bob", Groups: []string{"dev"}}, "admin", false},
		{"undefined role", &Caller{UserName: "carol"}, "auditor", false},
		{"nil caller", nil, "admin", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, cfg.IsCallerInRole(tt.caller, tt.role))
		})
	}

	assert.Equal(t, []string{"admin", "viewer"}, cfg.Roles())
	assert.Equal(t, []string{"auditor"}, cfg.UndefinedRoles([]string{"admin", "auditor"}))
	assert.Equal(t, "HS256", cfg.SigningMethod().Alg())
	assert.Equal(t, DefaultTokenTTL, cfg.TokenTTL)
}

func TestConfig_Users(t *testing.T) {
	t.Parallel()

	cfg := &Config{SymmetricKey: base64.StdEncoding.EncodeToString([]byte("secret"))}
	require.NoError(t, cfg.Customize(map[string]string{
		"users.alice.password":    "hash",
		"users.alice.groups":      "ops,dev",
		"users.alice.id":          "7",
		"users.alice.tenant.id":   "2",
		"users.alice.tenant.name": "acme",
	}, ""))

	u, ok := cfg.User("alice")
	require.True(t, ok)
	assert.Equal(t, UserEntry{ID: 7, PasswordHash: "hash", Groups: []string{"ops", "dev"}, TenantID: 2, TenantName: "acme"}, u)

	bad := &Config{SymmetricKey: base64.StdEncoding.EncodeToString([]byte("secret"))}
	assert.Error(t, bad.Customize(map[string]string{"users.bob.id": "x"}, ""))
}

func TestConfig_Keys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	writePEM(t, filepath.Join(dir, "private.pem"), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	writePEM(t, filepath.Join(dir, "public.pem"), "PUBLIC KEY", pub)

	tests := []struct {
		name    string
		cfg     Config
		wantAlg string
		wantErr bool
	}{
		{name: "symmetric default", cfg: Config{SymmetricKey: "c2VjcmV0"}, wantAlg: "HS256"},
		{name: "symmetric HS512", cfg: Config{SymmetricKey: "c2VjcmV0", Algorithm: "hs512"}, wantAlg: "HS512"},
		{name: "symmetric with RS alg", cfg: Config{SymmetricKey: "c2VjcmV0", Algorithm: "RS256"}, wantErr: true},
		{name: "bad base64", cfg: Config{SymmetricKey: "%%%"}, wantErr: true},
		{name: "rsa pair", cfg: Config{PrivateKeyFile: "private.pem", PublicKeyFile: "public.pem"}, wantAlg: "RS256"},
		{name: "public only", cfg: Config{PublicKeyFile: "public.pem"}, wantAlg: "RS256"},
		{name: "missing file", cfg: Config{PrivateKeyFile: "nope.pem"}, wantErr: true},
		{name: "nothing", cfg: Config{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			err := cfg.Customize(nil, dir)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlg, cfg.SigningMethod().Alg())
			assert.NotNil(t, cfg.verifyKey)
		})
	}
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0600))
}
