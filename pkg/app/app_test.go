// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stacklok/toolhive-core/env/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/summerboot/pkg/auth"
	"github.com/stacklok/summerboot/pkg/monitor"
	"github.com/stacklok/summerboot/pkg/registry"
	"github.com/stacklok/summerboot/pkg/server"
	"github.com/stacklok/summerboot/pkg/service"
)

func emptyEnv(t *testing.T) *mocks.MockReader {
	t.Helper()
	r := mocks.NewMockReader(gomock.NewController(t))
	r.EXPECT().Getenv(gomock.Any()).Return("").AnyTimes()
	return r
}

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func authProperties(t *testing.T, extra string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("k"), 32))
	return fmt.Sprintf(`jwt.issuer=test
jwt.symmetric.key=%s
jwt.ttl=1h
roles.admin.groups=ops
users.alice.password=%s
users.alice.groups=ops
users.bob.password=%s
users.bob.groups=dev
%s`, key, hash, hash, extra)
}

func newApp(t *testing.T, serverProps, authProps string, catalog *registry.Catalog) *App {
	t.Helper()
	dir := t.TempDir()
	writeConfig(t, dir, server.ConfigFileName, serverProps)
	writeConfig(t, dir, auth.ConfigFileName, authProps)
	a, err := New(context.Background(), Options{
		ConfigDir:   dir,
		Catalog:     catalog,
		Env:         emptyEnv(t),
		AuditOutput: io.Discard,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

type client struct {
	t   *testing.T
	url string
}

func (c client) do(method, path, token string, body io.Reader) (*http.Response, string) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.url+path, body)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, string(data)
}

func (c client) login(uid string) string {
	c.t.Helper()
	form := url.Values{"uid": {uid}, "pwd": {"s3cret"}}
	resp, body := c.do(http.MethodPost, LoginPath, "", strings.NewReader(form.Encode()))
	require.Equal(c.t, http.StatusOK, resp.StatusCode, body)

	var out struct {
		Token  string `json:"token"`
		Caller struct {
			UserName string `json:"userName"`
		} `json:"caller"`
	}
	require.NoError(c.t, json.Unmarshal([]byte(body), &out))
	assert.Equal(c.t, "Bearer "+out.Token, resp.Header.Get("Authorization"))
	assert.Equal(c.t, uid, out.Caller.UserName)
	return out.Token
}

func errorCode(t *testing.T, body string) int {
	t.Helper()
	var out struct {
		ErrorCode int `json:"errorCode"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out), body)
	return out.ErrorCode
}

func serve(t *testing.T, a *App) client {
	t.Helper()
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return client{t: t, url: srv.URL}
}

func TestResolveConfigDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		base   string
		domain string
		want   string
	}{
		{name: "no domain", base: "/etc/acme", want: "/etc/acme"},
		{name: "domain", base: "/opt/acme", domain: "prod", want: "/opt/acme/standalone_prod/configuration"},
		{name: "defaults", want: DefaultConfigDir},
		{name: "domain in working directory", domain: "prod", want: "standalone_prod/configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResolveConfigDir(tt.base, tt.domain))
		})
	}
}

func TestNew_GeneratesMissingBuiltinConfigs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := New(context.Background(), Options{ConfigDir: dir, Env: emptyEnv(t), AuditOutput: io.Discard})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	for _, name := range []string{server.ConfigFileName, auth.ConfigFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
	assert.ElementsMatch(t, []string{ServerConfigKey, AuthConfigKey}, a.Store().Keys())

	raw, ok := a.Store().Raw(AuthConfigKey)
	require.True(t, ok)
	key, err := base64.StdEncoding.DecodeString(raw["jwt.symmetric.key"])
	require.NoError(t, err)
	assert.Len(t, key, 32)

	resp, body := serve(t, a).do(http.MethodGet, HealthPath, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","version":"unknown"}`, body)
}

func TestWriteTemplate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	existing := "server.addr=:9443\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, server.ConfigFileName), []byte(existing), 0o640))

	written, err := writeTemplate(dir, server.ConfigFileName, false)
	require.NoError(t, err)
	assert.False(t, written)
	data, err := os.ReadFile(filepath.Join(dir, server.ConfigFileName))
	require.NoError(t, err)
	assert.Equal(t, existing, string(data))
	info, err := os.Stat(filepath.Join(dir, server.ConfigFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	written, err = writeTemplate(dir, "custom.properties", false)
	require.NoError(t, err)
	assert.False(t, written)
	assert.NoFileExists(t, filepath.Join(dir, "custom.properties"))

	written, err = writeTemplate(dir, auth.ConfigFileName, true)
	require.NoError(t, err)
	assert.True(t, written)
	data, err = os.ReadFile(filepath.Join(dir, auth.ConfigFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "jwt.symmetric.key=DEC(")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestNew_CatalogReusable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	catalog := registry.NewCatalog()
	for range 2 {
		a, err := New(context.Background(), Options{ConfigDir: dir, Catalog: catalog, Env: emptyEnv(t), AuditOutput: io.Discard})
		require.NoError(t, err)
		a.Close()
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Options{
		ConfigDir: t.TempDir(),
		Domain:    "missing",
		Env:       emptyEnv(t),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "standalone_missing")
}

func TestNew_FatalScan(t *testing.T) {
	t.Parallel()

	c := registry.NewCatalog()
	noop := func(context.Context, *service.ServiceContext) error { return nil }
	c.AddController(registry.Controller{
		ID:     "dup",
		Routes: []service.Route{{Method: http.MethodGet, Path: HealthPath, Handler: noop}},
	})
	_, err := New(context.Background(), Options{ConfigDir: t.TempDir(), Catalog: c, Env: emptyEnv(t)})
	require.Error(t, err)
	assert.True(t, registry.IsFatal(err))
}

func TestNew_UndefinedRolesInMemo(t *testing.T) {
	t.Parallel()

	c := registry.NewCatalog()
	c.AddController(registry.Controller{
		ID:    "reports",
		Roles: []string{"auditor"},
		Routes: []service.Route{{
			Method:  http.MethodGet,
			Path:    "/reports",
			Handler: func(context.Context, *service.ServiceContext) error { return nil },
		}},
	})
	a := newApp(t, "", authProperties(t, ""), c)
	assert.Contains(t, a.Memo(), "auditor")
}

func TestBuiltins_LoginPauseLogout(t *testing.T) {
	t.Parallel()

	a := newApp(t, "server.auto204=true\n", authProperties(t, ""), nil)
	c := serve(t, a)

	resp, body := c.do(http.MethodPost, LoginPath, "", strings.NewReader("uid=alice&pwd=wrong"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 40104, errorCode(t, body))

	resp, body = c.do(http.MethodPost, LoginPath, "", strings.NewReader("pwd=s3cret"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 40001, errorCode(t, body))

	admin := c.login("alice")
	dev := c.login("bob")

	resp, body = c.do(http.MethodPost, PausePath+"?reason=maintenance", dev, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 40301, errorCode(t, body))

	resp, body = c.do(http.MethodPost, PausePath+"?reason=maintenance", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, `{"paused":true,"reason":"maintenance"}`, body)

	resp, body = c.do(http.MethodGet, HealthPath, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 50301, errorCode(t, body))
	assert.Contains(t, body, "maintenance")

	resp, body = c.do(http.MethodGet, MemoPath, admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var memo struct {
		Paused  bool     `json:"paused"`
		Configs []string `json:"configs"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &memo))
	assert.True(t, memo.Paused)
	assert.ElementsMatch(t, []string{ServerConfigKey, AuthConfigKey}, memo.Configs)

	resp, body = c.do(http.MethodDelete, PausePath, admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, `{"paused":false,"reason":"resumed by alice"}`, body)

	resp, _ = c.do(http.MethodGet, HealthPath, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodPost, LogoutPath, admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = c.do(http.MethodGet, MemoPath, admin, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 40105, errorCode(t, body))
}

func TestBuiltins_ErrorCodeOverrides(t *testing.T) {
	t.Parallel()

	a := newApp(t, "error.code.AUTH_REQUIRE_TOKEN=49999\n", authProperties(t, ""), nil)
	resp, body := serve(t, a).do(http.MethodGet, MemoPath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 49999, errorCode(t, body))
}

func TestBuiltins_RedisRevocation(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	a := newApp(t, "", authProperties(t, "revocation.redis.addrs="+mr.Addr()+"\nrevocation.redis.prefix=test:revoked:\n"), nil)
	c := serve(t, a)

	token := c.login("alice")
	resp, _ := c.do(http.MethodPost, LogoutPath, token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "test:revoked:"), keys[0])

	resp, body := c.do(http.MethodGet, MemoPath, token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 40105, errorCode(t, body))
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	socket := filepath.Join(dir, "run", "summer.sock")
	a := newApp(t, "", authProperties(t, ""), nil)
	a.opts.Addr = "unix://" + socket
	a.opts.MonitorInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	httpClient := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", socket)
		},
	}}
	require.Eventually(t, func() bool {
		resp, err := httpClient.Get("http://summer" + HealthPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// The monitor pauses the service when the pause file appears.
	require.NoError(t, os.WriteFile(filepath.Join(a.ConfigDir(), monitor.PauseFileName), nil, 0o600))
	require.Eventually(t, a.Pause().IsPaused, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	_, err := os.Stat(socket)
	assert.True(t, os.IsNotExist(err))
}
