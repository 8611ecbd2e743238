// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/summerboot/pkg/service"
)

type greeter interface {
	Greet() string
}

type englishGreeter struct{}

func (englishGreeter) Greet() string { return "hello" }

type frenchGreeter struct{}

func (frenchGreeter) Greet() string { return "bonjour" }

type stamp struct{}

func (stamp) Wrap(next http.Handler) http.Handler { return next }

type serverConfig struct {
	Addr string
}

type authConfig struct{}

func noop(context.Context, *service.ServiceContext) error { return nil }

func fatalDiagnostic(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var fe *FatalError
	require.True(t, errors.As(err, &fe), "expected *FatalError, got %T: %v", err, err)
	assert.True(t, IsFatal(err))
	return fe.Diagnostic
}

func TestScan_Defaults(t *testing.T) {
	t.Parallel()

	r, memo, err := NewScanner().Scan(NewCatalog())
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion(), r.Version())
	assert.Contains(t, memo, "version metadata not set")
	assert.False(t, r.HasControllers())
	assert.False(t, r.HasGRPCImpl())
	assert.Empty(t, r.DeclaredRoles())
}

func TestScan_ServiceBindings(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.AddService(englishGreeter{}, Bind(BindingOf[greeter]()))
	c.AddService(frenchGreeter{}, Bind(BindingOf[greeter]()), WithImplTag("fr"))
	c.AddService(stamp{}, AsChannelHandler(StageInbound))

	r, _, err := NewScanner().Scan(c)
	require.NoError(t, err)

	g, ok := Resolve[greeter](r, "", "")
	require.True(t, ok)
	assert.Equal(t, "hello", g.Greet())

	g, ok = Resolve[greeter](r, "", "fr")
	require.True(t, ok)
	assert.Equal(t, "bonjour", g.Greet())

	_, ok = Resolve[greeter](r, "missing", "")
	assert.False(t, ok)

	handlers := r.ChannelHandlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, StageInbound, handlers[0].Stage)
}

func TestScan_RepeatedBindingIsNotAConflict(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.AddService(stamp{}, Bind(ChannelHandlerBinding), WithID("only"), AsChannelHandler(StageInbound))
	c.AddService(englishGreeter{}, Bind(BindingOf[greeter](), BindingOf[greeter]()))

	r, _, err := NewScanner().Scan(c)
	require.NoError(t, err)

	handlers := r.ChannelHandlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, StageInbound, handlers[0].Stage)
	assert.Equal(t, []string{"only"}, r.Bindings()[ChannelHandlerBinding.Name][BindingKey("", "")])
}

func TestScan_CatalogReusable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeter.so"), nil, 0o600))

	s := NewScanner(WithPluginDir(dir))
	s.open = func(string) (func(*Catalog), error) {
		return func(c *Catalog) {
			c.AddService(englishGreeter{}, Bind(BindingOf[greeter]()))
		}, nil
	}

	c := NewCatalog()
	c.AddController(Controller{ID: "ping", Routes: []service.Route{
		{Method: http.MethodGet, Path: "/ping", Handler: noop},
	}})
	for range 2 {
		r, _, err := s.Scan(c)
		require.NoError(t, err)
		_, ok := Resolve[greeter](r, "", "")
		assert.True(t, ok)
	}
	assert.Empty(t, c.services)
	assert.Len(t, c.controllers, 1)
}

func TestScan_DeclaredInterfacesUsedWithoutBind(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.AddService(englishGreeter{}, Declares(BindingOf[greeter]()))

	r, _, err := NewScanner().Scan(c)
	require.NoError(t, err)
	_, ok := Resolve[greeter](r, "", "")
	assert.True(t, ok)
}

func TestScan_Fatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		build    func(c *Catalog)
		contains []string
	}{
		{
			name: "duplicate binding lists both competitors",
			build: func(c *Catalog) {
				c.AddService(englishGreeter{}, Bind(BindingOf[greeter]()))
				c.AddService(frenchGreeter{}, Bind(BindingOf[greeter]()))
			},
			contains: []string{"registry.englishGreeter", "registry.frenchGreeter", "name=, implTag="},
		},
		{
			name: "no binding interface",
			build: func(c *Catalog) {
				c.AddService(englishGreeter{})
			},
			contains: []string{"has no binding interface"},
		},
		{
			name: "binding not implemented",
			build: func(c *Catalog) {
				c.AddService(serverConfig{}, Bind(BindingOf[greeter]()))
			},
			contains: []string{"does not implement registry.greeter"},
		},
		{
			name: "binding is not an interface",
			build: func(c *Catalog) {
				c.AddService(serverConfig{}, Bind(BindingOf[serverConfig]()))
			},
			contains: []string{"is not an interface"},
		},
		{
			name: "channel handler without stage",
			build: func(c *Catalog) {
				c.AddService(stamp{}, AsChannelHandler(StageUnspecified))
			},
			contains: []string{"registry.stamp", "stage"},
		},
		{
			name: "duplicate route",
			build: func(c *Catalog) {
				c.AddController(Controller{ID: "a", Routes: []service.Route{{Method: "GET", Path: "/x", Handler: noop}}})
				c.AddController(Controller{ID: "b", Routes: []service.Route{{Method: "get", Path: "/x", Handler: noop}}})
			},
			contains: []string{"GET /x", "a", "b"},
		},
		{
			name: "route without handler",
			build: func(c *Catalog) {
				c.AddController(Controller{ID: "a", Routes: []service.Route{{Method: "GET", Path: "/x"}}})
			},
			contains: []string{"has no handler"},
		},
		{
			name: "nil service",
			build: func(c *Catalog) {
				c.AddService(nil, WithID("ghost"))
			},
			contains: []string{"ghost"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewCatalog()
			tt.build(c)
			r, _, err := NewScanner().Scan(c)
			assert.Nil(t, r)
			diag := fatalDiagnostic(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, diag, s)
			}
		})
	}
}

func TestScan_Uniqueness(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.AddUniquenessContract(UniquenessContract{
		Tag:       "errorCode",
		FieldType: reflect.TypeFor[int](),
		Constants: map[string]any{"NOT_FOUND": 404, "GONE": 410, "label": "ignored"},
	})
	c.AddUniquenessContract(UniquenessContract{
		Tag:       "errorCode",
		FieldType: reflect.TypeFor[int](),
		Constants: map[string]any{"MISSING": 404},
	})

	_, _, err := NewScanner().Scan(c)
	diag := fatalDiagnostic(t, err)
	assert.Contains(t, diag, `{"errorCode":{"404":["MISSING","NOT_FOUND"]}}`)
}

func TestScan_UniquenessPasses(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.AddUniquenessContract(UniquenessContract{
		Tag:       "errorCode",
		Constants: map[string]any{"A": 1, "B": 2},
	})
	_, _, err := NewScanner().Scan(c)
	assert.NoError(t, err)
}

func TestScan_ConfigDescriptorsFirstWins(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.AddConfig(NewConfigDescriptor[serverConfig]("server.properties"))
	c.AddConfig(NewConfigDescriptor[authConfig]("auth.properties"))
	c.AddConfig(NewConfigDescriptor[serverConfig]("other.properties"))

	r, memo, err := NewScanner().Scan(c)
	require.NoError(t, err)

	descs := r.ConfigDescriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "serverConfig", descs[0].Key)
	assert.Equal(t, "authConfig", descs[1].Key)

	d, ok := r.ConfigDescriptor("serverConfig")
	require.True(t, ok)
	assert.Equal(t, "server.properties", d.FileName)
	assert.IsType(t, &serverConfig{}, d.New())
	assert.Contains(t, memo, "other.properties")
}

func TestScan_ControllersAndRoles(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.SetVersion(Version{Display: "1.2.3"})
	c.AddController(Controller{
		ID:      "admin",
		ImplTag: "ops",
		Roles:   []string{"admin"},
		Routes: []service.Route{
			{Method: http.MethodPost, Path: "/admin/pause", Handler: noop},
			{Method: http.MethodGet, Path: "/admin/memo", Roles: []string{"auditor"}, Handler: noop},
		},
	})
	c.AddController(Controller{
		ID:     "api",
		Routes: []service.Route{{Method: http.MethodGet, Path: "/secure", Roles: []string{"user", "admin"}, Handler: noop}},
	})

	r, _, err := NewScanner().Scan(c)
	require.NoError(t, err)
	assert.True(t, r.HasControllers())
	assert.Equal(t, []string{"admin", "auditor", "user"}, r.DeclaredRoles())
	assert.Equal(t, []string{"ops"}, r.TagOptions())
	assert.True(t, r.HasTagOption("ops"))
	assert.Equal(t, "1.2.3", r.Version().Display)
	assert.Equal(t, DefaultLogFileName, r.Version().LogFileName)
}

func TestScan_Deterministic(t *testing.T) {
	t.Parallel()

	build := func() *Catalog {
		c := NewCatalog()
		c.AddService(englishGreeter{}, Bind(BindingOf[greeter]()), Named("en"))
		c.AddService(frenchGreeter{}, Bind(BindingOf[greeter]()), Named("fr"))
		c.AddService(stamp{}, AsChannelHandler(StageOutbound))
		c.AddConfig(NewConfigDescriptor[serverConfig]("server.properties"))
		c.AddConfig(NewConfigDescriptor[authConfig]("auth.properties"))
		return c
	}

	first, _, err := NewScanner().Scan(build())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		next, _, err := NewScanner().Scan(build())
		require.NoError(t, err)
		assert.Equal(t, first.Bindings(), next.Bindings())
		assert.Equal(t, keys(first.ConfigDescriptors()), keys(next.ConfigDescriptors()))
	}
}

func keys(descs []ConfigDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Key + "=" + d.FileName
	}
	return out
}

func TestScan_Plugins(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b.so", "a.so", "readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	var opened []string
	s := NewScanner(WithPluginDir(dir))
	s.open = func(path string) (func(*Catalog), error) {
		opened = append(opened, filepath.Base(path))
		if filepath.Base(path) == "b.so" {
			return nil, errors.New("undefined symbol")
		}
		return func(c *Catalog) {
			c.AddService(englishGreeter{}, Bind(BindingOf[greeter]()))
		}, nil
	}

	r, memo, err := s.Scan(NewCatalog())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.so", "b.so"}, opened)
	assert.Contains(t, memo, "plugin b.so skipped")
	_, ok := Resolve[greeter](r, "", "")
	assert.True(t, ok)

	strict := NewScanner(WithPluginDir(dir), WithStrictPlugins(true))
	strict.open = s.open
	_, _, err = strict.Scan(NewCatalog())
	assert.Contains(t, fatalDiagnostic(t, err), "b.so")
}

func TestScan_MissingPluginDir(t *testing.T) {
	t.Parallel()

	_, _, err := NewScanner(WithPluginDir(filepath.Join(t.TempDir(), "nope")), WithStrictPlugins(true)).
		Scan(NewCatalog())
	assert.NoError(t, err)
}
