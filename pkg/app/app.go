// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app assembles a summerboot application from a catalog: it scans
// the registry, loads configuration, and wires authentication, the HTTP
// pipeline, the gRPC listener and the configuration monitor.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/stacklok/toolhive-core/env"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/summerboot/pkg/audit"
	"github.com/stacklok/summerboot/pkg/auth"
	"github.com/stacklok/summerboot/pkg/cache"
	"github.com/stacklok/summerboot/pkg/config"
	serr "github.com/stacklok/summerboot/pkg/errors"
	"github.com/stacklok/summerboot/pkg/lifecycle"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/metrics"
	"github.com/stacklok/summerboot/pkg/monitor"
	"github.com/stacklok/summerboot/pkg/registry"
	"github.com/stacklok/summerboot/pkg/server"
)

// Config keys of the built-in configs. Both types are named Config, so the
// keys are set explicitly.
const (
	ServerConfigKey = "ServerConfig"
	AuthConfigKey   = "AuthConfig"
)

// ErrorCodeContractTag tags the uniqueness contract over error codes.
const ErrorCodeContractTag = "errorCode"

// Options configures New.
type Options struct {
	// ConfigDir is the configuration directory, or the base directory of
	// domains when Domain is set. See ResolveConfigDir for the defaults.
	ConfigDir string
	Domain    string
	// Addr overrides server.addr.
	Addr string
	// Catalog holds the application's registrations. It is not modified;
	// built-ins and plugins are added to a copy.
	Catalog         *registry.Catalog
	StrictPlugins   bool
	LogToFile       bool
	MonitorInterval time.Duration

	Env               env.Reader
	AuditOutput       io.Writer
	CredentialChecker auth.CredentialChecker
	AuthListener      auth.Listener
}

// DefaultConfigDir is the configuration directory used when neither a
// directory nor a domain is given.
const DefaultConfigDir = "configuration"

// ResolveConfigDir returns the configuration directory of domain under
// base, or base itself without a domain. An empty base means
// DefaultConfigDir without a domain and the working directory with one.
func ResolveConfigDir(base, domain string) string {
	if domain == "" {
		if base == "" {
			return DefaultConfigDir
		}
		return base
	}
	if base == "" {
		base = "."
	}
	return filepath.Join(base, "standalone_"+domain, "configuration")
}

// App is an assembled application.
type App struct {
	opts Options
	dir  string
	memo []string

	reg       *registry.Registry
	store     *config.Store
	codes     *serr.Codes
	pause     *lifecycle.PauseFlag
	metrics   *metrics.Metrics
	authn     *auth.Authenticator
	blacklist cache.Blacklist
	server    *server.Server
	grpc      *server.GRPCServer

	closers []func() error
}

// New scans the catalog, loads every config and builds the components. A
// fatal scan finding is returned as *registry.FatalError.
func New(ctx context.Context, opts Options) (*App, error) {
	a, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := a.buildAuth(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildServer(); err != nil {
		a.Close()
		return nil, err
	}

	a.pause.OnChange(a.metrics.SetPaused)
	a.pause.OnChange(func(paused bool, reason string) {
		logger.Warnf("service paused=%t: %s", paused, reason)
	})

	logger.Infof("%s assembled from %s", a.reg.Version().Display, a.dir)
	if memo := a.Memo(); memo != "" {
		logger.Infof("startup notes:%s", memo)
	}
	return a, nil
}

// LoadConfig scans the catalog and loads every config without building the
// server. The returned App only serves Registry, Store and ConfigDir.
func LoadConfig(ctx context.Context, opts Options) (*App, error) {
	if opts.Env == nil {
		opts.Env = &env.OSReader{}
	}
	if opts.Catalog == nil {
		opts.Catalog = registry.NewCatalog()
	}

	dir, err := filepath.Abs(ResolveConfigDir(opts.ConfigDir, opts.Domain))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration directory: %w", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("configuration directory %s does not exist", dir)
	}

	a := &App{
		opts:    opts,
		dir:     dir,
		codes:   serr.NewCodes(),
		pause:   lifecycle.NewPauseFlag(),
		metrics: metrics.New(),
	}

	if err := a.scan(); err != nil {
		return nil, err
	}
	if opts.LogToFile {
		path := filepath.Join(dir, "..", "logs", a.reg.Version().LogFileName+".log")
		logger.InitializeWithEnv(opts.Env, logger.Options{LogFile: filepath.Clean(path)})
	}
	if err := a.loadConfigs(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) scan() error {
	c := a.opts.Catalog.Clone()
	serverDesc := registry.NewConfigDescriptor[server.Config](server.ConfigFileName)
	serverDesc.Key = ServerConfigKey
	authDesc := registry.NewConfigDescriptor[auth.Config](auth.ConfigFileName)
	authDesc.Key = AuthConfigKey
	c.AddConfig(serverDesc)
	c.AddConfig(authDesc)
	c.AddUniquenessContract(registry.UniquenessContract{
		Tag:       ErrorCodeContractTag,
		FieldType: reflect.TypeFor[int](),
		Constants: a.codes.Snapshot(),
	})
	c.AddController(a.builtinController())

	scanner := registry.NewScanner(
		registry.WithPluginDir(filepath.Join(a.dir, "..", "plugin")),
		registry.WithStrictPlugins(a.opts.StrictPlugins),
	)
	reg, memo, err := scanner.Scan(c)
	if err != nil {
		return err
	}
	a.reg = reg
	if memo != "" {
		a.memo = append(a.memo, strings.TrimPrefix(memo, "\n\t- "))
	}
	return nil
}

// loadConfigs loads every config, generating missing built-in files first.
func (a *App) loadConfigs(ctx context.Context) error {
	masterPassword := a.opts.Env.Getenv(config.MasterPasswordEnv) != ""
	for _, d := range a.reg.ConfigDescriptors() {
		if _, err := writeTemplate(a.dir, d.FileName, masterPassword); err != nil {
			return err
		}
	}

	a.store = config.NewStore(a.dir, a.reg.ConfigDescriptors(), a.reg.TagOptions(),
		config.WithEnv(a.opts.Env),
		config.WithReloadHook(a.metrics.ConfigLoaded),
		config.WithReloadHook(a.onConfigLoaded),
	)
	if err := a.store.LoadAll(ctx); err != nil {
		return err
	}
	return nil
}

// onConfigLoaded applies error code overrides whenever server.properties
// loads.
func (a *App) onConfigLoaded(fileName string, err error) {
	if err != nil || fileName != server.ConfigFileName {
		return
	}
	if cfg := a.serverConfig(); cfg != nil {
		if err := a.codes.Apply(cfg.ErrorCodes()); err != nil {
			logger.Warnf("ignoring error code overrides: %v", err)
		}
	}
}

func (a *App) serverConfig() *server.Config {
	cfg, _ := config.Snapshot[server.Config](a.store, ServerConfigKey)
	return cfg
}

func (a *App) authConfig() *auth.Config {
	cfg, _ := config.Snapshot[auth.Config](a.store, AuthConfigKey)
	return cfg
}

func (a *App) buildAuth(ctx context.Context) error {
	authCfg := a.authConfig()
	if authCfg == nil {
		return errors.New("auth configuration is not loaded")
	}

	checker := a.opts.CredentialChecker
	if checker == nil {
		checker = auth.NewPropertiesCredentialChecker(a.authConfig)
	}
	authOpts := []auth.Option{auth.WithCodes(a.codes)}
	if a.opts.AuthListener != nil {
		authOpts = append(authOpts, auth.WithListener(a.opts.AuthListener))
	}
	a.authn = auth.NewAuthenticator(a.authConfig, checker, authOpts...)

	if len(authCfg.RevocationRedisAddrs) > 0 {
		rb, err := cache.NewRedisBlacklistFromOptions(ctx, cache.RedisOptions{
			Addrs:     authCfg.RevocationRedisAddrs,
			Password:  authCfg.RevocationRedisPassword,
			DB:        authCfg.RevocationRedisDB,
			KeyPrefix: authCfg.RevocationKeyPrefix,
		})
		if err != nil {
			return err
		}
		a.blacklist = rb
		a.closers = append(a.closers, rb.Close)
		logger.Infof("token revocation list stored in redis %v", authCfg.RevocationRedisAddrs)
	} else {
		m, err := cache.NewMetrics(a.metrics.Registerer(), "revocation")
		if err != nil {
			return err
		}
		a.blacklist = cache.NewLocalBlacklist(cache.NewLocal(cache.WithMetrics[string](m)))
	}

	if undefined := authCfg.UndefinedRoles(a.reg.DeclaredRoles()); len(undefined) > 0 {
		a.memo = append(a.memo, fmt.Sprintf("roles declared but not mapped in %s: %s",
			auth.ConfigFileName, strings.Join(undefined, ", ")))
	}
	return nil
}

func (a *App) buildServer() error {
	webMetrics, err := cache.NewMetrics(a.metrics.Registerer(), "webresource")
	if err != nil {
		return err
	}
	opts := []server.Option{
		server.WithBlacklist(a.blacklist),
		server.WithPauseFlag(a.pause),
		server.WithCodes(a.codes),
		server.WithMetrics(a.metrics),
		server.WithAuditor(audit.NewAuditor(a.opts.AuditOutput)),
		server.WithWebCache(cache.NewLocal(cache.WithMetrics[string](webMetrics))),
	}
	if p, ok := registry.Resolve[server.Processor](a.reg, "", ""); ok {
		opts = append(opts, server.WithProcessor(p))
	}
	a.server = server.New(a.serverConfig, a.reg, a.authn, opts...)

	if a.reg.HasGRPCImpl() {
		a.grpc = server.NewGRPCServer(a.reg, a.pause)
	}
	return nil
}

// Run serves until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.serverConfig()
	addr := cfg.Addr
	if a.opts.Addr != "" {
		addr = a.opts.Addr
	}

	g, gctx := errgroup.WithContext(ctx)

	listener, cleanup, err := server.Listen(addr)
	if err != nil {
		return err
	}
	defer cleanup()
	g.Go(func() error {
		return a.server.Serve(gctx, listener)
	})

	if a.grpc != nil {
		if cfg.GRPCAddr == "" {
			logger.Warnf("gRPC services registered but server.grpc.addr is not set")
		} else {
			grpcListener, grpcCleanup, err := server.Listen(cfg.GRPCAddr)
			if err != nil {
				_ = listener.Close()
				return err
			}
			defer grpcCleanup()
			g.Go(func() error {
				return a.grpc.Serve(gctx, grpcListener)
			})
		}
	}

	mon := monitor.New(a.dir, a.store.Files(gctx), a.pause, monitor.WithInterval(a.opts.MonitorInterval))
	g.Go(func() error {
		return mon.Run(gctx)
	})

	err = g.Wait()
	a.Close()
	return err
}

// Close releases external connections.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			logger.Warnf("failed to close: %v", err)
		}
	}
	a.closers = nil
}

// Handler returns the HTTP pipeline.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Registry returns the scanned registry.
func (a *App) Registry() *registry.Registry {
	return a.reg
}

// Store returns the configuration store.
func (a *App) Store() *config.Store {
	return a.store
}

// Authenticator returns the token authenticator.
func (a *App) Authenticator() *auth.Authenticator {
	return a.authn
}

// Pause returns the pause flag.
func (a *App) Pause() *lifecycle.PauseFlag {
	return a.pause
}

// Codes returns the error code table.
func (a *App) Codes() *serr.Codes {
	return a.codes
}

// ConfigDir returns the resolved configuration directory.
func (a *App) ConfigDir() string {
	return a.dir
}

// Memo returns the startup notes, one per line.
func (a *App) Memo() string {
	var sb strings.Builder
	for _, m := range a.memo {
		sb.WriteString("\n\t- ")
		sb.WriteString(m)
	}
	return sb.String()
}
