// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/stacklok/summerboot/pkg/logger"
)

// FatalError is a scan finding that must stop the application.
type FatalError struct {
	Diagnostic string
}

func (e *FatalError) Error() string {
	return e.Diagnostic
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func fatalf(format string, args ...any) error {
	return &FatalError{Diagnostic: fmt.Sprintf(format, args...)}
}

// Scanner turns a Catalog, merged with any plugin catalogs, into a Registry.
type Scanner struct {
	pluginDir string
	strict    bool
	open      pluginOpener
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithPluginDir loads plugins from dir before scanning.
func WithPluginDir(dir string) ScannerOption {
	return func(s *Scanner) {
		s.pluginDir = dir
	}
}

// WithStrictPlugins makes a plugin load failure fatal. Otherwise it is noted
// in the memo and the plugin is skipped.
func WithStrictPlugins(strict bool) ScannerOption {
	return func(s *Scanner) {
		s.strict = strict
	}
}

// NewScanner creates a Scanner.
func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{open: openPlugin}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type memo struct {
	sb strings.Builder
}

func (m *memo) add(format string, args ...any) {
	m.sb.WriteString("\n\t- ")
	fmt.Fprintf(&m.sb, format, args...)
}

func (m *memo) String() string {
	return m.sb.String()
}

// Scan validates c and builds the Registry. The returned memo lists the
// recoverable findings. A *FatalError is returned for findings that must stop
// the application. c is not modified.
func (s *Scanner) Scan(c *Catalog) (*Registry, string, error) {
	c = c.Clone()
	m := &memo{}
	if s.pluginDir != "" {
		if err := s.loadPlugins(c, m); err != nil {
			return nil, m.String(), err
		}
	}
	if len(c.errs) > 0 {
		return nil, m.String(), &FatalError{Diagnostic: errors.Join(c.errs...).Error()}
	}

	r := newRegistry()
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := []func(*Catalog, *Registry, *memo) error{
		scanVersion,
		checkUniqueness,
		scanConfigs,
		scanGRPC,
		scanControllers,
		scanServices,
		validateBindings,
		collectRoles,
	}
	for _, step := range steps {
		if err := step(c, r, m); err != nil {
			return nil, m.String(), err
		}
	}

	r.memo = m.String()
	logger.Debugf("scan complete: %d bindings, %d configs, %d controllers, %d gRPC services",
		len(r.bindings), len(r.configs), len(r.controllers), len(r.grpc))
	return r, r.memo, nil
}

func scanVersion(c *Catalog, r *Registry, m *memo) error {
	if c.version == nil {
		r.version = DefaultVersion()
		m.add("version metadata not set, using defaults")
		return nil
	}
	v := *c.version
	if v.LogFileName == "" {
		v.LogFileName = DefaultLogFileName
	}
	if v.Display == "" {
		v.Display = DefaultDisplay
	}
	r.version = v
	return nil
}

func checkUniqueness(c *Catalog, _ *Registry, _ *memo) error {
	// tag -> value -> constant names
	seen := map[string]map[string][]string{}
	for _, contract := range c.contracts {
		values := seen[contract.Tag]
		if values == nil {
			values = map[string][]string{}
			seen[contract.Tag] = values
		}
		for name, v := range contract.Constants {
			if contract.FieldType != nil && reflect.TypeOf(v) != contract.FieldType {
				continue
			}
			key := fmt.Sprint(v)
			values[key] = append(values[key], name)
		}
	}

	report := map[string]map[string][]string{}
	for tag, values := range seen {
		for value, names := range values {
			if len(names) < 2 {
				continue
			}
			sort.Strings(names)
			if report[tag] == nil {
				report[tag] = map[string][]string{}
			}
			report[tag][value] = names
		}
	}
	if len(report) == 0 {
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to render uniqueness report: %w", err)
	}
	return fatalf("duplicated uniqueness values: %s", data)
}

func scanConfigs(c *Catalog, r *Registry, m *memo) error {
	for _, d := range c.configs {
		if d.Key == "" || d.FileName == "" || d.New == nil {
			return fatalf("config descriptor %q for %q is incomplete", d.Key, d.FileName)
		}
		if i, ok := r.configIndex[d.Key]; ok {
			m.add("config %s (%s) ignored, already registered from %s", d.Key, d.FileName, r.configs[i].FileName)
			continue
		}
		r.configIndex[d.Key] = len(r.configs)
		r.configs = append(r.configs, d)
	}
	return nil
}

func scanGRPC(c *Catalog, r *Registry, m *memo) error {
	for _, svc := range c.grpc {
		if svc.Desc == nil || svc.Impl == nil {
			m.add("gRPC service %T ignored, no service descriptor", svc.Impl)
			continue
		}
		if ht := reflect.TypeOf(svc.Desc.HandlerType); ht != nil && ht.Kind() == reflect.Pointer {
			if !reflect.TypeOf(svc.Impl).Implements(ht.Elem()) {
				return fatalf("gRPC service %T does not implement %s", svc.Impl, svc.Desc.ServiceName)
			}
		}
		r.grpc = append(r.grpc, svc)
	}
	return nil
}

func scanControllers(c *Catalog, r *Registry, _ *memo) error {
	routes := map[string]string{}
	for _, ctrl := range c.controllers {
		for _, route := range ctrl.Routes {
			if route.Handler == nil {
				return fatalf("controller %s: route %s %s has no handler", ctrl.ID, route.Method, route.Path)
			}
			key := strings.ToUpper(route.Method) + " " + route.Path
			if owner, ok := routes[key]; ok {
				return fatalf("route %s is declared by both %s and %s", key, owner, ctrl.ID)
			}
			routes[key] = ctrl.ID
		}
		if ctrl.ImplTag != "" {
			r.tagOptions[ctrl.ImplTag] = struct{}{}
		}
		r.controllers = append(r.controllers, ctrl)
	}
	return nil
}

func scanServices(c *Catalog, r *Registry, _ *memo) error {
	for i := range c.services {
		svc := &c.services[i]
		if len(svc.Bindings) == 0 {
			return fatalf("service %s has no binding interface; inherited interfaces are not bound, "+
				"declare the binding explicitly with registry.Bind", svc.ImplementationID)
		}
		implType := reflect.TypeOf(svc.Impl)
		for _, b := range svc.Bindings {
			if b.Type == nil || b.Type.Kind() != reflect.Interface {
				return fatalf("service %s: binding %s is not an interface", svc.ImplementationID, b.Name)
			}
			if !implType.Implements(b.Type) {
				return fatalf("service %s does not implement %s", svc.ImplementationID, b.Name)
			}
			if b.Name == ChannelHandlerBinding.Name {
				if _, ok := stageOrder[svc.ChannelHandlerType]; !ok {
					return fatalf("service %s is bound to %s but its stage %q is not one of inbound, duplex, outbound",
						svc.ImplementationID, b.Name, svc.ChannelHandlerType)
				}
			}
			keys := r.bindings[b.Name]
			if keys == nil {
				keys = map[string][]*ServiceMetadata{}
				r.bindings[b.Name] = keys
			}
			key := BindingKey(svc.Name, svc.ImplTag)
			keys[key] = append(keys[key], svc)
		}
	}
	return nil
}

func validateBindings(_ *Catalog, r *Registry, _ *memo) error {
	var conflicts []string
	for binding, keys := range r.bindings {
		for key, impls := range keys {
			if len(impls) < 2 {
				continue
			}
			ids := make([]string, len(impls))
			for i, impl := range impls {
				ids[i] = impl.ImplementationID
			}
			sort.Strings(ids)
			conflicts = append(conflicts, fmt.Sprintf("%s (%s): %s", binding, key, strings.Join(ids, ", ")))
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	sort.Strings(conflicts)
	return fatalf("multiple implementations found for the same binding:\n\t%s", strings.Join(conflicts, "\n\t"))
}

func collectRoles(_ *Catalog, r *Registry, _ *memo) error {
	set := map[string]struct{}{}
	for _, ctrl := range r.controllers {
		for _, role := range ctrl.Roles {
			set[role] = struct{}{}
		}
		for _, route := range ctrl.Routes {
			for _, role := range route.Roles {
				set[role] = struct{}{}
			}
		}
	}
	r.roles = make([]string, 0, len(set))
	for role := range set {
		r.roles = append(r.roles, role)
	}
	sort.Strings(r.roles)
	return nil
}
