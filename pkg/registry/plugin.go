// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"

	"github.com/stacklok/summerboot/pkg/logger"
)

// PluginSymbol is the symbol a plugin exports to contribute to the catalog.
// It must be a func(*registry.Catalog).
const PluginSymbol = "Register"

// PluginPattern matches plugin artifacts inside the plugin directory.
const PluginPattern = "*.so"

type pluginOpener func(path string) (func(*Catalog), error)

func openPlugin(path string) (func(*Catalog), error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(PluginSymbol)
	if err != nil {
		return nil, err
	}
	switch fn := sym.(type) {
	case func(*Catalog):
		return fn, nil
	case *func(*Catalog):
		return *fn, nil
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want func(*registry.Catalog)", PluginSymbol, sym)
	}
}

// loadPlugins lets every plugin in the plugin directory register into c. A
// missing directory is not an error.
func (s *Scanner) loadPlugins(c *Catalog, m *memo) error {
	if _, err := os.Stat(s.pluginDir); os.IsNotExist(err) {
		return nil
	}
	paths, err := filepath.Glob(filepath.Join(s.pluginDir, PluginPattern))
	if err != nil {
		return fmt.Errorf("failed to list plugins: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		register, err := s.open(path)
		if err != nil {
			if s.strict {
				return fatalf("failed to load plugin %s: %v", path, err)
			}
			logger.Warnf("skipping plugin %s: %v", path, err)
			m.add("plugin %s skipped: %v", filepath.Base(path), err)
			continue
		}
		register(c)
		logger.Infof("loaded plugin %s", path)
	}
	return nil
}
