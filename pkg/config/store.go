// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads typed configuration objects from .properties files in
// the configuration directory and keeps the current snapshot of each.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/magiconair/properties"
	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/registry"
)

// ErrUnknownConfig is returned for a key or file no descriptor describes.
var ErrUnknownConfig = errors.New("unknown configuration")

// ErrGated is returned when loading a config whose tag gate is closed.
var ErrGated = errors.New("configuration is gated off")

// Customizer is implemented by configs that derive state after binding,
// such as parsed keys or role maps. props holds the decrypted properties.
type Customizer interface {
	Customize(props map[string]string, configDir string) error
}

// ReloadHook observes every load of a file.
type ReloadHook func(fileName string, err error)

// Store holds the current snapshot of every loaded configuration.
type Store struct {
	dir         string
	descriptors []registry.ConfigDescriptor
	tags        map[string]struct{}
	envReader   env.Reader
	hooks       []ReloadHook

	mu     sync.RWMutex
	values map[string]any
	raw    map[string]map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithEnv sets the environment reader the master password is read from.
func WithEnv(r env.Reader) Option {
	return func(s *Store) {
		s.envReader = r
	}
}

// WithReloadHook adds a hook called after every load.
func WithReloadHook(h ReloadHook) Option {
	return func(s *Store) {
		s.hooks = append(s.hooks, h)
	}
}

// NewStore creates a Store over dir. tags are the implTags available to the
// tag gate.
func NewStore(dir string, descriptors []registry.ConfigDescriptor, tags []string, opts ...Option) *Store {
	s := &Store{
		dir:         dir,
		descriptors: descriptors,
		tags:        make(map[string]struct{}, len(tags)),
		envReader:   &env.OSReader{},
		values:      map[string]any{},
		raw:         map[string]map[string]string{},
	}
	for _, t := range tags {
		s.tags[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the configuration directory.
func (s *Store) Dir() string {
	return s.dir
}

// Enabled reports whether the tag gate lets d load.
func (s *Store) Enabled(d registry.ConfigDescriptor) bool {
	if d.GatedOnTag == "" {
		return true
	}
	_, used := s.tags[d.GatedOnTag]
	return used == d.LoadWhenTagUsed
}

// LoadAll loads every enabled config. It stops at the first failure.
func (s *Store) LoadAll(ctx context.Context) error {
	for _, d := range s.descriptors {
		if !s.Enabled(d) {
			logger.Debugf("config %s skipped, gated on tag %s", d.Key, d.GatedOnTag)
			continue
		}
		if err := s.load(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Load loads the config registered under key and swaps its snapshot. On
// failure the previous snapshot is kept.
func (s *Store) Load(ctx context.Context, key string) error {
	d, ok := s.descriptor(func(d registry.ConfigDescriptor) bool { return d.Key == key })
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConfig, key)
	}
	if !s.Enabled(d) {
		return fmt.Errorf("%w: %s", ErrGated, key)
	}
	return s.load(ctx, d)
}

// Reload reloads the config read from path, absolute or relative to the
// configuration directory.
func (s *Store) Reload(ctx context.Context, path string) error {
	d, ok := s.descriptor(func(d registry.ConfigDescriptor) bool {
		return d.FileName == path || s.path(d) == path
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConfig, path)
	}
	return s.load(ctx, d)
}

// Get returns the current snapshot for key. Snapshots must not be modified.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Snapshot returns the current snapshot for key as *T.
func Snapshot[T any](s *Store, key string) (*T, bool) {
	v, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	t, ok := v.(*T)
	return t, ok
}

// Raw returns the properties of key as they are stored on disk, with
// encrypted values left encrypted.
func (s *Store) Raw(key string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, ok := s.raw[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, true
}

// Keys returns the keys of the loaded configs in registration order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for _, d := range s.descriptors {
		if _, ok := s.values[d.Key]; ok {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

// Files returns absolute file path → reload task for every enabled config.
func (s *Store) Files(ctx context.Context) map[string]func() error {
	files := make(map[string]func() error, len(s.descriptors))
	for _, d := range s.descriptors {
		if !s.Enabled(d) {
			continue
		}
		files[s.path(d)] = func() error {
			return s.load(ctx, d)
		}
	}
	return files
}

func (s *Store) descriptor(match func(registry.ConfigDescriptor) bool) (registry.ConfigDescriptor, bool) {
	i := slices.IndexFunc(s.descriptors, match)
	if i < 0 {
		return registry.ConfigDescriptor{}, false
	}
	return s.descriptors[i], true
}

func (s *Store) path(d registry.ConfigDescriptor) string {
	p := filepath.Join(s.dir, d.FileName)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (s *Store) load(ctx context.Context, d registry.ConfigDescriptor) (err error) {
	defer func() {
		for _, h := range s.hooks {
			h(d.FileName, err)
		}
	}()

	path := s.path(d)
	value, raw, err := s.parse(ctx, d, path)
	if err != nil {
		logger.Errorf("failed to load %s, keeping the previous configuration: %v", path, err)
		return fmt.Errorf("failed to load %s: %w", d.FileName, err)
	}

	s.mu.Lock()
	s.values[d.Key] = value
	s.raw[d.Key] = raw
	s.mu.Unlock()
	logger.Infof("loaded %s", path)
	return nil
}

// parse runs the three load phases: parse properties, bind typed fields and
// customize.
func (s *Store) parse(ctx context.Context, d registry.ConfigDescriptor, path string) (any, map[string]string, error) {
	c, err := CipherFromEnv(s.envReader)
	if err != nil {
		return nil, nil, err
	}

	// #nosec G304: path comes from the configuration directory
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if c != nil && hasPlainSecrets(data) {
		changed, err := EncryptFile(ctx, path, c)
		if err != nil {
			return nil, nil, err
		}
		if changed {
			logger.Infof("encrypted DEC() values in %s", path)
			// #nosec G304: path comes from the configuration directory
			if data, err = os.ReadFile(path); err != nil {
				return nil, nil, err
			}
		}
	}

	raw, err := ParseProperties(data)
	if err != nil {
		return nil, nil, err
	}
	props := make(map[string]string, len(raw))
	for k, v := range raw {
		props[k] = v
	}
	if err := decryptValues(props, c); err != nil {
		return nil, nil, err
	}

	value := d.New()
	if err := Bind(props, value); err != nil {
		return nil, nil, err
	}
	if cz, ok := value.(Customizer); ok {
		if err := cz.Customize(props, s.dir); err != nil {
			return nil, nil, err
		}
	}
	return value, raw, nil
}

// ParseProperties parses a .properties document into a flat map. ${key}
// references are not expanded.
func ParseProperties(data []byte) (map[string]string, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse properties: %w", err)
	}
	return p.Map(), nil
}

// Bind decodes flat dotted properties into target using mapstructure tags
// such as `mapstructure:"jwt.issuer"`.
func Bind(props map[string]string, target any) error {
	input := make(map[string]any, len(props))
	for k, v := range props {
		input[k] = v
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToCSVHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("failed to bind properties: %w", err)
	}
	return nil
}

// stringToCSVHookFunc splits comma separated values into slices, trimming
// blanks around each item.
func stringToCSVHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
