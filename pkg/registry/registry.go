// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the metadata the application is assembled from:
// service bindings, HTTP controllers, gRPC services, configuration
// descriptors and declared roles. Applications and plugins describe
// themselves on a Catalog; a Scanner validates the catalog in a fixed order
// and produces the read-only Registry.
package registry

import (
	"net/http"
	"reflect"
	"slices"
	"sort"
	"sync"

	"google.golang.org/grpc"

	"github.com/stacklok/summerboot/pkg/service"
)

// Binding identifies the interface an implementation is bound to.
type Binding struct {
	Name string
	Type reflect.Type
}

// BindingOf returns the Binding for the interface type T.
func BindingOf[T any]() Binding {
	t := reflect.TypeFor[T]()
	return Binding{Name: t.String(), Type: t}
}

// Stage is the position of a channel handler in the HTTP handler chain.
type Stage string

// Channel handler stages
const (
	StageUnspecified Stage = ""
	StageInbound     Stage = "inbound"
	StageDuplex      Stage = "duplex"
	StageOutbound    Stage = "outbound"
)

var stageOrder = map[Stage]int{StageInbound: 0, StageDuplex: 1, StageOutbound: 2}

// ChannelHandler is a pipeline stage that wraps the HTTP handler chain.
type ChannelHandler interface {
	Wrap(next http.Handler) http.Handler
}

// ChannelHandlerBinding is the binding slot for pipeline stages. Services
// bound to it must name a Stage.
var ChannelHandlerBinding = BindingOf[ChannelHandler]()

// ServiceMetadata describes one implementation available to the registry.
type ServiceMetadata struct {
	ImplementationID   string
	Bindings           []Binding
	Name               string
	ImplTag            string
	ChannelHandlerType Stage
	Impl               any
}

// BindingKey is the key an implementation is stored under within a binding.
func BindingKey(name, implTag string) string {
	return "name=" + name + ", implTag=" + implTag
}

// ConfigDescriptor describes one configuration file and the type it binds
// into.
type ConfigDescriptor struct {
	// Key is the simple name of the config type.
	Key      string
	FileName string
	// GatedOnTag, when set, loads the config only if the tag's presence
	// among the available implTags equals LoadWhenTagUsed.
	GatedOnTag      string
	LoadWhenTagUsed bool
	// New returns a pointer to a zero config value.
	New func() any
}

// NewConfigDescriptor describes a config of type T read from fileName.
func NewConfigDescriptor[T any](fileName string) ConfigDescriptor {
	return ConfigDescriptor{
		Key:      reflect.TypeFor[T]().Name(),
		FileName: fileName,
		New:      func() any { return new(T) },
	}
}

// Controller groups HTTP routes.
type Controller struct {
	ID      string
	ImplTag string
	// Roles apply to every route of the controller together with the
	// route's own. A caller holding any of them is admitted.
	Roles  []string
	Routes []service.Route
}

// GRPCService is a gRPC service implementation.
type GRPCService struct {
	Desc *grpc.ServiceDesc
	Impl any
}

// ChannelHandlerEntry is a bound channel handler and its stage.
type ChannelHandlerEntry struct {
	ID      string
	Stage   Stage
	Handler ChannelHandler
}

// Registry is the scan result. It is populated once by a Scanner and is
// read-only afterwards.
type Registry struct {
	mu sync.RWMutex

	version     Version
	bindings    map[string]map[string][]*ServiceMetadata
	configs     []ConfigDescriptor
	configIndex map[string]int
	grpc        []GRPCService
	controllers []Controller
	tagOptions  map[string]struct{}
	roles       []string
	memo        string
}

func newRegistry() *Registry {
	return &Registry{
		bindings:    map[string]map[string][]*ServiceMetadata{},
		configIndex: map[string]int{},
		tagOptions:  map[string]struct{}{},
	}
}

// Version returns the application's version metadata.
func (r *Registry) Version() Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Bindings returns binding name → binding key → implementation ids.
func (r *Registry) Bindings() map[string]map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string][]string, len(r.bindings))
	for binding, keys := range r.bindings {
		m := make(map[string][]string, len(keys))
		for key, impls := range keys {
			for _, impl := range impls {
				m[key] = append(m[key], impl.ImplementationID)
			}
		}
		out[binding] = m
	}
	return out
}

// Lookup returns the implementation bound to b under name and implTag.
func (r *Registry) Lookup(b Binding, name, implTag string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impls := r.bindings[b.Name][BindingKey(name, implTag)]
	if len(impls) != 1 {
		return nil, false
	}
	return impls[0].Impl, true
}

// Resolve returns the implementation of interface T bound under name and
// implTag.
func Resolve[T any](r *Registry, name, implTag string) (T, bool) {
	var zero T
	impl, ok := r.Lookup(BindingOf[T](), name, implTag)
	if !ok {
		return zero, false
	}
	t, ok := impl.(T)
	return t, ok
}

// ChannelHandlers returns the bound pipeline stages, inbound first, then
// duplex, then outbound, ordered by implementation id within a stage.
func (r *Registry) ChannelHandlers() []ChannelHandlerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ChannelHandlerEntry
	for _, impls := range r.bindings[ChannelHandlerBinding.Name] {
		for _, m := range impls {
			h, ok := m.Impl.(ChannelHandler)
			if !ok {
				continue
			}
			out = append(out, ChannelHandlerEntry{ID: m.ImplementationID, Stage: m.ChannelHandlerType, Handler: h})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if stageOrder[out[i].Stage] != stageOrder[out[j].Stage] {
			return stageOrder[out[i].Stage] < stageOrder[out[j].Stage]
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ConfigDescriptors returns the config descriptors in registration order.
func (r *Registry) ConfigDescriptors() []ConfigDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.configs)
}

// ConfigDescriptor returns the descriptor registered under key.
func (r *Registry) ConfigDescriptor(key string) (ConfigDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.configIndex[key]
	if !ok {
		return ConfigDescriptor{}, false
	}
	return r.configs[i], true
}

// Controllers returns the registered controllers.
func (r *Registry) Controllers() []Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.controllers)
}

// GRPCServices returns the registered gRPC services.
func (r *Registry) GRPCServices() []GRPCService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.grpc)
}

// TagOptions returns the implTags contributed by controllers, sorted.
func (r *Registry) TagOptions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.tagOptions))
	for t := range r.tagOptions {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// HasTagOption reports whether a controller contributed tag.
func (r *Registry) HasTagOption(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tagOptions[tag]
	return ok
}

// DeclaredRoles returns every role named by a controller or route, sorted.
func (r *Registry) DeclaredRoles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.roles)
}

// HasGRPCImpl reports whether any gRPC service was registered.
func (r *Registry) HasGRPCImpl() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.grpc) > 0
}

// HasControllers reports whether any controller was registered.
func (r *Registry) HasControllers() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers) > 0
}

// Memo returns the recoverable findings of the scan.
func (r *Registry) Memo() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memo
}
