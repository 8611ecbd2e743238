// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"reflect"
	"slices"
)

// Version is the application's version metadata.
type Version struct {
	LogFileName    string
	Display        string
	ErrorCodeAsInt bool
	// StartCommand and DiagnosticsRequired are reported in diagnostics only.
	StartCommand        string
	DiagnosticsRequired bool
}

// Version defaults applied when an application does not set one.
const (
	DefaultLogFileName = "summerboot"
	DefaultDisplay     = "unknown"
)

// DefaultVersion returns the version metadata used when none is set.
func DefaultVersion() Version {
	return Version{LogFileName: DefaultLogFileName, Display: DefaultDisplay, ErrorCodeAsInt: true}
}

// UniquenessContract declares that the constants of FieldType named under
// Tag must be distinct. Contracts sharing a Tag are checked together.
type UniquenessContract struct {
	Tag string
	// FieldType restricts the check to constants of this type. Nil checks
	// every constant.
	FieldType reflect.Type
	Constants map[string]any
}

// Catalog collects the declarations of an application and its plugins. It is
// not safe for concurrent use.
type Catalog struct {
	version     *Version
	contracts   []UniquenessContract
	configs     []ConfigDescriptor
	grpc        []GRPCService
	controllers []Controller
	services    []ServiceMetadata
	errs        []error
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Clone returns a copy of c that can be extended without affecting c.
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{
		contracts:   slices.Clone(c.contracts),
		configs:     slices.Clone(c.configs),
		grpc:        slices.Clone(c.grpc),
		controllers: slices.Clone(c.controllers),
		services:    slices.Clone(c.services),
		errs:        slices.Clone(c.errs),
	}
	if c.version != nil {
		v := *c.version
		out.version = &v
	}
	return out
}

// SetVersion sets the version metadata. The last call wins.
func (c *Catalog) SetVersion(v Version) {
	c.version = &v
}

// AddUniquenessContract declares a uniqueness contract.
func (c *Catalog) AddUniquenessContract(u UniquenessContract) {
	c.contracts = append(c.contracts, u)
}

// AddConfig declares a configuration descriptor.
func (c *Catalog) AddConfig(d ConfigDescriptor) {
	c.configs = append(c.configs, d)
}

// AddGRPCService declares a gRPC service implementation.
func (c *Catalog) AddGRPCService(s GRPCService) {
	c.grpc = append(c.grpc, s)
}

// AddController declares an HTTP controller.
func (c *Catalog) AddController(ctrl Controller) {
	c.controllers = append(c.controllers, ctrl)
}

// ServiceOption configures a service registration.
type ServiceOption func(*serviceRegistration)

type serviceRegistration struct {
	id       string
	bind     []Binding
	declared []Binding
	name     string
	implTag  string
	stage    Stage
}

// Bind binds the service to the given interfaces.
func Bind(bindings ...Binding) ServiceOption {
	return func(r *serviceRegistration) {
		r.bind = append(r.bind, bindings...)
	}
}

// Declares lists the interfaces the implementation declares directly. They
// are used as bindings when Bind is not given.
func Declares(bindings ...Binding) ServiceOption {
	return func(r *serviceRegistration) {
		r.declared = append(r.declared, bindings...)
	}
}

// Named sets the name selector.
func Named(name string) ServiceOption {
	return func(r *serviceRegistration) {
		r.name = name
	}
}

// WithImplTag sets the implTag selector.
func WithImplTag(tag string) ServiceOption {
	return func(r *serviceRegistration) {
		r.implTag = tag
	}
}

// WithID overrides the implementation id, which defaults to the dynamic type
// name of the implementation.
func WithID(id string) ServiceOption {
	return func(r *serviceRegistration) {
		r.id = id
	}
}

// AsChannelHandler binds the service to the channel handler slot at stage.
func AsChannelHandler(stage Stage) ServiceOption {
	return func(r *serviceRegistration) {
		r.bind = append(r.bind, ChannelHandlerBinding)
		r.stage = stage
	}
}

// AddService declares a service implementation. Bindings are checked by the
// scanner.
func (c *Catalog) AddService(impl any, opts ...ServiceOption) {
	reg := &serviceRegistration{}
	for _, opt := range opts {
		opt(reg)
	}
	if impl == nil {
		c.errs = append(c.errs, fmt.Errorf("nil service implementation %q", reg.id))
		return
	}
	if reg.id == "" {
		reg.id = reflect.TypeOf(impl).String()
	}
	bindings := uniqueBindings(reg.bind)
	if len(bindings) == 0 {
		bindings = uniqueBindings(reg.declared)
	}
	c.services = append(c.services, ServiceMetadata{
		ImplementationID:   reg.id,
		Bindings:           bindings,
		Name:               reg.name,
		ImplTag:            reg.implTag,
		ChannelHandlerType: reg.stage,
		Impl:               impl,
	})
}

// uniqueBindings drops repeated bindings, keeping the first of each name.
func uniqueBindings(in []Binding) []Binding {
	seen := make(map[string]struct{}, len(in))
	out := make([]Binding, 0, len(in))
	for _, b := range in {
		if _, ok := seen[b.Name]; ok {
			continue
		}
		seen[b.Name] = struct{}{}
		out = append(out, b)
	}
	return out
}
