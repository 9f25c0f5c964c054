// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package binding

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/types"
)

// Registry maps names to bindings so a connection string can refer to a
// binding handed to the process at runtime.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: map[string]Binding{}}
}

// Register adds b under name. A name can be registered once.
func (r *Registry) Register(name string, b Binding) error {
	if name == "" || b == nil {
		return errors.Wrap(types.ErrInterface, "binding name and handle are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[name]; exists {
		return errors.Wrapf(types.ErrAlreadyRegistered, "binding %q", name)
	}
	r.bindings[name] = b
	return nil
}

// Unregister removes name. Removing an unknown name is not an error.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, name)
}

// Lookup returns the binding registered under name.
func (r *Registry) Lookup(name string) (Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	if !ok {
		return nil, errors.Wrapf(types.ErrNotSupported, "no binding registered as %q", name)
	}
	return b, nil
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Register adds b to the process-wide registry used by the d1+binding
// driver.
func Register(name string, b Binding) error {
	return defaultRegistry.Register(name, b)
}

// Unregister removes name from the process-wide registry.
func Unregister(name string) {
	defaultRegistry.Unregister(name)
}

// Lookup finds name in the process-wide registry.
func Lookup(name string) (Binding, error) {
	return defaultRegistry.Lookup(name)
}
