// Package tasks holds the packaged task adapters a step can reference with
// uses. Adapters are looked up by name through a Registry; references of
// the form "owner/name@ref" resolve through aliases with the ref dropped.
package tasks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"stageci/internal/core"
)

// Registry maps task names and aliases to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.TaskAdapter
	aliases  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]core.TaskAdapter),
		aliases:  make(map[string]string),
	}
}

// DefaultRegistry registers the built-in adapters. Lint annotations are
// published through annotator.
func DefaultRegistry(annotator Annotator) *Registry {
	r := NewRegistry()
	r.Register(Checkout{}, "actions/checkout")
	r.Register(SetupToolchain{}, "actions-rs/toolchain", "actions/setup-go")
	r.Register(&LintAnnotations{Annotator: annotator}, "actions-rs/clippy-check", "golangci/golangci-lint-action")
	return r
}

// Register adds adapter under its name and any aliases. A later
// registration under the same name replaces the earlier one.
func (r *Registry) Register(adapter core.TaskAdapter, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
	for _, alias := range aliases {
		r.aliases[alias] = adapter.Name()
	}
}

// Resolve finds the adapter for a uses reference.
func (r *Registry) Resolve(uses string) (core.TaskAdapter, error) {
	name := strings.TrimSpace(uses)
	if i := strings.LastIndex(name, "@"); i > 0 {
		name = name[:i]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", core.ErrUnknownTask, uses)
	}
	return adapter, nil
}

// Names lists registered adapter names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
