// Package transformer builds value transform chains from config.
//
// Transform kinds are registered by name (see package builtin, which registers
// the standard set from its init function). A chain is built once per column
// when the mapping is constructed and then applied to every resolved value.
package transformer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"catalogflat/internal/config"
	"catalogflat/internal/mapping"
)

// Factory builds one transform step from its options. It should validate
// the options eagerly so config errors surface before the run starts.
type Factory func(opts config.Options) (mapping.TransformFunc, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a transform kind available to Build.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		panic("transformer: Register called with empty kind")
	}
	if f == nil {
		panic("transformer: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("transformer: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build composes specs into one function applied left to right.
// An empty chain returns nil, meaning "no transform".
func Build(specs []config.Transform) (mapping.TransformFunc, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	steps := make([]mapping.TransformFunc, 0, len(specs))
	for i, s := range specs {
		kind := strings.ToLower(strings.TrimSpace(s.Kind))

		mu.RLock()
		f := factories[kind]
		mu.RUnlock()

		if f == nil {
			return nil, fmt.Errorf("transform[%d]: unknown kind %q (known: %s)", i, s.Kind, strings.Join(Kinds(), ", "))
		}
		fn, err := f(s.Options)
		if err != nil {
			return nil, fmt.Errorf("transform[%d] %s: %w", i, kind, err)
		}
		steps = append(steps, fn)
	}

	if len(steps) == 1 {
		return steps[0], nil
	}
	return func(v string) string {
		for _, step := range steps {
			v = step(v)
		}
		return v
	}, nil
}
