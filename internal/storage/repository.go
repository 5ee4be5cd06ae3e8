// Package storage loads resolved table rows into a database next to the flat
// files. Backends register themselves from init(); import storage/all to link
// every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config selects a backend. DSN is passed to the backend unchanged.
type Config struct {
	Kind string
	DSN  string
}

// TableSpec describes one destination table. Every column is text: rows
// arrive as the same strings written to the flat file.
type TableSpec struct {
	Name    string
	Columns []string
}

// Repository is the backend contract used by TableSink.
type Repository interface {
	// EnsureTables creates missing tables. Existing tables are left alone.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// InsertRows appends rows to table. Every row has len(columns) values.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]string) (int64, error)

	// Close releases connections. Call once.
	Close() error
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on an empty kind,
// a nil factory or a duplicate registration.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ","))
	}
	return f(ctx, cfg)
}

// Kinds lists registered backends, sorted.
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

// SplitQualified splits "schema.table" into its parts. Names without exactly
// one dot are returned as an unqualified table.
func SplitQualified(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
