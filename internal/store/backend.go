package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/soyeahso/supportsync/internal/logging"
)

// Backend is the raw key-value store under Durability. Scalars and lists live
// under separate keys; Delete removes either.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Append(ctx context.Context, key, value string, max int) error
	Replace(ctx context.Context, key string, values []string, max int) error
	Range(ctx context.Context, key string) ([]string, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend string // "sqlite" | "redis" | "memory"
	Path    string // sqlite file; defaults to <dataDir>/supportsync.db
	Redis   RedisOptions
}

// OpenBackend opens the configured backend.
func OpenBackend(ctx context.Context, opts Options, dataDir string, log *logging.Logger) (Backend, error) {
	switch opts.Backend {
	case "", "sqlite":
		path := opts.Path
		if path == "" {
			path = filepath.Join(dataDir, "supportsync.db")
		}
		return Open(path, log)
	case "redis":
		return OpenRedis(ctx, opts.Redis, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// Memory is an in-process Backend. Nothing survives a restart.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	lists  map[string][]string
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]string),
		lists:  make(map[string][]string),
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.lists, key)
	return nil
}

func (m *Memory) Append(_ context.Context, key, value string, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = capTail(append(m.lists[key], value), max)
	return nil
}

func (m *Memory) Replace(_ context.Context, key string, values []string, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = capTail(append([]string(nil), values...), max)
	return nil
}

func (m *Memory) Range(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.lists[key]...), nil
}

func (m *Memory) Close() error { return nil }

func capTail(list []string, max int) []string {
	if max > 0 && len(list) > max {
		return append([]string(nil), list[len(list)-max:]...)
	}
	return list
}
