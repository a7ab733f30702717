// Package cache provides the idempotency cache for execute responses.
//
// A cached response must be byte-identical to the original: values are
// stored and returned as raw bytes, never re-encoded.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is the idempotency cache interface.
type Cache interface {
	// Get returns the cached bytes for key, or (nil, false) on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key with the given TTL. A zero TTL means no
	// expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Memory is an in-process Cache used in tests and single-node deployments.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory returns an empty in-memory cache. TTLs are ignored; entries
// live for the process lifetime.
func NewMemory() *Memory {
	return &Memory{entries: map[string][]byte{}}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	m.entries[key] = stored
	m.mu.Unlock()
	return nil
}
