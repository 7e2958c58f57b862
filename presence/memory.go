// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package presence

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache for single-instance deployments and
// tests. Entries expire lazily on access, which preserves the same
// observable TTL behavior as Redis without a sweeper goroutine.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now is swappable so tests can step time instead of sleeping.
	now func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if m.now().After(entry.expires) {
		delete(m.entries, key)
		return nil, nil
	}
	// Copy so callers can't mutate the stored value.
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

func (m *MemoryCache) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: stored, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryCache) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryCache) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var keys []string
	for key, entry := range m.entries {
		if now.After(entry.expires) {
			delete(m.entries, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
