package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is a lightweight in-memory Provider used by tests and the
// localdev stack. Expiry is checked lazily on access.
type MemoryProvider struct {
	mu     sync.RWMutex
	values map[string]memoryItem
	sets   map[string]memorySet
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		values: make(map[string]memoryItem),
		sets:   make(map[string]memorySet),
	}
}

func expired(at time.Time) bool {
	return !at.IsZero() && time.Now().After(at)
}

// Get returns the value at key or ErrCacheMiss.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.values[key]
	if !ok || expired(it.expiresAt) {
		delete(m.values, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores value with an optional TTL, overwriting any previous entry.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiry(ttl)}
	return nil
}

// SetNX stores value only when the key is absent or expired.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.values[key]; ok && !expired(it.expiresAt) {
		return false, nil
	}
	m.values[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiry(ttl)}
	return true, nil
}

// Del removes a key.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.sets, key)
	return nil
}

// SetAdd adds members and refreshes the set's TTL (sliding window).
func (m *MemoryProvider) SetAdd(_ context.Context, key string, members []string, ttl time.Duration) error {
	if len(members) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok || expired(set.expiresAt) {
		set = memorySet{members: make(map[string]struct{})}
	}
	for _, member := range members {
		set.members[member] = struct{}{}
	}
	set.expiresAt = expiry(ttl)
	m.sets[key] = set
	return nil
}

// SetMembers lists the members of a set; an expired or absent set is empty.
func (m *MemoryProvider) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok || expired(set.expiresAt) {
		delete(m.sets, key)
		return nil, nil
	}
	members := make([]string, 0, len(set.members))
	for member := range set.members {
		members = append(members, member)
	}
	return members, nil
}

// MultiGet returns one entry per key, nil where missing or expired.
func (m *MemoryProvider) MultiGet(ctx context.Context, keys []string) ([][]byte, error) {
	values := make([][]byte, len(keys))
	for i, key := range keys {
		value, err := m.Get(ctx, key)
		if err != nil {
			continue
		}
		values[i] = value
	}
	return values, nil
}

// Expire refreshes the TTL on an existing key or set.
func (m *MemoryProvider) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.values[key]; ok && !expired(it.expiresAt) {
		it.expiresAt = expiry(ttl)
		m.values[key] = it
	}
	if set, ok := m.sets[key]; ok && !expired(set.expiresAt) {
		set.expiresAt = expiry(ttl)
		m.sets[key] = set
	}
	return nil
}

// Close is a no-op.
func (m *MemoryProvider) Close() error { return nil }

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
