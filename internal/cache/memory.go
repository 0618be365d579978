package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryBackend is the in-process cache backend: an LRU map with per-entry
// expiry. Expired entries are removed when read or when they reach the LRU
// tail; there is no background sweep.
type MemoryBackend struct {
	mu         sync.Mutex
	maxEntries int
	now        func() time.Time

	// items maps key → list element (whose value is *memoryEntry)
	items map[string]*list.Element
	order *list.List // front = most recently used
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend creates an in-process backend. maxEntries <= 0 leaves the
// backend unbounded.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	return &MemoryBackend{
		maxEntries: maxEntries,
		now:        time.Now,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// Get returns the value for key while it is unexpired. On hit the entry is
// promoted to most-recently-used.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if !m.now().Before(entry.expiresAt) {
		m.removeLocked(elem)
		return nil, false, nil
	}

	m.order.MoveToFront(elem)
	return entry.value, true, nil
}

// Set stores value under key until now+ttl. A non-positive ttl deletes the key.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		if elem, ok := m.items[key]; ok {
			m.removeLocked(elem)
		}
		return nil
	}

	expiresAt := m.now().Add(ttl)
	if elem, ok := m.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		m.order.MoveToFront(elem)
	} else {
		elem := m.order.PushFront(&memoryEntry{key: key, value: value, expiresAt: expiresAt})
		m.items[key] = elem
	}

	for m.maxEntries > 0 && m.order.Len() > m.maxEntries {
		m.removeLocked(m.order.Back())
	}
	return nil
}

// removeLocked removes a specific element. Caller must hold m.mu.
func (m *MemoryBackend) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	m.order.Remove(elem)
	delete(m.items, entry.key)
}

// Len returns the number of stored entries, including expired entries not
// yet read.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Clear removes all entries.
func (m *MemoryBackend) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.order.Init()
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
