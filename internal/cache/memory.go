package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the in-memory cache when no size is configured.
const DefaultMaxEntries = 1000

type memoryEntry struct {
	key        string
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
}

func (e *memoryEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) > e.ttl
}

// Memory is a process-local cache. When full it evicts the entry that was
// inserted first, regardless of how recently it was read. Expiry is checked
// lazily on Get.
type Memory struct {
	mu      sync.Mutex
	order   *list.List // front is the oldest insertion
	entries map[string]*list.Element
	maxSize int

	now func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty in-memory cache holding at most maxSize entries.
func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	return &Memory{
		order:   list.New(),
		entries: make(map[string]*list.Element),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memoryEntry)
	if entry.expired(m.now()) {
		m.remove(el)
		return nil, false
	}
	return append([]byte(nil), entry.value...), true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Overwrites move the key to the newest position.
	if el, ok := m.entries[key]; ok {
		m.remove(el)
	}
	for m.order.Len() >= m.maxSize {
		m.remove(m.order.Front())
	}

	m.entries[key] = m.order.PushBack(&memoryEntry{
		key:        key,
		value:      append([]byte(nil), value...),
		insertedAt: m.now(),
		ttl:        ttl,
	})
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.remove(el)
	}
}

func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order.Init()
	m.entries = make(map[string]*list.Element)
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Memory) remove(el *list.Element) {
	entry := m.order.Remove(el).(*memoryEntry)
	delete(m.entries, entry.key)
}
