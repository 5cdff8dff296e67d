package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type memoryEntry struct {
	key     string
	raw     []byte
	expires time.Time
}

// Memory is an in-process Store bounded by entry count, evicting the least
// recently used entry when full.
type Memory struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	order      *list.List
	entries    map[string]*list.Element
	group      singleflight.Group
	now        func() time.Time
}

// NewMemory creates a memory store. A non-positive maxEntries means unbounded.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	return &Memory{
		ttl:        ttl,
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, scope, key string, dest interface{}) error {
	raw, ok := m.get(Key(scope, key))
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(raw, dest)
}

// FetchJSON implements Store.
func (m *Memory) FetchJSON(ctx context.Context, scope, key string, dest interface{}, loader Loader) (bool, error) {
	full := Key(scope, key)
	if raw, ok := m.get(full); ok {
		return true, json.Unmarshal(raw, dest)
	}

	raw, err := loadOnce(ctx, &m.group, full, loader)
	if err != nil {
		return false, err
	}
	m.set(full, raw)
	return false, json.Unmarshal(raw, dest)
}

// Invalidate implements Store.
func (m *Memory) Invalidate(_ context.Context, scope string) error {
	prefix := scope + ":"
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, el := range m.entries {
		if strings.HasPrefix(key, prefix) {
			m.order.Remove(el)
			delete(m.entries, key)
		}
	}
	return nil
}

// Len returns the number of live and expired entries still held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.entries = make(map[string]*list.Element)
	return nil
}

func (m *Memory) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memoryEntry)
	if m.ttl > 0 && m.now().After(entry.expires) {
		m.order.Remove(el)
		delete(m.entries, key)
		return nil, false
	}
	m.order.MoveToFront(el)
	return entry.raw, true
}

func (m *Memory) set(key string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expires := m.now().Add(m.ttl)
	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.raw, entry.expires = raw, expires
		m.order.MoveToFront(el)
		return
	}
	m.entries[key] = m.order.PushFront(&memoryEntry{key: key, raw: raw, expires: expires})
	for m.maxEntries > 0 && m.order.Len() > m.maxEntries {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).key)
	}
}
