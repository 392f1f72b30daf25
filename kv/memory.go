package kv

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. It honors per-key expiry but offers no
// persistence or cross-process sharing.
type Memory struct {
	mu      sync.Mutex
	values  map[string]memEntry
	sets    map[string]map[string]struct{}
	setTTLs map[string]time.Time
	now     func() time.Time
}

type memEntry struct {
	value   string
	expires time.Time
}

// NewMemory returns an empty process-local Store.
func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string]memEntry),
		sets:    make(map[string]map[string]struct{}),
		setTTLs: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) live(key string) (memEntry, bool) {
	var entry, ok = m.values[key]
	if !ok {
		return memEntry{}, false
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		delete(m.values, key)
		return memEntry{}, false
	}
	return entry, true
}

func (m *Memory) liveSet(key string) (map[string]struct{}, bool) {
	var set, ok = m.sets[key]
	if !ok {
		return nil, false
	}
	if expires, has := m.setTTLs[key]; has && !m.now().Before(expires) {
		delete(m.sets, key)
		delete(m.setTTLs, key)
		return nil, false
	}
	return set, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entry, ok = m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = memEntry{value: value, expires: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

func (m *Memory) SAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var set, ok = m.liveSet(key)
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var set, ok = m.liveSet(key)
	if !ok {
		return false, nil
	}
	_, ok = set[member]
	return ok, nil
}

func (m *Memory) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var set, ok = m.liveSet(key)
	if !ok {
		return 0, nil
	}
	return int64(len(set)), nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.live(key); ok {
		entry.expires = m.now().Add(ttl)
		m.values[key] = entry
		return true, nil
	}
	if _, ok := m.liveSet(key); ok {
		m.setTTLs[key] = m.now().Add(ttl)
		return true, nil
	}
	return false, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
