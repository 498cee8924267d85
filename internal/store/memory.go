package store

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. Values are copied on the way in and out so
// callers cannot mutate stored state.
type Memory struct {
	mu     sync.Mutex
	lists  map[string][][]byte
	keys   map[string][]byte
	sets   map[string]map[string]struct{}
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		lists: make(map[string][][]byte),
		keys:  make(map[string][]byte),
		sets:  make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Push(_ context.Context, list string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.lists[list] = append(m.lists[list], clone(value))
	return nil
}

func (m *Memory) Pop(_ context.Context, list string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	entries := m.lists[list]
	if len(entries) == 0 {
		return nil, false, nil
	}
	head := entries[0]
	if len(entries) == 1 {
		delete(m.lists, list)
	} else {
		m.lists[list] = entries[1:]
	}
	return head, true, nil
}

func (m *Memory) Len(_ context.Context, list string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.lists[list]), nil
}

func (m *Memory) Range(_ context.Context, list string, limit int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	entries := m.lists[list]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	out := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		out = append(out, clone(entry))
	}
	return out, nil
}

func (m *Memory) Lists(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var names []string
	for name, entries := range m.lists {
		if len(entries) > 0 && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	value, ok := m.keys[key]
	if !ok {
		return nil, false, nil
	}
	return clone(value), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.keys[key] = clone(value)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.keys[key]
	delete(m.keys, key)
	return ok, nil
}

func (m *Memory) Take(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	value, ok := m.keys[key]
	if !ok {
		return nil, false, nil
	}
	delete(m.keys, key)
	return value, true, nil
}

func (m *Memory) CompareAndSwap(_ context.Context, key string, prev, next []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	current, ok := m.keys[key]
	if prev == nil {
		if ok || next == nil {
			return false, nil
		}
	} else if !ok || !bytes.Equal(current, prev) {
		return false, nil
	}
	if next == nil {
		delete(m.keys, key)
	} else {
		m.keys[key] = clone(next)
	}
	return true, nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var keys []string
	for key := range m.keys {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) SetAdd(_ context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	members, ok := m.sets[set]
	if !ok {
		members = make(map[string]struct{})
		m.sets[set] = members
	}
	members[member] = struct{}{}
	return nil
}

func (m *Memory) SetRemove(_ context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.sets[set], member)
	return nil
}

func (m *Memory) SetMembers(_ context.Context, set string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	members := make([]string, 0, len(m.sets[set]))
	for member := range m.sets[set] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func clone(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}
