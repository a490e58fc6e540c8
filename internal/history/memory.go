package history

import (
	"context"
	"sync"
)

var _ Recorder = (*MemoryStore)(nil)

// MemoryStore is an in-process [Recorder]. When a capacity is set, the oldest
// entries are dropped first.
type MemoryStore struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

// NewMemoryStore returns a store holding at most capacity entries.
// capacity <= 0 means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{capacity: capacity}
}

// Record implements [Recorder].
func (m *MemoryStore) Record(_ context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if m.capacity > 0 && len(m.entries) > m.capacity {
		m.entries = append(m.entries[:0:0], m.entries[len(m.entries)-m.capacity:]...)
	}
	return nil
}

// Recent implements [Recorder].
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(m.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
