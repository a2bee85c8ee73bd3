package recording

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemStore is an in-memory [Store]. Rows are lost on exit.
type MemStore struct {
	mu   sync.RWMutex
	rows map[string]Recording
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]Recording)}
}

// Create implements [Store].
func (m *MemStore) Create(_ context.Context, r Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.ID]; ok {
		return ErrExists
	}
	m.rows[r.ID] = r
	return nil
}

// Get implements [Store].
func (m *MemStore) Get(_ context.Context, id string) (Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return Recording{}, ErrNotFound
	}
	return r, nil
}

// Update implements [Store].
func (m *MemStore) Update(_ context.Context, r Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rows[r.ID]
	if !ok {
		return ErrNotFound
	}
	r.CreatedAt = old.CreatedAt
	m.rows[r.ID] = r
	return nil
}

// ListByUser implements [Store].
func (m *MemStore) ListByUser(_ context.Context, userID string) ([]Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Recording{}
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Recording) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}
