package storage

import (
	"context"
	"fmt"
	"sync"

	"boardsync/domain"
)

// MemoryBackend keeps items in process memory. It implements the same
// insert/CAS semantics as the table backend and backs tests and local mode.
type MemoryBackend struct {
	mu     sync.RWMutex
	scopes map[string]map[string]domain.Item
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{scopes: make(map[string]map[string]domain.Item)}
}

func (m *MemoryBackend) InsertItem(_ context.Context, it domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.scopes[it.Scope]
	if !ok {
		items = make(map[string]domain.Item)
		m.scopes[it.Scope] = items
	}
	if _, exists := items[it.ID]; exists {
		return fmt.Errorf("item %s: %w", it.ID, ErrCASMismatch)
	}
	items[it.ID] = it
	return nil
}

func (m *MemoryBackend) UpdateItem(_ context.Context, it domain.Item, ifVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.scopes[it.Scope]
	cur, ok := items[it.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != ifVersion {
		return ErrCASMismatch
	}
	items[it.ID] = it
	return nil
}

func (m *MemoryBackend) DeleteItem(_ context.Context, scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.scopes[scope]
	if _, ok := items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(items, id)
	return nil
}

func (m *MemoryBackend) GetItem(_ context.Context, scope, id string) (domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.scopes[scope][id]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return it, nil
}

func (m *MemoryBackend) ListItems(_ context.Context, scope string) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.Item, 0, len(m.scopes[scope]))
	for _, it := range m.scopes[scope] {
		items = append(items, it)
	}
	return items, nil
}
