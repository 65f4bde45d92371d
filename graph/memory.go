package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type vertex struct {
	linked   bool
	progress map[string]int64
}

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[Key]*vertex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[Key]*vertex)}
}

// IDs implements Store.
func (s *MemoryStore) IDs(_ context.Context, stem string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for k := range s.items {
		if k.Stem == stem {
			ids = append(ids, k.SID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("stem %s: %w", stem, ErrEmptyIndex)
	}
	sort.Strings(ids)
	return ids, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false, nil
	}
	s.items[key] = &vertex{progress: make(map[string]int64)}
	return true, nil
}

// SetLinked implements Store.
func (s *MemoryStore) SetLinked(_ context.Context, key Key, linked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok {
		return fmt.Errorf("vertex %s/%s not found", key.Stem, key.SID)
	}
	v.linked = linked
	return nil
}

// Linked reports whether a vertex is linked.
func (s *MemoryStore) Linked(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return ok && v.linked
}

// Progress implements Store.
func (s *MemoryStore) Progress(_ context.Context, key Key, stage string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.items[key]; ok {
		return v.progress[stage], nil
	}
	return 0, nil
}

// Advance implements Store. Progress of a vertex that was never Put creates it.
func (s *MemoryStore) Advance(_ context.Context, key Key, stage string, value int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok {
		v = &vertex{progress: make(map[string]int64)}
		s.items[key] = v
	}
	if cur, ok := v.progress[stage]; ok && cur >= value {
		return false, nil
	}
	v.progress[stage] = value
	return true, nil
}
