package store

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemStore implements Store in memory. Used by tests and when no database
// path is configured.
type MemStore struct {
	mu      sync.RWMutex
	outputs map[string]*Output
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{outputs: make(map[string]*Output)}
}

func clone(o *Output) *Output {
	c := *o
	c.Files = slices.Clone(o.Files)
	return &c
}

func (s *MemStore) SaveOutput(o *Output) error {
	if o.ID == "" {
		return errors.New("save output: empty id")
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[o.ID] = clone(o)
	return nil
}

func (s *MemStore) GetOutput(id string) (*Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outputs[id]
	if !ok {
		return nil, fmt.Errorf("get output %s: %w", id, ErrNotFound)
	}
	return clone(o), nil
}

func (s *MemStore) ListOutputs() ([]*Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Output, 0, len(s.outputs))
	for _, o := range s.outputs {
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) Close() error { return nil }
