package storage

import (
	"context"
	"sync"

	"notifyd/internal/delivery"
)

type memoryStore struct {
	mu      sync.RWMutex
	records map[string]delivery.Record
	order   []string
	closed  bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{records: map[string]delivery.Record{}}
}

func (s *memoryStore) Put(ctx context.Context, rec delivery.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (delivery.Record, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return delivery.Record{}, false, ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return delivery.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *memoryStore) List(ctx context.Context) ([]delivery.Record, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]delivery.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.records = nil
	s.order = nil
	s.mu.Unlock()
	return nil
}
