package escrow

import (
	"fmt"
	"sync"

	coreerrors "zkescrow/core/errors"
)

// Store isolates escrow persistence behind a narrow surface so durable
// backends can replace the in-memory map without touching the state machine.
// CompareAndSwapStatus is the transition primitive: it must atomically verify
// the current status and swap it, surfacing InvalidState on a lost race.
type Store interface {
	Put(e *Escrow) error
	Get(id string) (*Escrow, bool, error)
	CompareAndSwapStatus(id string, from, to Status) (*Escrow, error)
}

// MemStore keeps escrow records in a mutex-guarded map. Records are cloned on
// both writes and reads, so callers always observe atomic snapshots.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*Escrow
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*Escrow)}
}

// Put stores a clone of the escrow record.
func (s *MemStore) Put(e *Escrow) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("escrow store: record id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[e.ID] = e.Clone()
	return nil
}

// Get returns a snapshot of the record, if present.
func (s *MemStore) Get(id string) (*Escrow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

// CompareAndSwapStatus atomically transitions the record from one status to
// another and returns the updated snapshot.
func (s *MemStore) CompareAndSwapStatus(id string, from, to Status) (*Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, id)
	}
	if record.Status != from {
		return nil, fmt.Errorf("%w: escrow %s is %s", coreerrors.ErrInvalidState, id, record.Status)
	}
	record.Status = to
	return record.Clone(), nil
}
