package escrow

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	coreerrors "zkescrow/core/errors"
	"zkescrow/storage"
)

const kvPrefix = "escrow/"

const kvStripes = 32

// KVStore persists escrow records as JSON values in a key-value database.
// Compare-and-swap atomicity over the plain Get/Put backend comes from per-id
// striped locks, so transitions on distinct escrows proceed in parallel.
type KVStore struct {
	db      storage.Database
	stripes [kvStripes]sync.Mutex
}

// NewKVStore wraps the database with the escrow record codec.
func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

func kvKey(id string) []byte {
	return []byte(kvPrefix + id)
}

func (s *KVStore) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.stripes[h.Sum32()%kvStripes]
}

func (s *KVStore) load(id string) (*Escrow, bool, error) {
	key := kvKey(id)
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, false, fmt.Errorf("escrow store: probe %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("escrow store: read %s: %w", id, err)
	}
	var record Escrow
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("escrow store: decode %s: %w", id, err)
	}
	return &record, true, nil
}

func (s *KVStore) save(record *Escrow) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("escrow store: encode %s: %w", record.ID, err)
	}
	if err := s.db.Put(kvKey(record.ID), raw); err != nil {
		return fmt.Errorf("escrow store: write %s: %w", record.ID, err)
	}
	return nil
}

// Put stores the escrow record.
func (s *KVStore) Put(e *Escrow) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("escrow store: record id required")
	}
	mu := s.stripe(e.ID)
	mu.Lock()
	defer mu.Unlock()
	return s.save(e.Clone())
}

// Get returns a snapshot of the record, if present.
func (s *KVStore) Get(id string) (*Escrow, bool, error) {
	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()
	return s.load(id)
}

// CompareAndSwapStatus atomically transitions the record from one status to
// another and returns the updated snapshot.
func (s *KVStore) CompareAndSwapStatus(id string, from, to Status) (*Escrow, error) {
	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()
	record, ok, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, id)
	}
	if record.Status != from {
		return nil, fmt.Errorf("%w: escrow %s is %s", coreerrors.ErrInvalidState, id, record.Status)
	}
	record.Status = to
	if err := s.save(record); err != nil {
		return nil, err
	}
	return record, nil
}

// IDs lists every stored escrow identifier. Used for startup diagnostics.
func (s *KVStore) IDs() ([]string, error) {
	var ids []string
	err := s.db.Iterate([]byte(kvPrefix), func(key, _ []byte) error {
		ids = append(ids, string(key[len(kvPrefix):]))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("escrow store: list: %w", err)
	}
	return ids, nil
}
