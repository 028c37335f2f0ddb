package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketResults = []byte("action_results")

	// ErrResultNotFound is returned when no archived result exists for an
	// escrow.
	ErrResultNotFound = errors.New("action: result not found")
)

// ResultStore persists terminal action results keyed by escrow identifier, so
// status survives the transient pending registry. Repeated dispatches for the
// same escrow append to its history; Latest returns the newest entry.
type ResultStore struct {
	db *bolt.DB
}

// NewResultStore initialises the BoltDB-backed archive.
func NewResultStore(path string, options *bolt.Options) (*ResultStore, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ResultStore{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put appends a terminal result to the escrow's history.
func (s *ResultStore) Put(result *Result) error {
	if result == nil {
		return fmt.Errorf("action: nil result")
	}
	if strings.TrimSpace(result.EscrowID) == "" {
		return fmt.Errorf("action: result escrow id required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketResults)
		var history []Result
		if raw := bucket.Get([]byte(result.EscrowID)); raw != nil {
			if err := json.Unmarshal(raw, &history); err != nil {
				return err
			}
		}
		history = append(history, *result)
		encoded, err := json.Marshal(history)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(result.EscrowID), encoded)
	})
}

// Latest returns the newest archived result for an escrow.
func (s *ResultStore) Latest(escrowID string) (*Result, error) {
	var history []Result
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketResults).Get([]byte(escrowID))
		if raw == nil {
			return ErrResultNotFound
		}
		return json.Unmarshal(raw, &history)
	})
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrResultNotFound
	}
	latest := history[len(history)-1]
	return &latest, nil
}

// History returns every archived result for an escrow, oldest first.
func (s *ResultStore) History(escrowID string) ([]Result, error) {
	var history []Result
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketResults).Get([]byte(escrowID))
		if raw == nil {
			return ErrResultNotFound
		}
		return json.Unmarshal(raw, &history)
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}
