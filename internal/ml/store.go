package ml

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// ErrModelUnavailable reports that no trained model has been persisted yet.
var ErrModelUnavailable = errors.New("model unavailable")

var errModelNotFound = errors.New("model not found")

var modelsBucket = []byte("models")

// ModelStore persists serialized models by name.
type ModelStore interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

// BoltStore keeps models in a single bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if needed) the model database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open model store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(modelsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init model store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load returns a copy of the stored model bytes.
func (s *BoltStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(modelsBucket)
		if b == nil {
			return errModelNotFound
		}
		v := b.Get([]byte(name))
		if v == nil {
			return errModelNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Save replaces the stored model bytes atomically.
func (s *BoltStore) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(modelsBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemoryStore is an in-process ModelStore.
type MemoryStore struct {
	mu     sync.RWMutex
	models map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.models[name]
	if !ok {
		return nil, errModelNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Save(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[name] = append([]byte(nil), data...)
	return nil
}
