// Package memory is an in-process storage backend. It is used by tests and by
// the "memory" storage type for running without Redis.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/goodtune/focusguard/internal/storage"
)

// Store implements storage.Store in memory.
type Store struct {
	kv     *kvStore
	status *statusStore
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		kv:     &kvStore{data: make(map[string][]byte)},
		status: &statusStore{},
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// KV returns the KVStore implementation
func (s *Store) KV() storage.KVStore {
	return s.kv
}

// Status returns the StatusStore implementation
func (s *Store) Status() storage.StatusStore {
	return s.status
}

type kvStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *kvStore) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(keys), nil
}

func (s *kvStore) Set(ctx context.Context, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(values)
	return nil
}

// Update holds the store lock across the callback, which makes the
// read-modify-write atomic with respect to every other call.
func (s *kvStore) Update(ctx context.Context, keys []string, fn storage.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.snapshot(keys))
	if err != nil {
		return err
	}
	s.write(next)
	return nil
}

func (s *kvStore) snapshot(keys []string) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := s.data[key]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[key] = cp
		}
	}
	return out
}

func (s *kvStore) write(values map[string][]byte) {
	for key, v := range values {
		cp := make([]byte, len(v))
		copy(cp, v)
		s.data[key] = cp
	}
}

type statusStore struct {
	mu      sync.Mutex
	records []storage.StatusCheck
}

func (s *statusStore) Create(ctx context.Context, check storage.StatusCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, check)
	return nil
}

// List returns the newest records first.
func (s *statusStore) List(ctx context.Context, limit int) ([]storage.StatusCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.StatusCheck, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
