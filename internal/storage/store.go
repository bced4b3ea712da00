package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrUnavailable wraps every failure to reach the backing store. Callers
	// use errors.Is to tell it apart from decoding or validation errors.
	ErrUnavailable = errors.New("storage: unavailable")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	KV() KVStore
	Status() StatusStore
}

// UpdateFunc receives the current raw values of the watched keys (missing keys
// are absent from the map) and returns the values to write back. Returning a
// nil map writes nothing.
type UpdateFunc func(current map[string][]byte) (map[string][]byte, error)

// KVStore is the durable key-value store that the engine keeps all state in.
// Values are opaque JSON documents.
type KVStore interface {
	// Get returns the values of the requested keys. Missing keys are omitted.
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)

	// Set writes every key in values.
	Set(ctx context.Context, values map[string][]byte) error

	// Update performs an atomic read-modify-write over keys. The callback may
	// be invoked more than once if a concurrent writer touched the keys, so it
	// must not have side effects beyond computing the new values.
	Update(ctx context.Context, keys []string, fn UpdateFunc) error
}

// StatusStore keeps the client status log served by the status endpoint.
type StatusStore interface {
	Create(ctx context.Context, check StatusCheck) error
	List(ctx context.Context, limit int) ([]StatusCheck, error)
}
