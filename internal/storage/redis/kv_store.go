package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/focusguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

// defaultMaxUpdateRetries bounds optimistic-lock retries in Update
const defaultMaxUpdateRetries = 64

type kvStore struct {
	client     *redis.Client
	maxRetries int
}

func kvKey(key string) string {
	return keyPrefix + "kv:" + key
}

// Get retrieves the JSON documents stored under keys
func (s *kvStore) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	vals, err := s.client.MGet(ctx, redisKeys(keys)...).Result()
	if err != nil && err != redis.Nil {
		return nil, unavailable("get", err)
	}

	return mgetToMap(keys, vals), nil
}

// Set writes all values in a single transaction
func (s *kvStore) Set(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, v := range values {
			pipe.Set(ctx, kvKey(key), v, 0)
		}
		return nil
	})
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

// callbackError carries an UpdateFunc error out of the WATCH transaction so it
// is not mistaken for a Redis failure.
type callbackError struct {
	err error
}

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }

// Update performs an optimistic read-modify-write: the keys are WATCHed, read,
// passed to fn, and written back in MULTI/EXEC. A concurrent write to any
// watched key aborts EXEC and the whole cycle is retried.
func (s *kvStore) Update(ctx context.Context, keys []string, fn storage.UpdateFunc) error {
	watched := redisKeys(keys)

	txf := func(tx *redis.Tx) error {
		vals, err := tx.MGet(ctx, watched...).Result()
		if err != nil && err != redis.Nil {
			return err
		}

		next, err := fn(mgetToMap(keys, vals))
		if err != nil {
			return &callbackError{err: err}
		}
		if len(next) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, v := range next {
				pipe.Set(ctx, kvKey(key), v, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, watched...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		var cbErr *callbackError
		if errors.As(err, &cbErr) {
			return cbErr.err
		}
		return unavailable("update", err)
	}

	return fmt.Errorf("storage: update of %v abandoned after %d conflicting attempts", keys, s.maxRetries)
}
