package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "focusguard:"

// Store implements the storage.Store interface using Redis
type Store struct {
	client      *redis.Client
	kvStore     *kvStore
	statusStore *statusStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis: %w", storage.ErrUnavailable, err)
	}

	return newStore(client), nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of the
// connection settings; Close still closes the client.
func NewWithClient(client *redis.Client) *Store {
	return newStore(client)
}

func newStore(client *redis.Client) *Store {
	return &Store{
		client:      client,
		kvStore:     &kvStore{client: client, maxRetries: defaultMaxUpdateRetries},
		statusStore: &statusStore{client: client},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// KV returns the KVStore implementation
func (s *Store) KV() storage.KVStore {
	return s.kvStore
}

// Status returns the StatusStore implementation
func (s *Store) Status() storage.StatusStore {
	return s.statusStore
}

// unavailable marks a client error as a store outage.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", storage.ErrUnavailable, op, err)
}
