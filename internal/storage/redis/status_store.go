package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/focusguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

// maxStatusRecords caps the status index; older records are dropped on insert
const maxStatusRecords = 1000

const statusIndexKey = keyPrefix + "status:index"

type statusStore struct {
	client *redis.Client
}

func statusKey(id string) string {
	return fmt.Sprintf("%sstatus:%s", keyPrefix, id)
}

// Create stores a status record
func (s *statusStore) Create(ctx context.Context, check storage.StatusCheck) error {
	script := redis.NewScript(createStatusScript)

	keys := []string{statusKey(check.ID), statusIndexKey}
	args := []interface{}{
		check.ID,
		check.ClientName,
		check.Timestamp.Format(time.RFC3339Nano),
		check.Timestamp.UnixMilli(),
		maxStatusRecords,
	}

	if err := script.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return unavailable("create status", err)
	}
	return nil
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (s *statusStore) List(ctx context.Context, limit int) ([]storage.StatusCheck, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, statusIndexKey, 0, stop).Result()
	if err != nil {
		return nil, unavailable("list status", err)
	}

	if len(ids) == 0 {
		return []storage.StatusCheck{}, nil
	}

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, statusKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, unavailable("list status", err)
	}

	checks := make([]storage.StatusCheck, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		check, err := parseStatusCheck(data)
		if err == nil {
			checks = append(checks, *check)
		}
	}

	return checks, nil
}
