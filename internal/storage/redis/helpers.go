package redis

import (
	"fmt"
	"time"

	"github.com/goodtune/focusguard/internal/storage"
)

// redisKeys maps logical store keys to namespaced Redis keys
func redisKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = kvKey(key)
	}
	return out
}

// mgetToMap converts an MGET reply into a key -> value map, dropping nils
func mgetToMap(keys []string, vals []interface{}) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if i >= len(keys) {
			break
		}
		switch s := v.(type) {
		case string:
			out[keys[i]] = []byte(s)
		case []byte:
			out[keys[i]] = s
		}
	}
	return out
}

// parseStatusCheck converts a Redis hash to StatusCheck
func parseStatusCheck(data map[string]string) (*storage.StatusCheck, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	timestamp, err := time.Parse(time.RFC3339Nano, data["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	return &storage.StatusCheck{
		ID:         data["id"],
		ClientName: data["client_name"],
		Timestamp:  timestamp,
	}, nil
}
