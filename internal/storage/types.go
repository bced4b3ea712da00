package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Keys used by the engine. The names match the extension's local storage so
// the daemon and the extension can share one store.
const (
	KeyBlockingSchedules      = "blockingSchedules"
	KeySmartIdleState         = "smartIdleState"
	KeyDailyTimeSpent         = "dailyTimeSpent"
	KeyDailyStats             = "dailyStats"
	KeyWastedTime             = "wastedTime" // legacy, read only
	KeySentNotificationsToday = "sentNotificationsToday"
)

// StatusCheck is a record in the client status log.
type StatusCheck struct {
	ID         string    `json:"id"`
	ClientName string    `json:"client_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// Decode unmarshals the value stored under key into v. A missing key leaves v
// untouched and returns nil, so callers pre-populate v with its default.
func Decode(values map[string][]byte, key string, v interface{}) error {
	raw, ok := values[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// Encode marshals v for storage under key.
func Encode(key string, v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return raw, nil
}
