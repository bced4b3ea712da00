package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ScheduleID identifies a schedule. The options page has written both numeric
// (Date.now()) and string ids over time, so either JSON form is accepted.
type ScheduleID string

// UnmarshalJSON implements json.Unmarshaler accepting a string or a number.
func (id *ScheduleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ScheduleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid schedule id: %s", data)
	}
	*id = ScheduleID(n.String())
	return nil
}

// MarshalJSON writes numeric ids back as numbers so the extension sees the
// same type it stored.
func (id ScheduleID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// BlockingSchedule is a time window during which a set of sites is blocked.
type BlockingSchedule struct {
	ID           ScheduleID `json:"id"`
	Name         string     `json:"name"`
	Active       bool       `json:"active"`
	Days         []int      `json:"days"`      // 0=Sunday, 6=Saturday
	StartTime    string     `json:"startTime"` // "09:00"
	EndTime      string     `json:"endTime"`   // "17:00"
	BlockedSites []string   `json:"blockedSites"`
	CreatedAt    string     `json:"createdAt,omitempty"`
}

// HasDay reports whether the schedule applies on the given weekday.
func (s *BlockingSchedule) HasDay(weekday int) bool {
	for _, d := range s.Days {
		if d == weekday {
			return true
		}
	}
	return false
}

// Key returns the schedule name with whitespace runs replaced by underscores.
func (s *BlockingSchedule) Key() string {
	return strings.Join(strings.Fields(s.Name), "_")
}

// Decision represents the result of evaluating a hostname against schedules
type Decision struct {
	Blocked      bool
	Hostname     string
	ScheduleID   ScheduleID
	ScheduleName string
	Pattern      string
}
