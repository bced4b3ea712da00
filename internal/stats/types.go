package stats

import (
	"encoding/json"
	"time"
)

// DayKeyLayout renders a day the way Date.prototype.toDateString does, which
// is how the extension keys its ledgers ("Mon Jan 15 2024").
const DayKeyLayout = "Mon Jan 02 2006"

// DayKey returns the ledger key for t's calendar day in t's location.
func DayKey(t time.Time) string {
	return t.Format(DayKeyLayout)
}

// ParseDayKey parses a ledger key in loc.
func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DayKeyLayout, key, loc)
}

// DailyStats is one day's entry in the dailyStats ledger. TotalTime always
// equals the sum of Sites because both are only ever changed together.
type DailyStats struct {
	TotalTime int64            `json:"totalTime"`
	Sites     map[string]int64 `json:"sites"`
	SavedTime int64            `json:"savedTime"`
	Blocked   int64            `json:"blocked"`

	// Extra keeps fields the extension writes that the engine does not own,
	// such as "untracked", so read-modify-write cycles preserve them.
	Extra map[string]json.RawMessage `json:"-"`
}

// NewDailyStats returns a zeroed entry.
func NewDailyStats() *DailyStats {
	return &DailyStats{Sites: make(map[string]int64)}
}

var knownStatsFields = []string{"totalTime", "sites", "savedTime", "blocked"}

// dailyStatsWire accepts fractional numbers; the extension stores plain JS
// numbers.
type dailyStatsWire struct {
	TotalTime float64            `json:"totalTime"`
	Sites     map[string]float64 `json:"sites"`
	SavedTime float64            `json:"savedTime"`
	Blocked   float64            `json:"blocked"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DailyStats) UnmarshalJSON(data []byte) error {
	var w dailyStatsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownStatsFields {
		delete(all, k)
	}
	if len(all) == 0 {
		all = nil
	}

	sites := make(map[string]int64, len(w.Sites))
	for host, secs := range w.Sites {
		sites[host] = int64(secs)
	}

	*d = DailyStats{
		TotalTime: int64(w.TotalTime),
		Sites:     sites,
		SavedTime: int64(w.SavedTime),
		Blocked:   int64(w.Blocked),
		Extra:     all,
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d DailyStats) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Extra)+len(knownStatsFields))
	for k, v := range d.Extra {
		out[k] = v
	}

	sites := d.Sites
	if sites == nil {
		sites = map[string]int64{}
	}
	out["totalTime"] = d.TotalTime
	out["sites"] = sites
	out["savedTime"] = d.SavedTime
	out["blocked"] = d.Blocked
	return json.Marshal(out)
}

// SiteTime is one row of a per-site report.
type SiteTime struct {
	Host        string `json:"host"`
	Seconds     int64  `json:"seconds"`
	Distracting bool   `json:"distracting"`
}

// Day pairs a ledger key with its entry.
type Day struct {
	Key   string      `json:"day"`
	Stats *DailyStats `json:"stats"`
}
