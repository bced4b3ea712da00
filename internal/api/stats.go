package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/focusguard/internal/policy"
	"github.com/goodtune/focusguard/internal/stats"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const maxRangeDays = 366

// DayResponse is one day of stats with sites ordered by time spent.
type DayResponse struct {
	Day       string           `json:"day"`
	TotalTime int64            `json:"totalTime"`
	SavedTime int64            `json:"savedTime"`
	Blocked   int64            `json:"blocked"`
	Sites     []stats.SiteTime `json:"sites"`
}

// TodayResponse adds the extension's older ledgers to today's stats.
// TimeSpent mirrors dailyTimeSpent; WastedTime is the retired counter.
type TodayResponse struct {
	DayResponse
	TimeSpent  map[string]int64 `json:"timeSpent"`
	WastedTime int64            `json:"wastedTime"`
}

// StatsHandler serves the usage statistics endpoints.
type StatsHandler struct {
	stats  *stats.Aggregator
	policy *policy.Engine
	logger zerolog.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(aggregator *stats.Aggregator, engine *policy.Engine, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  aggregator,
		policy: engine,
		logger: logger.With().Str("handler", "stats").Logger(),
	}
}

// Today returns today's stats along with the legacy ledgers.
func (h *StatsHandler) Today(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := h.stats.TodayKey()

	day, ok := h.loadDay(w, r, key)
	if !ok {
		return
	}

	spent, err := h.stats.TimeSpent(ctx, key)
	if err != nil {
		h.logger.Error().Err(err).Str("day", key).Msg("Failed to load time spent")
		writeError(w, storeErrorStatus(err), "Failed to retrieve stats")
		return
	}

	wasted, err := h.stats.LegacyWastedTime(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load wasted time")
		writeError(w, storeErrorStatus(err), "Failed to retrieve stats")
		return
	}

	writeJSON(w, http.StatusOK, TodayResponse{
		DayResponse: day,
		TimeSpent:   spent,
		WastedTime:  wasted,
	})
}

// GetDay returns one day's stats. The day is either an ISO date
// (2024-01-15) or a ledger key (Mon Jan 15 2024).
func (h *StatsHandler) GetDay(w http.ResponseWriter, r *http.Request) {
	key, err := h.dayKey(mux.Vars(r)["day"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day: "+err.Error())
		return
	}
	h.writeDay(w, r, key)
}

// Range returns the last N days ending today, oldest first.
func (h *StatsHandler) Range(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRangeDays {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
			return
		}
		days = n
	}

	ctx := r.Context()
	entries, err := h.stats.Range(ctx, h.policy.Now(), days)
	if err != nil {
		h.logger.Error().Err(err).Int("days", days).Msg("Failed to load stats range")
		writeError(w, storeErrorStatus(err), "Failed to retrieve stats")
		return
	}

	isDistracting, err := h.distractingFunc(r)
	if err != nil {
		writeError(w, storeErrorStatus(err), "Failed to retrieve schedules")
		return
	}

	out := make([]DayResponse, 0, len(entries))
	for _, day := range entries {
		out = append(out, newDayResponse(day.Key, day.Stats, isDistracting))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":  out,
		"count": len(out),
	})
}

// ResetSavedTime zeroes today's saved time.
func (h *StatsHandler) ResetSavedTime(w http.ResponseWriter, r *http.Request) {
	if err := h.stats.ResetSavedTimeToday(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to reset saved time")
		writeError(w, storeErrorStatus(err), "Failed to reset saved time")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Saved time reset",
		"day":     h.stats.TodayKey(),
	})
}

func (h *StatsHandler) writeDay(w http.ResponseWriter, r *http.Request, key string) {
	if day, ok := h.loadDay(w, r, key); ok {
		writeJSON(w, http.StatusOK, day)
	}
}

// loadDay writes the error response itself and reports false on failure.
func (h *StatsHandler) loadDay(w http.ResponseWriter, r *http.Request, key string) (DayResponse, bool) {
	entry, err := h.stats.Day(r.Context(), key)
	if err != nil {
		h.logger.Error().Err(err).Str("day", key).Msg("Failed to load stats")
		writeError(w, storeErrorStatus(err), "Failed to retrieve stats")
		return DayResponse{}, false
	}

	isDistracting, err := h.distractingFunc(r)
	if err != nil {
		writeError(w, storeErrorStatus(err), "Failed to retrieve schedules")
		return DayResponse{}, false
	}

	return newDayResponse(key, entry, isDistracting), true
}

// distractingFunc loads the schedules once for a whole response.
func (h *StatsHandler) distractingFunc(r *http.Request) (func(string) bool, error) {
	schedules, err := h.policy.Schedules(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load schedules")
		return nil, err
	}
	return func(host string) bool {
		return policy.IsDistracting(host, schedules)
	}, nil
}

func (h *StatsHandler) dayKey(raw string) (string, error) {
	loc := h.policy.Location()
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return stats.DayKey(t), nil
	}
	t, err := stats.ParseDayKey(raw, loc)
	if err != nil {
		return "", err
	}
	return stats.DayKey(t), nil
}

func newDayResponse(key string, entry *stats.DailyStats, isDistracting func(string) bool) DayResponse {
	sites := stats.TopSites(entry, isDistracting)
	if sites == nil {
		sites = []stats.SiteTime{}
	}
	return DayResponse{
		Day:       key,
		TotalTime: entry.TotalTime,
		SavedTime: entry.SavedTime,
		Blocked:   entry.Blocked,
		Sites:     sites,
	}
}
