package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/focusguard/internal/policy"
	"github.com/rs/zerolog"
)

// ScheduleView is a schedule plus whether it is in force right now.
type ScheduleView struct {
	policy.BlockingSchedule
	InForce bool `json:"inForce"`
}

// DecisionResponse is the result of a block check.
type DecisionResponse struct {
	Host         string            `json:"host"`
	Blocked      bool              `json:"blocked"`
	ScheduleID   policy.ScheduleID `json:"scheduleId,omitempty"`
	ScheduleName string            `json:"scheduleName,omitempty"`
	Pattern      string            `json:"pattern,omitempty"`
	At           time.Time         `json:"at"`
}

// SchedulesHandler serves the read-only schedule endpoints.
type SchedulesHandler struct {
	policy *policy.Engine
	logger zerolog.Logger
}

// NewSchedulesHandler creates a new schedules handler.
func NewSchedulesHandler(engine *policy.Engine, logger zerolog.Logger) *SchedulesHandler {
	return &SchedulesHandler{
		policy: engine,
		logger: logger.With().Str("handler", "schedules").Logger(),
	}
}

// List returns every stored schedule.
func (h *SchedulesHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.policy.Schedules(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list schedules")
		writeError(w, storeErrorStatus(err), "Failed to retrieve schedules")
		return
	}

	now := h.policy.Now()
	views := make([]ScheduleView, 0, len(schedules))
	for i := range schedules {
		views = append(views, ScheduleView{
			BlockingSchedule: schedules[i],
			InForce:          policy.IsActive(now, &schedules[i]),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": views,
		"count":     len(views),
	})
}

// Check previews the block decision for ?host= at the current time.
func (h *SchedulesHandler) Check(w http.ResponseWriter, r *http.Request) {
	host := strings.TrimSpace(r.URL.Query().Get("host"))
	if host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}

	now := h.policy.Now()
	decision, err := h.policy.EvaluateAt(r.Context(), host, now)
	if err != nil {
		h.logger.Error().Err(err).Str("host", host).Msg("Failed to evaluate host")
		writeError(w, storeErrorStatus(err), "Failed to evaluate host")
		return
	}

	writeJSON(w, http.StatusOK, DecisionResponse{
		Host:         decision.Hostname,
		Blocked:      decision.Blocked,
		ScheduleID:   decision.ScheduleID,
		ScheduleName: decision.ScheduleName,
		Pattern:      decision.Pattern,
		At:           now,
	})
}
