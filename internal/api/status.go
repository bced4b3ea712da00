package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/focusguard/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// statusListLimit bounds GET /api/status.
const statusListLimit = 1000

// StatusHandler serves the liveness and status-check endpoints.
type StatusHandler struct {
	store  storage.StatusStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(store storage.StatusStore, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("handler", "status").Logger(),
	}
}

// Root answers GET /api/.
func (h *StatusHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World"})
}

type createStatusRequest struct {
	ClientName string `json:"client_name"`
}

// Create records a status check.
func (h *StatusHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ClientName = strings.TrimSpace(req.ClientName)
	if req.ClientName == "" {
		writeError(w, http.StatusBadRequest, "client_name is required")
		return
	}

	check := storage.StatusCheck{
		ID:         uuid.NewString(),
		ClientName: req.ClientName,
		Timestamp:  h.now().UTC(),
	}
	if err := h.store.Create(r.Context(), check); err != nil {
		h.logger.Error().Err(err).Str("client", check.ClientName).Msg("Failed to create status check")
		writeError(w, storeErrorStatus(err), "Failed to create status check")
		return
	}

	writeJSON(w, http.StatusOK, check)
}

// List returns recorded status checks, newest first.
func (h *StatusHandler) List(w http.ResponseWriter, r *http.Request) {
	checks, err := h.store.List(r.Context(), statusListLimit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list status checks")
		writeError(w, storeErrorStatus(err), "Failed to retrieve status checks")
		return
	}
	if checks == nil {
		checks = []storage.StatusCheck{}
	}
	writeJSON(w, http.StatusOK, checks)
}
