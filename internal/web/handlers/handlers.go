// Package handlers implements the JSON API over the task scheduler.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/database"
	"github.com/saltyorg/subextract/internal/scheduler"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// Handlers contains all HTTP handlers
type Handlers struct {
	scheduler *scheduler.Manager
	db        *database.Manager
	version   string
}

// New creates handlers over the scheduler and its database
func New(sched *scheduler.Manager, db *database.Manager, version string) *Handlers {
	return &Handlers{
		scheduler: sched,
		db:        db,
		version:   version,
	}
}

// jsonResponse writes v as JSON with the given status
func (h *Handlers) jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

// jsonError sends a JSON error response
func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

// schedulerError maps scheduler errors onto HTTP statuses
func (h *Handlers) schedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, scheduler.ErrAlreadyRunning), errors.Is(err, scheduler.ErrNotRunning):
		h.jsonError(w, err.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Msg("Scheduler request failed")
		h.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// queryLimit reads ?limit=, falling back to the default and capping at maxListLimit
func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
