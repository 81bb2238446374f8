package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/scheduler"
)

// Health reports liveness and version
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// ListTasks returns every registered task
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, h.scheduler.List())
}

// GetTask returns one task
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	info, err := h.scheduler.Status(chi.URLParam(r, "key"))
	if err != nil {
		h.schedulerError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, info)
}

// RunTask starts a task in the background
func (h *Handlers) RunTask(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	runID, err := h.scheduler.Run(key, "api")
	if err != nil {
		h.schedulerError(w, err)
		return
	}
	log.Info().Str("task", key).Int64("run_id", runID).Str("remote", r.RemoteAddr).Msg("Task run requested via API")
	h.jsonResponse(w, http.StatusAccepted, map[string]int64{"run_id": runID})
}

// CancelTask cancels the running instance of a task
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Cancel(chi.URLParam(r, "key")); err != nil {
		h.schedulerError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusAccepted, map[string]bool{"cancelled": true})
}

// ListRuns returns the recent runs of a task, newest first
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := h.scheduler.Status(key); err != nil {
		h.schedulerError(w, err)
		return
	}

	runs, err := h.db.ListTaskRuns(key, queryLimit(r))
	if err != nil {
		log.Error().Err(err).Str("task", key).Msg("Failed to list task runs")
		h.jsonError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, http.StatusOK, runs)
}

// GetTriggers returns the active triggers of a task
func (h *Handlers) GetTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.scheduler.Triggers(chi.URLParam(r, "key"))
	if err != nil {
		h.schedulerError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, triggers)
}

// PutTriggers replaces the triggers of a task with the JSON array in the body
func (h *Handlers) PutTriggers(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var triggers []scheduler.TriggerInfo
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&triggers); err != nil {
		h.jsonError(w, "invalid trigger list: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := scheduler.ValidateTriggers(triggers); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.scheduler.SetTriggers(key, triggers); err != nil {
		h.schedulerError(w, err)
		return
	}

	current, err := h.scheduler.Triggers(key)
	if err != nil {
		h.schedulerError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, current)
}

// ListExtractions returns recorded subtitle extractions, optionally for one run
func (h *Handlers) ListExtractions(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := h.scheduler.Status(key); err != nil {
		h.schedulerError(w, err)
		return
	}

	var runID int64
	if s := r.URL.Query().Get("run_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			h.jsonError(w, "invalid run_id", http.StatusBadRequest)
			return
		}
		runID = id
	}

	extractions, err := h.db.ListExtractions(runID, queryLimit(r))
	if err != nil {
		log.Error().Err(err).Int64("run_id", runID).Msg("Failed to list extractions")
		h.jsonError(w, "failed to list extractions", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, http.StatusOK, extractions)
}
