package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/syncstatus"
)

// Status values reported by GET /sync/status.
const (
	StatusInProgress = "in_progress"
	StatusIdle       = "idle"
)

// SyncResponse is returned by both sync endpoints.
type SyncResponse struct {
	Status   string       `json:"status"`
	LastSync *time.Time   `json:"last_sync"`
	RunID    string       `json:"run_id,omitempty"`
	Phase    string       `json:"phase,omitempty"`
	DryRun   bool         `json:"dry_run"`
	Details  *SyncDetails `json:"details,omitempty"`
}

// SyncDetails holds the outcome of the last pass. Errors is only set when
// the whole pass failed; per-replica and per-file failures are in Result.
type SyncDetails struct {
	Result pathsync.Results `json:"result"`
	Errors *string          `json:"errors"`
}

type handlers struct {
	ctrl  SyncController
	cache CacheInvalidator
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

func (h *handlers) triggerSync(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeErrorResponse(w, "dry_run must be a boolean", http.StatusBadRequest)
			return
		}
		dryRun = v
	}

	res, err := h.ctrl.Trigger(dryRun)
	if err != nil {
		plog.Warn("Sync trigger refused", "error", err)
		writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	snap := h.ctrl.Status()
	code := http.StatusAccepted
	if res != syncstatus.TriggerStarted {
		code = http.StatusOK
	}
	writeJSONResponse(w, SyncResponse{
		Status:   string(res),
		LastSync: snap.LastSync,
		RunID:    snap.RunID,
		Phase:    string(snap.Phase),
		DryRun:   snap.DryRun,
	}, code)
}

func (h *handlers) syncStatus(w http.ResponseWriter, _ *http.Request) {
	snap := h.ctrl.Status()
	status := StatusIdle
	if snap.InProgress {
		status = StatusInProgress
	}
	details := &SyncDetails{Result: snap.Result}
	if snap.Error != "" {
		msg := snap.Error
		details.Errors = &msg
	}
	writeJSONResponse(w, SyncResponse{
		Status:   status,
		LastSync: snap.LastSync,
		RunID:    snap.RunID,
		Phase:    string(snap.Phase),
		DryRun:   snap.DryRun,
		Details:  details,
	}, http.StatusOK)
}

func (h *handlers) invalidateCache(w http.ResponseWriter, _ *http.Request) {
	if h.cache == nil {
		writeErrorResponse(w, "metadata cache is disabled", http.StatusNotFound)
		return
	}
	h.cache.Invalidate()
	plog.Info("Metadata cache invalidated via API")
	writeJSONResponse(w, map[string]string{"status": "invalidated"}, http.StatusOK)
}

// writeJSONResponse writes a JSON response with the given data
func writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		plog.Warn("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, map[string]string{"error": message}, statusCode)
}
