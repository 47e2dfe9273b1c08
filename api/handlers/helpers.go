package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"shiftrelay/core/handover"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps workflow sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, handover.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
	case errors.Is(err, handover.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, handover.ErrNotAssignee):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, handover.ErrMissingRejectionNote):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "rejection note is required"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
	}
}

func urlParamInt64(r *http.Request, key string) (int64, bool) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseIntDefault(val string, def int) int {
	if val == "" {
		return def
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return def
}

func parseInt64Default(val string, def int64) int64 {
	if val == "" {
		return def
	}
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return n
	}
	return def
}

// parseDateDefault accepts YYYY-MM-DD or RFC 3339.
func parseDateDefault(val string, def time.Time) time.Time {
	if val == "" {
		return def
	}
	if t, err := time.Parse("2006-01-02", val); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t.UTC()
	}
	return def
}
