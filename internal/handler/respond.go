package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/huddle/internal/event"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var ce *event.ConflictError
	switch {
	case errors.Is(err, event.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, event.ErrUserNotFound), errors.Is(err, event.ErrCreatorNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, event.ErrInvalidInput), errors.Is(err, event.ErrInvalidLeadTime):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, event.ErrQuotaExceeded):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, ce.Reason)
	default:
		logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}
