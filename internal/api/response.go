package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
	"github.com/gyaneshwarpardhi/skilltree/internal/engine"
	"github.com/gyaneshwarpardhi/skilltree/internal/selection"
	"github.com/gyaneshwarpardhi/skilltree/internal/store"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr maps domain errors onto status codes.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound),
		errors.Is(err, engine.ErrSelectorNotFound),
		errors.Is(err, dag.ErrNodeNotFound),
		errors.Is(err, selection.ErrOptionNotFound),
		errors.Is(err, store.ErrActorNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, engine.ErrNotComplete):
		return http.StatusConflict
	case errors.Is(err, engine.ErrCommitQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrCommitTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, dag.ErrCycleDetected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
