package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"textgen/internal/backend"
	"textgen/internal/state"
	"textgen/internal/supervisor"
	"textgen/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case state.IsRangeError(err):
		return http.StatusBadRequest
	case supervisor.IsBusy(err):
		return http.StatusTooManyRequests
	case supervisor.IsWorkerTimeout(err), supervisor.IsStuck(err), supervisor.IsWorkerExited(err),
		supervisor.IsWorkerStartup(err), errors.Is(err, supervisor.ErrNotRunning),
		backend.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logEvent(LevelError, nil).Err(err).Msg("encode response")
	}
}
