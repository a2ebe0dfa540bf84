package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"modelgw/internal/generation"
	"modelgw/internal/manager"
	"modelgw/pkg/types"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsModelUnavailable(err), manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case generation.IsGenerationFailed(err):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
