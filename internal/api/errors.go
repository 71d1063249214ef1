package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/fleetwatch/internal/alert"
	"github.com/nerrad567/fleetwatch/internal/command"
	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/telemetry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeRateLimited  = "rate_limited"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps repository and dispatcher errors to responses.
// Unrecognised errors are logged and reported as 500 without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, alert.ErrAlertNotFound):
		writeNotFound(w, "alert not found")
	case errors.Is(err, command.ErrCommandNotFound):
		writeNotFound(w, "command not found")
	case errors.Is(err, device.ErrGroupNotFound):
		writeNotFound(w, "group not found")
	case errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "a device with this deviceId already exists")
	case errors.Is(err, device.ErrInvalidDeviceID),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidStatus),
		errors.Is(err, device.ErrInvalidTags),
		errors.Is(err, device.ErrUnknownGroup),
		errors.Is(err, device.ErrInvalidGroupName),
		errors.Is(err, device.ErrUnknownParent),
		errors.Is(err, device.ErrGroupCycle),
		errors.Is(err, alert.ErrInvalidSeverity),
		errors.Is(err, command.ErrInvalidCommand),
		errors.Is(err, telemetry.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, "internal server error")
	}
}
