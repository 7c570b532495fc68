// Package response writes the status API's JSON envelopes.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes carried in the error envelope.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeDegraded          = "DEGRADED"
	CodeNotImplemented    = "NOT_IMPLEMENTED"
	CodeInternal          = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, envelope{Data: data})
}

// Accepted is used for requests that take effect asynchronously, such as
// stopping a poller whose in-flight query may still be returning.
func Accepted(w http.ResponseWriter, data any) {
	write(w, http.StatusAccepted, envelope{Data: data})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	write(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, CodeInvalidRequest, message, nil)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, CodeNotFound, message, nil)
}

// Internal hides the cause from the client; callers log it.
func Internal(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred", nil)
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}
