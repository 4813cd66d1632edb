package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the standard error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string             `json:"kind"`
	Message string             `json:"message"`
	Fields  []event.FieldError `json:"fields,omitempty"`
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "validation_error", "invalid_timestamp":
		return http.StatusUnprocessableEntity
	case "payload_too_large":
		return http.StatusRequestEntityTooLarge
	case "invalid_cursor":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "storage_unavailable":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError classifies err and writes the envelope. Unclassified errors
// are logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	body := errorBody{Error: errorDetail{Kind: event.KindOf(err), Message: err.Error()}}

	var verr *event.ValidationError
	if errors.As(err, &verr) {
		body.Error.Fields = verr.Fields
	}
	if body.Error.Kind == "" {
		slog.Error("unclassified error", "method", r.Method, "path", r.URL.Path, "err", err)
		body.Error = errorDetail{Kind: "internal", Message: "internal error"}
	}
	if body.Error.Kind == "storage_unavailable" {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusFor(body.Error.Kind), body)
}

// writeBadRequest reports a request that could not be decoded at all.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "invalid_request", Message: msg}})
}
