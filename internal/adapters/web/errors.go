package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"procurement-recon/internal/core"
)

type errorResponse struct {
	Error      string           `json:"error"`
	Code       string           `json:"code"`
	RequestID  string           `json:"request_id,omitempty"`
	Rejections []core.Rejection `json:"rejections,omitempty"`
	Dependents []string         `json:"dependents,omitempty"`
}

// retryAfterSeconds is sent with 503 responses for a busy purchase order.
const retryAfterSeconds = "1"

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, r, errorResponse{Error: message, Code: code}, status)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, resp errorResponse, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp.RequestID = requestIDFromContext(r.Context())
	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps a service error onto the HTTP status and error code callers rely on.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *core.ValidationError
		conflict   *core.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeErrorResponse(w, r, errorResponse{
			Error: err.Error(), Code: "VALIDATION_FAILED", Rejections: validation.Rejections,
		}, http.StatusUnprocessableEntity)
	case errors.As(err, &conflict):
		writeErrorResponse(w, r, errorResponse{
			Error: err.Error(), Code: "CONFLICT", Dependents: conflict.Dependents,
		}, http.StatusConflict)
	case errors.Is(err, core.ErrConflict):
		writeError(w, r, err.Error(), "CONFLICT", http.StatusConflict)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case core.IsRetryable(err):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, r, err.Error(), "BUSY", http.StatusServiceUnavailable)
	default:
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus writes a JSON response with the given status.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
