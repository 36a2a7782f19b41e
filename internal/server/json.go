package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// SuccessResponse is the body of endpoints with nothing else to report.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg})
}

func writeReason(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, ErrorResponse{Message: msg, Reason: reason})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coderelay.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, coderelay.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, coderelay.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coderelay.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, coderelay.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, coderelay.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// respondError writes err with the status of its kind. Errors without a
// kind are logged and reported without detail.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeError(w, status, "Server error")
		return
	}
	writeError(w, status, coderelay.Message(err, http.StatusText(status)))
}
