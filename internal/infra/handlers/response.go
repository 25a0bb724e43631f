package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Path    string `json:"path"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// domainErrors is checked in order; the first match wins.
var domainErrors = []errorMapping{
	{domain.ErrAlreadyRunning, http.StatusConflict, "already_running", "A run is already in progress"},
	{domain.ErrMissingMessageID, http.StatusBadRequest, "missing_message_id", "Callback carries no message id"},
	{domain.ErrMissingParameters, http.StatusBadRequest, "missing_parameters", "Number, text and gateway credentials are required"},
	{domain.ErrJobNotFound, http.StatusNotFound, "job_not_found", "No job matches the message id"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found", "Resource not found"},
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().ErrorContext(r.Context(), "failed to encode response", slog.String("error", err.Error()))
	}
}

func Error(w http.ResponseWriter, r *http.Request, status int, message string) {
	ErrorWithCode(w, r, status, message, "")
}

func ErrorWithCode(w http.ResponseWriter, r *http.Request, status int, message string, code string) {
	JSON(w, r, status, ErrorResponse{
		Status:  status,
		Message: message,
		Code:    code,
		Path:    r.URL.Path,
	})
}

// DomainError writes the response mapped to err. It reports false for errors
// with no mapping so the caller can log and answer 500.
func DomainError(w http.ResponseWriter, r *http.Request, err error) bool {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			ErrorWithCode(w, r, m.status, m.message, m.code)
			return true
		}
	}
	return false
}
