package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/tiwaz/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrStateMismatch):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrCredentialPermission):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrTransientProvider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes err with its status. Only caller-facing messages are
// exposed; everything else becomes the generic message.
func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := apperr.Public(err)
	if msg == apperr.GenericMessage {
		switch status {
		case http.StatusNotFound:
			msg = "not found"
		case http.StatusForbidden:
			msg = "forbidden"
		case http.StatusConflict:
			msg = "checksum mismatch"
		}
	}
	writeJSON(w, status, errorBody(msg))
}
