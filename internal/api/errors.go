package api

import (
	"errors"
	"net/http"

	"revoice/internal/services"
	"revoice/internal/session"
)

// HTTPStatus maps an error from the workflow or storage layers to the HTTP
// status code the daemon should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInputUnavailable):
		return http.StatusConflict
	case errors.Is(err, services.ErrExternalTool):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorEnvelope builds the response body for a failed request.
func ErrorEnvelope(err error) ErrorResponse {
	details := services.Details(err)
	return ErrorResponse{
		Error: details.Message,
		Kind:  string(details.Kind),
	}
}
