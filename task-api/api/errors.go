package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"taskboard/task-api/domain"
)

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, domain.ErrInvalidCredential),
		errors.Is(err, domain.ErrUnknownSubject):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err as {code, message}. Internal failures are logged and hidden from the caller.
func writeError(c echo.Context, stage string, err error) error {
	status := statusForError(err)
	metricsFrom(c).Fail(stage, err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		msg = "internal error"
	}
	return c.JSON(status, errorResponse{Code: domain.Code(err), Message: msg})
}
