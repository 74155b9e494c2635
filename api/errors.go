package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const serverErrorMessage = "Server error"

// statusFor maps a handler error onto an HTTP status and a body that is safe
// to return. Unknown errors become an opaque 500.
func statusFor(err error) (int, errorResponse) {
	var de *domain.Error
	if errors.As(err, &de) {
		switch {
		case errors.Is(de.Kind, domain.ErrNotFound):
			return http.StatusNotFound, errorResponse{Error: de.Message}
		case errors.Is(de.Kind, domain.ErrValidation):
			return http.StatusBadRequest, errorResponse{Error: de.Message, Fields: de.Fields}
		case errors.Is(de.Kind, domain.ErrAuth), errors.Is(de.Kind, domain.ErrConflict):
			return http.StatusBadRequest, errorResponse{Error: de.Message}
		}
	}
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, errorResponse{Error: msg}
	}
	return http.StatusInternalServerError, errorResponse{Error: serverErrorMessage}
}

// respondError writes err as JSON, logging causes of server errors.
func respondError(c echo.Context, logger *log.Logger, err error) error {
	status, body := statusFor(err)
	if m := metricsFrom(c); m != nil {
		m.SetError(err)
		if status >= http.StatusInternalServerError {
			m.SetErrorStage("service")
		} else {
			m.SetErrorStage("request")
		}
	}
	if status >= http.StatusInternalServerError && logger != nil {
		logger.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"route":  c.Path(),
		}).Error("request failed")
	}
	return c.JSON(status, body)
}

// HTTPErrorHandler renders errors escaping handlers and middleware, such as
// unknown routes, in the same JSON shape.
func HTTPErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		if rerr := respondError(c, logger, err); rerr != nil && logger != nil {
			logger.WithError(rerr).Warn("writing error response failed")
		}
	}
}
