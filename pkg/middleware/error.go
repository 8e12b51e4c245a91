package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/associations"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// Error renders every handler error as an ErrorResponse. Association errors carry their code in
// meta so clients can tell an unknown entity from an unknown association.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		ctx := c.Request().Context()
		code, message, meta := describe(err)

		log := logger.WithContext(ctx).WithError(err).WithField("status", code)
		if code >= http.StatusInternalServerError {
			log.Error("api is returning an error")
		} else {
			log.Warn("api is returning an error")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}

// describe maps err to a status, a client safe message and metadata. Unknown errors never leak
// their text.
func describe(err error) (int, string, map[string]any) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
		return he.Code, message, map[string]any{}
	}

	if assocErr, ok := associations.AsError(err); ok {
		err = assocErr.ToHTTPError()
	}
	var httperr *httperror.HTTPError
	if errors.As(err, &httperr) {
		meta := httperr.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		message := httperr.Message
		if message == "" {
			message = http.StatusText(httperr.Code)
		}
		return httperr.Code, message, meta
	}

	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), map[string]any{}
}
