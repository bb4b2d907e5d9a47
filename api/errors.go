package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/herald"
	"github.com/xraph/herald/subscription"
)

type errorBody struct {
	Error   string                    `json:"error"`
	Details []subscription.FieldError `json:"details,omitempty"`
}

// errorHandler maps handler errors onto status codes.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := classify(err)
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request().Context(), "api request failed",
				"method", c.Request().Method, "path", c.Path(), "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.ErrorContext(c.Request().Context(), "write error response", "error", err)
		}
	}
}

func classify(err error) (int, errorBody) {
	var ve *subscription.ValidationError
	var he *echo.HTTPError

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorBody{Error: "validation failed", Details: ve.Errors}
	case errors.Is(err, herald.ErrSubscriptionNotFound), errors.Is(err, herald.ErrDeliveryNotFound):
		return http.StatusNotFound, errorBody{Error: "not found"}
	case errors.Is(err, herald.ErrNotReplayable):
		return http.StatusConflict, errorBody{Error: err.Error()}
	case errors.Is(err, herald.ErrPayloadValidationFailed):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	case errors.As(err, &he):
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, errorBody{Error: msg}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal server error"}
	}
}
