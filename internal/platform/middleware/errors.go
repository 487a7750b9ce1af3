package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/ledger/internal/platform/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:            http.StatusBadRequest,
	apperr.KindInvalidState:          http.StatusBadRequest,
	apperr.KindInvalidTransition:     http.StatusBadRequest,
	apperr.KindResourceUnavailable:   http.StatusBadRequest,
	apperr.KindPaymentExceedsBalance: http.StatusBadRequest,
	apperr.KindHasPayments:           http.StatusBadRequest,
	apperr.KindResourceInUse:         http.StatusConflict,
	apperr.KindNotFound:              http.StatusNotFound,
	apperr.KindTransactionFailure:    http.StatusInternalServerError,
}

// Render converts err into a status code and response body. Unexpected errors
// get an opaque message; their cause only reaches the log.
func Render(err error) (int, ErrorBody) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, ErrorBody{Error: "Timeout", Message: "request exceeded the allowed time"}
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		status, ok := kindStatus[ae.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			return status, ErrorBody{Error: string(apperr.KindTransactionFailure), Message: "internal error"}
		}
		msg := ae.Message
		if msg == "" {
			msg = string(ae.Kind)
		}
		return status, ErrorBody{Error: string(ae.Kind), Message: msg, Field: ae.Field}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && he.Code < http.StatusInternalServerError {
			msg = s
		}
		return he.Code, ErrorBody{Error: httpKind(he.Code), Message: msg}
	}

	return http.StatusInternalServerError, ErrorBody{Error: string(apperr.KindTransactionFailure), Message: "internal error"}
}

func httpKind(code int) string {
	switch code {
	case http.StatusBadRequest:
		return string(apperr.KindValidation)
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return string(apperr.KindNotFound)
	case http.StatusRequestEntityTooLarge:
		return "PayloadTooLarge"
	default:
		return http.StatusText(code)
	}
}

// ErrorHandler is installed as echo's HTTPErrorHandler.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := Render(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
