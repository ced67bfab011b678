package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Client-facing messages shared with the domain handlers.
const (
	ServerErrorMessage  = "Server error"
	BodyTooLargeMessage = "Request body too large"
)

// ErrorBody is the JSON shape of every error response: {"error": "..."}.
type ErrorBody struct {
	Error string `json:"error"`
}

// ErrorHandler renders errors that escape handlers (unknown routes, rate
// limiting, oversized bodies, panics) in the same {"error": ...} shape the
// eligibility endpoints use. Internal details never reach the client.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := ServerErrorMessage
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if code < http.StatusInternalServerError {
				msg = fmt.Sprint(he.Message)
			}
		}
		if code >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
				Msg("unhandled error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, ErrorBody{Error: msg})
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}
