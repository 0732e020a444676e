package apperror

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:   "bad_request",
	http.StatusUnauthorized: "unauthorized",
	http.StatusForbidden:    "forbidden",
	http.StatusNotFound:     "not_found",
	http.StatusConflict:     "conflict",
}

// HTTPErrorHandler returns the echo error handler shared by the server
// and the test harness. *Error values render with their own status and
// code; echo's built-in errors (404 route miss, binder failures, scope
// denials) are normalized into the same envelope.
func HTTPErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := map[string]any{
			"code":    "internal_error",
			"message": "An internal error occurred",
		}

		switch e := err.(type) {
		case *Error:
			status = e.HTTPStatus
			body["code"] = e.Code
			body["message"] = e.Message
		case *echo.HTTPError:
			status = e.Code
			switch msg := e.Message.(type) {
			case map[string]any:
				// Handlers that already shaped an {"error": {...}} payload.
				if inner, ok := msg["error"].(map[string]any); ok {
					for k, v := range inner {
						body[k] = v
					}
				}
			case string:
				body["message"] = msg
				if code, ok := statusCodes[status]; ok {
					body["code"] = code
				}
			}
		}

		if status >= 500 {
			log.Error("request error",
				slog.Int("status", status),
				slog.String("error", err.Error()),
			)
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(status)
			return
		}
		c.JSON(status, map[string]any{"error": body})
	}
}
