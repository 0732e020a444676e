package apperror

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invokeHandler(t *testing.T, method string, err error) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	HTTPErrorHandler(log)(err, c)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	inner, ok := body["error"].(map[string]any)
	require.True(t, ok, "body should have an error object")
	return inner
}

func TestHandlerRendersAppError(t *testing.T) {
	rec := invokeHandler(t, http.MethodGet, ErrJobNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	inner := decodeError(t, rec)
	assert.Equal(t, "job_not_found", inner["code"])
	assert.Equal(t, "Job not found", inner["message"])
}

func TestHandlerRendersEchoStringError(t *testing.T) {
	rec := invokeHandler(t, http.MethodGet, echo.NewHTTPError(http.StatusNotFound, "Not Found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	inner := decodeError(t, rec)
	assert.Equal(t, "not_found", inner["code"])
	assert.Equal(t, "Not Found", inner["message"])
}

func TestHandlerPassesThroughShapedEchoError(t *testing.T) {
	err := echo.NewHTTPError(http.StatusForbidden, map[string]any{
		"error": map[string]any{
			"code":    "insufficient_scope",
			"message": "missing required scope: admin:read",
		},
	})
	rec := invokeHandler(t, http.MethodGet, err)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	inner := decodeError(t, rec)
	assert.Equal(t, "insufficient_scope", inner["code"])
}

func TestHandlerHidesUnknownErrors(t *testing.T) {
	rec := invokeHandler(t, http.MethodGet, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	inner := decodeError(t, rec)
	assert.Equal(t, "internal_error", inner["code"])
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestHandlerHeadRequestHasNoBody(t *testing.T) {
	rec := invokeHandler(t, http.MethodHead, ErrJobNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
}
