package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterStartSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.Start())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
}

func TestWriterStartIsIdempotent(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	assert.Equal(t, http.StatusOK, rec.Code)
}

type noFlushWriter struct{ http.ResponseWriter }

func TestWriterStartRequiresFlusher(t *testing.T) {
	w := NewWriter(noFlushWriter{httptest.NewRecorder()})
	require.Error(t, w.Start())
}

func TestWriteEventFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	require.NoError(t, w.Start())

	require.NoError(t, w.WriteEvent("progress", map[string]any{"jobId": 7, "progress": 60}))

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress\n")
	assert.Contains(t, body, `data: {"jobId":7,"progress":60}`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestWriteEventWithoutName(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	require.NoError(t, w.Start())

	require.NoError(t, w.WriteEvent("", map[string]string{"k": "v"}))

	body := rec.Body.String()
	assert.NotContains(t, body, "event:")
	assert.Contains(t, body, `data: {"k":"v"}`)
}

func TestWriteEventRejectsUnmarshalable(t *testing.T) {
	w := NewWriter(httptest.NewRecorder())
	require.NoError(t, w.Start())

	err := w.WriteEvent("bad", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal")
}

func TestWriteCommentFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	require.NoError(t, w.Start())

	require.NoError(t, w.WriteComment("heartbeat"))
	assert.Equal(t, ": heartbeat\n\n", rec.Body.String())
}

func TestClosedWriterRejectsWrites(t *testing.T) {
	w := NewWriter(httptest.NewRecorder())
	require.NoError(t, w.Start())
	w.Close()

	assert.Error(t, w.WriteEvent("progress", map[string]int{"p": 1}))
	assert.Error(t, w.WriteComment("tick"))
}
