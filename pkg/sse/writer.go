// Package sse implements the server side of Server-Sent Events: a
// response writer that speaks the wire format, and the typed events the
// progress stream emits.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Writer streams SSE frames over an http.ResponseWriter. All methods
// are safe for concurrent use; writes after Close are rejected so a
// finished stream cannot be appended to by a late goroutine.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	started bool
	closed  bool
}

// NewWriter wraps w. Headers are not written until Start, leaving room
// for the handler to still fail the request with a normal status code.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Start commits the response: SSE headers, status 200, first flush.
func (s *Writer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.flusher == nil {
		return fmt.Errorf("response writer does not support flushing")
	}

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Content-Type-Options", "nosniff")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()

	s.started = true
	return nil
}

// WriteEvent sends one named frame with a JSON payload:
//
//	event: <name>
//	data: <json>
func (s *Writer) WriteEvent(name string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sse stream closed")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}

	if name != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}

	s.flush()
	return nil
}

// WriteComment sends a comment frame (": <text>"). Clients ignore it;
// proxies see traffic. Used as the keep-alive tick.
func (s *Writer) WriteComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sse stream closed")
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}

	s.flush()
	return nil
}

// Close rejects all further writes. It does not close the underlying
// connection; the handler returning does that.
func (s *Writer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Writer) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
