package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// HTTPLogger appends one line per request to an access log file, in
// addition to the structured request logging on the main logger. The
// file path comes from HTTP_LOG_FILE; when unset the logger is a no-op.
type HTTPLogger struct {
	mu   sync.Mutex
	file *os.File
}

func NewHTTPLogger(log *slog.Logger) *HTTPLogger {
	path := os.Getenv("HTTP_LOG_FILE")
	if path == "" {
		return &HTTPLogger{}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("http log directory not writable, disabling access log", Error(err))
		return &HTTPLogger{}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn("http log file not writable, disabling access log", Error(err))
		return &HTTPLogger{}
	}

	return &HTTPLogger{file: f}
}

// LogRequest writes a single access-log line. Safe for concurrent use.
func (h *HTTPLogger) LogRequest(ip, method, uri string, status int, latency time.Duration, userAgent, requestID string) {
	if h == nil || h.file == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(h.file, "%s %s %s %s %d %s %q %s\n",
		time.Now().UTC().Format(time.RFC3339),
		ip, method, uri, status, latency, userAgent, requestID,
	)
}

// Close releases the underlying file, if any.
func (h *HTTPLogger) Close() error {
	if h == nil || h.file == nil {
		return nil
	}
	return h.file.Close()
}
