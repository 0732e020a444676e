// Package whisper provides an HTTP client for the Whisper audio transcription service.
//
// Whisper is a self-hosted audio transcription service based on OpenAI's Whisper model.
// It accepts audio file uploads via HTTP multipart form and returns JSON transcripts
// with per-segment timestamps.
// See: https://github.com/onerahmet/openai-whisper-asr-webservice
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/pkg/logger"
)

// Module provides the Whisper client as an fx module
var Module = fx.Module("whisper",
	fx.Provide(NewClient),
)

// ErrDisabled is returned when the Whisper service is disabled via config.
var ErrDisabled = errors.New("whisper transcription service is disabled")

// ServiceError is a non-2xx response from the Whisper service. 4xx
// responses indicate a bad input and are not worth retrying; 5xx and
// 429 usually are.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("whisper service returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed on a later attempt.
func (e *ServiceError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Segment is one timed span of the transcript. Times are seconds from
// the start of the audio.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is a full transcription response.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Client is an HTTP client for the Whisper audio transcription service
type Client struct {
	httpClient    *http.Client
	baseURL       string
	timeout       time.Duration
	enabled       bool
	language      string
	maxFileSizeMB int
	log           *slog.Logger
}

// NewClient creates a new Whisper client
func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Whisper.Timeout(),
		},
		baseURL:       cfg.Whisper.ServiceURL,
		timeout:       cfg.Whisper.Timeout(),
		enabled:       cfg.Whisper.Enabled,
		language:      cfg.Whisper.Language,
		maxFileSizeMB: cfg.Whisper.MaxFileSizeMB,
		log:           log.With(logger.Scope("whisper")),
	}
}

// IsEnabled returns true if the Whisper service is enabled
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// MaxFileSizeBytes returns the maximum allowed audio file size in bytes
func (c *Client) MaxFileSizeBytes() int64 {
	return int64(c.maxFileSizeMB) * 1024 * 1024
}

// TranscribeFile reads the audio file at path and transcribes it.
func (c *Client) TranscribeFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	return c.Transcribe(ctx, data, filepath.Base(path))
}

// Transcribe sends an audio file to the Whisper service and returns the
// transcript with segment timestamps. The audio data is sent as
// multipart/form-data with field name "audio_file" to
// POST /asr?output=json&task=transcribe.
func (c *Client) Transcribe(ctx context.Context, data []byte, filename string) (*Result, error) {
	if !c.enabled {
		return nil, ErrDisabled
	}

	startTime := time.Now()
	c.log.Debug("transcribing audio file",
		slog.String("filename", filename),
		slog.Int("size_bytes", len(data)),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Build multipart form body
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio_file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write audio content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	// Build URL with query parameters
	endpoint, err := url.Parse(c.baseURL + "/asr")
	if err != nil {
		return nil, fmt.Errorf("parse service URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("output", "json")
	q.Set("task", "transcribe")
	if c.language != "" {
		q.Set("language", c.language)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("whisper transcription timed out for %s after %s: %w", filename, c.timeout, err)
		}
		return nil, fmt.Errorf("whisper service unavailable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		excerpt := strings.TrimSpace(string(body))
		if len(excerpt) > 200 {
			excerpt = excerpt[:200] + "..."
		}
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: excerpt}
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}
	result.Text = strings.TrimSpace(result.Text)

	c.log.Info("transcription completed",
		slog.String("filename", filename),
		slog.String("language", result.Language),
		slog.Int("segments", len(result.Segments)),
		slog.Duration("duration", time.Since(startTime)),
	)

	return &result, nil
}
