package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/skald-labs/skald/domain/chunking"
	"github.com/skald-labs/skald/domain/chunks"
	"github.com/skald-labs/skald/domain/health"
	"github.com/skald-labs/skald/domain/intake"
	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/domain/pipeline"
	"github.com/skald-labs/skald/domain/progress"
	"github.com/skald-labs/skald/domain/scheduler"
	"github.com/skald-labs/skald/domain/search"
	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/internal/storage"
	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/auth"
	"github.com/skald-labs/skald/pkg/embeddings"
	"github.com/skald-labs/skald/pkg/whisper"
)

// offlineLLM is an unconfigured chat provider. The chunker detects
// this and falls back to its heuristic splitter, so tests never make
// network calls.
type offlineLLM struct{}

func (offlineLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("llm disabled in tests")
}

func (offlineLLM) IsConfigured() bool { return false }

// TestServer wraps an Echo instance for testing
type TestServer struct {
	Echo           *echo.Echo
	TestDB         *TestDB
	DB             bun.IDB
	Config         *config.Config
	Log            *slog.Logger
	AuthMiddleware *auth.Middleware
	Engine         *pipeline.Engine
	Bus            *progress.Bus
}

// NewTestServer creates a test server with all routes registered.
func NewTestServer(testDB *TestDB) *TestServer {
	return newTestServerWithDB(testDB, testDB.GetDB())
}

// newTestServerWithDB creates a test server with a specific DB connection
func newTestServerWithDB(testDB *TestDB, db bun.IDB) *TestServer {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := testDB.Config
	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = "test-secret"
	}
	if os.Getenv("UPLOAD_DIR") == "" {
		// Keep test uploads out of the working directory.
		if dir, err := os.MkdirTemp("", "skald-test-uploads-"); err == nil {
			cfg.Uploads.Dir = dir
		}
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Use custom error handler to properly handle apperror.Error types
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)

	authMiddleware := auth.NewMiddleware(cfg, log)

	// Repositories share the per-test connection (usually a transaction).
	jobsRepo := jobs.NewRepository(db, log)
	chunksRepo := chunks.NewRepository(db, log)
	pipelineRepo := pipeline.NewRepository(db, log)

	whisperClient := whisper.NewClient(cfg, log)
	chunker := chunking.NewService(offlineLLM{}, cfg, log)
	embedder := embeddings.NewLocalService(log)
	bus := progress.NewBus(log)
	storageSvc, _ := storage.NewService(cfg, log)

	// The engine is constructed but never started: handlers use it to
	// enqueue work, and tests drive task execution explicitly when they
	// need it.
	engine := pipeline.NewEngine(pipeline.EngineParams{
		DB:         testDB.DB,
		Repo:       pipelineRepo,
		JobsRepo:   jobsRepo,
		ChunksRepo: chunksRepo,
		Whisper:    whisperClient,
		Chunker:    chunker,
		Embedder:   embedder,
		Bus:        bus,
		Config:     cfg,
		Log:        log,
	})

	// Register health routes (public)
	healthHandler := health.NewHandler(testDB.Pool, cfg)
	metricsHandler := health.NewMetricsHandler(testDB.DB, scheduler.NewScheduler(log))
	health.RegisterRoutes(e, healthHandler, metricsHandler)

	// Register protected test routes for auth testing
	protected := e.Group("/api/test")
	protected.Use(authMiddleware.RequireAuth())

	// Simple endpoint that returns user info (for testing auth)
	protected.GET("/me", func(c echo.Context) error {
		user := auth.GetUser(c)
		if user == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "No user in context")
		}
		return c.JSON(http.StatusOK, map[string]any{
			"id":     user.ID,
			"email":  user.Email,
			"scopes": user.Scopes,
		})
	})

	// Endpoint requiring specific scopes
	scopedGroup := e.Group("/api/test/scoped")
	scopedGroup.Use(authMiddleware.RequireAuth())
	scopedGroup.Use(authMiddleware.RequireScopes("jobs:read"))
	scopedGroup.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"message": "You have jobs:read scope"})
	})

	// Register intake routes
	intakeSvc := intake.NewService(jobsRepo, pipelineRepo, engine, whisperClient, storageSvc, cfg, log)
	intakeHandler := intake.NewHandler(intakeSvc, jobsRepo, chunksRepo)
	intake.RegisterRoutesManual(e, intakeHandler, authMiddleware)

	// Register search routes
	searchRepo := search.NewRepository(db, log)
	searchSvc := search.NewService(searchRepo, embedder, log)
	searchHandler := search.NewHandler(searchSvc)
	search.RegisterRoutes(e, searchHandler, authMiddleware)

	// Register progress routes
	progressHandler := progress.NewHandler(bus, jobsRepo, log)
	progress.RegisterRoutesManual(e, progressHandler, authMiddleware)

	return &TestServer{
		Echo:           e,
		TestDB:         testDB,
		DB:             db,
		Config:         cfg,
		Log:            log,
		AuthMiddleware: authMiddleware,
		Engine:         engine,
		Bus:            bus,
	}
}

// Request performs an HTTP request against the test server
func (s *TestServer) Request(method, path string, opts ...RequestOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)

	// Apply options
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// GET performs a GET request
func (s *TestServer) GET(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodGet, path, opts...)
}

// POST performs a POST request
func (s *TestServer) POST(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPost, path, opts...)
}

// PUT performs a PUT request
func (s *TestServer) PUT(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPut, path, opts...)
}

// DELETE performs a DELETE request
func (s *TestServer) DELETE(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodDelete, path, opts...)
}

// PATCH performs a PATCH request
func (s *TestServer) PATCH(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPatch, path, opts...)
}

// RequestOption modifies an HTTP request
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithAuth adds an Authorization header
func WithAuth(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithJSON adds Content-Type: application/json header
func WithJSON() RequestOption {
	return WithHeader("Content-Type", "application/json")
}

// WithBody adds a request body
func WithBody(body string) RequestOption {
	return func(r *http.Request) {
		r.Body = io.NopCloser(strings.NewReader(body))
		r.ContentLength = int64(len(body))
	}
}

// WithRawAuth adds a raw Authorization header value
func WithRawAuth(value string) RequestOption {
	return WithHeader("Authorization", value)
}

// WithJSONBody sets Content-Type to application/json and marshals the body to JSON
func WithJSONBody(body any) RequestOption {
	return func(r *http.Request) {
		data, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Body = io.NopCloser(strings.NewReader(string(data)))
		r.ContentLength = int64(len(data))
	}
}

// MultipartForm represents a multipart form for testing file uploads
type MultipartForm struct {
	body        *bytes.Buffer
	writer      *multipart.Writer
	contentType string
}

// NewMultipartForm creates a new multipart form builder
func NewMultipartForm() *MultipartForm {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	return &MultipartForm{
		body:   body,
		writer: writer,
	}
}

// AddFile adds a file to the multipart form
func (m *MultipartForm) AddFile(fieldName, filename string, content []byte) error {
	part, err := m.writer.CreateFormFile(fieldName, filename)
	if err != nil {
		return err
	}
	_, err = part.Write(content)
	return err
}

// AddField adds a regular field to the multipart form
func (m *MultipartForm) AddField(fieldName, value string) error {
	return m.writer.WriteField(fieldName, value)
}

// Close finalizes the multipart form and returns the content type
func (m *MultipartForm) Close() string {
	m.writer.Close()
	m.contentType = m.writer.FormDataContentType()
	return m.contentType
}

// WithMultipartForm adds a multipart form body to the request
func WithMultipartForm(form *MultipartForm) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Content-Type", form.contentType)
		r.Body = io.NopCloser(bytes.NewReader(form.body.Bytes()))
		r.ContentLength = int64(form.body.Len())
	}
}
