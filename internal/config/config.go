package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Provider names accepted by EMBEDDING_PROVIDER.
const (
	EmbeddingProviderLocal = "local"
	EmbeddingProviderHTTP  = "http"
	EmbeddingProviderGenAI = "genai"
)

// Provider names accepted by LLM_PROVIDER.
const (
	LLMProviderOllama = "ollama"
	LLMProviderGemini = "gemini"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// JWT authentication
	Auth AuthConfig

	// Whisper transcription service
	Whisper WhisperConfig

	// LLM configuration (chunking oracle)
	LLM LLMConfig

	// Embeddings configuration
	Embeddings EmbeddingsConfig

	// Chunking configuration
	Chunking ChunkingConfig

	// Pipeline (workflow engine) configuration
	Pipeline PipelineConfig

	// Upload intake configuration
	Uploads UploadsConfig

	// Object storage (audio archival)
	Storage StorageConfig

	// OpenTelemetry
	Otel OtelConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"28800s"` // 8 hours for SSE
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"28800s"`  // 8 hours for SSE
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"skald"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"skald"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// AuthConfig holds JWT authentication settings
type AuthConfig struct {
	// Secret is the HS256 signing secret. Empty disables auth entirely,
	// which is only acceptable for local development.
	Secret string `env:"JWT_SECRET" envDefault:""`

	// Issuer expected in tokens (optional).
	Issuer string `env:"JWT_ISSUER" envDefault:""`

	// TokenTTL for tokens minted by the dev token endpoint.
	TokenTTL time.Duration `env:"JWT_TOKEN_TTL" envDefault:"24h"`

	// DebugToken bypasses verification when presented (development only).
	DebugToken string `env:"AUTH_DEBUG_TOKEN" envDefault:""`
}

// IsConfigured returns true if JWT verification is active
func (a *AuthConfig) IsConfigured() bool {
	return a.Secret != ""
}

// WhisperConfig holds Whisper transcription service settings
type WhisperConfig struct {
	// Enabled determines if transcription is enabled
	Enabled bool `env:"WHISPER_ENABLED" envDefault:"true"`
	// ServiceURL is the Whisper ASR webservice URL
	ServiceURL string `env:"WHISPER_SERVICE_URL" envDefault:"http://localhost:9000"`
	// Language hint passed to the model; empty means auto-detect
	Language string `env:"WHISPER_LANGUAGE" envDefault:""`
	// TimeoutMs is the request timeout in milliseconds (default 55 minutes,
	// just under the transcribe activity's start-to-close timeout)
	TimeoutMs int `env:"WHISPER_SERVICE_TIMEOUT" envDefault:"3300000"`
	// MaxFileSizeMB is the maximum audio file size accepted at intake
	MaxFileSizeMB int `env:"WHISPER_MAX_FILE_SIZE_MB" envDefault:"500"`
}

// Timeout returns the request timeout as a Duration
func (w *WhisperConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// LLMConfig holds chat completion provider configuration
type LLMConfig struct {
	// Provider: "ollama" (default) or "gemini"
	Provider string `env:"LLM_PROVIDER" envDefault:"ollama"`

	// OllamaURL is the Ollama server base URL
	OllamaURL string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`

	// GeminiAPIKey enables the Gemini provider
	GeminiAPIKey string `env:"GEMINI_API_KEY" envDefault:""`

	// Model name for the selected provider
	Model string `env:"LLM_MODEL" envDefault:"qwen3:8b"`

	// Temperature for completions (0.0-1.0)
	Temperature float64 `env:"LLM_TEMPERATURE" envDefault:"0"`

	// TimeoutMs is the per-request timeout in milliseconds
	TimeoutMs int `env:"LLM_TIMEOUT_MS" envDefault:"120000"`

	// RequestsPerSecond rate-limits oracle calls; 0 disables limiting
	RequestsPerSecond float64 `env:"LLM_REQUESTS_PER_SECOND" envDefault:"2"`

	// Burst for the rate limiter
	Burst int `env:"LLM_BURST" envDefault:"2"`
}

// Timeout returns the request timeout as a Duration
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMs) * time.Millisecond
}

// EmbeddingsConfig holds embedding provider configuration
type EmbeddingsConfig struct {
	// Provider: "local" (default), "http", or "genai"
	Provider string `env:"EMBEDDING_PROVIDER" envDefault:"local"`

	// ServiceURL for the "http" provider
	ServiceURL string `env:"EMBEDDING_SERVICE_URL" envDefault:""`

	// Model name for the "genai" provider
	Model string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`

	// Dimension must equal the compiled embedding dimension; it exists
	// as config only so a mismatched deployment fails loudly at startup
	// instead of corrupting the vector column.
	Dimension int `env:"EMBEDDING_DIM" envDefault:"384"`

	// GoogleAPIKey for the "genai" provider
	GoogleAPIKey string `env:"GOOGLE_API_KEY" envDefault:""`

	// TimeoutMs is the per-request timeout in milliseconds
	TimeoutMs int `env:"EMBEDDING_TIMEOUT_MS" envDefault:"30000"`
}

// Timeout returns the request timeout as a Duration
func (e *EmbeddingsConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// ChunkingConfig holds semantic chunking settings
type ChunkingConfig struct {
	// MaxTokens is the approximate token budget per chunk; the sentence
	// fallback targets MaxTokens*4 characters
	MaxTokens int `env:"CHUNK_MAX_TOKENS" envDefault:"500"`

	// OracleTimeoutMs is the total budget for oracle attempts per job
	OracleTimeoutMs int `env:"CHUNK_ORACLE_TIMEOUT_MS" envDefault:"30000"`

	// OracleRetries is how many oracle attempts happen before falling
	// back to sentence chunking
	OracleRetries int `env:"CHUNK_ORACLE_RETRIES" envDefault:"2"`

	// SnapGapChars is the largest gap between adjacent oracle chunks
	// that gets snapped shut during validation
	SnapGapChars int `env:"CHUNK_SNAP_GAP_CHARS" envDefault:"64"`

	// PromptFile optionally points at a YAML file overriding the
	// built-in oracle prompt template
	PromptFile string `env:"CHUNK_PROMPT_FILE" envDefault:""`
}

// OracleTimeout returns the oracle budget as a Duration
func (c *ChunkingConfig) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutMs) * time.Millisecond
}

// PipelineConfig holds workflow engine settings
type PipelineConfig struct {
	// Enabled determines if this process runs pipeline workers
	Enabled bool `env:"PIPELINE_ENABLED" envDefault:"true"`

	// Concurrency is the worker pool size
	Concurrency int `env:"PIPELINE_CONCURRENCY" envDefault:"3"`

	// PollIntervalMs is the dequeue polling interval in milliseconds
	PollIntervalMs int `env:"PIPELINE_POLL_INTERVAL_MS" envDefault:"1000"`

	// HeartbeatIntervalMs is how often running tasks heartbeat
	HeartbeatIntervalMs int `env:"PIPELINE_HEARTBEAT_INTERVAL_MS" envDefault:"5000"`

	// StaleAfterMs is how old a processing job with no live task must
	// be before the resume sweep re-enqueues it. Task-level staleness
	// uses each activity's own heartbeat timeout.
	StaleAfterMs int `env:"PIPELINE_STALE_AFTER_MS" envDefault:"60000"`

	// AdaptiveConcurrency lets the system health scaler shrink the
	// effective pool under load
	AdaptiveConcurrency bool `env:"PIPELINE_ADAPTIVE_CONCURRENCY" envDefault:"false"`
}

// PollInterval returns the polling interval as a Duration
func (p *PipelineConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat interval as a Duration
func (p *PipelineConfig) HeartbeatInterval() time.Duration {
	return time.Duration(p.HeartbeatIntervalMs) * time.Millisecond
}

// StaleAfter returns the stale threshold as a Duration
func (p *PipelineConfig) StaleAfter() time.Duration {
	return time.Duration(p.StaleAfterMs) * time.Millisecond
}

// UploadsConfig holds audio upload intake settings
type UploadsConfig struct {
	// Dir is the local directory where uploaded audio is written
	Dir string `env:"UPLOAD_DIR" envDefault:"uploads"`

	// OrphanSweepAge is how old an upload file without a job row must
	// be before the sweeper deletes it
	OrphanSweepAge time.Duration `env:"UPLOAD_ORPHAN_SWEEP_AGE" envDefault:"24h"`
}

// StorageConfig holds object storage (MinIO/S3) configuration for
// audio archival
type StorageConfig struct {
	// Endpoint is the MinIO/S3 endpoint URL
	Endpoint string `env:"MINIO_ENDPOINT" envDefault:""`
	// AccessKeyID is the access key ID
	AccessKeyID string `env:"MINIO_ACCESS_KEY" envDefault:""`
	// SecretAccessKey is the secret access key
	SecretAccessKey string `env:"MINIO_SECRET_KEY" envDefault:""`
	// Bucket is the bucket name
	Bucket string `env:"MINIO_BUCKET" envDefault:"skald-audio"`
	// UseSSL determines if SSL should be used
	UseSSL bool `env:"MINIO_USE_SSL" envDefault:"false"`
	// Region is the bucket region (for S3 compatibility)
	Region string `env:"MINIO_REGION" envDefault:"us-east-1"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// The vector(384) column type is baked into the schema; a different
	// dimension would silently corrupt similarity scores.
	if cfg.Embeddings.Dimension != 384 {
		return nil, fmt.Errorf("EMBEDDING_DIM is %d, the schema supports only 384", cfg.Embeddings.Dimension)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("embedding_provider", cfg.Embeddings.Provider),
	)

	return cfg, nil
}
