// Package main provides the entry point for the Skald API server
//
// @title Skald API
// @version 1.0.0
// @description Durable audio transcription pipeline: transcribe, chunk, embed, search
// @host localhost:8080
// @BasePath /
// @schemes http https
//
// @securityDefinitions.apikey bearerAuth
// @in header
// @name Authorization
// @description Bearer token (format: "Bearer <token>")
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/skald-labs/skald/domain/chunking"
	"github.com/skald-labs/skald/domain/chunks"
	"github.com/skald-labs/skald/domain/health"
	"github.com/skald-labs/skald/domain/intake"
	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/domain/mcp"
	"github.com/skald-labs/skald/domain/pipeline"
	"github.com/skald-labs/skald/domain/progress"
	"github.com/skald-labs/skald/domain/scheduler"
	"github.com/skald-labs/skald/domain/search"
	"github.com/skald-labs/skald/domain/tracing"
	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/internal/database"
	"github.com/skald-labs/skald/internal/server"
	"github.com/skald-labs/skald/internal/storage"
	"github.com/skald-labs/skald/pkg/auth"
	"github.com/skald-labs/skald/pkg/embeddings"
	"github.com/skald-labs/skald/pkg/llm"
	"github.com/skald-labs/skald/pkg/logger"
	"github.com/skald-labs/skald/pkg/syshealth"
	"github.com/skald-labs/skald/pkg/whisper"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		server.Module,
		storage.Module,

		// Auth module
		auth.Module,

		// Clients: ASR, embeddings, topic oracle
		whisper.Module,
		embeddings.Module,
		llm.Module,

		// System health monitor (adaptive pipeline concurrency)
		syshealth.Module,

		// OTel tracing (no-op unless an OTLP endpoint is configured)
		tracing.Module,

		// Domain modules
		health.Module,
		jobs.Module,
		chunks.Module,
		chunking.Module,
		pipeline.Module,
		progress.Module,
		search.Module,
		intake.Module,
		mcp.Module,

		// Scheduler module (cron-based maintenance sweeps)
		scheduler.Module,
	).Run()
}
