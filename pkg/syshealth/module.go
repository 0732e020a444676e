package syshealth

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/skald-labs/skald/internal/config"
)

// Module provides system health monitoring and the adaptive
// concurrency scaler used by the pipeline worker pool.
var Module = fx.Module("syshealth",
	fx.Provide(
		NewAppMonitor,
		NewPipelineScaler,
	),
	fx.Invoke(RegisterLifecycle),
)

// NewAppMonitor creates the health monitor wired to the app database.
func NewAppMonitor(db *bun.DB, log *slog.Logger) Monitor {
	return NewMonitor(nil, db, log)
}

// NewPipelineScaler creates the concurrency scaler for pipeline workers.
// When adaptive concurrency is disabled the scaler passes the static
// value through unchanged.
func NewPipelineScaler(monitor Monitor, cfg *config.Config) *ConcurrencyScaler {
	return NewConcurrencyScaler(monitor, "pipeline",
		cfg.Pipeline.AdaptiveConcurrency, 1, cfg.Pipeline.Concurrency)
}

// RegisterLifecycle starts and stops the monitor with the app.
func RegisterLifecycle(lc fx.Lifecycle, monitor Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return monitor.Start()
		},
		OnStop: func(ctx context.Context) error {
			return monitor.Stop()
		},
	})
}
