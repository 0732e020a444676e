package pipeline

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the pipeline engine and its task repository
var Module = fx.Module("pipeline",
	fx.Provide(NewRepository),
	fx.Provide(NewEngine),
	fx.Invoke(RegisterLifecycle),
)

// RegisterLifecycle starts the engine with the application and drains
// it on shutdown.
func RegisterLifecycle(lc fx.Lifecycle, engine *Engine) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// The hook context only lives for the duration of startup;
			// the poll loop needs one that outlives it.
			return engine.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return engine.Stop(ctx)
		},
	})
}
