package jobs

import (
	"go.uber.org/fx"
)

// Module provides job state storage.
var Module = fx.Module("domain.jobs",
	fx.Provide(NewRepository),
)
