package chunks

import (
	"go.uber.org/fx"
)

// Module provides chunk storage.
var Module = fx.Module("chunks",
	fx.Provide(NewRepository),
)
