package chunking

import (
	"go.uber.org/fx"
)

// Module provides semantic chunking.
var Module = fx.Module("chunking",
	fx.Provide(NewService),
)
