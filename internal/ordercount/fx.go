package ordercount

import "go.uber.org/fx"

var Module = fx.Module("ordercount",
	fx.Provide(NewCounter),
)
