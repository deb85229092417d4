package rollover

import "go.uber.org/fx"

var Module = fx.Module("rollover",
	fx.Provide(New),
)
