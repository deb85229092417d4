package tierupgrade

import "go.uber.org/fx"

var Module = fx.Module("tierupgrade",
	fx.Provide(New),
)
