package pricetier

import "go.uber.org/fx"

var Module = fx.Module("pricetier",
	fx.Provide(NewCache),
)
