package expiryqueue

import "go.uber.org/fx"

var Module = fx.Module("expiryqueue",
	fx.Provide(NewQueue),
)
