package billingprovider

import "go.uber.org/fx"

var Module = fx.Module("billingprovider",
	fx.Provide(NewClient),
)
