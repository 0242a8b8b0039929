package metering

import "go.uber.org/fx"

var Module = fx.Module("metering.engine",
	fx.Provide(NewEngine),
)
