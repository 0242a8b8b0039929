package ratelimit

import (
	meteringdomain "github.com/smallbiznis/pawtrack/internal/metering/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewMeteredWriteLimiter),
	fx.Provide(func(l *MeteredWriteLimiter) meteringdomain.Limiter { return l }),
)
