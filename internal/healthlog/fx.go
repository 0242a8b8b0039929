package healthlog

import (
	"github.com/smallbiznis/pawtrack/internal/healthlog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("healthlog.service",
	fx.Provide(service.New),
)
