package tokenaccount

import (
	"github.com/smallbiznis/pawtrack/internal/tokenaccount/repository"
	"github.com/smallbiznis/pawtrack/internal/tokenaccount/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tokenaccount.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
