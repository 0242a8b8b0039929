package pet

import (
	"github.com/smallbiznis/pawtrack/internal/pet/domain"
	"github.com/smallbiznis/pawtrack/internal/pet/service"
	"github.com/smallbiznis/pawtrack/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("pet.service",
	fx.Provide(repository.ProvideStore[domain.Pet]),
	fx.Provide(service.New),
)
