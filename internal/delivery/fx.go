package delivery

import (
	"github.com/smallbiznis/mealdelivery/internal/delivery/repository"
	"github.com/smallbiznis/mealdelivery/internal/delivery/service"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
