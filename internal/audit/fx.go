package audit

import (
	auditdomain "github.com/smallbiznis/mealdelivery/internal/audit/domain"
	"github.com/smallbiznis/mealdelivery/internal/audit/repository"
	"github.com/smallbiznis/mealdelivery/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(
		func(s *service.Service) auditdomain.Sink { return s },
		func(s *service.Service) auditdomain.Reader { return s },
	),
)
