package main

import (
	"github.com/smallbiznis/mealdelivery/internal/audit"
	"github.com/smallbiznis/mealdelivery/internal/clock"
	"github.com/smallbiznis/mealdelivery/internal/config"
	"github.com/smallbiznis/mealdelivery/internal/delivery"
	"github.com/smallbiznis/mealdelivery/internal/idgen"
	"github.com/smallbiznis/mealdelivery/internal/lock"
	"github.com/smallbiznis/mealdelivery/internal/migration"
	"github.com/smallbiznis/mealdelivery/internal/observability"
	"github.com/smallbiznis/mealdelivery/internal/scheduler"
	"github.com/smallbiznis/mealdelivery/internal/server"
	"github.com/smallbiznis/mealdelivery/internal/subscription"
	"github.com/smallbiznis/mealdelivery/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,

		subscription.Module,
		delivery.Module,
		audit.Module,
		scheduler.Module,

		// ops endpoints only
		server.Module,
	)
	app.Run()
}
