package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/mealdelivery/internal/audit"
	"github.com/smallbiznis/mealdelivery/internal/clock"
	"github.com/smallbiznis/mealdelivery/internal/config"
	"github.com/smallbiznis/mealdelivery/internal/delivery"
	"github.com/smallbiznis/mealdelivery/internal/idgen"
	"github.com/smallbiznis/mealdelivery/internal/observability"
	"github.com/smallbiznis/mealdelivery/internal/scheduler"
	"github.com/smallbiznis/mealdelivery/internal/subscription"
	"github.com/smallbiznis/mealdelivery/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const startTimeout = 15 * time.Second

// NewRootCmd assembles the operator CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deliveryctl",
		Short:         "Operate the meal delivery engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newAdvanceCmd())
	root.AddCommand(newOverrideCmd())
	return root
}

// withApp starts a reduced graph without the daemon triggers or the ops
// server, populates targets and runs fn.
func withApp(ctx context.Context, fn func(ctx context.Context) error, targets ...any) error {
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		clock.Module,
		subscription.Module,
		delivery.Module,
		audit.Module,
		fx.Provide(scheduler.ProvideConfig, scheduler.New),
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), startTimeout)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}
