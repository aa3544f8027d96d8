package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/mealdelivery/internal/clock"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	obscontext "github.com/smallbiznis/mealdelivery/internal/observability/context"
	"github.com/smallbiznis/mealdelivery/internal/scheduler"
	"github.com/spf13/cobra"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create the deliveries for one day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := cmd.Flags().GetString("date")
			if err != nil {
				return err
			}
			var (
				sched *scheduler.Scheduler
				cfg   scheduler.Config
				clk   clock.Clock
			)
			return withApp(commandContext(cmd), func(ctx context.Context) error {
				day := deliverydomain.DateOf(clk.Now(), cfg.Location)
				if raw != "" {
					if day, err = time.Parse(deliverydomain.DateLayout, raw); err != nil {
						return fmt.Errorf("invalid --date %q: %w", raw, err)
					}
				}
				result, err := sched.GenerateDailyDeliveries(ctx, day)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "date=%s created=%d skipped=%d failed=%d\n",
					day.Format(deliverydomain.DateLayout), result.Created, result.Skipped, len(result.Errors))
				for _, itemErr := range result.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %v\n", itemErr)
				}
				return nil
			}, &sched, &cfg, &clk)
		},
	}
	cmd.Flags().String("date", "", "Delivery date (YYYY-MM-DD); defaults to today in DELIVERY_TIMEZONE")
	return cmd
}

func newAdvanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Run one status progression pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := cmd.Flags().GetString("at")
			if err != nil {
				return err
			}
			var (
				sched *scheduler.Scheduler
				clk   clock.Clock
			)
			return withApp(commandContext(cmd), func(ctx context.Context) error {
				at := clk.Now()
				if raw != "" {
					if at, err = time.Parse(time.RFC3339, raw); err != nil {
						return fmt.Errorf("invalid --at %q: %w", raw, err)
					}
				}
				result, err := sched.AdvanceDeliveries(ctx, at)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "at=%s advanced=%d warnings=%d failed=%d\n",
					at.Format(time.RFC3339), result.Advanced, result.Warnings, len(result.Errors))
				for _, itemErr := range result.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %v\n", itemErr)
				}
				return nil
			}, &sched, &clk)
		},
	}
	cmd.Flags().String("at", "", "Evaluation instant (RFC3339); defaults to now")
	return cmd
}

func newOverrideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override <delivery-id> <status>",
		Short: "Set a delivery status manually",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cmd.Flags().GetString("actor")
			if err != nil {
				return err
			}
			var svc deliverydomain.Service
			return withApp(commandContext(cmd), func(ctx context.Context) error {
				ctx = obscontext.WithActor(ctx, obscontext.ActorTypeAdmin, actor)
				view, err := svc.AdminOverride(ctx, deliverydomain.AdminOverrideRequest{
					DeliveryID: args[0],
					Status:     args[1],
					ActorID:    actor,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delivery %s is now %s\n", view.ID, view.Status)
				return nil
			}, &svc)
		},
	}
	cmd.Flags().String("actor", "", "Operator id recorded in the audit log")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
