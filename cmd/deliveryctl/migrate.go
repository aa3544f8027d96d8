package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/mealdelivery/internal/migration"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(commandContext(cmd), func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.RunMigrations(sqlDB); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				return printVersion(cmd, conn)
			})
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, err := cmd.Flags().GetInt("steps")
			if err != nil {
				return err
			}
			return withDB(commandContext(cmd), func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.RollbackMigrations(sqlDB, steps); err != nil {
					return fmt.Errorf("failed to roll back migrations: %w", err)
				}
				return printVersion(cmd, conn)
			})
		},
	}
	down.Flags().Int("steps", 1, "Number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(commandContext(cmd), func(conn *gorm.DB) error {
				return printVersion(cmd, conn)
			})
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func withDB(ctx context.Context, fn func(conn *gorm.DB) error) error {
	var conn *gorm.DB
	return withApp(ctx, func(context.Context) error { return fn(conn) }, &conn)
}

func printVersion(cmd *cobra.Command, conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	version, dirty, err := migration.Version(sqlDB)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
