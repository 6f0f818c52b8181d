package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mira-ai/mira/internal/config"
	"github.com/mira-ai/mira/internal/uow"
)

// buildMigrateCmd creates the "migrate" command group. Unlike the teacher's
// migrate group, this has exactly one subcommand: schema migrations run
// automatically inside uow.NewPool on every connect (the way every other
// subcommand already gets them for free), so there is no separate up/down
// to drive — "status" exists to let an operator confirm connectivity and
// that the migration table is current without starting a full serve loop.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect the continuum/message schema migration state",
	}
	cmd.AddCommand(buildMigrateStatusCmd())
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect to Postgres and report migration success",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runMigrateStatus(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := uow.NewPool(ctx, uow.Config{DSN: cfg.SQL.DSN, MaxConnections: cfg.SQL.MaxConnections})
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	defer pool.Close()

	fmt.Println("schema migrations applied, database reachable")
	return nil
}
