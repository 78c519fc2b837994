package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"passgate/cmd/internal/migrations"
)

var errNoDatabase = errors.New("no database configured: set PASSGATE_DATABASE_URL or --database-url")

func newMigrateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations",
	}

	cmd.AddCommand(
		migrateStep(g, "up", "Apply all pending migrations", migrations.Up),
		migrateStep(g, "down", "Roll back the most recent migration", migrations.Down),
		migrateStep(g, "status", "Print the state of every migration", migrations.Status),
	)
	return cmd
}

func migrateStep(g *globalFlags, use, short string, fn func(ctx context.Context, db *sql.DB) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrationDB(cmd, g, fn)
		},
	}
}

func withMigrationDB(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, db *sql.DB) error) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errNoDatabase
	}

	db, err := migrations.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := fn(cmd.Context(), db); err != nil {
		return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
	}

	if v, err := migrations.Version(cmd.Context(), db); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "database version: %d\n", v)
	}
	return nil
}
