package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nerrad567/gray-logic-bridged/migrations"

	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/database"
)

// errUnknownMigrateAction is returned for an unrecognised migrate action.
var errUnknownMigrateAction = errors.New("unknown migrate action (want up, status or down)")

// runMigrate manages the journal schema without starting the daemon:
//
//	bridged migrate [up]   apply pending migrations
//	bridged migrate status list applied and pending migrations
//	bridged migrate down   roll back the latest migration
//
// The database is taken from the same config file as run, even when the
// journal is disabled there.
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	if len(args) > 1 {
		return fmt.Errorf("unexpected argument: %s", args[1])
	}
	switch action {
	case "up", "status", "down":
	default:
		return fmt.Errorf("%w: %s", errUnknownMigrateAction, action)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	switch action {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	}
	return printMigrationStatus(ctx, db, out)
}

func printMigrationStatus(ctx context.Context, db *database.DB, out io.Writer) error {
	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, m := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}
