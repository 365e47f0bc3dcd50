package main

import (
	"context"
	"database/sql"
	"flag"
	"time"

	"github.com/ferrite-id/ferrite/internal/bootstrap"
	"github.com/ferrite-id/ferrite/internal/migrate"
)

const defaultCommandTimeout = 2 * time.Minute

// openDB connects to the identity store without running migrations.
func openDB(cmdCtx *commandContext) (*sql.DB, func(), error) {
	db, err := bootstrap.ConnectDB(cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}
	return db, cleanup, nil
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "migration timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, cleanup, err := openDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
	defer cancel()

	if err := migrate.Run(ctx, db); err != nil {
		return err
	}
	cmdCtx.Logger.InfoContext(ctx, "migrations applied")
	return nil
}
