package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	redisadapter "github.com/ferrite-id/ferrite/internal/adapters/redis"
	"github.com/ferrite-id/ferrite/internal/bootstrap"
	"github.com/ferrite-id/ferrite/internal/data"
)

func runRevokeSessions(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("revoke-sessions", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}

	db, cleanup, err := openDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	sessions := data.NewSessionRepo(db)
	tokens, err := sessions.RevokeAllForUser(ctx, *userID, "", time.Now())
	if err != nil {
		return err
	}

	// When the session cache is on, the cached tokens must die with the rows.
	if cmdCtx.Config.Redis.SessionCacheEnabled {
		client, err := bootstrap.ConnectRedis(cmdCtx.Config.Redis, cmdCtx.Logger)
		if err != nil {
			return fmt.Errorf("session cache is enabled but unreachable, revoked tokens would stay cached: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
			}
		}()
		cache := redisadapter.NewSessionCache(client)
		for _, token := range tokens {
			if err := cache.Delete(ctx, token); err != nil {
				return fmt.Errorf("purge cached session: %w", err)
			}
		}
	}

	cmdCtx.Logger.InfoContext(ctx, "sessions revoked", "user", *userID, "count", len(tokens))
	return nil
}

func runListMethods(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-methods", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}

	db, cleanup, err := openDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	creds := data.NewCredentialRepo(db)
	methods, err := creds.ListMethods(ctx, *userID)
	if err != nil {
		return err
	}

	if len(methods) == 0 {
		fmt.Fprintln(os.Stdout, "no linked methods")
		return nil
	}
	for _, m := range methods {
		fmt.Fprintln(os.Stdout, m)
	}
	return nil
}

// runDeleteUser boots the full service graph so the deletion broadcast
// reaches every configured method, including the outer-sync ones.
func runDeleteUser(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("delete-user", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	yes := fs.Bool("yes", false, "skip confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}
	if !*yes {
		return errors.New("deletion cascades to sessions, credentials, and external accounts; re-run with -yes")
	}

	db, cleanup, err := openDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	svcs, err := bootstrap.BuildServices(ctx, cmdCtx.Config, db, nil, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer svcs.Close()

	if err := svcs.Users.Delete(ctx, *userID); err != nil {
		return err
	}
	cmdCtx.Logger.InfoContext(ctx, "user deleted", "user", *userID)
	return nil
}
