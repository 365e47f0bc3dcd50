package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmdName)
		printUsage()
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"seed": {
			name:        "seed",
			description: "Create baseline scopes, groups, and dynamic options",
			run:         runSeed,
		},
		"grant-scope": {
			name:        "grant-scope",
			description: "Attach a scope to a group (creating the scope if needed)",
			run:         runGrantScope,
		},
		"add-member": {
			name:        "add-member",
			description: "Add a user to a group",
			run:         runAddMember,
		},
		"revoke-sessions": {
			name:        "revoke-sessions",
			description: "Revoke every live session of a user",
			run:         runRevokeSessions,
		},
		"delete-user": {
			name:        "delete-user",
			description: "Soft-delete a user and broadcast the deletion",
			run:         runDeleteUser,
		},
		"list-methods": {
			name:        "list-methods",
			description: "List the auth methods linked to a user",
			run:         runListMethods,
		},
	}
}

func printUsage() {
	fmt.Fprintf(os.Stdout, "Usage: ferrite-admin <command> [flags]\n\n")
	fmt.Fprintf(os.Stdout, "Available commands:\n")
	for _, c := range commands() {
		fmt.Fprintf(os.Stdout, "  %-18s %s\n", c.name, c.description)
	}
}
