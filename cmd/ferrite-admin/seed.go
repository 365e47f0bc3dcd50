package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// baselineScopes are created by seed and referenced by the seeded groups.
var baselineScopes = map[string]string{
	"auth.session.update": "allows sliding session renewal and refresh with a fresh window",
	"auth.user.read":      "read user records through the admin API",
	"auth.user.delete":    "soft-delete users through the admin API",
}

func runSeed(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	defaultGroup := fs.String("default-group", "users", "name of the group new registrations join")
	adminGroup := fs.String("admin-group", "admins", "name of the administrator group")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, cleanup, err := openDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	scopes := data.NewScopeRepo(db)
	groups := data.NewGroupRepo(db)
	options := data.NewOptionRepo(db)

	scopeIDs := make(map[string]string, len(baselineScopes))
	for name, comment := range baselineScopes {
		scope, createErr := scopes.Create(ctx, name, comment, nil)
		if createErr != nil {
			if !errors.Is(createErr, data.ErrScopeNameExists) {
				return fmt.Errorf("create scope %s: %w", name, createErr)
			}
			scope, createErr = scopes.GetByName(ctx, name)
			if createErr != nil {
				return createErr
			}
		}
		scopeIDs[name] = scope.ID
	}

	users, err := ensureGroup(ctx, groups, *defaultGroup)
	if err != nil {
		return err
	}
	admins, err := ensureGroup(ctx, groups, *adminGroup)
	if err != nil {
		return err
	}

	if err := groups.AddScope(ctx, users.ID, scopeIDs["auth.session.update"]); err != nil {
		return err
	}
	for _, id := range scopeIDs {
		if err := groups.AddScope(ctx, admins.ID, id); err != nil {
			return err
		}
	}

	if err := options.SetString(ctx, model.OptionDefaultGroupID, users.ID); err != nil {
		return err
	}
	if err := options.SetString(ctx, model.OptionAdminGroupID, admins.ID); err != nil {
		return err
	}

	cmdCtx.Logger.InfoContext(ctx, "seed complete",
		"default_group", users.ID, "admin_group", admins.ID)
	return nil
}

func ensureGroup(ctx context.Context, groups *data.GroupRepo, name string) (*model.Group, error) {
	group, err := groups.Create(ctx, model.CreateGroupRequest{Name: name})
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, data.ErrGroupNameExists) {
		return nil, fmt.Errorf("create group %s: %w", name, err)
	}
	return groups.GetByName(ctx, name)
}

func runGrantScope(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("grant-scope", flag.ContinueOnError)
	groupName := fs.String("group", "", "group name")
	scopeName := fs.String("scope", "", "scope name")
	comment := fs.String("comment", "", "comment for a newly created scope")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *groupName == "" || *scopeName == "" {
		return errors.New("-group and -scope are required")
	}

	db, cleanup, err := openDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	scopes := data.NewScopeRepo(db)
	groups := data.NewGroupRepo(db)

	scope, err := scopes.Create(ctx, *scopeName, *comment, nil)
	if err != nil {
		if !errors.Is(err, data.ErrScopeNameExists) {
			return err
		}
		scope, err = scopes.GetByName(ctx, *scopeName)
		if err != nil {
			return err
		}
	}

	group, err := groups.GetByName(ctx, *groupName)
	if err != nil {
		return err
	}

	if err := groups.AddScope(ctx, group.ID, scope.ID); err != nil {
		return err
	}
	cmdCtx.Logger.InfoContext(ctx, "scope granted", "group", group.ID, "scope", scope.Name)
	return nil
}

func runAddMember(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("add-member", flag.ContinueOnError)
	groupName := fs.String("group", "", "group name")
	userID := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *groupName == "" || *userID == "" {
		return errors.New("-group and -user are required")
	}

	db, cleanup, err := openDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	groups := data.NewGroupRepo(db)
	group, err := groups.GetByName(ctx, *groupName)
	if err != nil {
		return err
	}

	if err := groups.AddMember(ctx, group.ID, *userID); err != nil {
		return err
	}
	cmdCtx.Logger.InfoContext(ctx, "member added", "group", group.ID, "user", *userID)
	return nil
}
