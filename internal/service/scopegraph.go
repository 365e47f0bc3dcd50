package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// ScopeGraphOptions groups dependencies for ScopeGraphService.
type ScopeGraphOptions struct {
	Groups core.GroupRepository // Required: group repository
	Logger *slog.Logger         // Optional: structured logger
}

// ScopeGraphService resolves the scopes a group or user effectively holds.
// A group inherits every ancestor's direct scopes; a user's effective scopes
// are the union over all groups they directly belong to. Results are
// memoized only within a single call so concurrent group edits are always
// observed by the next authorization decision.
type ScopeGraphService struct {
	groups core.GroupRepository
	logger *slog.Logger
}

// NewScopeGraphService constructs a new ScopeGraphService.
func NewScopeGraphService(opts ScopeGraphOptions) (*ScopeGraphService, error) {
	if opts.Groups == nil {
		return nil, errors.New("GroupRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "scope_graph")
	}

	return &ScopeGraphService{groups: opts.Groups, logger: logger}, nil
}

// MustNewScopeGraphService constructs a new ScopeGraphService and panics on error.
func MustNewScopeGraphService(opts ScopeGraphOptions) *ScopeGraphService {
	svc, err := NewScopeGraphService(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return svc
}

// DirectScopes returns the scopes assigned directly to the group.
func (s *ScopeGraphService) DirectScopes(ctx context.Context, groupID string) (model.ScopeSet, error) {
	names, err := s.groups.DirectScopeNames(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("direct scopes: %w", err)
	}
	return model.NewScopeSet(names...), nil
}

// IndirectScopes returns the union of direct scopes along the path from the
// group to its root, inclusive. A group with no parent is its own root.
func (s *ScopeGraphService) IndirectScopes(ctx context.Context, groupID string) (model.ScopeSet, error) {
	return s.walkAncestors(ctx, groupID, make(map[string]model.ScopeSet))
}

// walkAncestors accumulates direct scopes from group to root. memo is shared
// across groups within a single resolution so a user in sibling groups does
// not re-walk the common ancestry; it never outlives the call.
func (s *ScopeGraphService) walkAncestors(ctx context.Context, groupID string, memo map[string]model.ScopeSet) (model.ScopeSet, error) {
	if cached, ok := memo[groupID]; ok {
		return cached, nil
	}

	acc := model.NewScopeSet()
	seen := make(map[string]struct{})
	id := groupID
	for {
		if _, dup := seen[id]; dup {
			// Committed state should never contain a cycle; treat one as a
			// structural violation rather than spinning.
			return nil, apperrors.StructuralViolationf("group %s is its own ancestor", id)
		}
		seen[id] = struct{}{}

		direct, err := s.DirectScopes(ctx, id)
		if err != nil {
			return nil, err
		}
		acc = acc.Union(direct)

		g, err := s.groups.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, data.ErrGroupNotFound) {
				return nil, apperrors.NotFoundf("group %s not found", id)
			}
			return nil, err
		}
		if g.ParentID == nil {
			break
		}
		id = *g.ParentID
	}

	memo[groupID] = acc
	return acc, nil
}

// EffectiveUserScopes returns the union of IndirectScopes over every group
// the user directly belongs to.
func (s *ScopeGraphService) EffectiveUserScopes(ctx context.Context, userID string) (model.ScopeSet, error) {
	groupIDs, err := s.groups.MemberGroupIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("effective user scopes: %w", err)
	}

	acc := model.NewScopeSet()
	memo := make(map[string]model.ScopeSet)
	for _, gid := range groupIDs {
		indirect, err := s.walkAncestors(ctx, gid, memo)
		if err != nil {
			return nil, err
		}
		acc = acc.Union(indirect)
	}
	return acc, nil
}

// Reparent moves a group under a new parent (nil makes it a root). The move
// is rejected with a structural violation when the new parent is the group
// itself or one of its descendants; the check runs against committed state
// immediately before the write.
func (s *ScopeGraphService) Reparent(ctx context.Context, groupID string, parentID *string) error {
	if parentID != nil {
		if err := s.checkNoCycle(ctx, groupID, *parentID); err != nil {
			return err
		}
	}
	if err := s.groups.SetParent(ctx, groupID, parentID); err != nil {
		if errors.Is(err, data.ErrGroupNotFound) {
			return apperrors.NotFoundf("group %s not found", groupID)
		}
		return fmt.Errorf("reparent group: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "group reparented", "group_id", groupID)
	}
	return nil
}

// checkNoCycle walks up from the candidate parent; finding groupID on that
// path means the candidate is a descendant and the move would close a cycle.
func (s *ScopeGraphService) checkNoCycle(ctx context.Context, groupID, parentID string) error {
	if groupID == parentID {
		return apperrors.StructuralViolation("a group cannot be its own parent")
	}

	seen := make(map[string]struct{})
	id := parentID
	for {
		if id == groupID {
			return apperrors.StructuralViolationf("group %s is a descendant of %s", parentID, groupID)
		}
		if _, dup := seen[id]; dup {
			return apperrors.StructuralViolationf("group %s is its own ancestor", id)
		}
		seen[id] = struct{}{}

		g, err := s.groups.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, data.ErrGroupNotFound) {
				return apperrors.NotFoundf("group %s not found", id)
			}
			return err
		}
		if g.ParentID == nil {
			return nil
		}
		id = *g.ParentID
	}
}

// DeleteGroup soft-deletes the group, splicing its direct children onto the
// group's former parent.
func (s *ScopeGraphService) DeleteGroup(ctx context.Context, groupID string) error {
	if err := s.groups.SoftDeleteSplice(ctx, groupID); err != nil {
		if errors.Is(err, data.ErrGroupNotFound) {
			return apperrors.NotFoundf("group %s not found", groupID)
		}
		return fmt.Errorf("delete group: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "group deleted", "group_id", groupID)
	}
	return nil
}
