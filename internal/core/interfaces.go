// Package core defines the ports (interfaces) between services and adapters.
// Implementations live in internal/data and internal/adapters; orchestration
// in internal/service.
package core

import (
	"context"
	"time"

	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// UserRepository manages user rows. Users carry no attributes of their own;
// deletion is a soft delete that cascades to credentials and sessions.
type UserRepository interface {
	Create(ctx context.Context) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	SoftDelete(ctx context.Context, id string) error
}

// CredentialRepository manages (user, method, key) -> value rows, the only
// durable representation of what an auth method knows about a user. All
// queries filter soft-deleted rows.
type CredentialRepository interface {
	// Set upserts one parameter, reviving a soft-deleted row if present.
	Set(ctx context.Context, p model.SetCredentialParam) (*model.CredentialParam, error)
	Get(ctx context.Context, userID, method, key string) (*model.CredentialParam, error)
	ListByUserMethod(ctx context.Context, userID, method string) ([]model.CredentialParam, error)
	// FindUserID resolves the user owning the row (method, key) = value,
	// e.g. the user whose password-method email equals the given address.
	FindUserID(ctx context.Context, method, key, value string) (string, error)
	// ListMethods returns the distinct methods with at least one live row.
	ListMethods(ctx context.Context, userID string) ([]string, error)
	// SoftDeleteMethod soft-deletes every row the method owns for the user.
	SoftDeleteMethod(ctx context.Context, userID, method string) error
	SoftDeleteParam(ctx context.Context, userID, method, key string) error
}

// GroupRepository manages the group forest, direct group scopes, and group
// memberships. Structural checks (cycles) are enforced by the scope graph
// service before commit; the repository enforces row-level integrity.
type GroupRepository interface {
	Create(ctx context.Context, req model.CreateGroupRequest) (*model.Group, error)
	GetByID(ctx context.Context, id string) (*model.Group, error)
	GetByName(ctx context.Context, name string) (*model.Group, error)
	// SetParent re-parents a group. A nil parent makes the group a root.
	SetParent(ctx context.Context, groupID string, parentID *string) error
	// SoftDeleteSplice soft-deletes the group and, in the same transaction,
	// relinks its direct children to the group's former parent.
	SoftDeleteSplice(ctx context.Context, id string) error

	AddScope(ctx context.Context, groupID, scopeID string) error
	RemoveScope(ctx context.Context, groupID, scopeID string) error
	// DirectScopeNames returns the names of scopes assigned directly to the group.
	DirectScopeNames(ctx context.Context, groupID string) ([]string, error)

	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	// MemberGroupIDs returns the ids of groups the user directly belongs to.
	MemberGroupIDs(ctx context.Context, userID string) ([]string, error)
}

// ScopeRepository manages scope definitions.
type ScopeRepository interface {
	Create(ctx context.Context, name, comment string, creatorID *string) (*model.Scope, error)
	GetByName(ctx context.Context, name string) (*model.Scope, error)
	// GetByNames resolves names to scopes; missing names yield a NotFound error.
	GetByNames(ctx context.Context, names []string) ([]model.Scope, error)
	// ListNames returns every live scope name, for the discovery document.
	ListNames(ctx context.Context) ([]string, error)
}

// SessionRepository persists sessions and their bound scope snapshots.
type SessionRepository interface {
	// Create inserts the session and its scope snapshot in one transaction.
	Create(ctx context.Context, sess *model.Session) (*model.Session, error)
	GetByToken(ctx context.Context, token string) (*model.Session, error)
	Touch(ctx context.Context, id string, lastActivity time.Time) error
	SetExpires(ctx context.Context, id string, expires time.Time) error
	// Rotate atomically revokes old (expires = revokedAt) and inserts the
	// replacement; no window exists where both are valid past the commit.
	Rotate(ctx context.Context, oldID string, revokedAt time.Time, replacement *model.Session) (*model.Session, error)
	// RevokeAllForUser expires every live session of the user except keepID
	// (empty keeps none) and returns the tokens it revoked, so callers can
	// invalidate any cache entries keyed by token.
	RevokeAllForUser(ctx context.Context, userID, keepID string, revokedAt time.Time) ([]string, error)
}

// OptionRepository reads and writes process-wide dynamic options.
type OptionRepository interface {
	Get(ctx context.Context, name string) (*model.DynamicOption, error)
	SetString(ctx context.Context, name, value string) error
}

// EventPublisher announces user-data events to downstream systems. Keying is
// by user id so per-user ordering is preserved when the transport orders by
// key.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}
