package core

import (
	"context"
	"reflect"
	"strings"
	"unicode"

	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// AuthMethod is the base contract every authentication method implements.
// Methods additionally implement a subset of the capability interfaces below;
// the registry and the HTTP router branch on capability presence, never on
// concrete types.
type AuthMethod interface {
	// OnUserUpdate receives the before/after diff of another method's user
	// mutation. Either side may be nil (user created / user deleted). Errors
	// are collected and logged by the broadcaster, never propagated to the
	// mutation's caller.
	OnUserUpdate(ctx context.Context, newDiff, oldDiff *model.UserDiff) error
}

// RegisterInput carries inputs for a registration call. Session is non-nil
// when an already-authenticated user links an additional method to their
// account; nil when a fresh user is being created.
type RegisterInput struct {
	Session *model.Session
	Params  map[string]string
}

// LoginInput carries method-specific login parameters.
type LoginInput struct {
	Params map[string]string
}

// Registrable methods can create or link local accounts.
type Registrable interface {
	AuthMethod
	Register(ctx context.Context, in RegisterInput) (*model.Session, error)
}

// Loginable methods can resolve credentials to an existing local user. Login
// never creates a user as a side effect.
type Loginable interface {
	AuthMethod
	Login(ctx context.Context, in LoginInput) (*model.Session, error)
}

// Unregisterable methods can unlink themselves from a user. Implementations
// must go through the registry guard so a user never loses their last
// remaining login method.
type Unregisterable interface {
	AuthMethod
	Unregister(ctx context.Context, userID string) error
}

// OAuthCapable refines Registrable and Loginable with the browser-flow
// discovery endpoints and the token-exchange step.
type OAuthCapable interface {
	Registrable
	Loginable
	Unregisterable
	// AuthURL returns the provider authorization URL for the given state.
	AuthURL(ctx context.Context, state string) (string, error)
	// RedirectURL returns the callback URL registered with the provider.
	RedirectURL() string
}

// OuterSyncCapable methods mirror the local password into an external,
// non-auth system. Every implementation translates transport failures into
// the outer-sync communication error category.
type OuterSyncCapable interface {
	AuthMethod
	UserExists(ctx context.Context, username string) (bool, error)
	CreateExternalUser(ctx context.Context, username, password string) error
	DeleteExternalUser(ctx context.Context, username string) error
	UpdateExternalPassword(ctx context.Context, username, password string) error
}

// UserUpdateNotifier fans a user-data diff out to every other active auth
// method. Callers invoke it exactly once per logical user-mutating request,
// after their own write has committed.
type UserUpdateNotifier interface {
	Notify(ctx context.Context, origin string, newDiff, oldDiff *model.UserDiff)
}

// MethodName derives the canonical registry name of a method from its Go type
// name: CamelCase words become lowercase joined by underscores, with
// initialism runs kept together (DBRoleSync -> db_role_sync).
func MethodName(m any) string {
	t := reflect.TypeOf(m)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return camelToSnake(t.Name())
}

func camelToSnake(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			boundary := i > 0 && (!unicode.IsUpper(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1])))
			if boundary {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
