package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
)

// NamedMethod pairs an auth method with its canonical registry name.
type NamedMethod struct {
	Name   string
	Method core.AuthMethod
}

// RegistryOptions groups dependencies for Registry.
type RegistryOptions struct {
	// Methods are the installed auth methods. Registration is explicit at
	// composition time; names derive deterministically from the Go type name.
	Methods []core.AuthMethod
	// EnabledMethods is the allow-list of active method names. Empty
	// activates every installed method.
	EnabledMethods []string
	Credentials    core.CredentialRepository // Required: for the last-method guard
	Logger         *slog.Logger              // Optional: structured logger
}

// Registry is the process-wide table of installed auth methods, keyed by
// canonical name and filtered by the enablement allow-list.
type Registry struct {
	methods map[string]core.AuthMethod
	order   []string
	allow   map[string]struct{}
	creds   core.CredentialRepository
	logger  *slog.Logger
}

// NewRegistry constructs a new Registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Credentials == nil {
		return nil, errors.New("CredentialRepository is required")
	}

	methods := make(map[string]core.AuthMethod, len(opts.Methods))
	order := make([]string, 0, len(opts.Methods))
	for _, m := range opts.Methods {
		name := core.MethodName(m)
		if name == "" {
			return nil, fmt.Errorf("cannot derive method name for %T", m)
		}
		if _, dup := methods[name]; dup {
			return nil, fmt.Errorf("duplicate auth method name %q", name)
		}
		methods[name] = m
		order = append(order, name)
	}
	sort.Strings(order)

	var allow map[string]struct{}
	if len(opts.EnabledMethods) > 0 {
		allow = make(map[string]struct{}, len(opts.EnabledMethods))
		for _, name := range opts.EnabledMethods {
			allow[name] = struct{}{}
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "auth_registry")
	}

	return &Registry{
		methods: methods,
		order:   order,
		allow:   allow,
		creds:   opts.Credentials,
		logger:  logger,
	}, nil
}

// MustNewRegistry constructs a new Registry and panics on error.
func MustNewRegistry(opts RegistryOptions) *Registry {
	r, err := NewRegistry(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return r
}

// IsActive reports whether the named method is installed and enabled. An
// unset allow-list enables every installed method.
func (r *Registry) IsActive(name string) bool {
	if _, ok := r.methods[name]; !ok {
		return false
	}
	if r.allow == nil {
		return true
	}
	_, ok := r.allow[name]
	return ok
}

// Get returns the named method when it is active.
func (r *Registry) Get(name string) (core.AuthMethod, bool) {
	if !r.IsActive(name) {
		return nil, false
	}
	return r.methods[name], true
}

// Active returns every active method in stable name order.
func (r *Registry) Active() []NamedMethod {
	out := make([]NamedMethod, 0, len(r.order))
	for _, name := range r.order {
		if r.IsActive(name) {
			out = append(out, NamedMethod{Name: name, Method: r.methods[name]})
		}
	}
	return out
}

// loginCapable reports whether the named active method can authenticate a
// user (registrable or loginable). Outer-sync-only methods hold credential
// rows but are not login methods and never count toward the guard.
func (r *Registry) loginCapable(name string) bool {
	m, ok := r.Get(name)
	if !ok {
		return false
	}
	switch m.(type) {
	case core.Loginable, core.Registrable:
		return true
	default:
		return false
	}
}

// Unregister unlinks the named method from the user, soft-deleting every
// credential row the method owns. If doing so would leave the user with
// zero active login methods it fails with last_auth_method and performs no
// mutation.
func (r *Registry) Unregister(ctx context.Context, userID, methodName string) error {
	m, ok := r.Get(methodName)
	if !ok {
		return apperrors.NotFoundf("auth method %q is not active", methodName)
	}
	unreg, ok := m.(core.Unregisterable)
	if !ok {
		return apperrors.Validationf("auth method %q cannot be unlinked", methodName)
	}

	linked, err := r.creds.ListMethods(ctx, userID)
	if err != nil {
		return fmt.Errorf("list linked methods: %w", err)
	}

	found := false
	remaining := 0
	for _, name := range linked {
		if name == methodName {
			found = true
			continue
		}
		if r.loginCapable(name) {
			remaining++
		}
	}
	if !found {
		return apperrors.NotFoundf("auth method %q is not linked", methodName)
	}
	if remaining == 0 {
		return apperrors.LastAuthMethod("cannot remove the user's last auth method")
	}

	if err := unreg.Unregister(ctx, userID); err != nil {
		if errors.Is(err, data.ErrCredentialNotFound) {
			return apperrors.NotFoundf("auth method %q is not linked", methodName)
		}
		return err
	}
	if r.logger != nil {
		r.logger.InfoContext(ctx, "auth method unlinked", "user_id", userID, "method", methodName)
	}
	return nil
}
