package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// Hook records broadcast deliveries and optionally fails or panics, for
// exercising the fan-out's error isolation.
type Hook struct {
	mu       sync.Mutex
	calls    []NotifyCall
	Err      error
	PanicMsg string
}

func (h *Hook) OnUserUpdate(_ context.Context, newDiff, oldDiff *model.UserDiff) error {
	if h.PanicMsg != "" {
		panic(h.PanicMsg)
	}
	h.mu.Lock()
	h.calls = append(h.calls, NotifyCall{NewDiff: newDiff, OldDiff: oldDiff})
	h.mu.Unlock()
	return h.Err
}

// Deliveries returns the recorded update invocations.
func (h *Hook) Deliveries() []NotifyCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]NotifyCall(nil), h.calls...)
}

// AlphaHook, BetaHook, and GammaHook give the recorder distinct registry
// names ("alpha_hook", "beta_hook", "gamma_hook"); method names derive from
// the Go type name.
type (
	AlphaHook struct{ Hook }
	BetaHook  struct{ Hook }
	GammaHook struct{ Hook }
)

// EmailLogin and BadgeLogin are minimal login-capable, unlinkable methods
// for registry guard tests. Credential rows are managed by the test through
// the credential repository double.
type EmailLogin struct {
	Hook
	Creds core.CredentialRepository
}

var (
	_ core.Loginable      = (*EmailLogin)(nil)
	_ core.Unregisterable = (*EmailLogin)(nil)
)

func (m *EmailLogin) Login(_ context.Context, _ core.LoginInput) (*model.Session, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *EmailLogin) Unregister(ctx context.Context, userID string) error {
	return m.Creds.SoftDeleteMethod(ctx, userID, core.MethodName(m))
}

type BadgeLogin struct {
	Hook
	Creds core.CredentialRepository
}

var (
	_ core.Loginable      = (*BadgeLogin)(nil)
	_ core.Unregisterable = (*BadgeLogin)(nil)
)

func (m *BadgeLogin) Login(_ context.Context, _ core.LoginInput) (*model.Session, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *BadgeLogin) Unregister(ctx context.Context, userID string) error {
	return m.Creds.SoftDeleteMethod(ctx, userID, core.MethodName(m))
}

// MirrorHook is an outer-sync-shaped method: it holds credential rows but is
// not login capable, so it must never count toward the last-method guard.
type MirrorHook struct{ Hook }

var _ core.OuterSyncCapable = (*MirrorHook)(nil)

func (m *MirrorHook) UserExists(_ context.Context, _ string) (bool, error) { return false, nil }
func (m *MirrorHook) CreateExternalUser(_ context.Context, _, _ string) error {
	return nil
}
func (m *MirrorHook) DeleteExternalUser(_ context.Context, _ string) error { return nil }
func (m *MirrorHook) UpdateExternalPassword(_ context.Context, _, _ string) error {
	return nil
}
