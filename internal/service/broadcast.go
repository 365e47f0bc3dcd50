package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	"github.com/ferrite-id/ferrite/internal/observability/metrics"
)

// BroadcasterOptions groups dependencies for Broadcaster.
type BroadcasterOptions struct {
	Metrics *metrics.AuthMetrics // Optional: dispatch/failure counters
	Logger  *slog.Logger         // Optional: structured logger
}

// Broadcaster fans user-data diffs out to every active auth method other
// than the originator. Dispatch is concurrent and detached from the caller:
// the triggering write has already committed, so hooks run to completion
// even when the originating request is cancelled, and hook failures are
// logged, never propagated. This is best-effort post-commit propagation, not
// a two-phase commit.
//
// The registry is bound after construction because methods receive the
// broadcaster at their own construction time.
type Broadcaster struct {
	metrics *metrics.AuthMetrics
	logger  *slog.Logger

	mu  sync.RWMutex
	reg *Registry
	wg  sync.WaitGroup
}

var _ core.UserUpdateNotifier = (*Broadcaster)(nil)

// NewBroadcaster constructs a new Broadcaster. Bind must be called before
// the first mutation is served.
func NewBroadcaster(opts BroadcasterOptions) *Broadcaster {
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "user_update_broadcaster")
	}
	return &Broadcaster{metrics: opts.Metrics, logger: logger}
}

// Bind attaches the method registry.
func (b *Broadcaster) Bind(reg *Registry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reg = reg
}

// Notify dispatches the diff to every active method except origin. It
// returns immediately; hooks run on a context detached from the caller's so
// cancellation of the originating request cannot strand external systems in
// a half-synced state.
func (b *Broadcaster) Notify(ctx context.Context, origin string, newDiff, oldDiff *model.UserDiff) {
	b.mu.RLock()
	reg := b.reg
	b.mu.RUnlock()
	if reg == nil {
		if b.logger != nil {
			b.logger.WarnContext(ctx, "broadcast skipped: no registry bound", "origin", origin)
		}
		return
	}

	targets := make([]NamedMethod, 0)
	for _, nm := range reg.Active() {
		if nm.Name != origin {
			targets = append(targets, nm)
		}
	}
	if len(targets) == 0 {
		return
	}

	detached := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		g := new(errgroup.Group)
		for _, nm := range targets {
			g.Go(func() error {
				if err := b.dispatch(detached, nm, newDiff, oldDiff); err != nil {
					if b.metrics != nil {
						b.metrics.BroadcastFailures.WithLabelValues(nm.Name).Inc()
					}
					if b.logger != nil {
						b.logger.ErrorContext(detached, "user update hook failed",
							"method", nm.Name, "origin", origin, "error", err)
					}
				}
				// Failures are collected above, never returned: one slow or
				// broken hook must not abort delivery to the rest.
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// dispatch invokes one hook, converting panics into errors so a misbehaving
// method cannot take the process down from a detached goroutine.
func (b *Broadcaster) dispatch(ctx context.Context, nm NamedMethod, newDiff, oldDiff *model.UserDiff) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	if b.metrics != nil {
		b.metrics.BroadcastDispatch.WithLabelValues(nm.Name).Inc()
	}
	return nm.Method.OnUserUpdate(ctx, newDiff, oldDiff)
}

// Wait blocks until every in-flight broadcast has drained. Used during
// shutdown and in tests.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}
