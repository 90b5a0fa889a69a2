package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/checkout-flow/internal/retry"
	"github.com/fjod/go_cart/checkout-flow/internal/storage"
)

// Flow is one user's checkout: the wizard state and the placement sequence.
type Flow struct {
	UserID       string
	Store        *Store
	Orchestrator *Orchestrator

	lastUsed atomic.Int64
}

func (f *Flow) touch(now time.Time) {
	f.lastUsed.Store(now.UnixNano())
}

func (f *Flow) idleSince() time.Time {
	return time.Unix(0, f.lastUsed.Load())
}

type FlowFactory func(ctx context.Context, userID string) (*Flow, error)

// FlowDeps are shared by every flow built by NewFlowFactory.
type FlowDeps struct {
	Backend   Backend
	Storage   storage.Store
	Carts     CartClearer
	Payments  PaymentConfirmer
	Inventory InventoryVerifier
	Events    EventPublisher
	Tracer    trace.Tracer
	Log       *slog.Logger

	Retry                retry.Policy
	Debounce             time.Duration
	CompletionDelay      time.Duration
	SubmissionStaleAfter time.Duration
}

func NewFlowFactory(deps FlowDeps) FlowFactory {
	return func(_ context.Context, userID string) (*Flow, error) {
		if userID == "" {
			return nil, ErrUnauthenticated
		}
		kv := NewKVPersistence(deps.Storage, userID)
		store := NewStore(userID, deps.Backend, kv, StoreConfig{
			Retry:    deps.Retry,
			Debounce: deps.Debounce,
		}, deps.Log)

		orch := NewOrchestrator(OrchestratorDeps{
			Store:     store,
			Backend:   deps.Backend,
			Markers:   kv,
			Payments:  deps.Payments,
			Inventory: deps.Inventory,
			Carts:     deps.Carts,
			Events:    deps.Events,
			Tracer:    deps.Tracer,
		}, OrchestratorConfig{
			CompletionDelay:      deps.CompletionDelay,
			SubmissionStaleAfter: deps.SubmissionStaleAfter,
		}, deps.Log)

		return &Flow{UserID: userID, Store: store, Orchestrator: orch}, nil
	}
}

type RegistryConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Registry keeps one Flow per user. New flows are restored from storage.
type Registry struct {
	factory FlowFactory
	cfg     RegistryConfig
	log     *slog.Logger

	mu    sync.Mutex
	flows map[string]*Flow
	sfg   singleflight.Group
}

func NewRegistry(factory FlowFactory, cfg RegistryConfig, log *slog.Logger) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		factory: factory,
		cfg:     cfg,
		log:     log.With("component", "flow_registry"),
		flows:   make(map[string]*Flow),
	}
}

// Get returns the user's flow, restoring it from storage on first use.
// Nothing is cached when the restore fails, so the next call tries again.
func (r *Registry) Get(ctx context.Context, userID string) (*Flow, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if f := r.lookup(userID); f != nil {
		return f, nil
	}

	// Concurrent first requests for a user share one restore.
	v, err, _ := r.sfg.Do(userID, func() (interface{}, error) {
		if f := r.lookup(userID); f != nil {
			return f, nil
		}

		f, err := r.factory(ctx, userID)
		if err != nil {
			return nil, err
		}
		// An empty flow must not be cached over a checkout that could not be read,
		// or its next write would replace the saved one.
		if err := f.Store.Restore(ctx); err != nil {
			r.log.ErrorContext(ctx, "failed to restore checkout", "user_id", userID, "error", err)
			return nil, err
		}
		f.touch(r.cfg.Now())

		r.mu.Lock()
		r.flows[userID] = f
		r.mu.Unlock()
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load checkout flow: %w", err)
	}
	return v.(*Flow), nil
}

func (r *Registry) lookup(userID string) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flows[userID]
	if !ok {
		return nil
	}
	f.touch(r.cfg.Now())
	return f
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Run sweeps idle flows until ctx is done, then flushes every flow.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return r.Close(closeCtx)
		}
	}
}

// Sweep flushes and evicts flows idle for longer than the idle timeout.
// Flows that are placing an order are left alone.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.cfg.Now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	var idle []*Flow
	for id, f := range r.flows {
		if f.idleSince().Before(cutoff) && !f.Orchestrator.Status().IsPlacingOrder {
			idle = append(idle, f)
			delete(r.flows, id)
		}
	}
	r.mu.Unlock()

	for _, f := range idle {
		if err := f.Store.Close(ctx); err != nil {
			r.log.ErrorContext(ctx, "failed to flush idle checkout", "user_id", f.UserID, "error", err)
		}
	}
	if len(idle) > 0 {
		r.log.DebugContext(ctx, "evicted idle checkouts", "count", len(idle))
	}
	return len(idle)
}

// Close flushes every flow and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]*Flow)
	r.mu.Unlock()

	var errs []error
	for _, f := range flows {
		if err := f.Store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush checkout for %s: %w", f.UserID, err))
		}
	}
	return errors.Join(errs...)
}
