package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fjod/go_cart/checkout-flow/domain"
)

var (
	ErrAlreadyPlacingOrder  = errors.New("order placement already in progress")
	ErrSubmissionInProgress = errors.New("a previous order submission may still be in progress")
)

const (
	DefaultCompletionDelay      = 1500 * time.Millisecond
	DefaultSubmissionStaleAfter = 2 * time.Minute

	retryHint = "Your checkout details have been kept. Please try again."
)

// PreconditionError lists what is missing before an order can be placed.
type PreconditionError struct {
	Missing []string
}

func (e *PreconditionError) Error() string {
	return "cannot place order, missing: " + strings.Join(e.Missing, ", ")
}

// PlacementError is a failed placement. Messages are meant for the user.
type PlacementError struct {
	Phase    domain.PlacementPhase
	Messages []string
	Err      error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("place order failed during %s: %v", e.Phase, e.Err)
}

func (e *PlacementError) Unwrap() error { return e.Err }

type PlacementResult struct {
	Order       *domain.Order `json:"order"`
	RedirectURL string        `json:"redirectUrl"`
}

// PlacementStatus is the visible progress of the current or last placement.
type PlacementStatus struct {
	IsPlacingOrder    bool                  `json:"isPlacingOrder"`
	Phase             domain.PlacementPhase `json:"phase"`
	CheckingInventory bool                  `json:"checkingInventory"`
	ProcessingPayment bool                  `json:"processingPayment"`
	CreatingOrder     bool                  `json:"creatingOrder"`
	Completed         bool                  `json:"completed"`
	Errors            []string              `json:"errors,omitempty"`
}

type OrchestratorConfig struct {
	CompletionDelay      time.Duration
	SubmissionStaleAfter time.Duration
	Now                  func() time.Time
	// Sleep waits for the visible completion delay. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type OrchestratorDeps struct {
	Store     *Store
	Backend   Backend
	Markers   Markers
	Payments  PaymentConfirmer
	Inventory InventoryVerifier
	Carts     CartClearer
	Events    EventPublisher
	Observer  Observer
	Tracer    trace.Tracer
}

// Orchestrator runs the place-order sequence for one user.
type Orchestrator struct {
	store     *Store
	backend   Backend
	markers   Markers
	payments  PaymentConfirmer
	inventory InventoryVerifier
	carts     CartClearer
	events    EventPublisher
	observer  Observer
	tracer    trace.Tracer
	cfg       OrchestratorConfig
	log       *slog.Logger

	mu      sync.Mutex
	placing bool
	phase   domain.PlacementPhase
	errs    []string
}

func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig, log *slog.Logger) *Orchestrator {
	if cfg.CompletionDelay < 0 {
		cfg.CompletionDelay = 0
	}
	if cfg.SubmissionStaleAfter <= 0 {
		cfg.SubmissionStaleAfter = DefaultSubmissionStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if deps.Payments == nil {
		deps.Payments = SimulatedPayments{}
	}
	if deps.Inventory == nil {
		deps.Inventory = SnapshotInventory{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/fjod/go_cart/checkout-flow/internal/checkout")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Orchestrator{
		store:     deps.Store,
		backend:   deps.Backend,
		markers:   deps.Markers,
		payments:  deps.Payments,
		inventory: deps.Inventory,
		carts:     deps.Carts,
		events:    deps.Events,
		observer:  deps.Observer,
		tracer:    deps.Tracer,
		cfg:       cfg,
		log:       log.With("component", "orchestrator", "user_id", deps.Store.userID),
		phase:     domain.PhaseIdle,
	}
}

func (o *Orchestrator) Status() PlacementStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return PlacementStatus{
		IsPlacingOrder:    o.placing,
		Phase:             o.phase,
		CheckingInventory: o.phase == domain.PhaseCheckingInventory,
		ProcessingPayment: o.phase == domain.PhaseProcessingPayment,
		CreatingOrder:     o.phase == domain.PhaseCreatingOrder,
		Completed:         o.phase == domain.PhaseCompleted,
		Errors:            append([]string(nil), o.errs...),
	}
}

// Confirmation returns the markers left by the last successful placement.
func (o *Orchestrator) Confirmation(ctx context.Context) (orderID string, completed bool, err error) {
	return o.markers.LastOrder(ctx)
}

// PlaceOrder places an order for cart. Preconditions are checked before anything
// else happens. On success the checkout is cleared and the confirmation URL returned.
func (o *Orchestrator) PlaceOrder(ctx context.Context, userID string, cart []domain.CartLine) (*PlacementResult, error) {
	state := o.store.Snapshot()
	if err := checkPreconditions(state, cart); err != nil {
		return nil, err
	}
	if err := o.checkInterruptedSubmission(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.placing {
		o.mu.Unlock()
		return nil, ErrAlreadyPlacingOrder
	}
	o.placing = true
	o.phase = domain.PhaseIdle
	o.errs = nil
	o.mu.Unlock()
	o.store.setPlacingOrder(true)

	ctx, span := o.tracer.Start(ctx, "checkout.place_order", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.Int("cart_lines", len(cart)),
	))
	defer span.End()

	res, err := o.place(ctx, userID, state, cart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "place order failed")
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) place(ctx context.Context, userID string, state domain.CheckoutState, cart []domain.CartLine) (*PlacementResult, error) {
	if err := o.markers.MarkSubmission(ctx, o.cfg.Now()); err != nil {
		return nil, o.fail(ctx, domain.PhaseIdle, err, "We could not start your order. Please try again.")
	}

	session := state.Session
	if session != nil && session.Discardable(o.cfg.Now()) {
		o.store.dropSession()
		session = nil
	}
	if session == nil {
		coupon := ""
		if in := o.store.PreviewInput(); in != nil {
			coupon = in.CouponCode
		}
		created, err := o.store.CreateCheckoutSession(ctx, userID, cart, coupon)
		if err != nil {
			msg := "We could not start a checkout session."
			if errors.Is(err, ErrUnauthenticated) {
				msg = "Please sign in to place your order."
			}
			return nil, o.fail(ctx, domain.PhaseIdle, err, msg)
		}
		session = created
	}

	err := o.runPhase(ctx, domain.PhaseCheckingInventory, func(ctx context.Context) error {
		return o.inventory.Verify(ctx, session, cart)
	})
	if err != nil {
		msg := "Some items in your cart are no longer available."
		if errors.Is(err, ErrCartChanged) {
			o.store.dropSession()
			msg = "Your cart changed since checkout started. Please review your order."
		}
		return nil, o.fail(ctx, domain.PhaseCheckingInventory, err, msg)
	}

	// A session completed by an earlier attempt only needs its order.
	if session.Status != domain.SessionStatusCompleted {
		err = o.runPhase(ctx, domain.PhaseProcessingPayment, func(ctx context.Context) error {
			token, err := o.payments.Confirm(ctx, session, state.PaymentMethod)
			if err != nil {
				return fmt.Errorf("confirm payment: %w", err)
			}
			completed, err := o.backend.CompleteSession(ctx, session.ID, token)
			if err != nil {
				return fmt.Errorf("complete session: %w", err)
			}
			if completed == nil || !completed.CanCreateOrder() {
				status := domain.SessionStatus("")
				if completed != nil {
					status = completed.Status
				}
				return fmt.Errorf("session %s was not completed (status %q)", session.ID, status)
			}
			if completed.ID == "" {
				completed.ID = session.ID
			}
			session = completed
			o.store.setSession(completed)
			return nil
		})
		if err != nil {
			return nil, o.fail(ctx, domain.PhaseProcessingPayment, err, "Your payment could not be processed.")
		}
	}

	var order *domain.Order
	err = o.runPhase(ctx, domain.PhaseCreatingOrder, func(ctx context.Context) error {
		if !session.CanCreateOrder() {
			return fmt.Errorf("session %s is %s, not completed", session.ID, session.Status)
		}
		created, err := o.backend.CreateOrder(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if created == nil || created.ID == "" {
			return errors.New("create order: response has no order id")
		}
		order = created
		return nil
	})
	if err != nil {
		return nil, o.fail(ctx, domain.PhaseCreatingOrder, err, "Your payment was accepted but the order could not be created.")
	}

	o.finish(ctx, userID, session, order)

	o.setPhase(domain.PhaseCompleted)
	if err := o.cfg.Sleep(ctx, o.cfg.CompletionDelay); err != nil {
		o.log.DebugContext(ctx, "completion delay cut short", "error", err)
	}

	o.mu.Lock()
	o.placing = false
	o.mu.Unlock()
	o.store.setPlacingOrder(false)

	o.log.InfoContext(ctx, "order placed", "order_id", order.ID, "session_id", session.ID)
	return &PlacementResult{
		Order:       order,
		RedirectURL: "/order-confirmation/" + order.ID,
	}, nil
}

// finish runs the steps after the order exists. None of them can undo the order,
// so failures are logged. They run detached from the caller so a dropped request
// cannot leave a paid checkout behind.
func (o *Orchestrator) finish(ctx context.Context, userID string, session *domain.CheckoutSession, order *domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if o.carts != nil {
		if err := o.carts.ClearCart(ctx, userID); err != nil {
			o.log.WarnContext(ctx, "failed to clear cart", "order_id", order.ID, "error", err)
		}
	}

	if err := o.store.ClearCheckout(ctx); err != nil {
		o.log.ErrorContext(ctx, "failed to clear checkout state", "order_id", order.ID, "error", err)
	}
	if o.observer != nil {
		o.observer.CheckoutCleared()
	}

	if err := o.markers.MarkCompleted(ctx, order.ID); err != nil {
		o.log.ErrorContext(ctx, "failed to record completed order", "order_id", order.ID, "error", err)
	}
	if err := o.markers.ClearSubmission(ctx); err != nil {
		o.log.ErrorContext(ctx, "failed to clear submission marker", "error", err)
	}

	if o.events != nil {
		event := domain.NewOrderPlacedEvent(session, order, o.cfg.Now())
		if err := o.events.PublishOrderPlaced(ctx, event); err != nil {
			o.log.ErrorContext(ctx, "failed to publish order placed event", "order_id", order.ID, "error", err)
		}
	}
}

func (o *Orchestrator) runPhase(ctx context.Context, phase domain.PlacementPhase, fn func(ctx context.Context) error) error {
	o.setPhase(phase)

	ctx, span := o.tracer.Start(ctx, "checkout."+phase.String())
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, phase.String()+" failed")
		return err
	}
	return nil
}

func (o *Orchestrator) setPhase(phase domain.PlacementPhase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
	if o.observer != nil {
		o.observer.PhaseChanged(phase)
	}
}

// fail resets the phase flags, drops the submission marker and records what
// the user should see. The checkout state is kept for a retry.
func (o *Orchestrator) fail(ctx context.Context, phase domain.PlacementPhase, err error, msg string) error {
	messages := []string{msg}
	if detail := userDetail(err); detail != "" {
		messages = append(messages, detail)
	}
	messages = append(messages, retryHint)

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if errClear := o.markers.ClearSubmission(clearCtx); errClear != nil {
		o.log.ErrorContext(ctx, "failed to clear submission marker", "error", errClear)
	}

	o.mu.Lock()
	o.placing = false
	o.phase = domain.PhaseIdle
	o.errs = append(o.errs, messages...)
	o.mu.Unlock()
	o.store.setPlacingOrder(false)
	if o.observer != nil {
		o.observer.PhaseChanged(domain.PhaseIdle)
	}

	o.log.WarnContext(ctx, "order placement failed", "phase", phase, "error", err)
	return &PlacementError{Phase: phase, Messages: messages, Err: err}
}

func (o *Orchestrator) checkInterruptedSubmission(ctx context.Context) error {
	status, err := o.markers.Submission(ctx)
	if err != nil {
		return fmt.Errorf("read submission marker: %w", err)
	}
	if status == nil || status.Status != SubmissionInProgress {
		return nil
	}

	o.mu.Lock()
	placing := o.placing
	o.mu.Unlock()
	if placing {
		return ErrAlreadyPlacingOrder
	}

	if o.cfg.Now().Sub(status.StartedAt) < o.cfg.SubmissionStaleAfter {
		return ErrSubmissionInProgress
	}
	o.log.InfoContext(ctx, "discarding stale submission marker", "started_at", status.StartedAt)
	return o.markers.ClearSubmission(ctx)
}

func checkPreconditions(state domain.CheckoutState, cart []domain.CartLine) error {
	var missing []string
	if state.ShippingAddress == nil {
		missing = append(missing, "shipping address")
	}
	if state.ShippingMethod == "" {
		missing = append(missing, "shipping method")
	}
	if state.PaymentMethod == "" {
		missing = append(missing, "payment method")
	}
	if len(cart) == 0 {
		missing = append(missing, "cart items")
	}
	if len(missing) > 0 {
		return &PreconditionError{Missing: missing}
	}
	return nil
}

type publicMessager interface {
	PublicMessage() string
}

// userDetail prefers the message a remote API wrote for users over the error chain.
func userDetail(err error) string {
	var pm publicMessager
	if errors.As(err, &pm) && pm.PublicMessage() != "" {
		return pm.PublicMessage()
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
