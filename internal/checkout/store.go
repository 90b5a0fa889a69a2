package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/go_cart/checkout-flow/domain"
	"github.com/fjod/go_cart/checkout-flow/internal/retry"
)

var (
	ErrStepIncomplete    = errors.New("current step is incomplete")
	ErrInvalidStep       = errors.New("invalid checkout step")
	ErrNoSession         = errors.New("no checkout session")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrUnauthenticated   = errors.New("user is not authenticated")
	ErrInvalidFieldValue = errors.New("invalid session field value")
)

const (
	DefaultDebounce = 300 * time.Millisecond
	persistTimeout  = 5 * time.Second
)

const stalePricingWarning = "We could not refresh your prices. The totals shown may be out of date."

type StoreConfig struct {
	Retry    retry.Policy
	Debounce time.Duration
	Now      func() time.Time
}

// PreviewResult is the outcome of a preview calculation.
// Stale is set when a cached preview was served because the pricing call failed.
type PreviewResult struct {
	Preview *domain.PricePreview
	Stale   bool
	Warning string
}

// Store owns one user's checkout wizard state. It is safe for concurrent use.
type Store struct {
	userID  string
	backend Backend
	persist Persistence
	retry   retry.Policy
	now     func() time.Time
	log     *slog.Logger

	mu            sync.Mutex
	state         domain.CheckoutState
	cachedPreview *domain.PricePreview
	previewInput  *PreviewInput
	version       uint64
	savedVersion  uint64

	// persistMu orders snapshot writes against clears.
	persistMu sync.Mutex
	debounce  *Debouncer
}

func NewStore(userID string, backend Backend, persist Persistence, cfg StoreConfig, log *slog.Logger) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		userID:  userID,
		backend: backend,
		persist: persist,
		retry:   cfg.Retry,
		now:     cfg.Now,
		log:     log.With("component", "checkout_store", "user_id", userID),
	}
	s.debounce = NewDebouncer(cfg.Debounce, s.persistInBackground)
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() domain.CheckoutState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) CanProceedToNextStep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CanProceed(s.state.CurrentStep)
}

// PreviewInput returns the inputs of the last preview request, or nil.
func (s *Store) PreviewInput() *PreviewInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previewInput.clone()
}

// SetStep jumps to step. Moving forward requires every step in between to be complete.
func (s *Store) SetStep(step domain.CheckoutStep) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStep, int(step))
	}

	s.mu.Lock()
	for k := s.state.CurrentStep; k < step; k++ {
		if !s.state.CanProceed(k) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrStepIncomplete, k)
		}
	}
	changed := s.state.CurrentStep != step
	s.state.CurrentStep = step
	s.mutatedLocked(changed)
	s.mu.Unlock()

	s.schedule(changed)
	return nil
}

// NextStep advances one step. It does nothing on the last step.
func (s *Store) NextStep() error {
	s.mu.Lock()
	if s.state.CurrentStep >= domain.LastStep {
		s.mu.Unlock()
		return nil
	}
	if !s.state.CanProceed(s.state.CurrentStep) {
		step := s.state.CurrentStep
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStepIncomplete, step)
	}
	s.state.CurrentStep++
	s.mutatedLocked(true)
	s.mu.Unlock()

	s.schedule(true)
	return nil
}

// PrevStep goes back one step. It does nothing on the first step.
func (s *Store) PrevStep() {
	s.mu.Lock()
	changed := s.state.CurrentStep > domain.FirstStep
	if changed {
		s.state.CurrentStep--
	}
	s.mutatedLocked(changed)
	s.mu.Unlock()

	s.schedule(changed)
}

func (s *Store) SetShippingAddress(addr domain.Address) {
	s.set(func(st *domain.CheckoutState) { st.ShippingAddress = &addr })
}

func (s *Store) SetBillingAddress(addr domain.Address) {
	s.set(func(st *domain.CheckoutState) { st.BillingAddress = &addr })
}

func (s *Store) SetPaymentMethod(method string) {
	s.set(func(st *domain.CheckoutState) { st.PaymentMethod = method })
}

// SetShippingMethod stores method and, when it changed, refreshes the preview.
// The result is nil when no refresh was needed.
func (s *Store) SetShippingMethod(ctx context.Context, method string) (*PreviewResult, error) {
	s.mu.Lock()
	changed := s.state.ShippingMethod != method
	s.state.ShippingMethod = method
	s.mutatedLocked(changed)
	s.mu.Unlock()

	s.schedule(changed)
	if !changed {
		return nil, nil
	}
	return s.RefreshPreview(ctx)
}

// RefreshPreview re-derives the preview after a shipping method change. Past the
// address step the shipping cost is adjusted right away from the rate table, then
// the pricing service is asked again with the inputs of the last preview.
// The result is nil when there is nothing to refresh.
func (s *Store) RefreshPreview(ctx context.Context) (*PreviewResult, error) {
	s.mu.Lock()
	if s.state.CurrentStep < domain.StepShippingMethod {
		s.mu.Unlock()
		return nil, nil
	}
	adjusted := false
	if s.state.OrderPreview != nil {
		if rate, ok := ShippingRate(s.state.ShippingMethod); ok {
			p := s.state.OrderPreview.Clone()
			p.ShippingCost = rate
			p.Recalculate()
			s.state.OrderPreview = p
			adjusted = true
		}
	}
	input := s.previewInput.clone()
	s.mutatedLocked(adjusted)
	s.mu.Unlock()

	s.schedule(adjusted)
	if input == nil {
		return nil, nil
	}
	res, err := s.CalculateOrderPreview(ctx, input.UserID, input.Items, input.CouponCode)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CalculateOrderPreview asks the pricing service for a price breakdown of items.
// When the call fails the last good preview is served as stale. Without one the
// preview is cleared and the error returned.
func (s *Store) CalculateOrderPreview(ctx context.Context, userID string, items []domain.CartLine, coupon string) (PreviewResult, error) {
	if len(items) == 0 {
		return PreviewResult{}, ErrEmptyCart
	}

	input := &PreviewInput{UserID: userID, Items: append([]domain.CartLine(nil), items...), CouponCode: coupon}

	s.mu.Lock()
	s.previewInput = input
	req := domain.PreviewRequest{
		UserID:          userID,
		CartItems:       input.Items,
		CouponCode:      coupon,
		ShippingAddress: cloneAddress(s.state.ShippingAddress),
		ShippingMethod:  s.state.ShippingMethod,
	}
	s.mutatedLocked(true)
	s.mu.Unlock()

	preview, err := retry.Do(ctx, s.policy("calculate_preview"), func(ctx context.Context) (*domain.PricePreview, error) {
		return s.backend.CalculatePreview(ctx, req)
	})

	s.mu.Lock()
	if err != nil {
		if s.cachedPreview == nil {
			s.state.OrderPreview = nil
			s.mutatedLocked(true)
			s.mu.Unlock()
			s.schedule(true)
			return PreviewResult{}, fmt.Errorf("calculate order preview: %w", err)
		}

		s.state.OrderPreview = s.cachedPreview.Clone()
		res := PreviewResult{Preview: s.cachedPreview.Clone(), Stale: true, Warning: stalePricingWarning}
		s.mutatedLocked(true)
		s.mu.Unlock()

		s.schedule(true)
		s.log.WarnContext(ctx, "serving cached order preview", "error", err)
		return res, nil
	}

	s.state.OrderPreview = preview.Clone()
	s.cachedPreview = preview.Clone()
	s.mutatedLocked(true)
	s.mu.Unlock()

	s.schedule(true)
	return PreviewResult{Preview: preview.Clone()}, nil
}

// CreateCheckoutSession opens a session for items. On failure the state is left unchanged.
func (s *Store) CreateCheckoutSession(ctx context.Context, userID string, items []domain.CartLine, coupon string) (*domain.CheckoutSession, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	s.mu.Lock()
	req := domain.CreateSessionRequest{
		UserID:          userID,
		CartItems:       append([]domain.CartLine(nil), items...),
		CouponCode:      coupon,
		ShippingAddress: cloneAddress(s.state.ShippingAddress),
		BillingAddress:  cloneAddress(s.state.BillingAddress),
	}
	s.mu.Unlock()

	session, err := retry.Do(ctx, s.policy("create_session"), func(ctx context.Context) (*domain.CheckoutSession, error) {
		return s.backend.CreateSession(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || session.ID == "" {
		return nil, errors.New("create checkout session: response has no session id")
	}

	s.setSession(session)
	if err := s.Flush(ctx); err != nil {
		s.log.ErrorContext(ctx, "failed to persist checkout session", "session_id", session.ID, "error", err)
	}
	return session.Clone(), nil
}

// UpdateSessionField changes field locally, then on the remote session.
// If the remote update fails the previous local value is restored.
func (s *Store) UpdateSessionField(ctx context.Context, field domain.SessionField, value any) error {
	s.mu.Lock()
	session := s.state.Session
	s.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}

	switch field {
	case domain.FieldShippingAddress, domain.FieldBillingAddress:
		addr, err := asAddress(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidFieldValue, field, err)
		}
		ptr := func(st *domain.CheckoutState) **domain.Address { return &st.ShippingAddress }
		if field == domain.FieldBillingAddress {
			ptr = func(st *domain.CheckoutState) **domain.Address { return &st.BillingAddress }
		}
		return updateField(ctx, s, session.ID, field, ptr, addr)

	case domain.FieldShippingMethod, domain.FieldPaymentMethod:
		method, ok := value.(string)
		if !ok || method == "" {
			return fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidFieldValue, field)
		}
		ptr := func(st *domain.CheckoutState) *string { return &st.ShippingMethod }
		if field == domain.FieldPaymentMethod {
			ptr = func(st *domain.CheckoutState) *string { return &st.PaymentMethod }
		}
		return updateField(ctx, s, session.ID, field, ptr, method)

	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidFieldValue, field)
	}
}

func updateField[T any](ctx context.Context, s *Store, sessionID string, field domain.SessionField, ptr func(*domain.CheckoutState) *T, next T) error {
	get := func() T {
		s.mu.Lock()
		defer s.mu.Unlock()
		return *ptr(&s.state)
	}
	apply := func(v T) {
		s.mu.Lock()
		*ptr(&s.state) = v
		s.mutatedLocked(true)
		s.mu.Unlock()
		s.schedule(true)
	}
	commit := func(v T) error {
		updated, err := retry.Do(ctx, s.policy("update_session_"+string(field)), func(ctx context.Context) (*domain.CheckoutSession, error) {
			return s.backend.UpdateSessionField(ctx, sessionID, field, v)
		})
		if err != nil {
			return err
		}
		if updated != nil && updated.ID == sessionID {
			s.setSession(updated)
		}
		return nil
	}

	if err := optimisticUpdate(get, apply, commit, next); err != nil {
		s.log.WarnContext(ctx, "session update rolled back", "field", field, "error", err)
		return fmt.Errorf("update session %s: %w", field, err)
	}
	return nil
}

// ClearCheckout resets the state and removes everything persisted for the user.
// Writes scheduled before the clear never land after it.
func (s *Store) ClearCheckout(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.debounce.Cancel()

	s.mu.Lock()
	s.state = domain.CheckoutState{}
	s.cachedPreview = nil
	s.previewInput = nil
	s.version++
	s.savedVersion = s.version
	s.mu.Unlock()

	return s.persist.Clear(ctx)
}

// Restore loads the persisted checkout. Unusable sessions are dropped and the step
// is moved back to the first incomplete one.
func (s *Store) Restore(ctx context.Context) error {
	snap, err := s.persist.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore checkout: %w", err)
	}
	if snap == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.CheckoutState{
		ShippingAddress: snap.Fallback.ShippingAddress,
		BillingAddress:  snap.Fallback.BillingAddress,
		ShippingMethod:  snap.Fallback.ShippingMethod,
		PaymentMethod:   snap.Fallback.PaymentMethod,
		OrderPreview:    snap.Fallback.Preview.Clone(),
		Session:         snap.Session,
	}
	if st.Session != nil && st.Session.Discardable(s.now()) {
		s.log.InfoContext(ctx, "dropping unusable checkout session", "session_id", st.Session.ID, "status", st.Session.Status)
		st.Session = nil
	}

	step := snap.Step
	if !step.Valid() {
		step = domain.FirstStep
	}
	for k := domain.FirstStep; k < step; k++ {
		if !st.CanProceed(k) {
			step = k
			break
		}
	}
	st.CurrentStep = step

	s.state = st
	s.cachedPreview = snap.Fallback.Preview.Clone()
	s.previewInput = snap.Fallback.PreviewInput.clone()
	s.version++
	s.savedVersion = s.version
	return nil
}

// Flush writes pending changes now.
func (s *Store) Flush(ctx context.Context) error {
	s.debounce.Cancel()
	return s.persistIfChanged(ctx)
}

// Close flushes pending changes and stops scheduling writes.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.debounce.Stop()
	return err
}

func (s *Store) setSession(session *domain.CheckoutSession) {
	s.mu.Lock()
	s.state.Session = session.Clone()
	s.mutatedLocked(true)
	s.mu.Unlock()
	s.schedule(true)
}

func (s *Store) dropSession() {
	s.set(func(st *domain.CheckoutState) { st.Session = nil })
}

func (s *Store) setPlacingOrder(placing bool) {
	s.mu.Lock()
	s.state.IsPlacingOrder = placing
	s.mu.Unlock()
}

func (s *Store) set(fn func(st *domain.CheckoutState)) {
	s.mu.Lock()
	fn(&s.state)
	s.mutatedLocked(true)
	s.mu.Unlock()
	s.schedule(true)
}

func (s *Store) mutatedLocked(changed bool) {
	if changed {
		s.version++
	}
}

func (s *Store) schedule(changed bool) {
	if changed {
		s.debounce.Trigger()
	}
}

func (s *Store) persistInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persistIfChanged(ctx); err != nil {
		s.log.Error("failed to persist checkout state", "error", err)
	}
}

func (s *Store) persistIfChanged(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.version == s.savedVersion {
		s.mu.Unlock()
		return nil
	}
	version := s.version
	snap := Snapshot{
		Step:    s.state.CurrentStep,
		Session: s.state.Session.Clone(),
		Fallback: FallbackData{
			ShippingAddress: cloneAddress(s.state.ShippingAddress),
			BillingAddress:  cloneAddress(s.state.BillingAddress),
			ShippingMethod:  s.state.ShippingMethod,
			PaymentMethod:   s.state.PaymentMethod,
			Preview:         s.cachedPreview.Clone(),
			PreviewInput:    s.previewInput.clone(),
		},
	}
	s.mu.Unlock()

	if err := s.persist.Save(ctx, snap); err != nil {
		return err
	}

	s.mu.Lock()
	if version > s.savedVersion {
		s.savedVersion = version
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) policy(op string) retry.Policy {
	p := s.retry
	userOnRetry := p.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.log.Warn("retrying checkout api call", "op", op, "attempt", attempt, "delay", delay, "error", err)
		if userOnRetry != nil {
			userOnRetry(attempt, err, delay)
		}
	}
	return p
}

func cloneAddress(a *domain.Address) *domain.Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func asAddress(value any) (*domain.Address, error) {
	switch v := value.(type) {
	case domain.Address:
		return &v, nil
	case *domain.Address:
		if v == nil {
			return nil, errors.New("address is nil")
		}
		c := *v
		return &c, nil
	default:
		return nil, fmt.Errorf("expected an address, got %T", value)
	}
}
