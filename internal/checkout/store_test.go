package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/checkout-flow/domain"
	"github.com/fjod/go_cart/checkout-flow/internal/retry"
	"github.com/fjod/go_cart/checkout-flow/pkg/logger"
)

func TestStore_AddressThenNextStep(t *testing.T) {
	env := newTestEnv(t)
	s := env.store

	assert.False(t, s.CanProceedToNextStep())
	assert.ErrorIs(t, s.NextStep(), ErrStepIncomplete)
	assert.Equal(t, domain.StepAddress, s.Snapshot().CurrentStep)

	s.SetShippingAddress(validAddress())
	assert.True(t, s.CanProceedToNextStep())

	require.NoError(t, s.NextStep())
	assert.Equal(t, domain.StepShippingMethod, s.Snapshot().CurrentStep)
	assert.JSONEq(t, `1`, env.persisted(t, KeyCurrentStep))
}

func TestStore_StepBounds(t *testing.T) {
	env := newTestEnv(t)
	s := env.store

	s.PrevStep()
	assert.Equal(t, domain.StepAddress, s.Snapshot().CurrentStep)

	s.SetShippingAddress(validAddress())
	_, err := s.SetShippingMethod(context.Background(), "standard")
	require.NoError(t, err)
	s.SetPaymentMethod("card")

	require.NoError(t, s.SetStep(domain.StepReview))
	require.NoError(t, s.NextStep())
	assert.Equal(t, domain.StepReview, s.Snapshot().CurrentStep)
	assert.True(t, s.CanProceedToNextStep())

	s.PrevStep()
	assert.Equal(t, domain.StepPayment, s.Snapshot().CurrentStep)
}

func TestStore_SetStep(t *testing.T) {
	env := newTestEnv(t)
	s := env.store

	assert.ErrorIs(t, s.SetStep(domain.CheckoutStep(4)), ErrInvalidStep)
	assert.ErrorIs(t, s.SetStep(domain.CheckoutStep(-1)), ErrInvalidStep)

	s.SetShippingAddress(validAddress())
	err := s.SetStep(domain.StepPayment)
	assert.ErrorIs(t, err, ErrStepIncomplete)
	assert.Contains(t, err.Error(), "SHIPPING_METHOD")
	assert.Equal(t, domain.StepAddress, s.Snapshot().CurrentStep)

	require.NoError(t, s.SetStep(domain.StepShippingMethod))
	require.NoError(t, s.SetStep(domain.StepAddress), "going back is always allowed")
}

func TestStore_CanProceedLooksOnlyAtCurrentStep(t *testing.T) {
	env := newTestEnv(t)
	s := env.store

	s.SetPaymentMethod("card")
	_, err := s.SetShippingMethod(context.Background(), "express")
	require.NoError(t, err)
	assert.False(t, s.CanProceedToNextStep(), "address step needs an address")
}

func TestStore_CalculateOrderPreview(t *testing.T) {
	env := newTestEnv(t)
	s := env.store
	ctx := context.Background()

	s.SetShippingAddress(validAddress())
	res, err := s.CalculateOrderPreview(ctx, "user-1", widgetCart(), "SAVE2")
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.True(t, res.Preview.Total.Equal(decimal.RequireFromString("20")), "20 + 2 tax - 2 discount")

	assert.Equal(t, "SAVE2", env.backend.lastPreview.CouponCode)
	require.NotNil(t, env.backend.lastPreview.ShippingAddress)
	assert.Equal(t, "London", env.backend.lastPreview.ShippingAddress.City)

	var fallback FallbackData
	require.NoError(t, json.Unmarshal([]byte(env.persisted(t, KeyFallbackData)), &fallback))
	require.NotNil(t, fallback.Preview)
	assert.True(t, fallback.Preview.Total.Equal(res.Preview.Total))
	require.NotNil(t, fallback.PreviewInput)
	assert.Equal(t, "SAVE2", fallback.PreviewInput.CouponCode)
}

func TestStore_CalculateOrderPreviewIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.store.CalculateOrderPreview(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)
	afterFirst := env.store.Snapshot().OrderPreview

	second, err := env.store.CalculateOrderPreview(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)

	assert.Equal(t, first.Preview, second.Preview)
	assert.Equal(t, afterFirst, env.store.Snapshot().OrderPreview)
}

func TestStore_CalculateOrderPreviewRetries(t *testing.T) {
	env := newTestEnv(t)
	failures := 2
	env.backend.previewFn = func(req domain.PreviewRequest) (*domain.PricePreview, error) {
		if failures > 0 {
			failures--
			return nil, errUnavailable
		}
		return pricePreview(req), nil
	}

	res, err := env.store.CalculateOrderPreview(context.Background(), "user-1", widgetCart(), "")
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Equal(t, 3, env.backend.count("preview"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, env.sleeps.delays)
}

func TestStore_CalculateOrderPreviewFallsBackToCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	good, err := env.store.CalculateOrderPreview(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)

	env.backend.previewFn = func(domain.PreviewRequest) (*domain.PricePreview, error) {
		return nil, errUnavailable
	}
	res, err := env.store.CalculateOrderPreview(ctx, "user-1", widgetCart(), "SAVE2")
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, good.Preview, res.Preview)
	assert.Equal(t, good.Preview, env.store.Snapshot().OrderPreview)
	assert.Equal(t, 4, env.backend.count("preview"))
}

func TestStore_CalculateOrderPreviewWithoutCacheClears(t *testing.T) {
	env := newTestEnv(t)
	env.backend.previewFn = func(domain.PreviewRequest) (*domain.PricePreview, error) {
		return nil, errUnavailable
	}

	res, err := env.store.CalculateOrderPreview(context.Background(), "user-1", widgetCart(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Nil(t, res.Preview)
	assert.Nil(t, env.store.Snapshot().OrderPreview)
}

func TestStore_CalculateOrderPreviewRejectsEmptyCart(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.CalculateOrderPreview(context.Background(), "user-1", nil, "")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, env.backend.Calls())
}

func TestStore_ShippingMethodAdjustsPreview(t *testing.T) {
	env := newTestEnv(t)
	s := env.store
	ctx := context.Background()

	s.SetShippingAddress(validAddress())
	require.NoError(t, s.NextStep())
	_, err := s.CalculateOrderPreview(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)

	// Capture what the state shows while the authoritative call is in flight.
	var optimistic *domain.PricePreview
	env.backend.previewFn = func(req domain.PreviewRequest) (*domain.PricePreview, error) {
		optimistic = s.Snapshot().OrderPreview
		return pricePreview(req), nil
	}

	res, err := s.SetShippingMethod(ctx, "express")
	require.NoError(t, err)
	require.NotNil(t, res)

	require.NotNil(t, optimistic)
	assert.True(t, optimistic.ShippingCost.Equal(decimal.RequireFromString("14.99")))
	assert.True(t, optimistic.Total.Equal(decimal.RequireFromString("36.99")))

	assert.Equal(t, "express", env.backend.lastPreview.ShippingMethod)
	assert.True(t, res.Preview.Total.Equal(decimal.RequireFromString("36.99")))
}

func TestStore_ShippingMethodOnAddressStepDoesNotRecalculate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CalculateOrderPreview(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)

	res, err := env.store.SetShippingMethod(ctx, "express")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, env.backend.count("preview"))
}

func TestStore_UnknownShippingMethodSkipsOptimisticAdjustment(t *testing.T) {
	env := newTestEnv(t)
	s := env.store
	ctx := context.Background()

	s.SetShippingAddress(validAddress())
	require.NoError(t, s.NextStep())
	_, err := s.CalculateOrderPreview(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)
	before := s.Snapshot().OrderPreview

	var seen *domain.PricePreview
	env.backend.previewFn = func(req domain.PreviewRequest) (*domain.PricePreview, error) {
		seen = s.Snapshot().OrderPreview
		return pricePreview(req), nil
	}
	_, err = s.SetShippingMethod(ctx, "drone")
	require.NoError(t, err)
	assert.Equal(t, before, seen)
}

func TestStore_CreateCheckoutSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.store.CreateCheckoutSession(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, session.Status)
	assert.NotEmpty(t, session.ID)

	var persisted domain.CheckoutSession
	require.NoError(t, json.Unmarshal([]byte(env.persisted(t, KeySession)), &persisted))
	assert.Equal(t, session.ID, persisted.ID)

	require.NoError(t, env.store.UpdateSessionField(ctx, domain.FieldPaymentMethod, "card"))
	assert.Equal(t, session.ID, env.backend.lastUpdate.sessionID)
}

func TestStore_CreateCheckoutSessionFailureLeavesState(t *testing.T) {
	env := newTestEnv(t)
	env.backend.sessionFn = func(domain.CreateSessionRequest) (*domain.CheckoutSession, error) {
		return nil, errUnavailable
	}

	session, err := env.store.CreateCheckoutSession(context.Background(), "user-1", widgetCart(), "")
	assert.Nil(t, session)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Nil(t, env.store.Snapshot().Session)
	assert.Equal(t, 3, env.backend.count("create_session"))
	assert.Empty(t, env.persisted(t, KeySession))
}

func TestStore_CreateCheckoutSessionLocalChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateCheckoutSession(ctx, "", widgetCart(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = env.store.CreateCheckoutSession(ctx, "user-1", nil, "")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, env.backend.Calls())
}

func TestStore_AuthErrorsAreNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.store.retry.ShouldRetry = func(err error) bool { return !errors.Is(err, ErrUnauthenticated) }
	env.backend.sessionFn = func(domain.CreateSessionRequest) (*domain.CheckoutSession, error) {
		return nil, ErrUnauthenticated
	}

	_, err := env.store.CreateCheckoutSession(context.Background(), "user-1", widgetCart(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, 1, env.backend.count("create_session"))
}

func TestStore_UpdateSessionFieldRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateCheckoutSession(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateSessionField(ctx, domain.FieldPaymentMethod, "card"))

	var seenDuringCommit string
	env.backend.updateFn = func(string, domain.SessionField, any) (*domain.CheckoutSession, error) {
		seenDuringCommit = env.store.Snapshot().PaymentMethod
		return nil, errUnavailable
	}

	err = env.store.UpdateSessionField(ctx, domain.FieldPaymentMethod, "paypal")
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, "paypal", seenDuringCommit, "applied before the remote call")
	assert.Equal(t, "card", env.store.Snapshot().PaymentMethod)

	var fallback FallbackData
	require.NoError(t, json.Unmarshal([]byte(env.persisted(t, KeyFallbackData)), &fallback))
	assert.Equal(t, "card", fallback.PaymentMethod)
}

func TestStore_UpdateSessionFieldAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateCheckoutSession(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)

	addr := validAddress()
	require.NoError(t, env.store.UpdateSessionField(ctx, domain.FieldBillingAddress, addr))
	require.NotNil(t, env.store.Snapshot().BillingAddress)
	assert.Equal(t, addr, *env.store.Snapshot().BillingAddress)
	assert.Equal(t, domain.FieldBillingAddress, env.backend.lastUpdate.field)

	env.backend.updateFn = func(string, domain.SessionField, any) (*domain.CheckoutSession, error) {
		return nil, errUnavailable
	}
	other := addr
	other.City = "Paris"
	require.Error(t, env.store.UpdateSessionField(ctx, domain.FieldShippingAddress, &other))
	assert.Nil(t, env.store.Snapshot().ShippingAddress)
}

func TestStore_UpdateSessionFieldValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.store.UpdateSessionField(ctx, domain.FieldPaymentMethod, "card"), ErrNoSession)

	_, err := env.store.CreateCheckoutSession(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)

	assert.ErrorIs(t, env.store.UpdateSessionField(ctx, domain.FieldPaymentMethod, 42), ErrInvalidFieldValue)
	assert.ErrorIs(t, env.store.UpdateSessionField(ctx, domain.FieldShippingAddress, "street"), ErrInvalidFieldValue)
	assert.ErrorIs(t, env.store.UpdateSessionField(ctx, "couponCode", "X"), ErrInvalidFieldValue)
}

func TestStore_ClearCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.SetShippingAddress(validAddress())
	_, err := env.store.CreateCheckoutSession(ctx, "user-1", widgetCart(), "")
	require.NoError(t, err)
	require.NoError(t, env.kv.MarkCompleted(ctx, "order-0"))

	require.NoError(t, env.store.ClearCheckout(ctx))

	assert.Equal(t, domain.CheckoutState{}, env.store.Snapshot())
	assert.Equal(t, 0, env.mem.Len("user-1"))
	assert.Nil(t, env.store.PreviewInput())
}

func TestStore_DebouncedWritesCoalesce(t *testing.T) {
	mem := &countingStore{MemoryStore: newMemory()}
	kv := NewKVPersistence(mem, "user-1")
	s := NewStore("user-1", &fakeBackend{}, kv, StoreConfig{Debounce: 30 * time.Millisecond}, logger.Discard())

	for i := 0; i < 5; i++ {
		s.SetPaymentMethod("card")
		s.SetShippingAddress(validAddress())
	}
	assert.Equal(t, 0, mem.Sets())

	assert.Eventually(t, func() bool { return mem.Sets() > 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	// a snapshot without a session is two keys
	assert.Equal(t, 2, mem.Sets())
}

func TestStore_ClearCancelsPendingWrite(t *testing.T) {
	mem := &countingStore{MemoryStore: newMemory()}
	kv := NewKVPersistence(mem, "user-1")
	s := NewStore("user-1", &fakeBackend{}, kv, StoreConfig{Debounce: 20 * time.Millisecond}, logger.Discard())

	s.SetPaymentMethod("card")
	require.NoError(t, s.ClearCheckout(context.Background()))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, mem.Sets())
	assert.Equal(t, 0, mem.Len("user-1"))

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 0, mem.Sets(), "nothing changed since the clear")
}

func TestStore_FlushWritesImmediately(t *testing.T) {
	mem := &countingStore{MemoryStore: newMemory()}
	kv := NewKVPersistence(mem, "user-1")
	s := NewStore("user-1", &fakeBackend{}, kv, StoreConfig{Debounce: time.Hour}, logger.Discard())

	s.SetPaymentMethod("card")
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 2, mem.Sets())

	require.NoError(t, s.Close(context.Background()))
	s.SetPaymentMethod("paypal")
	assert.Equal(t, 2, mem.Sets(), "closed store schedules nothing")
}

func TestStore_FlushReportsStorageErrors(t *testing.T) {
	kv := NewKVPersistence(failingStore{Store: newMemory()}, "user-1")
	s := NewStore("user-1", &fakeBackend{}, kv, StoreConfig{Debounce: time.Hour}, logger.Discard())

	s.SetPaymentMethod("card")
	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStore_RestoreRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.SetShippingAddress(validAddress())
	require.NoError(t, env.store.NextStep())
	_, err := env.store.SetShippingMethod(ctx, "standard")
	require.NoError(t, err)
	_, err = env.store.CalculateOrderPreview(ctx, "user-1", widgetCart(), "SAVE2")
	require.NoError(t, err)
	_, err = env.store.CreateCheckoutSession(ctx, "user-1", widgetCart(), "SAVE2")
	require.NoError(t, err)
	require.NoError(t, env.store.NextStep())

	restored := NewStore("user-1", env.backend, env.kv, StoreConfig{Retry: testPolicy(&sleeps{})}, logger.Discard())
	require.NoError(t, restored.Restore(ctx))

	want, got := env.store.Snapshot(), restored.Snapshot()
	assert.Equal(t, domain.StepPayment, got.CurrentStep)
	assert.Equal(t, want.ShippingAddress, got.ShippingAddress)
	assert.Equal(t, "standard", got.ShippingMethod)
	require.NotNil(t, got.Session)
	assert.Equal(t, want.Session.ID, got.Session.ID)
	require.NotNil(t, got.OrderPreview)
	assert.True(t, want.OrderPreview.Total.Equal(got.OrderPreview.Total))

	input := restored.PreviewInput()
	require.NotNil(t, input)
	assert.Equal(t, "SAVE2", input.CouponCode)
	require.Len(t, input.Items, 1)
	assert.Equal(t, "p1", input.Items[0].ProductID)
}

func TestStore_RestoreClampsStepAndDropsExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.kv.Save(ctx, Snapshot{
		Step: domain.StepReview,
		Session: &domain.CheckoutSession{
			ID: "old", Status: domain.SessionStatusPending, ExpiresAt: time.Now().Add(-time.Minute),
		},
		Fallback: FallbackData{ShippingAddress: &domain.Address{City: "Oslo"}},
	}))

	require.NoError(t, env.store.Restore(ctx))
	st := env.store.Snapshot()
	assert.Equal(t, domain.StepShippingMethod, st.CurrentStep)
	assert.Nil(t, st.Session)
}

func TestStore_RestoreKeepsCompletedSessionPastExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.kv.Save(ctx, Snapshot{
		Step: domain.StepReview,
		Session: &domain.CheckoutSession{
			ID: "paid", Status: domain.SessionStatusCompleted, ExpiresAt: time.Now().Add(-time.Hour),
		},
	}))

	require.NoError(t, env.store.Restore(ctx))
	st := env.store.Snapshot()
	require.NotNil(t, st.Session)
	assert.Equal(t, "paid", st.Session.ID)
	assert.Equal(t, domain.SessionStatusCompleted, st.Session.Status)
}

func TestStore_RestoreEmpty(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Restore(context.Background()))
	assert.Equal(t, domain.CheckoutState{}, env.store.Snapshot())
}

func TestStore_ContextCancelStopsRetry(t *testing.T) {
	env := newTestEnv(t)
	env.store.retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	env.backend.previewFn = func(domain.PreviewRequest) (*domain.PricePreview, error) {
		return nil, errUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := env.store.CalculateOrderPreview(ctx, "user-1", widgetCart(), "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 1, env.backend.count("preview"))
}
