package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/checkout-flow/domain"
	"github.com/fjod/go_cart/checkout-flow/internal/retry"
	"github.com/fjod/go_cart/checkout-flow/internal/storage"
	"github.com/fjod/go_cart/checkout-flow/pkg/logger"
)

var errUnavailable = errors.New("pricing service unavailable")

// fakeBackend records calls and answers like a well-behaved checkout API
// unless one of the override funcs is set.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	previewFn  func(req domain.PreviewRequest) (*domain.PricePreview, error)
	sessionFn  func(req domain.CreateSessionRequest) (*domain.CheckoutSession, error)
	updateFn   func(id string, field domain.SessionField, value any) (*domain.CheckoutSession, error)
	completeFn func(id, token string) (*domain.CheckoutSession, error)
	orderFn    func(id string) (*domain.Order, error)

	lastPreview domain.PreviewRequest
	lastUpdate  struct {
		sessionID string
		field     domain.SessionField
		value     any
	}
	lastToken string
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeBackend) CalculatePreview(_ context.Context, req domain.PreviewRequest) (*domain.PricePreview, error) {
	f.record("preview")
	f.mu.Lock()
	f.lastPreview = req
	f.mu.Unlock()
	if f.previewFn != nil {
		return f.previewFn(req)
	}
	return pricePreview(req), nil
}

func (f *fakeBackend) CreateSession(_ context.Context, req domain.CreateSessionRequest) (*domain.CheckoutSession, error) {
	f.record("create_session")
	if f.sessionFn != nil {
		return f.sessionFn(req)
	}
	return &domain.CheckoutSession{
		ID:              "sess-1",
		UserID:          req.UserID,
		Status:          domain.SessionStatusPending,
		CartSnapshot:    req.CartItems,
		ShippingAddress: req.ShippingAddress,
		ExpiresAt:       time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeBackend) UpdateSessionField(_ context.Context, id string, field domain.SessionField, value any) (*domain.CheckoutSession, error) {
	f.record("update_" + string(field))
	f.mu.Lock()
	f.lastUpdate.sessionID, f.lastUpdate.field, f.lastUpdate.value = id, field, value
	f.mu.Unlock()
	if f.updateFn != nil {
		return f.updateFn(id, field, value)
	}
	return &domain.CheckoutSession{ID: id, Status: domain.SessionStatusPending}, nil
}

func (f *fakeBackend) CompleteSession(_ context.Context, id, token string) (*domain.CheckoutSession, error) {
	f.record("complete_session")
	f.mu.Lock()
	f.lastToken = token
	f.mu.Unlock()
	if f.completeFn != nil {
		return f.completeFn(id, token)
	}
	return &domain.CheckoutSession{
		ID:     id,
		UserID: "user-1",
		Status: domain.SessionStatusCompleted,
		CartSnapshot: []domain.CartLine{
			{ProductID: "p1", Quantity: 2, Price: decimal.NewFromInt(10), Name: "Widget"},
		},
	}, nil
}

func (f *fakeBackend) CreateOrder(_ context.Context, id string) (*domain.Order, error) {
	f.record("create_order")
	if f.orderFn != nil {
		return f.orderFn(id)
	}
	return &domain.Order{ID: "order-1", CheckoutSessionID: id, Status: domain.OrderStatusConfirmed}, nil
}

// pricePreview prices like the pricing service: 10% tax, flat rate shipping.
func pricePreview(req domain.PreviewRequest) *domain.PricePreview {
	p := &domain.PricePreview{Currency: "USD"}
	for _, line := range req.CartItems {
		p.Subtotal = p.Subtotal.Add(line.LineTotal())
		p.Items = append(p.Items, domain.PreviewLine{
			ProductID: line.ProductID, Name: line.Name, Quantity: line.Quantity,
			UnitPrice: line.Price, LineTotal: line.LineTotal(),
		})
	}
	p.Tax = p.Subtotal.Mul(decimal.RequireFromString("0.1")).Round(2)
	if rate, ok := ShippingRate(req.ShippingMethod); ok {
		p.ShippingCost = rate
	}
	if req.CouponCode == "SAVE2" {
		p.Discount = decimal.NewFromInt(2)
	}
	p.Recalculate()
	return p
}

type recordingObserver struct {
	mu      sync.Mutex
	phases  []domain.PlacementPhase
	cleared int
}

func (o *recordingObserver) PhaseChanged(p domain.PlacementPhase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, p)
}

func (o *recordingObserver) CheckoutCleared() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleared++
}

type fakeCarts struct {
	cleared []string
	err     error
}

func (c *fakeCarts) ClearCart(_ context.Context, userID string) error {
	c.cleared = append(c.cleared, userID)
	return c.err
}

type fakeEvents struct {
	events []domain.OrderPlacedEvent
}

func (e *fakeEvents) PublishOrderPlaced(_ context.Context, event domain.OrderPlacedEvent) error {
	e.events = append(e.events, event)
	return nil
}

// failingStore makes every write fail, to exercise persistence errors.
type failingStore struct {
	storage.Store
}

func (failingStore) Set(context.Context, string, string, []byte) error {
	return fmt.Errorf("disk full")
}

// ctxBoundStore fails like a network store once the caller's context is done.
type ctxBoundStore struct {
	*storage.MemoryStore
}

func (c ctxBoundStore) Get(ctx context.Context, scope, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.MemoryStore.Get(ctx, scope, key)
}

func (c ctxBoundStore) Set(ctx context.Context, scope, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.Set(ctx, scope, key, value)
}

func (c ctxBoundStore) Delete(ctx context.Context, scope string, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.Delete(ctx, scope, keys...)
}

type sleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy(rec *sleeps) retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: rec.sleep}
}

func widgetCart() []domain.CartLine {
	return []domain.CartLine{{ProductID: "p1", Quantity: 2, Price: decimal.NewFromInt(10), Name: "Widget"}}
}

func validAddress() domain.Address {
	return domain.Address{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "+44 20 7946 0958",
		Street: "12 Analytical St", City: "London", State: "LDN", Zip: "10001", Country: "GB",
	}
}

type testEnv struct {
	backend *fakeBackend
	mem     *storage.MemoryStore
	kv      *KVPersistence
	store   *Store
	sleeps  *sleeps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		backend: &fakeBackend{},
		mem:     storage.NewMemoryStore(),
		sleeps:  &sleeps{},
	}
	env.kv = NewKVPersistence(env.mem, "user-1")
	env.store = NewStore("user-1", env.backend, env.kv, StoreConfig{Retry: testPolicy(env.sleeps)}, logger.Discard())
	return env
}

func (e *testEnv) persisted(t *testing.T, key string) string {
	t.Helper()
	data, err := e.mem.Get(context.Background(), "user-1", key)
	if errors.Is(err, storage.ErrNotFound) {
		return ""
	}
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(data)
}

func newMemory() *storage.MemoryStore {
	return storage.NewMemoryStore()
}

// countingStore counts writes that reach storage.
type countingStore struct {
	*storage.MemoryStore
	mu   sync.Mutex
	sets int
}

func (c *countingStore) Set(ctx context.Context, scope, key string, value []byte) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.MemoryStore.Set(ctx, scope, key, value)
}

func (c *countingStore) Sets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}
