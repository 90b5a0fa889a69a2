package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/checkout-flow/domain"
	"github.com/fjod/go_cart/checkout-flow/internal/storage"
)

// Well-known persisted keys.
const (
	KeySession          = "checkout_session"
	KeyFallbackData     = "checkout_fallback_data"
	KeyCurrentStep      = "checkout_current_step"
	KeySubmissionStatus = "order_submission_status"
	KeyLastOrderID      = "last_order_id"
	KeyOrderCompleted   = "order_completed"
)

var allKeys = []string{
	KeySession, KeyFallbackData, KeyCurrentStep,
	KeySubmissionStatus, KeyLastOrderID, KeyOrderCompleted,
}

const SubmissionInProgress = "in_progress"

// PreviewInput is what the last preview was calculated from.
type PreviewInput struct {
	UserID     string            `json:"userId"`
	Items      []domain.CartLine `json:"items"`
	CouponCode string            `json:"couponCode,omitempty"`
}

func (p *PreviewInput) clone() *PreviewInput {
	if p == nil {
		return nil
	}
	c := *p
	c.Items = append([]domain.CartLine(nil), p.Items...)
	return &c
}

// FallbackData holds everything but the session and step.
type FallbackData struct {
	ShippingAddress *domain.Address      `json:"shippingAddress,omitempty"`
	BillingAddress  *domain.Address      `json:"billingAddress,omitempty"`
	ShippingMethod  string               `json:"shippingMethod,omitempty"`
	PaymentMethod   string               `json:"paymentMethod,omitempty"`
	Preview         *domain.PricePreview `json:"preview,omitempty"`
	PreviewInput    *PreviewInput        `json:"previewInput,omitempty"`
}

type SubmissionStatus struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

// Snapshot is the persisted form of a checkout.
type Snapshot struct {
	Step     domain.CheckoutStep
	Session  *domain.CheckoutSession
	Fallback FallbackData
}

// Persistence saves and restores checkout snapshots.
type Persistence interface {
	Save(ctx context.Context, snap Snapshot) error
	// Restore returns nil when nothing was saved.
	Restore(ctx context.Context) (*Snapshot, error)
	// Clear removes every persisted key, markers included.
	Clear(ctx context.Context) error
}

// Markers are the order submission and completion flags used for crash recovery.
type Markers interface {
	Submission(ctx context.Context) (*SubmissionStatus, error)
	MarkSubmission(ctx context.Context, startedAt time.Time) error
	ClearSubmission(ctx context.Context) error
	MarkCompleted(ctx context.Context, orderID string) error
	LastOrder(ctx context.Context) (orderID string, completed bool, err error)
}

// KVPersistence stores one user's checkout as JSON values under the well-known keys.
type KVPersistence struct {
	store storage.Store
	scope string
}

func NewKVPersistence(store storage.Store, scope string) *KVPersistence {
	return &KVPersistence{store: store, scope: scope}
}

func (p *KVPersistence) Save(ctx context.Context, snap Snapshot) error {
	if snap.Session != nil {
		if err := p.put(ctx, KeySession, snap.Session); err != nil {
			return err
		}
	} else if err := p.store.Delete(ctx, p.scope, KeySession); err != nil {
		return fmt.Errorf("delete %s: %w", KeySession, err)
	}

	if err := p.put(ctx, KeyFallbackData, snap.Fallback); err != nil {
		return err
	}
	return p.put(ctx, KeyCurrentStep, snap.Step)
}

func (p *KVPersistence) Restore(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	found := false

	var session domain.CheckoutSession
	ok, err := p.get(ctx, KeySession, &session)
	if err != nil {
		return nil, err
	}
	if ok {
		snap.Session = &session
		found = true
	}

	ok, err = p.get(ctx, KeyFallbackData, &snap.Fallback)
	if err != nil {
		return nil, err
	}
	found = found || ok

	ok, err = p.get(ctx, KeyCurrentStep, &snap.Step)
	if err != nil {
		return nil, err
	}
	found = found || ok

	if !found {
		return nil, nil
	}
	return &snap, nil
}

func (p *KVPersistence) Clear(ctx context.Context) error {
	if err := p.store.Delete(ctx, p.scope, allKeys...); err != nil {
		return fmt.Errorf("clear checkout: %w", err)
	}
	return nil
}

func (p *KVPersistence) Submission(ctx context.Context) (*SubmissionStatus, error) {
	var status SubmissionStatus
	ok, err := p.get(ctx, KeySubmissionStatus, &status)
	if err != nil || !ok {
		return nil, err
	}
	return &status, nil
}

func (p *KVPersistence) MarkSubmission(ctx context.Context, startedAt time.Time) error {
	return p.put(ctx, KeySubmissionStatus, SubmissionStatus{Status: SubmissionInProgress, StartedAt: startedAt})
}

func (p *KVPersistence) ClearSubmission(ctx context.Context) error {
	if err := p.store.Delete(ctx, p.scope, KeySubmissionStatus); err != nil {
		return fmt.Errorf("delete %s: %w", KeySubmissionStatus, err)
	}
	return nil
}

func (p *KVPersistence) MarkCompleted(ctx context.Context, orderID string) error {
	if err := p.put(ctx, KeyLastOrderID, orderID); err != nil {
		return err
	}
	return p.put(ctx, KeyOrderCompleted, true)
}

func (p *KVPersistence) LastOrder(ctx context.Context) (string, bool, error) {
	var orderID string
	if _, err := p.get(ctx, KeyLastOrderID, &orderID); err != nil {
		return "", false, err
	}
	var completed bool
	if _, err := p.get(ctx, KeyOrderCompleted, &completed); err != nil {
		return "", false, err
	}
	return orderID, completed, nil
}

func (p *KVPersistence) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.store.Set(ctx, p.scope, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (p *KVPersistence) get(ctx context.Context, key string, v any) (bool, error) {
	data, err := p.store.Get(ctx, p.scope, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
