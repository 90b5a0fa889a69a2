package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fjod/go_cart/checkout-flow/domain"
)

var ErrCartChanged = errors.New("cart changed since checkout started")

// SimulatedPayments issues payment intent tokens without a payment provider.
type SimulatedPayments struct{}

func (SimulatedPayments) Confirm(_ context.Context, session *domain.CheckoutSession, method string) (string, error) {
	if method == "" {
		return "", errors.New("no payment method selected")
	}
	if session == nil || session.ID == "" {
		return "", ErrNoSession
	}
	return "pi_" + uuid.NewString(), nil
}

// SnapshotInventory checks the cart against the snapshot the session was created with.
type SnapshotInventory struct{}

func (SnapshotInventory) Verify(_ context.Context, session *domain.CheckoutSession, cart []domain.CartLine) error {
	for _, line := range cart {
		if line.Quantity <= 0 {
			return fmt.Errorf("invalid quantity %d for product %s", line.Quantity, line.ProductID)
		}
	}
	if session == nil || len(session.CartSnapshot) == 0 {
		return nil
	}

	want := make(map[string]int, len(session.CartSnapshot))
	for _, line := range session.CartSnapshot {
		want[line.ProductID] += line.Quantity
	}
	got := make(map[string]int, len(cart))
	for _, line := range cart {
		got[line.ProductID] += line.Quantity
	}

	if len(want) != len(got) {
		return ErrCartChanged
	}
	for id, qty := range want {
		if got[id] != qty {
			return fmt.Errorf("%w: product %s", ErrCartChanged, id)
		}
	}
	return nil
}
