package checkout

import (
	"context"

	"github.com/fjod/go_cart/checkout-flow/domain"
)

// Backend is the remote checkout, pricing and orders API.
type Backend interface {
	CalculatePreview(ctx context.Context, req domain.PreviewRequest) (*domain.PricePreview, error)
	CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.CheckoutSession, error)
	UpdateSessionField(ctx context.Context, sessionID string, field domain.SessionField, value any) (*domain.CheckoutSession, error)
	CompleteSession(ctx context.Context, sessionID, paymentIntentID string) (*domain.CheckoutSession, error)
	CreateOrder(ctx context.Context, sessionID string) (*domain.Order, error)
}

type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

// PaymentConfirmer turns the chosen payment method into a payment intent token.
type PaymentConfirmer interface {
	Confirm(ctx context.Context, session *domain.CheckoutSession, method string) (string, error)
}

type InventoryVerifier interface {
	Verify(ctx context.Context, session *domain.CheckoutSession, cart []domain.CartLine) error
}

type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event domain.OrderPlacedEvent) error
}

// Observer is told about placement progress. Methods are called synchronously.
type Observer interface {
	PhaseChanged(phase domain.PlacementPhase)
	CheckoutCleared()
}
