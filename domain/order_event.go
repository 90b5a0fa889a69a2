package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const EventTypeOrderPlaced = "OrderPlaced"

type OrderEventItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderPlacedEvent is published once an order has been created from a completed session.
type OrderPlacedEvent struct {
	CheckoutID  string           `json:"checkout_id"`
	OrderID     string           `json:"order_id"`
	UserID      string           `json:"user_id"`
	Items       []OrderEventItem `json:"items"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	Currency    string           `json:"currency"`
	CompletedAt time.Time        `json:"completed_at"`
}

// NewOrderPlacedEvent builds the event from the session snapshot the order was created from.
func NewOrderPlacedEvent(session *CheckoutSession, order *Order, completedAt time.Time) OrderPlacedEvent {
	items := make([]OrderEventItem, 0, len(session.CartSnapshot))
	for _, line := range session.CartSnapshot {
		items = append(items, OrderEventItem{
			ProductID:   line.ProductID,
			ProductName: line.Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.Price,
			Subtotal:    line.LineTotal(),
		})
	}

	total := order.Totals.Total
	if total.IsZero() {
		total = session.Totals.Total
	}

	return OrderPlacedEvent{
		CheckoutID:  session.ID,
		OrderID:     order.ID,
		UserID:      session.UserID,
		Items:       items,
		TotalAmount: total,
		Currency:    order.Currency,
		CompletedAt: completedAt,
	}
}
