package domain

import "time"

type OrderStatus string

const (
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

type OrderItem struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
}

// Order is created from a completed checkout session. Status changes belong to the orders service.
type Order struct {
	ID                string      `json:"id"`
	CheckoutSessionID string      `json:"checkoutSessionId"`
	UserID            string      `json:"userId"`
	Status            OrderStatus `json:"status"`
	Items             []OrderItem `json:"items"`
	Totals            Totals      `json:"totals"`
	Currency          string      `json:"currency,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
}
