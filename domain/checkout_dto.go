package domain

// PreviewRequest is the body of POST /preview.
type PreviewRequest struct {
	UserID          string     `json:"userId"`
	CartItems       []CartLine `json:"cartItems"`
	CouponCode      string     `json:"couponCode,omitempty"`
	ShippingAddress *Address   `json:"shippingAddress,omitempty"`
	ShippingMethod  string     `json:"shippingMethod,omitempty"`
}

// CreateSessionRequest is the body of POST /session.
type CreateSessionRequest struct {
	UserID          string     `json:"userId"`
	CartItems       []CartLine `json:"cartItems"`
	CouponCode      string     `json:"couponCode,omitempty"`
	ShippingAddress *Address   `json:"shippingAddress,omitempty"`
	BillingAddress  *Address   `json:"billingAddress,omitempty"`
}
