package domain

import "time"

// CheckoutSession is the server-side record of one purchase attempt.
type CheckoutSession struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	Status          SessionStatus `json:"status"`
	CartSnapshot    []CartLine    `json:"cartSnapshot"`
	Totals          Totals        `json:"totals"`
	ShippingMethod  string        `json:"shippingMethod,omitempty"`
	PaymentMethod   string        `json:"paymentMethod,omitempty"`
	ShippingAddress *Address      `json:"shippingAddress,omitempty"`
	BillingAddress  *Address      `json:"billingAddress,omitempty"`
	CouponCode      string        `json:"couponCode,omitempty"`
	ExpiresAt       time.Time     `json:"expiresAt"`
}

func (s *CheckoutSession) IsExpired(now time.Time) bool {
	if s.Status == SessionStatusExpired {
		return true
	}
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Discardable reports whether the session can be thrown away and replaced by a
// new one: it failed, or it expired before payment. A COMPLETED session is paid
// for and is kept until its order exists, whatever its expiry.
func (s *CheckoutSession) Discardable(now time.Time) bool {
	switch s.Status {
	case SessionStatusCompleted:
		return false
	case SessionStatusFailed:
		return true
	default:
		return s.IsExpired(now)
	}
}

// CanCreateOrder reports whether an order may be created from the session.
func (s *CheckoutSession) CanCreateOrder() bool {
	return s.Status == SessionStatusCompleted
}

// Clone returns a deep copy of the session.
func (s *CheckoutSession) Clone() *CheckoutSession {
	if s == nil {
		return nil
	}
	c := *s
	c.CartSnapshot = append([]CartLine(nil), s.CartSnapshot...)
	if s.ShippingAddress != nil {
		a := *s.ShippingAddress
		c.ShippingAddress = &a
	}
	if s.BillingAddress != nil {
		a := *s.BillingAddress
		c.BillingAddress = &a
	}
	return &c
}

// SessionField names a session attribute that can be changed after creation.
type SessionField string

const (
	FieldShippingAddress SessionField = "shippingAddress"
	FieldBillingAddress  SessionField = "billingAddress"
	FieldShippingMethod  SessionField = "shippingMethod"
	FieldPaymentMethod   SessionField = "paymentMethod"
)
