package domain

// CheckoutState is the client-side wizard state for one user.
// Empty strings mean the method has not been chosen yet.
type CheckoutState struct {
	CurrentStep     CheckoutStep     `json:"currentStep"`
	ShippingAddress *Address         `json:"shippingAddress"`
	BillingAddress  *Address         `json:"billingAddress"`
	ShippingMethod  string           `json:"shippingMethod"`
	PaymentMethod   string           `json:"paymentMethod"`
	OrderPreview    *PricePreview    `json:"orderPreview"`
	Session         *CheckoutSession `json:"session"`
	IsPlacingOrder  bool             `json:"isPlacingOrder"`
}

// CanProceed reports whether the wizard may leave step forward.
// Each step looks only at the field it collects.
func (s *CheckoutState) CanProceed(step CheckoutStep) bool {
	switch step {
	case StepAddress:
		return s.ShippingAddress != nil
	case StepShippingMethod:
		return s.ShippingMethod != ""
	case StepPayment:
		return s.PaymentMethod != ""
	case StepReview:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of the state.
func (s CheckoutState) Clone() CheckoutState {
	c := s
	if s.ShippingAddress != nil {
		a := *s.ShippingAddress
		c.ShippingAddress = &a
	}
	if s.BillingAddress != nil {
		a := *s.BillingAddress
		c.BillingAddress = &a
	}
	c.OrderPreview = s.OrderPreview.Clone()
	c.Session = s.Session.Clone()
	return c
}
