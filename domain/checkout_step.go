package domain

import "fmt"

// CheckoutStep is the index of the wizard step the user is on.
type CheckoutStep int

const (
	StepAddress CheckoutStep = iota
	StepShippingMethod
	StepPayment
	StepReview
)

const (
	FirstStep = StepAddress
	LastStep  = StepReview
)

func (s CheckoutStep) Valid() bool {
	return s >= FirstStep && s <= LastStep
}

func (s CheckoutStep) String() string {
	switch s {
	case StepAddress:
		return "ADDRESS"
	case StepShippingMethod:
		return "SHIPPING_METHOD"
	case StepPayment:
		return "PAYMENT"
	case StepReview:
		return "REVIEW"
	default:
		return fmt.Sprintf("STEP(%d)", int(s))
	}
}
