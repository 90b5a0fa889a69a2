// Package steps holds the wizard steps. Each validates its input locally,
// writes it to the checkout store and moves the wizard forward.
package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fjod/go_cart/checkout-flow/domain"
	"github.com/fjod/go_cart/checkout-flow/internal/checkout"
)

type Steps struct {
	Address  *AddressStep
	Shipping *ShippingStep
	Payment  *PaymentStep
	Review   *ReviewStep
}

func New(flow *checkout.Flow, log *slog.Logger) *Steps {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("user_id", flow.UserID)
	return &Steps{
		Address:  &AddressStep{store: flow.Store},
		Shipping: &ShippingStep{store: flow.Store, log: log},
		Payment:  &PaymentStep{store: flow.Store},
		Review:   &ReviewStep{store: flow.Store, orch: flow.Orchestrator},
	}
}

// advanceFrom moves to the next step if the wizard is still on step.
func advanceFrom(store *checkout.Store, step domain.CheckoutStep) error {
	if store.Snapshot().CurrentStep != step {
		return nil
	}
	return store.NextStep()
}

type AddressStep struct {
	store *checkout.Store
}

type AddressInput struct {
	Shipping domain.Address  `json:"shippingAddress"`
	Billing  *domain.Address `json:"billingAddress,omitempty"`
	// SameAsShipping copies the shipping address to billing.
	SameAsShipping bool `json:"sameAsShipping"`
}

func (s *AddressStep) Submit(ctx context.Context, in AddressInput) error {
	in.Shipping = normalizeAddress(in.Shipping)
	if err := ValidateAddress("shippingAddress.", in.Shipping); err != nil {
		return err
	}

	billing := in.Billing
	if in.SameAsShipping {
		b := in.Shipping
		billing = &b
	}
	if billing != nil {
		b := normalizeAddress(*billing)
		if err := ValidateAddress("billingAddress.", b); err != nil {
			return err
		}
		billing = &b
	}

	prev := s.store.Snapshot().ShippingAddress
	if err := setAddress(ctx, s.store, domain.FieldShippingAddress, in.Shipping); err != nil {
		return err
	}
	if billing != nil {
		if err := setAddress(ctx, s.store, domain.FieldBillingAddress, *billing); err != nil {
			// The pair is saved together or not at all. With no earlier shipping
			// address there is nothing to go back to and the new one stays.
			if prev != nil && *prev != in.Shipping {
				if rbErr := setAddress(ctx, s.store, domain.FieldShippingAddress, *prev); rbErr != nil {
					return errors.Join(err, fmt.Errorf("restore shipping address: %w", rbErr))
				}
			}
			return err
		}
	}
	return advanceFrom(s.store, domain.StepAddress)
}

// SubmitBilling changes only the billing address.
func (s *AddressStep) SubmitBilling(ctx context.Context, addr domain.Address) error {
	addr = normalizeAddress(addr)
	if err := ValidateAddress("billingAddress.", addr); err != nil {
		return err
	}
	return setAddress(ctx, s.store, domain.FieldBillingAddress, addr)
}

func setAddress(ctx context.Context, store *checkout.Store, field domain.SessionField, addr domain.Address) error {
	if store.Snapshot().Session != nil {
		return store.UpdateSessionField(ctx, field, addr)
	}
	if field == domain.FieldBillingAddress {
		store.SetBillingAddress(addr)
	} else {
		store.SetShippingAddress(addr)
	}
	return nil
}

type ShippingStep struct {
	store *checkout.Store
	log   *slog.Logger
}

// ShippingResult carries the refreshed preview when the method change triggered one.
type ShippingResult struct {
	Preview *checkout.PreviewResult
}

func (s *ShippingStep) Submit(ctx context.Context, method string) (*ShippingResult, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if err := validateChoice("shippingMethod", method, checkout.ShippingMethods()); err != nil {
		return nil, err
	}

	var (
		preview *checkout.PreviewResult
		err     error
	)
	if st := s.store.Snapshot(); st.Session != nil {
		if err := s.store.UpdateSessionField(ctx, domain.FieldShippingMethod, method); err != nil {
			return nil, err
		}
		if st.ShippingMethod != method {
			preview, err = s.store.RefreshPreview(ctx)
		}
	} else {
		preview, err = s.store.SetShippingMethod(ctx, method)
	}
	if err != nil {
		// Pricing is shown again on review, so a failed refresh does not block the step.
		s.log.WarnContext(ctx, "order preview refresh failed", "shipping_method", method, "error", err)
	}

	if err := advanceFrom(s.store, domain.StepShippingMethod); err != nil {
		return nil, err
	}
	return &ShippingResult{Preview: preview}, nil
}

type PaymentStep struct {
	store *checkout.Store
}

func (s *PaymentStep) Submit(ctx context.Context, method string) error {
	method = strings.ToLower(strings.TrimSpace(method))
	if err := validateChoice("paymentMethod", method, PaymentMethods); err != nil {
		return err
	}

	if s.store.Snapshot().Session != nil {
		if err := s.store.UpdateSessionField(ctx, domain.FieldPaymentMethod, method); err != nil {
			return err
		}
	} else {
		s.store.SetPaymentMethod(method)
	}
	return advanceFrom(s.store, domain.StepPayment)
}

type ReviewStep struct {
	store *checkout.Store
	orch  *checkout.Orchestrator
}

// Summary is everything the review page shows.
type Summary struct {
	ShippingAddress *domain.Address          `json:"shippingAddress"`
	BillingAddress  *domain.Address          `json:"billingAddress"`
	ShippingMethod  string                   `json:"shippingMethod"`
	PaymentMethod   string                   `json:"paymentMethod"`
	Preview         *domain.PricePreview     `json:"orderPreview"`
	SessionID       string                   `json:"sessionId,omitempty"`
	Placement       checkout.PlacementStatus `json:"placement"`
	ReadyToPlace    bool                     `json:"readyToPlace"`
	Missing         []string                 `json:"missing,omitempty"`
}

func (s *ReviewStep) Summary() Summary {
	st := s.store.Snapshot()

	sum := Summary{
		ShippingAddress: st.ShippingAddress,
		BillingAddress:  st.BillingAddress,
		ShippingMethod:  st.ShippingMethod,
		PaymentMethod:   st.PaymentMethod,
		Preview:         st.OrderPreview,
		Placement:       s.orch.Status(),
	}
	if sum.BillingAddress == nil {
		sum.BillingAddress = st.ShippingAddress
	}
	if st.Session != nil {
		sum.SessionID = st.Session.ID
	}

	if st.ShippingAddress == nil {
		sum.Missing = append(sum.Missing, "shipping address")
	}
	if st.ShippingMethod == "" {
		sum.Missing = append(sum.Missing, "shipping method")
	}
	if st.PaymentMethod == "" {
		sum.Missing = append(sum.Missing, "payment method")
	}
	sum.ReadyToPlace = len(sum.Missing) == 0 && !sum.Placement.IsPlacingOrder
	return sum
}

// PlaceOrder hands the order to the orchestrator. When cart is empty the
// cart of the last preview is used.
func (s *ReviewStep) PlaceOrder(ctx context.Context, userID string, cart []domain.CartLine) (*checkout.PlacementResult, error) {
	if len(cart) == 0 {
		if in := s.store.PreviewInput(); in != nil {
			cart = in.Items
		}
	}
	return s.orch.PlaceOrder(ctx, userID, cart)
}

func normalizeAddress(a domain.Address) domain.Address {
	trim := strings.TrimSpace
	return domain.Address{
		FirstName: trim(a.FirstName),
		LastName:  trim(a.LastName),
		Email:     strings.ToLower(trim(a.Email)),
		Phone:     trim(a.Phone),
		Street:    trim(a.Street),
		Street2:   trim(a.Street2),
		City:      trim(a.City),
		State:     trim(a.State),
		Zip:       strings.ToUpper(trim(a.Zip)),
		Country:   strings.ToUpper(trim(a.Country)),
	}
}
