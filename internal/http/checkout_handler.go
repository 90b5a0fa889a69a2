package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_cart/checkout-flow/domain"
	"github.com/fjod/go_cart/checkout-flow/internal/checkout"
	"github.com/fjod/go_cart/checkout-flow/internal/steps"
)

// FlowSource hands out the checkout flow of a user.
type FlowSource interface {
	Get(ctx context.Context, userID string) (*checkout.Flow, error)
}

type CheckoutHandler struct {
	flows   FlowSource
	timeout time.Duration
	maxBody int64
	log     *slog.Logger
}

func NewCheckoutHandler(flows FlowSource, timeout time.Duration, maxBody int64, log *slog.Logger) *CheckoutHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutHandler{
		flows:   flows,
		timeout: timeout,
		maxBody: maxBody,
		log:     log.With("component", "checkout_handler"),
	}
}

// Routes mounts the checkout endpoints. Callers must put AuthMiddleware in front.
func (h *CheckoutHandler) Routes(r chi.Router) {
	r.Get("/", h.GetState)
	r.Delete("/", h.ClearCheckout)
	r.Put("/step", h.SetStep)
	r.Post("/next", h.NextStep)
	r.Post("/prev", h.PrevStep)
	r.Put("/address", h.SubmitAddress)
	r.Put("/billing-address", h.SubmitBillingAddress)
	r.Put("/shipping-method", h.SubmitShippingMethod)
	r.Put("/payment-method", h.SubmitPaymentMethod)
	r.Post("/preview", h.CalculatePreview)
	r.Post("/session", h.CreateSession)
	r.Get("/review", h.Review)
	r.Post("/place-order", h.PlaceOrder)
	r.Get("/confirmation", h.Confirmation)
}

type StateResponseDTO struct {
	State      domain.CheckoutState     `json:"state"`
	CanProceed bool                     `json:"canProceed"`
	Placement  checkout.PlacementStatus `json:"placement"`
}

type SetStepRequestDTO struct {
	Step *int `json:"step"`
}

type ShippingMethodRequestDTO struct {
	ShippingMethod string `json:"shippingMethod"`
}

type PaymentMethodRequestDTO struct {
	PaymentMethod string `json:"paymentMethod"`
}

type CartRequestDTO struct {
	CartItems  []domain.CartLine `json:"cartItems"`
	CouponCode string            `json:"couponCode,omitempty"`
}

type PreviewResponseDTO struct {
	Preview *domain.PricePreview `json:"orderPreview"`
	Stale   bool                 `json:"stale"`
	Warning string               `json:"warning,omitempty"`
}

type ShippingMethodResponseDTO struct {
	StateResponseDTO
	Preview *PreviewResponseDTO `json:"preview,omitempty"`
}

type ConfirmationResponseDTO struct {
	OrderID   string `json:"orderId"`
	Completed bool   `json:"completed"`
}

// flow resolves the caller's flow. It writes the error response itself and
// returns nil when the request cannot go on.
func (h *CheckoutHandler) flow(w http.ResponseWriter, r *http.Request) *checkout.Flow {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return nil
	}
	f, err := h.flows.Get(r.Context(), userID)
	if err != nil {
		handleError(w, h.log, err)
		return nil
	}
	return f
}

func (h *CheckoutHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body is too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func (h *CheckoutHandler) respondState(w http.ResponseWriter, status int, f *checkout.Flow) {
	respondJSON(w, status, stateResponse(f))
}

func stateResponse(f *checkout.Flow) StateResponseDTO {
	return StateResponseDTO{
		State:      f.Store.Snapshot(),
		CanProceed: f.Store.CanProceedToNextStep(),
		Placement:  f.Orchestrator.Status(),
	}
}

func previewResponse(res *checkout.PreviewResult) *PreviewResponseDTO {
	if res == nil {
		return nil
	}
	return &PreviewResponseDTO{Preview: res.Preview, Stale: res.Stale, Warning: res.Warning}
}

// GET /api/v1/checkout
func (h *CheckoutHandler) GetState(w http.ResponseWriter, r *http.Request) {
	f := h.flow(w, r)
	if f == nil {
		return
	}
	h.respondState(w, http.StatusOK, f)
}

// PUT /api/v1/checkout/step
func (h *CheckoutHandler) SetStep(w http.ResponseWriter, r *http.Request) {
	f := h.flow(w, r)
	if f == nil {
		return
	}
	var req SetStepRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.Step == nil {
		respondError(w, http.StatusBadRequest, "missing_step", "step is required")
		return
	}
	if err := f.Store.SetStep(domain.CheckoutStep(*req.Step)); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondState(w, http.StatusOK, f)
}

// POST /api/v1/checkout/next
func (h *CheckoutHandler) NextStep(w http.ResponseWriter, r *http.Request) {
	f := h.flow(w, r)
	if f == nil {
		return
	}
	if err := f.Store.NextStep(); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondState(w, http.StatusOK, f)
}

// POST /api/v1/checkout/prev
func (h *CheckoutHandler) PrevStep(w http.ResponseWriter, r *http.Request) {
	f := h.flow(w, r)
	if f == nil {
		return
	}
	f.Store.PrevStep()
	h.respondState(w, http.StatusOK, f)
}

// PUT /api/v1/checkout/address
func (h *CheckoutHandler) SubmitAddress(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	f := h.flow(w, r)
	if f == nil {
		return
	}
	var req steps.AddressInput
	if !h.decode(w, r, &req) {
		return
	}
	if err := steps.New(f, h.log).Address.Submit(ctx, req); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondState(w, http.StatusOK, f)
}

// PUT /api/v1/checkout/billing-address
func (h *CheckoutHandler) SubmitBillingAddress(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	f := h.flow(w, r)
	if f == nil {
		return
	}
	var req domain.Address
	if !h.decode(w, r, &req) {
		return
	}
	if err := steps.New(f, h.log).Address.SubmitBilling(ctx, req); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondState(w, http.StatusOK, f)
}

// PUT /api/v1/checkout/shipping-method
func (h *CheckoutHandler) SubmitShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	f := h.flow(w, r)
	if f == nil {
		return
	}
	var req ShippingMethodRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	res, err := steps.New(f, h.log).Shipping.Submit(ctx, req.ShippingMethod)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, ShippingMethodResponseDTO{
		StateResponseDTO: stateResponse(f),
		Preview:          previewResponse(res.Preview),
	})
}

// PUT /api/v1/checkout/payment-method
func (h *CheckoutHandler) SubmitPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	f := h.flow(w, r)
	if f == nil {
		return
	}
	var req PaymentMethodRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if err := steps.New(f, h.log).Payment.Submit(ctx, req.PaymentMethod); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondState(w, http.StatusOK, f)
}

// POST /api/v1/checkout/preview
func (h *CheckoutHandler) CalculatePreview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	f := h.flow(w, r)
	if f == nil {
		return
	}
	var req CartRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	res, err := f.Store.CalculateOrderPreview(ctx, f.UserID, req.CartItems, req.CouponCode)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, previewResponse(&res))
}

// POST /api/v1/checkout/session
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	f := h.flow(w, r)
	if f == nil {
		return
	}
	var req CartRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	session, err := f.Store.CreateCheckoutSession(ctx, f.UserID, req.CartItems, req.CouponCode)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

// GET /api/v1/checkout/review
func (h *CheckoutHandler) Review(w http.ResponseWriter, r *http.Request) {
	f := h.flow(w, r)
	if f == nil {
		return
	}
	respondJSON(w, http.StatusOK, steps.New(f, h.log).Review.Summary())
}

// POST /api/v1/checkout/place-order
// An empty body places the cart of the last preview.
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	f := h.flow(w, r)
	if f == nil {
		return
	}
	var req CartRequestDTO
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	res, err := steps.New(f, h.log).Review.PlaceOrder(ctx, f.UserID, req.CartItems)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// DELETE /api/v1/checkout
func (h *CheckoutHandler) ClearCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	f := h.flow(w, r)
	if f == nil {
		return
	}
	if f.Orchestrator.Status().IsPlacingOrder {
		handleError(w, h.log, checkout.ErrAlreadyPlacingOrder)
		return
	}
	if err := f.Store.ClearCheckout(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/checkout/confirmation
func (h *CheckoutHandler) Confirmation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	f := h.flow(w, r)
	if f == nil {
		return
	}
	orderID, completed, err := f.Orchestrator.Confirmation(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if orderID == "" {
		respondError(w, http.StatusNotFound, "not_found", "no completed order")
		return
	}
	respondJSON(w, http.StatusOK, ConfirmationResponseDTO{OrderID: orderID, Completed: completed})
}
