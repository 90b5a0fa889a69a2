package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/checkout-flow/internal/api"
	"github.com/fjod/go_cart/checkout-flow/internal/checkout"
	"github.com/fjod/go_cart/checkout-flow/internal/steps"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Errors  []string          `json:"errors,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps checkout errors to HTTP responses.
func handleError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		validation   *steps.ValidationError
		precondition *checkout.PreconditionError
		placement    *checkout.PlacementError
		apiErr       *api.Error
	)

	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &validation):
		status, resp.Code, resp.Error = http.StatusUnprocessableEntity, "validation_failed", "some fields are invalid"
		resp.Fields = validation.Fields
	case errors.As(err, &precondition):
		status, resp.Code = http.StatusUnprocessableEntity, "checkout_incomplete"
		resp.Errors = precondition.Missing
		resp.Details = "go back and complete the missing steps"
	case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrInvalidFieldValue):
		status, resp.Code = http.StatusUnprocessableEntity, "invalid_request"
	case errors.Is(err, checkout.ErrUnauthenticated), errors.Is(err, api.ErrUnauthenticated):
		status, resp.Code, resp.Error = http.StatusUnauthorized, "unauthenticated", "please sign in again"
	case errors.Is(err, checkout.ErrStepIncomplete):
		status, resp.Code = http.StatusConflict, "step_incomplete"
		resp.Details = "complete the current step or go back"
	case errors.Is(err, checkout.ErrInvalidStep):
		status, resp.Code = http.StatusConflict, "invalid_step"
		resp.Details = "go back to an earlier step"
	case errors.Is(err, checkout.ErrNoSession):
		status, resp.Code = http.StatusConflict, "no_session"
		resp.Details = "create a checkout session first"
	case errors.Is(err, checkout.ErrAlreadyPlacingOrder), errors.Is(err, checkout.ErrSubmissionInProgress):
		status, resp.Code = http.StatusConflict, "placement_in_progress"
		resp.Details = "check your orders before trying again"
	case errors.As(err, &placement):
		status, resp.Code = http.StatusBadGateway, "placement_failed"
		resp.Error = "your order could not be placed"
	case api.IsUnavailable(err):
		status, resp.Code, resp.Error = http.StatusServiceUnavailable, "service_unavailable", "checkout is temporarily unavailable"
	case errors.As(err, &apiErr):
		status, resp.Code = http.StatusBadGateway, "upstream_error"
		if msg := apiErr.PublicMessage(); msg != "" {
			resp.Error = msg
		}
	default:
		resp.Code, resp.Error = "internal_error", "internal server error"
	}

	if errors.As(err, &placement) {
		resp.Errors = placement.Messages
	}
	if status >= http.StatusInternalServerError {
		log.Error("checkout request failed", "status", status, "error", err)
	}
	respondJSON(w, status, resp)
}
