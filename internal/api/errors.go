package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/fjod/go_cart/checkout-flow/pkg/circuitbreaker"
)

// ErrUnauthenticated is matched by every 401/403 response. Never retried.
var ErrUnauthenticated = errors.New("unauthenticated")

// Error is a non-2xx response from the checkout API.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("checkout api %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("checkout api %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthenticated
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseError(status int, body []byte) *Error {
	e := &Error{StatusCode: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		e.Code = eb.Code
		e.Message = eb.Message
		if e.Message == "" {
			e.Message = eb.Error
		}
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// IsTransient reports whether a failed call may succeed if repeated:
// network failures, timeouts, 5xx and 429.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUnavailable reports whether the API could not be reached or is shedding load.
func IsUnavailable(err error) bool {
	return IsTransient(err) || errors.Is(err, circuitbreaker.ErrOpen)
}

// PublicMessage is the message the API wrote for users.
func (e *Error) PublicMessage() string {
	return e.Message
}
