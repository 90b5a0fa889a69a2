// Package api is the HTTP client for the remote checkout, pricing and orders API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_cart/checkout-flow/domain"
	"github.com/fjod/go_cart/checkout-flow/pkg/circuitbreaker"
)

const maxResponseBody = 4 << 20

type Config struct {
	BaseURL          string
	Timeout          time.Duration
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

type response struct {
	status int
	body   []byte
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *circuitbreaker.Breaker[*response]
	log     *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breaker := circuitbreaker.New[*response](circuitbreaker.Config{
		Name:             "checkout-api",
		FailureThreshold: cfg.BreakerThreshold,
		Timeout:          cfg.BreakerTimeout,
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	}, log)

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		timeout: timeout,
		breaker: breaker,
		log:     log,
	}
}

// POST /preview
func (c *Client) CalculatePreview(ctx context.Context, req domain.PreviewRequest) (*domain.PricePreview, error) {
	var out domain.PricePreview
	if err := c.do(ctx, "calculate preview", http.MethodPost, "/preview", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// POST /session
func (c *Client) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.CheckoutSession, error) {
	var out domain.CheckoutSession
	if err := c.do(ctx, "create session", http.MethodPost, "/session", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var fieldPaths = map[domain.SessionField]string{
	domain.FieldShippingAddress: "shipping-address",
	domain.FieldBillingAddress:  "billing-address",
	domain.FieldShippingMethod:  "shipping-method",
	domain.FieldPaymentMethod:   "payment-method",
}

// UpdateSessionField sends a partial update of one session attribute.
func (c *Client) UpdateSessionField(ctx context.Context, sessionID string, field domain.SessionField, value any) (*domain.CheckoutSession, error) {
	suffix, ok := fieldPaths[field]
	if !ok {
		return nil, fmt.Errorf("update session: unknown field %q", field)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("update session %s: empty session id", field)
	}

	path := "/session/" + url.PathEscape(sessionID) + "/" + suffix
	body := map[string]any{string(field): value}

	var out domain.CheckoutSession
	if err := c.do(ctx, "update session "+suffix, http.MethodPut, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type completeSessionRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

// POST /session/:id/complete
func (c *Client) CompleteSession(ctx context.Context, sessionID, paymentIntentID string) (*domain.CheckoutSession, error) {
	path := "/session/" + url.PathEscape(sessionID) + "/complete"

	var out domain.CheckoutSession
	err := c.do(ctx, "complete session", http.MethodPost, path, completeSessionRequest{PaymentIntentID: paymentIntentID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type createOrderRequest struct {
	CheckoutSessionID string `json:"checkoutSessionId"`
}

// POST /orders/checkout
func (c *Client) CreateOrder(ctx context.Context, sessionID string) (*domain.Order, error) {
	var out domain.Order
	err := c.do(ctx, "create order", http.MethodPost, "/orders/checkout", createOrderRequest{CheckoutSessionID: sessionID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DELETE /cart
func (c *Client) ClearCart(ctx context.Context, userID string) error {
	path := "/cart?userId=" + url.QueryEscape(userID)
	return c.do(ctx, "clear cart", http.MethodDelete, path, nil, nil)
}

// BreakerState reports the circuit breaker state for health output.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if c.log != nil {
		c.log.DebugContext(ctx, "checkout api call",
			"op", op, "method", method, "path", path,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := BearerToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := requestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return nil, parseError(res.StatusCode, data)
	}
	return &response{status: res.StatusCode, body: data}, nil
}
