// Package payment talks to the external payment processor: order intents, callback
// signatures and the short-lived intent records that tie them to buyers.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_marketplace/pkg/circuitbreaker"
	"github.com/go-resty/resty/v2"
)

var (
	// ErrUnavailable covers timeouts, transport failures and an open breaker.
	ErrUnavailable = errors.New("payment gateway unavailable")
	ErrRejected    = errors.New("payment gateway rejected request")
)

type CreateOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type gatewayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error)
}

type Client struct {
	http    *resty.Client
	breaker *circuitbreaker.Breaker[*GatewayOrder]
}

func NewClient(baseURL, keyID, keySecret string, timeout time.Duration, log *slog.Logger) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetBasicAuth(keyID, keySecret).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	settings := circuitbreaker.DefaultSettings("payment-gateway")
	// a rejected request is the caller's fault, not the gateway's
	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrRejected)
	}

	return &Client{
		http:    r,
		breaker: circuitbreaker.New[*GatewayOrder](settings, log),
	}
}

// WithTransport swaps the underlying transport; tracing wraps it in main.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	c.http.SetTransport(rt)
	return c
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error) {
	order, err := c.breaker.Execute(ctx, func(ctx context.Context) (*GatewayOrder, error) {
		var (
			out    GatewayOrder
			errOut gatewayError
		)
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			SetError(&errOut).
			Post("/orders")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, fmt.Errorf("gateway status %d", resp.StatusCode())
		}
		if resp.IsError() {
			return nil, fmt.Errorf("%w: %s: %s", ErrRejected, errOut.Error.Code, errOut.Error.Description)
		}
		if out.ID == "" {
			return nil, errors.New("gateway response missing order id")
		}
		return &out, nil
	})
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return order, nil
}
