package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, actor domain.Actor, amount decimal.Decimal, orderID *uuid.UUID) (*domain.PaymentIntent, error)
	VerifyPayment(ctx context.Context, actor domain.Actor, req service.VerifyPaymentRequest) (*domain.Order, error)
}

type PaymentHandler struct {
	payments PaymentService
	timeout  time.Duration
	log      *slog.Logger
}

func NewPaymentHandler(payments PaymentService, timeout time.Duration, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, timeout: timeout, log: log}
}

type CreateIntentRequestDTO struct {
	Amount  decimal.Decimal `json:"amount"`
	OrderID string          `json:"order_id" validate:"omitempty,uuid"`
}

type PaymentIntentResponseDTO struct {
	ExternalOrderID string  `json:"external_order_id"`
	Amount          int64   `json:"amount"`
	AmountMajor     string  `json:"amount_major"`
	Currency        string  `json:"currency"`
	OrderID         *string `json:"order_id,omitempty"`
	ExpiresAt       *string `json:"expires_at,omitempty"`
}

type VerifyPaymentRequestDTO struct {
	ExternalPaymentID string `json:"external_payment_id" validate:"max=128"`
	ExternalOrderID   string `json:"external_order_id" validate:"max=128"`
	Signature         string `json:"signature" validate:"max=128"`
	ShippingAddress   string `json:"shipping_address" validate:"max=1000"`
}

// POST /api/v1/payments/intents
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateIntentRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	var orderID *uuid.UUID
	if req.OrderID != "" {
		id := uuid.MustParse(req.OrderID)
		orderID = &id
	}

	intent, err := h.payments.CreatePaymentIntent(ctx, actorFromContext(r.Context()), req.Amount, orderID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	resp := PaymentIntentResponseDTO{
		ExternalOrderID: intent.ExternalOrderID,
		Amount:          intent.Amount,
		AmountMajor:     domain.FromMinorUnits(intent.Amount).StringFixed(2),
		Currency:        intent.Currency,
		OrderID:         intent.OrderID,
	}
	if intent.ExpiresAt != nil {
		exp := intent.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &exp
	}
	respondJSON(w, http.StatusCreated, resp)
}

// POST /api/v1/payments/verify
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req VerifyPaymentRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.payments.VerifyPayment(ctx, actorFromContext(r.Context()), service.VerifyPaymentRequest{
		ExternalPaymentID: req.ExternalPaymentID,
		ExternalOrderID:   req.ExternalOrderID,
		Signature:         req.Signature,
		ShippingAddress:   req.ShippingAddress,
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}
