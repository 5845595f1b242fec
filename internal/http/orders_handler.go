package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type OrderService interface {
	CreateOrder(ctx context.Context, actor domain.Actor, shippingAddress, paymentMethod string) (*domain.Order, error)
	Order(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error)
	ListMyOrders(ctx context.Context, actor domain.Actor) ([]*domain.Order, error)
	ListSellerOrders(ctx context.Context, actor domain.Actor, sellerID string) ([]*domain.Order, error)
	StatusHistory(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]domain.StatusEvent, error)
}

type FulfillmentService interface {
	UpdateStatus(ctx context.Context, actor domain.Actor, orderID uuid.UUID, newStatus string) (*domain.Order, error)
}

type OrdersHandler struct {
	orders      OrderService
	fulfillment FulfillmentService
	timeout     time.Duration
	log         *slog.Logger
}

func NewOrdersHandler(orders OrderService, fulfillment FulfillmentService, timeout time.Duration, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, fulfillment: fulfillment, timeout: timeout, log: log}
}

type CreateOrderRequestDTO struct {
	ShippingAddress string `json:"shipping_address" validate:"max=1000"`
	PaymentMethod   string `json:"payment_method" validate:"required"`
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status" validate:"required"`
}

// POST /api/v1/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateOrderRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.orders.CreateOrder(ctx, actorFromContext(r.Context()), req.ShippingAddress, req.PaymentMethod)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListMyOrders(ctx, actorFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

// GET /api/v1/seller/orders?seller_id=
func (h *OrdersHandler) ListSellerOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListSellerOrders(ctx, actorFromContext(r.Context()), r.URL.Query().Get("seller_id"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Order(ctx, actorFromContext(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GET /api/v1/orders/{order_id}/history
func (h *OrdersHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	events, err := h.orders.StatusHistory(ctx, actorFromContext(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(events))
}

// PUT /api/v1/orders/{order_id}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateStatusRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.fulfillment.UpdateStatus(ctx, actorFromContext(r.Context()), id, req.Status)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// nonNil keeps empty listings encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
