package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
)

type CartService interface {
	GetCart(ctx context.Context, actor domain.Actor) (*domain.CartView, error)
	AddItem(ctx context.Context, actor domain.Actor, productID int64, quantity int) (*domain.Cart, error)
	SetQuantity(ctx context.Context, actor domain.Actor, productID int64, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, actor domain.Actor, productID int64) (*domain.Cart, error)
	ClearCart(ctx context.Context, actor domain.Actor) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, timeout: timeout, log: log}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"lte=99"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity" validate:"lte=99"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.carts.GetCart(ctx, actorFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	cart, err := h.carts.AddItem(ctx, actorFromContext(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, cart)
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := int64Param(w, r, "product_id")
	if !ok {
		return
	}
	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	cart, err := h.carts.SetQuantity(ctx, actorFromContext(r.Context()), productID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := int64Param(w, r, "product_id")
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(ctx, actorFromContext(r.Context()), productID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.ClearCart(ctx, actorFromContext(r.Context())); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
