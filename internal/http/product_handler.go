package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

type ProductService interface {
	Product(ctx context.Context, id int64) (*domain.Product, error)
	SaveProduct(ctx context.Context, actor domain.Actor, p *domain.Product) (*domain.Product, error)
	UpdatePrice(ctx context.Context, actor domain.Actor, id int64, price decimal.Decimal) (*domain.Product, error)
	SellerProducts(ctx context.Context, actor domain.Actor, sellerID string) ([]*domain.Product, error)
}

type ProductHandler struct {
	products ProductService
	timeout  time.Duration
	log      *slog.Logger
}

func NewProductHandler(products ProductService, timeout time.Duration, log *slog.Logger) *ProductHandler {
	return &ProductHandler{products: products, timeout: timeout, log: log}
}

type SaveProductRequestDTO struct {
	ID          int64           `json:"id" validate:"gte=0"`
	SellerID    string          `json:"seller_id" validate:"max=64"`
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency" validate:"omitempty,len=3"`
	Available   *bool           `json:"available"`
	ImageURL    string          `json:"image_url" validate:"omitempty,url"`
}

type UpdatePriceRequestDTO struct {
	Price decimal.Decimal `json:"price"`
}

// GET /api/v1/products?seller_id=
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.products.SellerProducts(ctx, actorFromContext(r.Context()), r.URL.Query().Get("seller_id"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(products))
}

// GET /api/v1/products/{product_id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := int64Param(w, r, "product_id")
	if !ok {
		return
	}

	p, err := h.products.Product(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// POST /api/v1/products
func (h *ProductHandler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SaveProductRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	p := &domain.Product{
		ID:          req.ID,
		SellerID:    req.SellerID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
		Available:   req.Available == nil || *req.Available,
		ImageURL:    req.ImageURL,
	}

	saved, err := h.products.SaveProduct(ctx, actorFromContext(r.Context()), p)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

// PUT /api/v1/products/{product_id}/price
func (h *ProductHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := int64Param(w, r, "product_id")
	if !ok {
		return
	}
	var req UpdatePriceRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.products.UpdatePrice(ctx, actorFromContext(r.Context()), id, req.Price)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
