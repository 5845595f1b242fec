package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_marketplace/internal/catalog"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

type ProductWriter interface {
	ProductCatalog
	UpsertProduct(ctx context.Context, p *domain.Product) error
	UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error
	ListBySeller(ctx context.Context, sellerID string) ([]*domain.Product, error)
}

// CatalogService lets sellers maintain their own listings. Orders already placed keep
// the prices they were placed at.
type CatalogService struct {
	catalog  ProductWriter
	currency string
	log      *slog.Logger
}

func NewCatalogService(catalog ProductWriter, currency string, log *slog.Logger) *CatalogService {
	return &CatalogService{
		catalog:  catalog,
		currency: currency,
		log:      log.With("component", "catalog"),
	}
}

func (s *CatalogService) Product(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := s.catalog.Product(ctx, id)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return nil, ErrProductUnavailable
	}
	if err != nil {
		return nil, upstream("get product", err)
	}
	return p, nil
}

// SellerProducts lists a seller's products, unavailable ones included. Sellers may omit
// sellerID to list their own.
func (s *CatalogService) SellerProducts(ctx context.Context, actor domain.Actor, sellerID string) ([]*domain.Product, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if sellerID == "" {
		if actor.Role != domain.RoleSeller {
			return nil, fmt.Errorf("%w: seller_id is required", ErrInvalidProduct)
		}
		sellerID = actor.ID
	}
	products, err := s.catalog.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, upstream("list seller products", err)
	}
	return products, nil
}

// SaveProduct creates or replaces a listing. Sellers list under their own id; admins
// may list for any seller. An existing product may only be replaced by its seller.
func (s *CatalogService) SaveProduct(ctx context.Context, actor domain.Actor, p *domain.Product) (*domain.Product, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	switch {
	case actor.IsAdmin():
		if p.SellerID == "" {
			return nil, fmt.Errorf("%w: seller_id is required", ErrInvalidProduct)
		}
	case actor.Role == domain.RoleSeller:
		p.SellerID = actor.ID
	default:
		return nil, ErrPermissionDenied
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if !p.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidAmount)
	}
	if p.Currency == "" {
		p.Currency = s.currency
	}

	if p.ID != 0 {
		if err := s.owns(ctx, actor, p.ID); err != nil && !errors.Is(err, ErrProductUnavailable) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := s.catalog.UpsertProduct(ctx, p); err != nil {
		return nil, upstream("upsert product", err)
	}
	s.log.InfoContext(ctx, "product saved", "product_id", p.ID, "seller_id", p.SellerID, "price", p.Price.StringFixed(2))
	return p, nil
}

func (s *CatalogService) UpdatePrice(ctx context.Context, actor domain.Actor, id int64, price decimal.Decimal) (*domain.Product, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := s.owns(ctx, actor, id); err != nil {
		return nil, err
	}
	if err := s.catalog.UpdatePrice(ctx, id, price); err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, ErrProductUnavailable
		}
		return nil, upstream("update price", err)
	}
	s.log.InfoContext(ctx, "product price updated", "product_id", id, "price", price.StringFixed(2), "actor_id", actor.ID)
	return s.Product(ctx, id)
}

func (s *CatalogService) owns(ctx context.Context, actor domain.Actor, id int64) error {
	current, err := s.catalog.Resolve(ctx, id)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return ErrProductUnavailable
	}
	if err != nil {
		return upstream("resolve product", err)
	}
	if !actor.IsAdmin() && current.SellerID != actor.ID {
		return ErrPermissionDenied
	}
	return nil
}
