// Package catalog resolves product references to seller, price and availability.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fjod/go_marketplace/internal/cache"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

// CachePrefix namespaces display-cache keys, e.g. "catalog:product:42".
const CachePrefix = "catalog:product"

type ProductStore interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	UpsertProduct(ctx context.Context, p *domain.Product) error
	UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error
	ListBySeller(ctx context.Context, sellerID string) ([]*domain.Product, error)
}

// Catalog reads products through a display cache. Writes invalidate the cached entry
// so the next display read sees the new price.
type Catalog struct {
	store   ProductStore
	cache   cache.Store
	ttl     time.Duration
	timeout time.Duration
	log     *slog.Logger
}

func New(store ProductStore, c cache.Store, ttl, timeout time.Duration, log *slog.Logger) *Catalog {
	return &Catalog{
		store:   store,
		cache:   c,
		ttl:     ttl,
		timeout: timeout,
		log:     log,
	}
}

// Product returns the product for display, from cache when possible.
func (c *Catalog) Product(ctx context.Context, id int64) (*domain.Product, error) {
	key := strconv.FormatInt(id, 10)

	if data, err := c.cache.Get(ctx, key); err == nil {
		var p domain.Product
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		c.log.WarnContext(ctx, "dropping undecodable cached product", "product_id", id)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.log.WarnContext(ctx, "product cache get failed", "product_id", id, "error", err)
	}

	p, err := c.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.log.WarnContext(ctx, "product cache set failed", "product_id", id, "error", err)
		}
	}
	return p, nil
}

// Resolve reads the authoritative record, bypassing the cache. Pricing at checkout uses it.
func (c *Catalog) Resolve(ctx context.Context, id int64) (*domain.Product, error) {
	return c.lookup(ctx, id)
}

// ListBySeller reads a seller's listings from the store.
func (c *Catalog) ListBySeller(ctx context.Context, sellerID string) ([]*domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	products, err := c.store.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list products of %s: %w", sellerID, err)
	}
	return products, nil
}

func (c *Catalog) lookup(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	p, err := c.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

func (c *Catalog) UpsertProduct(ctx context.Context, p *domain.Product) error {
	if err := c.store.UpsertProduct(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.ID)
	return nil
}

func (c *Catalog) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	if err := c.store.UpdatePrice(ctx, id, price); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *Catalog) invalidate(ctx context.Context, id int64) {
	if err := c.cache.Invalidate(ctx, strconv.FormatInt(id, 10)); err != nil {
		c.log.WarnContext(ctx, "product cache invalidate failed", "product_id", id, "error", err)
	}
}
