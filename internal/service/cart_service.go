package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_marketplace/internal/cache"
	"github.com/fjod/go_marketplace/internal/catalog"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const maxCartWriteAttempts = 5

type ProductCatalog interface {
	// Product may be served from a display cache.
	Product(ctx context.Context, id int64) (*domain.Product, error)
	// Resolve always reads the authoritative record.
	Resolve(ctx context.Context, id int64) (*domain.Product, error)
}

type CartService struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	catalog  ProductCatalog
	currency string
	log      *slog.Logger
	sfg      singleflight.Group // Prevents cache stampede
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, catalog ProductCatalog, currency string, log *slog.Logger) *CartService {
	return &CartService{
		repo:     repo,
		cache:    cache,
		catalog:  catalog,
		currency: currency,
		log:      log.With("component", "cart"),
	}
}

// GetCart returns the buyer's cart joined with catalog data. Lines whose product no
// longer resolves stay in the view, marked unavailable.
func (s *CartService) GetCart(ctx context.Context, actor domain.Actor) (*domain.CartView, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	cart, err := s.cached(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	view := &domain.CartView{
		UserID:    cart.UserID,
		Lines:     make([]domain.CartLineView, 0, len(cart.Items)),
		Subtotal:  decimal.Zero,
		Currency:  s.currency,
		UpdatedAt: cart.UpdatedAt,
	}
	for _, item := range cart.Items {
		line := domain.CartLineView{ProductID: item.ProductID, Quantity: item.Quantity, AddedAt: item.AddedAt}

		p, err := s.catalog.Product(ctx, item.ProductID)
		switch {
		case err == nil:
			line.Product = p
			line.Available = p.Available
			if p.Available {
				view.Subtotal = view.Subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
			}
		case errors.Is(err, catalog.ErrProductNotFound):
		default:
			s.log.WarnContext(ctx, "product lookup failed for cart line", "product_id", item.ProductID, "error", err)
		}
		view.Lines = append(view.Lines, line)
	}
	return view, nil
}

// AddItem accumulates quantity onto an existing line.
func (s *CartService) AddItem(ctx context.Context, actor domain.Actor, productID int64, quantity int) (*domain.Cart, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if err := s.ensureAvailable(ctx, productID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, actor.ID, func(c *domain.Cart) error {
		c.Add(productID, quantity, time.Now().UTC())
		return nil
	})
}

// SetQuantity overwrites a line; a quantity below 1 removes it.
func (s *CartService) SetQuantity(ctx context.Context, actor domain.Actor, productID int64, quantity int) (*domain.Cart, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor.ID, func(c *domain.Cart) error {
		if !c.SetQuantity(productID, quantity) {
			return ErrItemNotFound
		}
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, actor domain.Actor, productID int64) (*domain.Cart, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor.ID, func(c *domain.Cart) error {
		if !c.Remove(productID) {
			return ErrItemNotFound
		}
		return nil
	})
}

func (s *CartService) ClearCart(ctx context.Context, actor domain.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	return s.clear(ctx, actor.ID)
}

func (s *CartService) ensureAvailable(ctx context.Context, productID int64) error {
	p, err := s.catalog.Resolve(ctx, productID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return fmt.Errorf("product %d: %w", productID, ErrProductUnavailable)
	}
	if err != nil {
		return upstream("resolve product", err)
	}
	if !p.Available {
		return fmt.Errorf("product %d: %w", productID, ErrProductUnavailable)
	}
	return nil
}

// mutate applies fn to a fresh read of the cart and writes it back with a version
// check, re-reading on conflict.
func (s *CartService) mutate(ctx context.Context, userID string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	for attempt := 1; attempt <= maxCartWriteAttempts; attempt++ {
		cart, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := fn(cart); err != nil {
			return nil, err
		}

		err = s.repo.SaveCart(ctx, cart)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.DebugContext(ctx, "cart write conflict, retrying", "user_id", userID, "attempt", attempt)
			continue
		}
		if err != nil {
			s.log.ErrorContext(ctx, "repo save cart error", "user_id", userID, "error", err)
			return nil, err
		}

		s.refreshCache(ctx, cart)
		return cart, nil
	}
	return nil, fmt.Errorf("save cart after %d attempts: %w", maxCartWriteAttempts, repository.ErrVersionConflict)
}

// consume takes the ordered quantities out of the cart. Lines added or raised after the
// snapshot was taken keep the difference.
func (s *CartService) consume(ctx context.Context, userID string, ordered []domain.CartItem) error {
	_, err := s.mutate(ctx, userID, func(c *domain.Cart) error {
		for _, item := range ordered {
			c.Take(item.ProductID, item.Quantity)
		}
		return nil
	})
	return err
}

// load reads the authoritative cart, creating an empty one in memory if none exists.
func (s *CartService) load(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) cached(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cache get error", "user_id", userID, "error", err)
		}

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.NewCart(userID), nil
		}
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if err := s.cache.Set(ctx, userID, cart.Clone()); err != nil {
				s.log.WarnContext(ctx, "cache set error", "user_id", userID, "error", err)
			}
		}()

		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart).Clone(), nil
}

func (s *CartService) clear(ctx context.Context, userID string) error {
	cart, err := s.repo.ClearCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	if err != nil {
		s.log.ErrorContext(ctx, "repo clear cart error", "user_id", userID, "error", err)
		return err
	}
	s.refreshCache(ctx, cart)
	return nil
}

// refreshCache writes a freshly saved cart through to the cache. The cache keeps the
// higher version, so a slower fill with an older read cannot replace it.
func (s *CartService) refreshCache(ctx context.Context, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	err := s.cache.Set(ctx, cart.UserID, cart.Clone())
	if err == nil {
		return
	}
	s.log.WarnContext(ctx, "cache set error", "user_id", cart.UserID, "error", err)
	if err := s.cache.Delete(ctx, cart.UserID); err != nil {
		s.log.WarnContext(ctx, "cache invalidate error", "user_id", cart.UserID, "error", err)
	}
}
