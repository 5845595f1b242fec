package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_marketplace/internal/catalog"
	"github.com/fjod/go_marketplace/internal/domain"
)

// buildSnapshot freezes seller, name and price for every cart line. Any product that is
// gone, unavailable or priced in another currency fails the whole snapshot.
func (s *OrderService) buildSnapshot(ctx context.Context, items []domain.CartItem) ([]domain.OrderLine, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		p, err := s.catalog.Resolve(ctx, item.ProductID)
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, ErrProductUnavailable)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, upstream(fmt.Sprintf("resolve product %d", item.ProductID), err)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve product %d: %w: %w", item.ProductID, ErrProductUnavailable, err)
		}
		if !p.Available {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, ErrProductUnavailable)
		}
		if p.Currency != s.currency {
			return nil, fmt.Errorf("product %d priced in %s: %w", item.ProductID, p.Currency, ErrProductUnavailable)
		}

		lines = append(lines, domain.OrderLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			SellerID:    p.SellerID,
			Quantity:    item.Quantity,
			UnitPrice:   p.Price,
		})
	}
	return lines, nil
}
