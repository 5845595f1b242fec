package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrCartNotFound         = errors.New("cart not found")
	ErrVersionConflict      = errors.New("cart was modified concurrently")
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateExternalRef = errors.New("order for this external order id already exists")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// CartRepository stores one cart document per buyer. SaveCart is a compare-and-swap on
// cart.Version and returns ErrVersionConflict when another writer got there first.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
}

// OrderMutation validates and applies a change to an order loaded under a row lock.
// Returning an error aborts the transaction and is passed through unchanged.
type OrderMutation func(order *domain.Order) error

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order, actor domain.Actor) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByExternalOrderID(ctx context.Context, externalOrderID string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
	ListOrdersBySellerID(ctx context.Context, sellerID string) ([]*domain.Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, actor domain.Actor, mutate OrderMutation) (*domain.Order, error)
	ListStatusEvents(ctx context.Context, orderID uuid.UUID) ([]domain.StatusEvent, error)
}
