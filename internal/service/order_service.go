package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/lock"
	"github.com/fjod/go_marketplace/internal/notification"
	"github.com/fjod/go_marketplace/internal/repository"
	"github.com/google/uuid"
)

type OrderService struct {
	carts    *CartService
	catalog  ProductCatalog
	orders   repository.OrderRepository
	locker   lock.Locker
	notifier notification.Notifier
	currency string
	log      *slog.Logger
}

func NewOrderService(
	carts *CartService,
	catalog ProductCatalog,
	orders repository.OrderRepository,
	locker lock.Locker,
	notifier notification.Notifier,
	currency string,
	log *slog.Logger,
) *OrderService {
	return &OrderService{
		carts:    carts,
		catalog:  catalog,
		orders:   orders,
		locker:   locker,
		notifier: notifier,
		currency: currency,
		log:      log.With("component", "orders"),
	}
}

// placement describes how an order is created from the buyer's cart.
type placement struct {
	shippingAddress   string
	method            domain.PaymentMethod
	paymentStatus     domain.PaymentStatus
	externalOrderID   *string
	externalPaymentID *string
	// check runs against the priced snapshot before anything is written.
	check func(order *domain.Order) error
}

// CreateOrder turns the buyer's cart into an order priced from the current catalog.
func (s *OrderService) CreateOrder(ctx context.Context, actor domain.Actor, shippingAddress, paymentMethod string) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	address := strings.TrimSpace(shippingAddress)
	if address == "" {
		return nil, ErrInvalidAddress
	}
	method, err := domain.ParsePaymentMethod(paymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, paymentMethod)
	}

	release, err := s.lockBuyer(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.placeOrder(ctx, actor, placement{
		shippingAddress: address,
		method:          method,
		paymentStatus:   domain.PaymentStatusPending,
	})
}

// placeOrder must run under the buyer lock so a concurrent checkout sees the emptied cart.
// Cart writes do not take that lock; consume removes only what was ordered.
func (s *OrderService) placeOrder(ctx context.Context, actor domain.Actor, p placement) (*domain.Order, error) {
	cart, err := s.carts.load(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	lines, err := s.buildSnapshot(ctx, cart.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to build cart snapshot: %w", err)
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:                uuid.New(),
		UserID:            actor.ID,
		Lines:             lines,
		ShippingAddress:   p.shippingAddress,
		TotalAmount:       domain.LinesTotal(lines),
		Currency:          s.currency,
		PaymentMethod:     p.method,
		PaymentStatus:     p.paymentStatus,
		Status:            domain.OrderStatusProcessing,
		ExternalOrderID:   p.externalOrderID,
		ExternalPaymentID: p.externalPaymentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if p.check != nil {
		if err := p.check(order); err != nil {
			return nil, err
		}
	}

	if err := s.orders.CreateOrder(ctx, order, actor); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if err := s.carts.consume(ctx, actor.ID, cart.Items); err != nil {
		// the order is already committed
		s.log.ErrorContext(ctx, "order placed but cart not cleared", "order_id", order.ID, "user_id", actor.ID, "error", err)
	}

	s.log.InfoContext(ctx, "order placed",
		"order_id", order.ID, "user_id", actor.ID, "total", order.TotalAmount.StringFixed(2),
		"payment_method", order.PaymentMethod, "lines", len(order.Lines))
	s.notifier.OrderConfirmed(ctx, order)
	return order, nil
}

func (s *OrderService) lockBuyer(ctx context.Context, buyerID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, "checkout:"+buyerID)
	if err != nil {
		return nil, upstream("acquire checkout lock", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := release(ctx); err != nil {
			s.log.WarnContext(ctx, "checkout lock release failed", "user_id", buyerID, "error", err)
		}
	}, nil
}

// Order returns an order visible to the actor: its buyer, a seller with a line on it,
// or an admin. Orders the actor cannot see are reported as not found.
func (s *OrderService) Order(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		return nil, mapOrderErr(err)
	}
	if !canView(actor, order) {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListMyOrders(ctx context.Context, actor domain.Actor) ([]*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListOrdersByUserID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// ListSellerOrders lists orders containing the seller's lines. Admins may name any
// seller; sellers only themselves.
func (s *OrderService) ListSellerOrders(ctx context.Context, actor domain.Actor, sellerID string) ([]*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if sellerID == "" {
		sellerID = actor.ID
	}
	switch {
	case actor.IsAdmin():
	case actor.Role == domain.RoleSeller && sellerID == actor.ID:
	default:
		return nil, ErrPermissionDenied
	}

	orders, err := s.orders.ListOrdersBySellerID(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list seller orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) StatusHistory(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]domain.StatusEvent, error) {
	if _, err := s.Order(ctx, actor, id); err != nil {
		return nil, err
	}
	events, err := s.orders.ListStatusEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	return events, nil
}

func canView(actor domain.Actor, order *domain.Order) bool {
	return actor.IsAdmin() || order.UserID == actor.ID || order.HasSeller(actor.ID)
}

func mapOrderErr(err error) error {
	if errors.Is(err, repository.ErrOrderNotFound) {
		return ErrOrderNotFound
	}
	return err
}
