package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/repository"
	"github.com/google/uuid"
)

// FulfillmentService drives orders through processing -> shipped -> delivered, with
// cancellation allowed from either non-terminal state.
type FulfillmentService struct {
	orders repository.OrderRepository
	log    *slog.Logger
	now    func() time.Time
}

func NewFulfillmentService(orders repository.OrderRepository, log *slog.Logger) *FulfillmentService {
	return &FulfillmentService{
		orders: orders,
		log:    log.With("component", "fulfillment"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// UpdateStatus moves an order to newStatus. Admins may act on any order; anyone else
// must be the seller of at least one of its lines. Authorization and the transition
// are checked against the row as locked by the ledger.
func (s *FulfillmentService) UpdateStatus(ctx context.Context, actor domain.Actor, orderID uuid.UUID, newStatus string) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	to, err := domain.ParseOrderStatus(newStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	order, err := s.orders.UpdateOrder(ctx, orderID, actor, func(o *domain.Order) error {
		if !actor.IsAdmin() && !o.HasSeller(actor.ID) {
			return ErrPermissionDenied
		}
		if o.Status == to || !domain.CanTransitionTo(o.Status, to) {
			return &TransitionError{From: o.Status, To: to}
		}
		o.ApplyStatus(to, s.now())
		return nil
	})
	if err != nil {
		return nil, mapOrderErr(err)
	}

	s.log.InfoContext(ctx, "order status updated",
		"order_id", order.ID, "status", order.Status, "payment_status", order.PaymentStatus,
		"actor_id", actor.ID, "actor_role", actor.Role)
	return order, nil
}
