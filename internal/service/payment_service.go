package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/payment"
	"github.com/fjod/go_marketplace/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type VerifyPaymentRequest struct {
	ExternalPaymentID string
	ExternalOrderID   string
	Signature         string
	ShippingAddress   string
}

// PaymentService reconciles online payments. Cash on delivery needs no reconciliation:
// such orders stay pending until fulfillment marks them delivered.
type PaymentService struct {
	gateway  payment.Gateway
	intents  payment.IntentStore
	orders   repository.OrderRepository
	checkout *OrderService
	secret   string
	currency string
	log      *slog.Logger
}

func NewPaymentService(
	gateway payment.Gateway,
	intents payment.IntentStore,
	orders repository.OrderRepository,
	checkout *OrderService,
	secret, currency string,
	log *slog.Logger,
) *PaymentService {
	return &PaymentService{
		gateway:  gateway,
		intents:  intents,
		orders:   orders,
		checkout: checkout,
		secret:   secret,
		currency: currency,
		log:      log.With("component", "payments"),
	}
}

// CreatePaymentIntent registers an order with the processor. With orderID the amount is
// taken from that order, which must be the buyer's own Online order still awaiting
// payment; a non-zero amount must then agree with it.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, actor domain.Actor, amount decimal.Decimal, orderID *uuid.UUID) (*domain.PaymentIntent, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var boundOrder *string
	if orderID != nil {
		order, err := s.orders.GetOrderByID(ctx, *orderID)
		if err != nil {
			return nil, mapOrderErr(err)
		}
		if order.UserID != actor.ID {
			return nil, ErrOrderNotFound
		}
		if order.PaymentMethod != domain.PaymentMethodOnline ||
			order.PaymentStatus != domain.PaymentStatusPending ||
			order.Status.IsTerminal() {
			return nil, ErrPaymentNotRequired
		}
		if !amount.IsZero() && !amount.Equal(order.TotalAmount) {
			return nil, fmt.Errorf("%w: %s does not match order total %s", ErrInvalidAmount, amount, order.TotalAmount)
		}
		amount = order.TotalAmount
		id := order.ID.String()
		boundOrder = &id
	}

	minor, err := domain.ToMinorUnits(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}

	notes := map[string]string{"user_id": actor.ID}
	if boundOrder != nil {
		notes["order_id"] = *boundOrder
	}
	gwOrder, err := s.gateway.CreateOrder(ctx, payment.CreateOrderRequest{
		Amount:   minor,
		Currency: s.currency,
		Receipt:  "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20],
		Notes:    notes,
	})
	if err != nil {
		return nil, upstream("create gateway order", err)
	}

	intent := &domain.PaymentIntent{
		ExternalOrderID: gwOrder.ID,
		Amount:          minor,
		Currency:        s.currency,
		UserID:          actor.ID,
		OrderID:         boundOrder,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.intents.Save(ctx, intent); err != nil {
		return nil, fmt.Errorf("save payment intent: %w", err)
	}

	s.log.InfoContext(ctx, "payment intent created", "external_order_id", intent.ExternalOrderID, "user_id", actor.ID, "amount", minor)
	return intent, nil
}

// VerifyPayment confirms a processor callback. The signature is checked before anything
// else; a replay of an already reconciled externalOrderId returns the existing order.
func (s *PaymentService) VerifyPayment(ctx context.Context, actor domain.Actor, req VerifyPaymentRequest) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if req.ExternalOrderID == "" || req.ExternalPaymentID == "" || req.Signature == "" {
		return nil, ErrPaymentVerificationFailed
	}
	if !payment.VerifySignature(s.secret, req.ExternalOrderID, req.ExternalPaymentID, req.Signature) {
		s.log.WarnContext(ctx, "payment signature mismatch", "external_order_id", req.ExternalOrderID, "user_id", actor.ID)
		return nil, ErrPaymentVerificationFailed
	}

	release, err := s.checkout.lockBuyer(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.orders.GetOrderByExternalOrderID(ctx, req.ExternalOrderID)
	switch {
	case err == nil:
		if existing.UserID != actor.ID {
			return nil, ErrPaymentVerificationFailed
		}
		return existing, nil
	case !errors.Is(err, repository.ErrOrderNotFound):
		return nil, fmt.Errorf("lookup order by external id: %w", err)
	}

	intent, err := s.intents.Get(ctx, req.ExternalOrderID)
	if errors.Is(err, payment.ErrIntentNotFound) {
		return nil, fmt.Errorf("%w: no intent for %s", ErrPaymentVerificationFailed, req.ExternalOrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load payment intent: %w", err)
	}
	if intent.UserID != actor.ID {
		return nil, ErrPaymentVerificationFailed
	}

	var order *domain.Order
	if intent.OrderID != nil {
		order, err = s.markPaid(ctx, actor, intent, req)
	} else {
		order, err = s.placePaid(ctx, actor, intent, req)
	}
	if errors.Is(err, repository.ErrDuplicateExternalRef) {
		// reconciled concurrently by another instance
		return s.orders.GetOrderByExternalOrderID(ctx, req.ExternalOrderID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.intents.Delete(ctx, req.ExternalOrderID); err != nil {
		s.log.WarnContext(ctx, "payment intent not deleted", "external_order_id", req.ExternalOrderID, "error", err)
	}
	s.log.InfoContext(ctx, "payment verified", "order_id", order.ID, "external_order_id", req.ExternalOrderID)
	return order, nil
}

func (s *PaymentService) markPaid(ctx context.Context, actor domain.Actor, intent *domain.PaymentIntent, req VerifyPaymentRequest) (*domain.Order, error) {
	id, err := uuid.Parse(*intent.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad order reference", ErrPaymentVerificationFailed)
	}

	order, err := s.orders.UpdateOrder(ctx, id, actor, func(o *domain.Order) error {
		if o.UserID != actor.ID ||
			o.PaymentMethod != domain.PaymentMethodOnline ||
			o.PaymentStatus != domain.PaymentStatusPending ||
			o.Status.IsTerminal() {
			return ErrPaymentVerificationFailed
		}
		if err := matchAmount(o, intent); err != nil {
			return err
		}
		o.PaymentStatus = domain.PaymentStatusCompleted
		o.ExternalOrderID = &req.ExternalOrderID
		o.ExternalPaymentID = &req.ExternalPaymentID
		o.UpdatedAt = time.Now().UTC()
		return nil
	})
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, fmt.Errorf("%w: bound order missing", ErrPaymentVerificationFailed)
	}
	return order, err
}

func (s *PaymentService) placePaid(ctx context.Context, actor domain.Actor, intent *domain.PaymentIntent, req VerifyPaymentRequest) (*domain.Order, error) {
	address := strings.TrimSpace(req.ShippingAddress)
	if address == "" {
		return nil, ErrInvalidAddress
	}
	return s.checkout.placeOrder(ctx, actor, placement{
		shippingAddress:   address,
		method:            domain.PaymentMethodOnline,
		paymentStatus:     domain.PaymentStatusCompleted,
		externalOrderID:   &req.ExternalOrderID,
		externalPaymentID: &req.ExternalPaymentID,
		check: func(o *domain.Order) error {
			return matchAmount(o, intent)
		},
	})
}

func matchAmount(o *domain.Order, intent *domain.PaymentIntent) error {
	minor, err := domain.ToMinorUnits(o.TotalAmount)
	if err != nil || minor != intent.Amount || o.Currency != intent.Currency {
		return fmt.Errorf("%w: paid %d %s, order total %s %s",
			ErrPaymentVerificationFailed, intent.Amount, intent.Currency, o.TotalAmount.StringFixed(2), o.Currency)
	}
	return nil
}
