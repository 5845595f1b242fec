package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/payment"
)

var (
	ErrInvalidQuantity           = errors.New("quantity must be at least 1")
	ErrItemNotFound              = errors.New("item not found in cart")
	ErrEmptyCart                 = errors.New("cart is empty, nothing to checkout")
	ErrProductUnavailable        = errors.New("product unavailable")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrPaymentNotRequired        = errors.New("order does not await online payment")
	ErrPermissionDenied          = errors.New("permission denied")
	ErrInvalidStatus             = errors.New("invalid order status")
	ErrInvalidTransition         = errors.New("illegal transition of order status")
	ErrOrderNotFound             = errors.New("order not found")
	ErrUpstreamTimeout           = errors.New("upstream dependency timed out")
	ErrInvalidAddress            = errors.New("shipping address is required")
	ErrInvalidPaymentMethod      = errors.New("invalid payment method")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidProduct            = errors.New("invalid product")
	ErrUnauthenticated           = errors.New("unauthenticated")
)

// TransitionError reports a rejected status change; it matches ErrInvalidTransition.
type TransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// upstream maps deadline and availability failures of outbound calls to ErrUpstreamTimeout.
func upstream(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, payment.ErrUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireActor(actor domain.Actor) error {
	if !actor.Valid() {
		return ErrUnauthenticated
	}
	return nil
}
