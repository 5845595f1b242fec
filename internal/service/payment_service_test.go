package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRequest(extOrderID, extPaymentID string) VerifyPaymentRequest {
	return VerifyPaymentRequest{
		ExternalOrderID:   extOrderID,
		ExternalPaymentID: extPaymentID,
		Signature:         payment.Sign(testSecret, extOrderID, extPaymentID),
		ShippingAddress:   "12 MG Road, Pune",
	}
}

func newIntent(t *testing.T, env *testEnv, actor domain.Actor, amount int64) *domain.PaymentIntent {
	t.Helper()
	intent, err := env.payments.CreatePaymentIntent(context.Background(), actor, decimal.NewFromInt(amount), nil)
	require.NoError(t, err)
	return intent
}

func TestCreatePaymentIntent_MinorUnits(t *testing.T) {
	env := newTestEnv(t)

	intent, err := env.payments.CreatePaymentIntent(context.Background(), buyer, decimal.RequireFromString("250.50"), nil)
	require.NoError(t, err)

	assert.Equal(t, "order_1", intent.ExternalOrderID)
	assert.Equal(t, int64(25050), intent.Amount)
	assert.Equal(t, "INR", intent.Currency)
	assert.Nil(t, intent.OrderID)
	require.Len(t, env.gateway.requests, 1)
	assert.Equal(t, int64(25050), env.gateway.requests[0].Amount)
	assert.Equal(t, "buyer-1", env.gateway.requests[0].Notes["user_id"])

	stored, err := env.intents.Get(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, "buyer-1", stored.UserID)
}

func TestCreatePaymentIntent_InvalidAmounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, amount := range []string{"0", "-5", "10.005"} {
		_, err := env.payments.CreatePaymentIntent(ctx, buyer, decimal.RequireFromString(amount), nil)
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}
	assert.Empty(t, env.gateway.requests)
}

func TestCreatePaymentIntent_GatewayUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.err = fmt.Errorf("%w: connection refused", payment.ErrUnavailable)

	_, err := env.payments.CreatePaymentIntent(context.Background(), buyer, decimal.NewFromInt(10), nil)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.Empty(t, env.intents.intents)
}

func TestVerifyPayment_CreatesPaidOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillCart(t, env, buyer)
	intent := newIntent(t, env, buyer, 250)

	order, err := env.payments.VerifyPayment(ctx, buyer, signedRequest(intent.ExternalOrderID, "pay_1"))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentMethodOnline, order.PaymentMethod)
	assert.Equal(t, domain.PaymentStatusCompleted, order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
	require.NotNil(t, order.ExternalOrderID)
	assert.Equal(t, intent.ExternalOrderID, *order.ExternalOrderID)
	require.NotNil(t, order.ExternalPaymentID)
	assert.Equal(t, "pay_1", *order.ExternalPaymentID)

	assert.Empty(t, env.cartRepo.items("buyer-1"))
	_, err = env.intents.Get(ctx, intent.ExternalOrderID)
	assert.ErrorIs(t, err, payment.ErrIntentNotFound)
}

func TestVerifyPayment_TamperedSignatureCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	fillCart(t, env, buyer)
	intent := newIntent(t, env, buyer, 250)

	req := signedRequest(intent.ExternalOrderID, "pay_1")
	req.ExternalPaymentID = "pay_2"
	_, err := env.payments.VerifyPayment(context.Background(), buyer, req)
	assert.ErrorIs(t, err, ErrPaymentVerificationFailed)

	req = signedRequest(intent.ExternalOrderID, "pay_1")
	req.Signature = ""
	_, err = env.payments.VerifyPayment(context.Background(), buyer, req)
	assert.ErrorIs(t, err, ErrPaymentVerificationFailed)

	assert.Equal(t, 0, env.orderRepo.count())
	assert.Len(t, env.cartRepo.items("buyer-1"), 2)
}

func TestVerifyPayment_ReplayReturnsSameOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillCart(t, env, buyer)
	intent := newIntent(t, env, buyer, 250)
	req := signedRequest(intent.ExternalOrderID, "pay_1")

	first, err := env.payments.VerifyPayment(ctx, buyer, req)
	require.NoError(t, err)
	second, err := env.payments.VerifyPayment(ctx, buyer, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, env.orderRepo.count())
	assert.Equal(t, 1, env.notifier.count())

	_, err = env.payments.VerifyPayment(ctx, buyer2, req)
	assert.ErrorIs(t, err, ErrPaymentVerificationFailed)
}

func TestVerifyPayment_ConcurrentReplays(t *testing.T) {
	env := newTestEnv(t)
	fillCart(t, env, buyer)
	intent := newIntent(t, env, buyer, 250)
	req := signedRequest(intent.ExternalOrderID, "pay_1")

	var (
		wg  sync.WaitGroup
		ids = make([]uuid.UUID, 3)
	)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, err := env.payments.VerifyPayment(context.Background(), buyer, req)
			if assert.NoError(t, err) {
				ids[i] = order.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, env.orderRepo.count())
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
}

func TestVerifyPayment_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown intent", func(t *testing.T) {
		env := newTestEnv(t)
		fillCart(t, env, buyer)
		_, err := env.payments.VerifyPayment(ctx, buyer, signedRequest("order_404", "pay_1"))
		assert.ErrorIs(t, err, ErrPaymentVerificationFailed)
		assert.Equal(t, 0, env.orderRepo.count())
	})

	t.Run("intent of another buyer", func(t *testing.T) {
		env := newTestEnv(t)
		fillCart(t, env, buyer2)
		intent := newIntent(t, env, buyer, 250)
		_, err := env.payments.VerifyPayment(ctx, buyer2, signedRequest(intent.ExternalOrderID, "pay_1"))
		assert.ErrorIs(t, err, ErrPaymentVerificationFailed)
		assert.Equal(t, 0, env.orderRepo.count())
	})

	t.Run("amount mismatch", func(t *testing.T) {
		env := newTestEnv(t)
		fillCart(t, env, buyer)
		intent := newIntent(t, env, buyer, 100)
		_, err := env.payments.VerifyPayment(ctx, buyer, signedRequest(intent.ExternalOrderID, "pay_1"))
		assert.ErrorIs(t, err, ErrPaymentVerificationFailed)
		assert.Equal(t, 0, env.orderRepo.count())
		assert.Len(t, env.cartRepo.items("buyer-1"), 2)
	})

	t.Run("missing address", func(t *testing.T) {
		env := newTestEnv(t)
		fillCart(t, env, buyer)
		intent := newIntent(t, env, buyer, 250)
		req := signedRequest(intent.ExternalOrderID, "pay_1")
		req.ShippingAddress = " "
		_, err := env.payments.VerifyPayment(ctx, buyer, req)
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("empty cart", func(t *testing.T) {
		env := newTestEnv(t)
		intent := newIntent(t, env, buyer, 250)
		_, err := env.payments.VerifyPayment(ctx, buyer, signedRequest(intent.ExternalOrderID, "pay_1"))
		assert.ErrorIs(t, err, ErrEmptyCart)
	})
}

func TestPaymentIntent_BoundToOnlineOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillCart(t, env, buyer)
	order, err := env.orders.CreateOrder(ctx, buyer, "addr", "Online")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)

	id := order.ID
	intent, err := env.payments.CreatePaymentIntent(ctx, buyer, decimal.Zero, &id)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), intent.Amount)
	require.NotNil(t, intent.OrderID)
	assert.Equal(t, order.ID.String(), *intent.OrderID)

	paid, err := env.payments.VerifyPayment(ctx, buyer, signedRequest(intent.ExternalOrderID, "pay_9"))
	require.NoError(t, err)
	assert.Equal(t, order.ID, paid.ID)
	assert.Equal(t, domain.PaymentStatusCompleted, paid.PaymentStatus)
	assert.Equal(t, 1, env.orderRepo.count())

	_, err = env.payments.CreatePaymentIntent(ctx, buyer, decimal.Zero, &id)
	assert.ErrorIs(t, err, ErrPaymentNotRequired)
}

func TestPaymentIntent_BoundOrderChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillCart(t, env, buyer)
	cod, err := env.orders.CreateOrder(ctx, buyer, "addr", "COD")
	require.NoError(t, err)
	id := cod.ID

	_, err = env.payments.CreatePaymentIntent(ctx, buyer, decimal.Zero, &id)
	assert.ErrorIs(t, err, ErrPaymentNotRequired)

	_, err = env.payments.CreatePaymentIntent(ctx, buyer2, decimal.Zero, &id)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	missing := uuid.New()
	_, err = env.payments.CreatePaymentIntent(ctx, buyer, decimal.Zero, &missing)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	fillCart(t, env, buyer)
	online, err := env.orders.CreateOrder(ctx, buyer, "addr", "Online")
	require.NoError(t, err)
	onlineID := online.ID
	_, err = env.payments.CreatePaymentIntent(ctx, buyer, decimal.NewFromInt(1), &onlineID)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestVerifyPayment_CancelledBoundOrderRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillCart(t, env, buyer)
	order, err := env.orders.CreateOrder(ctx, buyer, "addr", "Online")
	require.NoError(t, err)
	id := order.ID
	intent, err := env.payments.CreatePaymentIntent(ctx, buyer, decimal.Zero, &id)
	require.NoError(t, err)

	_, err = env.fulfillment.UpdateStatus(ctx, admin, order.ID, "cancelled")
	require.NoError(t, err)

	_, err = env.payments.VerifyPayment(ctx, buyer, signedRequest(intent.ExternalOrderID, "pay_1"))
	assert.ErrorIs(t, err, ErrPaymentVerificationFailed)
}
