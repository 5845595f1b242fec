package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/service"
	"github.com/fjod/go_marketplace/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "jwt-test-secret"

type mockCarts struct {
	view    *domain.CartView
	cart    *domain.Cart
	err     error
	actor   domain.Actor
	product int64
	qty     int
}

func (m *mockCarts) GetCart(_ context.Context, actor domain.Actor) (*domain.CartView, error) {
	m.actor = actor
	return m.view, m.err
}

func (m *mockCarts) AddItem(_ context.Context, actor domain.Actor, productID int64, quantity int) (*domain.Cart, error) {
	m.actor, m.product, m.qty = actor, productID, quantity
	return m.cart, m.err
}

func (m *mockCarts) SetQuantity(_ context.Context, actor domain.Actor, productID int64, quantity int) (*domain.Cart, error) {
	m.actor, m.product, m.qty = actor, productID, quantity
	return m.cart, m.err
}

func (m *mockCarts) RemoveItem(_ context.Context, actor domain.Actor, productID int64) (*domain.Cart, error) {
	m.actor, m.product = actor, productID
	return m.cart, m.err
}

func (m *mockCarts) ClearCart(_ context.Context, actor domain.Actor) error {
	m.actor = actor
	return m.err
}

type mockOrders struct {
	order    *domain.Order
	orders   []*domain.Order
	events   []domain.StatusEvent
	err      error
	sellerID string
	address  string
	method   string
}

func (m *mockOrders) CreateOrder(_ context.Context, _ domain.Actor, shippingAddress, paymentMethod string) (*domain.Order, error) {
	m.address, m.method = shippingAddress, paymentMethod
	return m.order, m.err
}

func (m *mockOrders) Order(context.Context, domain.Actor, uuid.UUID) (*domain.Order, error) {
	return m.order, m.err
}

func (m *mockOrders) ListMyOrders(context.Context, domain.Actor) ([]*domain.Order, error) {
	return m.orders, m.err
}

func (m *mockOrders) ListSellerOrders(_ context.Context, _ domain.Actor, sellerID string) ([]*domain.Order, error) {
	m.sellerID = sellerID
	return m.orders, m.err
}

func (m *mockOrders) StatusHistory(context.Context, domain.Actor, uuid.UUID) ([]domain.StatusEvent, error) {
	return m.events, m.err
}

type mockFulfillment struct {
	order  *domain.Order
	err    error
	status string
}

func (m *mockFulfillment) UpdateStatus(_ context.Context, _ domain.Actor, _ uuid.UUID, newStatus string) (*domain.Order, error) {
	m.status = newStatus
	return m.order, m.err
}

type mockPayments struct {
	intent  *domain.PaymentIntent
	order   *domain.Order
	err     error
	amount  decimal.Decimal
	orderID *uuid.UUID
	verify  service.VerifyPaymentRequest
}

func (m *mockPayments) CreatePaymentIntent(_ context.Context, _ domain.Actor, amount decimal.Decimal, orderID *uuid.UUID) (*domain.PaymentIntent, error) {
	m.amount, m.orderID = amount, orderID
	return m.intent, m.err
}

func (m *mockPayments) VerifyPayment(_ context.Context, _ domain.Actor, req service.VerifyPaymentRequest) (*domain.Order, error) {
	m.verify = req
	return m.order, m.err
}

type mockProducts struct {
	product  *domain.Product
	list     []*domain.Product
	err      error
	saved    *domain.Product
	price    decimal.Decimal
	sellerID string
}

func (m *mockProducts) SellerProducts(_ context.Context, _ domain.Actor, sellerID string) ([]*domain.Product, error) {
	m.sellerID = sellerID
	return m.list, m.err
}

func (m *mockProducts) Product(context.Context, int64) (*domain.Product, error) {
	return m.product, m.err
}

func (m *mockProducts) SaveProduct(_ context.Context, _ domain.Actor, p *domain.Product) (*domain.Product, error) {
	m.saved = p
	return p, m.err
}

func (m *mockProducts) UpdatePrice(_ context.Context, _ domain.Actor, _ int64, price decimal.Decimal) (*domain.Product, error) {
	m.price = price
	return m.product, m.err
}

type testServer struct {
	carts       *mockCarts
	orders      *mockOrders
	fulfillment *mockFulfillment
	payments    *mockPayments
	products    *mockProducts
	checks      map[string]HealthCheck
}

func newTestServer() *testServer {
	return &testServer{
		carts:       &mockCarts{},
		orders:      &mockOrders{},
		fulfillment: &mockFulfillment{},
		payments:    &mockPayments{},
		products:    &mockProducts{},
		checks:      map[string]HealthCheck{},
	}
}

func (s *testServer) router() http.Handler {
	return NewRouter(Services{
		Carts:       s.carts,
		Orders:      s.orders,
		Fulfillment: s.fulfillment,
		Payments:    s.payments,
		Products:    s.products,
	}, RouterConfig{
		RequestTimeout:     5 * time.Second,
		MaxRequestBodySize: 1 << 20,
		JWTSecret:          testJWTSecret,
		ServiceName:        "marketplace-test",
	}, s.checks, logger.Nop())
}

func token(t *testing.T, sub, role string, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	signed, err := tok.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}
