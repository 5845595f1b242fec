package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/fjod/go_marketplace/internal/cache"
	"github.com/fjod/go_marketplace/internal/catalog"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/lock"
	"github.com/fjod/go_marketplace/internal/payment"
	"github.com/fjod/go_marketplace/internal/repository"
	"github.com/fjod/go_marketplace/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const testSecret = "test-secret"

type mockCartRepository struct {
	m          sync.Mutex
	carts      map[string]*domain.Cart
	err        error
	conflicts  int // number of SaveCart calls to reject with a version conflict
	saveCalls  int
	clearCalls int
}

func newMockCartRepository() *mockCartRepository {
	return &mockCartRepository{carts: make(map[string]*domain.Cart)}
}

func (m *mockCartRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return c.Clone(), nil
}

func (m *mockCartRepository) SaveCart(_ context.Context, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.saveCalls++
	if m.err != nil {
		return m.err
	}
	if m.conflicts > 0 {
		m.conflicts--
		return repository.ErrVersionConflict
	}
	var current int64
	if c, ok := m.carts[cart.UserID]; ok {
		current = c.Version
	}
	if current != cart.Version {
		return repository.ErrVersionConflict
	}
	cart.Version++
	m.carts[cart.UserID] = cart.Clone()
	return nil
}

func (m *mockCartRepository) ClearCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.clearCalls++
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	c.Items = []domain.CartItem{}
	c.Version++
	return c.Clone(), nil
}

func (m *mockCartRepository) items(userID string) []domain.CartItem {
	m.m.Lock()
	defer m.m.Unlock()
	if c, ok := m.carts[userID]; ok {
		return append([]domain.CartItem(nil), c.Items...)
	}
	return nil
}

type mockCartCache struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	deletes int
}

func newMockCartCache() *mockCartCache {
	return &mockCartCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCartCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c.Clone(), nil
}

func (m *mockCartCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if cur, ok := m.carts[userID]; ok && cur.Version > cart.Version {
		return nil
	}
	m.carts[userID] = cart.Clone()
	return nil
}

func (m *mockCartCache) Delete(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	delete(m.carts, userID)
	return nil
}

func (m *mockCartCache) has(userID string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.carts[userID]
	return ok
}

func (m *mockCartCache) version(userID string) int64 {
	m.m.RLock()
	defer m.m.RUnlock()
	if c, ok := m.carts[userID]; ok {
		return c.Version
	}
	return -1
}

type mockCatalog struct {
	m        sync.RWMutex
	products map[int64]*domain.Product
	err      error
	// onResolve runs before every Resolve, outside the lock.
	onResolve func(id int64)
}

func newMockCatalog(products ...*domain.Product) *mockCatalog {
	c := &mockCatalog{products: make(map[int64]*domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (m *mockCatalog) Product(ctx context.Context, id int64) (*domain.Product, error) {
	return m.Resolve(ctx, id)
}

func (m *mockCatalog) Resolve(_ context.Context, id int64) (*domain.Product, error) {
	if m.onResolve != nil {
		m.onResolve(id)
	}
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("get product %d: %w", id, catalog.ErrProductNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockCatalog) UpsertProduct(_ context.Context, p *domain.Product) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if p.ID == 0 {
		p.ID = int64(len(m.products) + 100)
	}
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *mockCatalog) UpdatePrice(_ context.Context, id int64, price decimal.Decimal) error {
	m.m.Lock()
	defer m.m.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.Price = price
	return nil
}

func (m *mockCatalog) ListBySeller(_ context.Context, sellerID string) ([]*domain.Product, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []*domain.Product{}
	for _, p := range m.products {
		if p.SellerID == sellerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockCatalog) setPrice(id int64, price decimal.Decimal) {
	m.m.Lock()
	defer m.m.Unlock()
	m.products[id].Price = price
}

func (m *mockCatalog) remove(id int64) {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.products, id)
}

type mockOrderRepository struct {
	m         sync.Mutex
	orders    map[uuid.UUID]*domain.Order
	events    map[uuid.UUID][]domain.StatusEvent
	createErr error
}

func newMockOrderRepository() *mockOrderRepository {
	return &mockOrderRepository{
		orders: make(map[uuid.UUID]*domain.Order),
		events: make(map[uuid.UUID][]domain.StatusEvent),
	}
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &cp
}

func (m *mockOrderRepository) CreateOrder(_ context.Context, order *domain.Order, actor domain.Actor) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if order.ExternalOrderID != nil {
		for _, o := range m.orders {
			if o.ExternalOrderID != nil && *o.ExternalOrderID == *order.ExternalOrderID {
				return repository.ErrDuplicateExternalRef
			}
		}
	}
	m.orders[order.ID] = copyOrder(order)
	m.events[order.ID] = append(m.events[order.ID], domain.StatusEvent{
		OrderID: order.ID, ActorID: actor.ID, ActorRole: actor.Role, ToStatus: order.Status, Payment: order.PaymentStatus,
	})
	return nil
}

func (m *mockOrderRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *mockOrderRepository) GetOrderByExternalOrderID(_ context.Context, externalOrderID string) (*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	for _, o := range m.orders {
		if o.ExternalOrderID != nil && *o.ExternalOrderID == externalOrderID {
			return copyOrder(o), nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *mockOrderRepository) ListOrdersByUserID(_ context.Context, userID string) ([]*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	out := []*domain.Order{}
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

func (m *mockOrderRepository) ListOrdersBySellerID(_ context.Context, sellerID string) ([]*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	out := []*domain.Order{}
	for _, o := range m.orders {
		if o.HasSeller(sellerID) {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

// UpdateOrder holds the repository mutex across mutate, standing in for the row lock.
func (m *mockOrderRepository) UpdateOrder(_ context.Context, id uuid.UUID, actor domain.Actor, mutate repository.OrderMutation) (*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	current, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	next := copyOrder(current)
	from := current.Status
	if err := mutate(next); err != nil {
		return nil, err
	}
	m.orders[id] = copyOrder(next)
	m.events[id] = append(m.events[id], domain.StatusEvent{
		OrderID: id, ActorID: actor.ID, ActorRole: actor.Role, FromStatus: &from, ToStatus: next.Status, Payment: next.PaymentStatus,
	})
	return next, nil
}

func (m *mockOrderRepository) ListStatusEvents(_ context.Context, orderID uuid.UUID) ([]domain.StatusEvent, error) {
	m.m.Lock()
	defer m.m.Unlock()
	return append([]domain.StatusEvent(nil), m.events[orderID]...), nil
}

func (m *mockOrderRepository) count() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.orders)
}

type mockGateway struct {
	m        sync.Mutex
	requests []payment.CreateOrderRequest
	err      error
}

func (m *mockGateway) CreateOrder(_ context.Context, req payment.CreateOrderRequest) (*payment.GatewayOrder, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	return &payment.GatewayOrder{
		ID:       fmt.Sprintf("order_%d", len(m.requests)),
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   "created",
	}, nil
}

type mockIntentStore struct {
	m       sync.Mutex
	intents map[string]*domain.PaymentIntent
}

func newMockIntentStore() *mockIntentStore {
	return &mockIntentStore{intents: make(map[string]*domain.PaymentIntent)}
}

func (m *mockIntentStore) Save(_ context.Context, intent *domain.PaymentIntent) error {
	m.m.Lock()
	defer m.m.Unlock()
	cp := *intent
	m.intents[intent.ExternalOrderID] = &cp
	return nil
}

func (m *mockIntentStore) Get(_ context.Context, externalOrderID string) (*domain.PaymentIntent, error) {
	m.m.Lock()
	defer m.m.Unlock()
	i, ok := m.intents[externalOrderID]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *mockIntentStore) Delete(_ context.Context, externalOrderID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.intents, externalOrderID)
	return nil
}

type mockNotifier struct {
	m      sync.Mutex
	orders []*domain.Order
}

func (m *mockNotifier) OrderConfirmed(_ context.Context, order *domain.Order) {
	m.m.Lock()
	defer m.m.Unlock()
	m.orders = append(m.orders, order)
}

func (m *mockNotifier) count() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.orders)
}

type testEnv struct {
	cartRepo    *mockCartRepository
	cartCache   *mockCartCache
	catalog     *mockCatalog
	orderRepo   *mockOrderRepository
	gateway     *mockGateway
	intents     *mockIntentStore
	notifier    *mockNotifier
	carts       *CartService
	orders      *OrderService
	payments    *PaymentService
	fulfillment *FulfillmentService
	products    *CatalogService
}

var (
	buyer  = domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	buyer2 = domain.Actor{ID: "buyer-2", Role: domain.RoleBuyer}
	seller = domain.Actor{ID: "seller-1", Role: domain.RoleSeller}
	other  = domain.Actor{ID: "seller-9", Role: domain.RoleSeller}
	admin  = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
)

// P sells for 100 by seller-1, Q for 50 by seller-2, R is unavailable.
func testProducts() []*domain.Product {
	return []*domain.Product{
		{ID: 1, SellerID: "seller-1", Name: "P", Price: decimal.NewFromInt(100), Currency: "INR", Available: true},
		{ID: 2, SellerID: "seller-2", Name: "Q", Price: decimal.NewFromInt(50), Currency: "INR", Available: true},
		{ID: 3, SellerID: "seller-2", Name: "R", Price: decimal.NewFromInt(10), Currency: "INR", Available: false},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Nop()
	env := &testEnv{
		cartRepo:  newMockCartRepository(),
		cartCache: newMockCartCache(),
		catalog:   newMockCatalog(testProducts()...),
		orderRepo: newMockOrderRepository(),
		gateway:   &mockGateway{},
		intents:   newMockIntentStore(),
		notifier:  &mockNotifier{},
	}
	env.carts = NewCartService(env.cartRepo, env.cartCache, env.catalog, "INR", log)
	env.orders = NewOrderService(env.carts, env.catalog, env.orderRepo, lock.NewMemoryLocker(), env.notifier, "INR", log)
	env.payments = NewPaymentService(env.gateway, env.intents, env.orderRepo, env.orders, testSecret, "INR", log)
	env.fulfillment = NewFulfillmentService(env.orderRepo, log)
	env.products = NewCatalogService(env.catalog, "INR", log)
	return env
}
