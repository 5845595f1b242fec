package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/pkg/logger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func (m *mockWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func testOrder() *domain.Order {
	return &domain.Order{
		ID:     uuid.New(),
		UserID: "buyer-1",
		Lines: []domain.OrderLine{
			{ProductID: 1, SellerID: "s1", Quantity: 2, UnitPrice: decimal.NewFromInt(100)},
			{ProductID: 2, SellerID: "s2", Quantity: 1, UnitPrice: decimal.NewFromInt(50)},
			{ProductID: 3, SellerID: "s1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)},
		},
		TotalAmount:   decimal.NewFromInt(255),
		Currency:      "INR",
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     time.Now(),
	}
}

func TestKafkaPublisher_PublishesEvent(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second, log: logger.Nop()}
	order := testOrder()

	p.OrderConfirmed(context.Background(), order)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)

	require.Equal(t, 1, w.count())
	msg := w.messages[0]
	assert.Equal(t, order.ID.String(), string(msg.Key))
	assert.Equal(t, EventOrderConfirmed, string(msg.Headers[0].Value))

	var ev OrderConfirmedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, []string{"s1", "s2"}, ev.SellerIDs)
	assert.Equal(t, "255.00", ev.TotalAmount)
	assert.Equal(t, "COD", ev.PaymentMethod)
}

func TestKafkaPublisher_FailureIsSwallowed(t *testing.T) {
	w := &mockWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, timeout: time.Second, log: logger.Nop()}

	assert.NotPanics(t, func() { p.OrderConfirmed(context.Background(), testOrder()) })
	require.NoError(t, p.Close())
	assert.Equal(t, 0, w.count())
}

func TestKafkaPublisher_SurvivesCallerCancel(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second, log: logger.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	p.OrderConfirmed(ctx, testOrder())
	cancel()

	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.count())
}

func TestKafkaPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka container test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	defer func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}()

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	p := NewKafkaPublisher(brokers, "orders.confirmed", 10*time.Second, logger.Nop())
	order := testOrder()
	p.OrderConfirmed(ctx, order)
	require.NoError(t, p.Close())

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "orders.confirmed",
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)
	assert.Equal(t, order.ID.String(), string(msg.Key))
}
