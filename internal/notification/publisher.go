// Package notification announces confirmed orders to downstream consumers (buyer and
// seller mailers) over Kafka. Delivery is best effort.
package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/segmentio/kafka-go"
)

const EventOrderConfirmed = "OrderConfirmed"

type Notifier interface {
	OrderConfirmed(ctx context.Context, order *domain.Order)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OrderConfirmedEvent struct {
	OrderID       string             `json:"order_id"`
	UserID        string             `json:"user_id"`
	SellerIDs     []string           `json:"seller_ids"`
	Lines         []domain.OrderLine `json:"lines"`
	TotalAmount   string             `json:"total_amount"`
	Currency      string             `json:"currency"`
	PaymentMethod string             `json:"payment_method"`
	PaymentStatus string             `json:"payment_status"`
	CreatedAt     time.Time          `json:"created_at"`
}

type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewKafkaPublisher(brokers []string, topic string, timeout time.Duration, log *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           timeout,
	}
	return &KafkaPublisher{writer: w, timeout: timeout, log: log}
}

// OrderConfirmed publishes in the background and never reports failure to the caller.
func (p *KafkaPublisher) OrderConfirmed(ctx context.Context, order *domain.Order) {
	msg, err := buildMessage(order)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to build order notification", "order_id", order.ID, "error", err)
		return
	}

	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(bg, p.timeout)
		defer cancel()

		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.log.WarnContext(ctx, "order notification not delivered", "order_id", order.ID, "error", err)
			return
		}
		p.log.DebugContext(ctx, "order notification published", "order_id", order.ID)
	}()
}

// Close waits for in-flight publishes and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.wg.Wait()
	return p.writer.Close()
}

func buildMessage(order *domain.Order) (kafka.Message, error) {
	ev := OrderConfirmedEvent{
		OrderID:       order.ID.String(),
		UserID:        order.UserID,
		SellerIDs:     sellerIDs(order.Lines),
		Lines:         order.Lines,
		TotalAmount:   order.TotalAmount.StringFixed(2),
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod.String(),
		PaymentStatus: order.PaymentStatus.String(),
		CreatedAt:     order.CreatedAt,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventOrderConfirmed)},
		},
	}, nil
}

func sellerIDs(lines []domain.OrderLine) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.SellerID]; ok {
			continue
		}
		seen[l.SellerID] = struct{}{}
		out = append(out, l.SellerID)
	}
	return out
}

// LogNotifier only logs; used when Kafka is disabled.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) OrderConfirmed(ctx context.Context, order *domain.Order) {
	n.Log.InfoContext(ctx, "order confirmed", "order_id", order.ID, "user_id", order.UserID)
}
