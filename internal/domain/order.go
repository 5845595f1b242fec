package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLine is frozen at checkout; price and seller are never re-read from the catalog.
type OrderLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	SellerID    string          `json:"seller_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID                uuid.UUID       `json:"id"`
	UserID            string          `json:"user_id"`
	Lines             []OrderLine     `json:"lines"`
	ShippingAddress   string          `json:"shipping_address"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Currency          string          `json:"currency"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	Status            OrderStatus     `json:"status"`
	ExternalOrderID   *string         `json:"external_order_id,omitempty"`
	ExternalPaymentID *string         `json:"external_payment_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
}

// LinesTotal sums unit price times quantity over the lines.
func LinesTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// HasSeller reports whether any line belongs to sellerID.
func (o *Order) HasSeller(sellerID string) bool {
	for _, l := range o.Lines {
		if l.SellerID == sellerID {
			return true
		}
	}
	return false
}

// ApplyStatus mutates the order for a validated transition, including the payment
// side effects of delivery and cancellation.
func (o *Order) ApplyStatus(to OrderStatus, at time.Time) {
	o.Status = to
	o.UpdatedAt = at
	switch to {
	case OrderStatusDelivered:
		o.DeliveredAt = &at
		o.PaymentStatus = PaymentStatusCompleted
	case OrderStatusCancelled:
		o.PaymentStatus = PaymentStatusCancelled
	}
}

// StatusEvent is one row of an order's status history.
type StatusEvent struct {
	ID         int64         `json:"id"`
	OrderID    uuid.UUID     `json:"order_id"`
	ActorID    string        `json:"actor_id"`
	ActorRole  Role          `json:"actor_role"`
	FromStatus *OrderStatus  `json:"from_status,omitempty"`
	ToStatus   OrderStatus   `json:"to_status"`
	Payment    PaymentStatus `json:"payment_status"`
	CreatedAt  time.Time     `json:"created_at"`
}
