package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrFractionalMinorUnit = errors.New("amount has more precision than the currency minor unit")

const minorUnitExponent = 2

// PaymentIntent lives only until verification consumes it.
type PaymentIntent struct {
	ExternalOrderID string     `json:"external_order_id"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	UserID          string     `json:"user_id"`
	OrderID         *string    `json:"order_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// ToMinorUnits converts a major-unit amount (rupees, dollars) to the integer minor units
// (paise, cents) payment processors expect. Amounts must be positive and exact.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, errors.New("amount must be positive")
	}
	minor := amount.Shift(minorUnitExponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrFractionalMinorUnit
	}
	return minor.IntPart(), nil
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExponent)
}
