package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view this core needs: who sells it, at what price, and whether
// it can currently be bought.
type Product struct {
	ID          int64           `json:"id"`
	SellerID    string          `json:"seller_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Available   bool            `json:"available"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CartView is a cart joined with catalog data for display.
type CartView struct {
	UserID    string          `json:"user_id"`
	Lines     []CartLineView  `json:"lines"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CartLineView carries Available=false and a nil Product when the product no longer
// resolves in the catalog.
type CartLineView struct {
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Available bool      `json:"available"`
	Product   *Product  `json:"product,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}
