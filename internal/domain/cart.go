package domain

import "time"

type Cart struct {
	ID        string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    string     `bson:"user_id" json:"user_id"`
	Items     []CartItem `bson:"items" json:"items"`
	Version   int64      `bson:"version" json:"version"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

type CartItem struct {
	ProductID int64     `bson:"product_id" json:"product_id"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

// NewCart returns an empty, not yet persisted cart for the buyer.
func NewCart(userID string) *Cart {
	now := time.Now()
	return &Cart{
		UserID:    userID,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) indexOf(productID int64) int {
	for i, item := range c.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// Add accumulates quantity onto an existing line or appends a new one.
func (c *Cart) Add(productID int64, quantity int, at time.Time) {
	if i := c.indexOf(productID); i >= 0 {
		c.Items[i].Quantity += quantity
		c.Items[i].AddedAt = at
		return
	}
	c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: quantity, AddedAt: at})
}

// SetQuantity overwrites a line's quantity; a quantity below 1 drops the line.
// It reports false when the product is not in the cart.
func (c *Cart) SetQuantity(productID int64, quantity int) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	if quantity < 1 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return true
	}
	c.Items[i].Quantity = quantity
	return true
}

// Take lowers a line by quantity, dropping it once nothing is left.
func (c *Cart) Take(productID int64, quantity int) {
	i := c.indexOf(productID)
	if i < 0 {
		return
	}
	c.SetQuantity(productID, c.Items[i].Quantity-quantity)
}

func (c *Cart) Remove(productID int64) bool {
	return c.SetQuantity(productID, 0)
}

// Clone returns a deep copy safe to mutate.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = make([]CartItem, len(c.Items))
	copy(cp.Items, c.Items)
	return &cp
}
