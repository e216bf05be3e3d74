package cart

import (
	"errors"
	"maps"
	"strings"
	"time"
)

const MaxQuantity = 999

var (
	ErrBadQuantity  = errors.New("quantity must be between 1 and 999")
	ErrBadProductID = errors.New("product id required")
)

// Cart maps product id to quantity. An entry exists only while its
// quantity is positive.
type Cart struct {
	ID        string         `json:"id"`
	Items     map[string]int `json:"items"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func newCart(id string, now time.Time) *Cart {
	return &Cart{ID: id, Items: map[string]int{}, UpdatedAt: now}
}

func (c *Cart) Add(productID string, qty int) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ErrBadProductID
	}
	if qty <= 0 || qty > MaxQuantity-c.Items[productID] {
		return ErrBadQuantity
	}
	c.Items[productID] += qty
	return nil
}

func (c *Cart) Increment(productID string) error {
	return c.Add(productID, 1)
}

// Decrement drops the entry when it reaches zero.
func (c *Cart) Decrement(productID string) {
	q, ok := c.Items[productID]
	if !ok {
		return
	}
	if q <= 1 {
		delete(c.Items, productID)
		return
	}
	c.Items[productID] = q - 1
}

// Set with a quantity of zero removes the entry.
func (c *Cart) Set(productID string, qty int) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ErrBadProductID
	}
	if qty < 0 || qty > MaxQuantity {
		return ErrBadQuantity
	}
	if qty == 0 {
		delete(c.Items, productID)
		return nil
	}
	c.Items[productID] = qty
	return nil
}

func (c *Cart) Remove(productID string) {
	delete(c.Items, productID)
}

func (c *Cart) Quantity(productID string) int {
	return c.Items[productID]
}

// Count is the number of units across all entries.
func (c *Cart) Count() int {
	n := 0
	for _, q := range c.Items {
		n += q
	}
	return n
}

func (c *Cart) Quantities() map[string]int {
	return maps.Clone(c.Items)
}

func (c *Cart) Clear() {
	clear(c.Items)
}

func (c *Cart) clone() Cart {
	out := *c
	out.Items = maps.Clone(c.Items)
	if out.Items == nil {
		out.Items = map[string]int{}
	}
	return out
}
