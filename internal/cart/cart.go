package cart

import (
	"errors"
	"fmt"

	"github.com/pontocerto/checkout/internal/money"
)

// ErrInvalidPrice is returned when a line is added with a negative unit price.
var ErrInvalidPrice = errors.New("invalid unit price")

// ErrInvalidQuantity is returned when a line is added with a non-positive quantity.
var ErrInvalidQuantity = errors.New("invalid quantity")

// Line is a single product entry in the cart.
type Line struct {
	ProductID string
	UnitPrice money.Amount
	Qty       int
}

// Total returns the line total in minor units.
func (l Line) Total() money.Amount {
	return l.UnitPrice * money.Amount(l.Qty)
}

// Cart accumulates sale lines keyed by product id. Display order follows the
// order products were first rung up.
type Cart struct {
	lines map[string]*Line
	order []string
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{lines: make(map[string]*Line)}
}

// AddOrIncrement rings up qty units of a product. An existing line for the
// same product id has its quantity incremented; otherwise a new line is
// appended. Stock validation is the caller's responsibility.
func (c *Cart) AddOrIncrement(productID string, unitPrice money.Amount, qty int) error {
	if unitPrice < 0 {
		return fmt.Errorf("product %s: %w", productID, ErrInvalidPrice)
	}
	if qty <= 0 {
		return fmt.Errorf("product %s: %w", productID, ErrInvalidQuantity)
	}
	if line, ok := c.lines[productID]; ok {
		line.Qty += qty
		return nil
	}
	c.lines[productID] = &Line{ProductID: productID, UnitPrice: unitPrice, Qty: qty}
	c.order = append(c.order, productID)
	return nil
}

// ChangeQuantity adjusts a line's quantity by delta, removing the line when
// the result drops to zero or below. Unknown product ids are ignored.
func (c *Cart) ChangeQuantity(productID string, delta int) {
	line, ok := c.lines[productID]
	if !ok {
		return
	}
	line.Qty += delta
	if line.Qty <= 0 {
		c.remove(productID)
	}
}

// Remove deletes a line regardless of its quantity. Unknown ids are ignored.
func (c *Cart) Remove(productID string) {
	if _, ok := c.lines[productID]; ok {
		c.remove(productID)
	}
}

func (c *Cart) remove(productID string) {
	delete(c.lines, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.lines = make(map[string]*Line)
	c.order = nil
}

// Subtotal sums all line totals.
func (c *Cart) Subtotal() money.Amount {
	var total money.Amount
	for _, line := range c.lines {
		total += line.Total()
	}
	return total
}

// Lines returns the cart contents in ring-up order.
func (c *Cart) Lines() []Line {
	out := make([]Line, 0, len(c.order))
	for _, id := range c.order {
		if line, ok := c.lines[id]; ok {
			out = append(out, *line)
		}
	}
	return out
}

// Len reports the number of distinct lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}
