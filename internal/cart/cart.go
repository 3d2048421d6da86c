// Package cart owns the per-principal cart aggregates and the service that
// keeps them in step with the stock ledger.
package cart

import (
	"sync"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
)

// Cart is one principal's aggregate. All fields are guarded by mu.
type Cart struct {
	mu         sync.Mutex
	principal  string
	state      model.CartState
	lines      []model.CartLine
	version    uint64
	committing bool

	// lastOrderID is the order that closed the cart; any later edit clears it.
	lastOrderID string
}

func (c *Cart) find(productID string) int {
	for i, ln := range c.lines {
		if ln.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) quantity(productID string) int64 {
	if i := c.find(productID); i >= 0 {
		return c.lines[i].Quantity
	}
	return 0
}

// set writes the line quantity, removing the line at zero.
func (c *Cart) set(productID string, qty int64) {
	i := c.find(productID)
	switch {
	case i < 0 && qty > 0:
		c.lines = append(c.lines, model.CartLine{ProductID: productID, Quantity: qty})
	case i >= 0 && qty > 0:
		c.lines[i].Quantity = qty
	case i >= 0:
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
	c.version++
}

// reopen moves a closed cart back to open before an edit.
func (c *Cart) reopen() {
	if c.state == model.CartClosed {
		c.state = model.CartOpen
	}
}

func (c *Cart) snapshot() []model.CartLine {
	return append([]model.CartLine(nil), c.lines...)
}

// Store holds carts keyed by principal. Carts are created lazily on first use.
type Store struct {
	mu    sync.Mutex
	carts map[string]*Cart
}

// NewStore returns an empty cart store.
func NewStore() *Store {
	return &Store{carts: make(map[string]*Cart)}
}

// Get returns the principal's cart, or nil if none exists yet.
func (s *Store) Get(principal string) *Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[principal]
}

// GetOrCreate returns the principal's cart, creating an open one if needed.
func (s *Store) GetOrCreate(principal string) *Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[principal]
	if !ok {
		c = &Cart{principal: principal, state: model.CartOpen}
		s.carts[principal] = c
	}
	return c
}
