package cart

import (
	"context"
	"errors"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
)

// The methods below are the cart side of the checkout state machine:
// Open -> Finalizing -> Closed on success, or back to Open on abort.

// BeginFinalize moves an open, non-empty cart to Finalizing and returns its
// lines priced at current catalog prices together with the cart version.
func (s *Service) BeginFinalize(principal string) ([]model.PricedLine, uint64, error) {
	if principal == "" {
		return nil, 0, ErrPrincipalRequired
	}
	c := s.carts.Get(principal)
	if c == nil {
		return nil, 0, ErrCartEmpty
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == model.CartFinalizing {
		return nil, 0, ErrCheckoutInProgress
	}
	if len(c.lines) == 0 {
		return nil, 0, ErrCartEmpty
	}
	lines, err := s.priced(c.lines)
	if err != nil {
		return nil, 0, err
	}
	c.state = model.CartFinalizing
	return lines, c.version, nil
}

// MarkCommitting records that stock commits are about to be applied. From
// here until CompleteFinalize or AbortFinalize, Clear is rejected. It fails
// with ErrCartChanged if the cart was cleared since BeginFinalize.
func (s *Service) MarkCommitting(principal string, version uint64) error {
	c := s.carts.Get(principal)
	if c == nil {
		return ErrCartChanged
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.CartFinalizing || c.version != version {
		return ErrCartChanged
	}
	c.committing = true
	return nil
}

// AbortFinalize returns a finalizing cart to Open with its lines untouched.
func (s *Service) AbortFinalize(principal string) {
	c := s.carts.Get(principal)
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committing = false
	if c.state == model.CartFinalizing {
		c.state = model.CartOpen
	}
}

// CompleteFinalize empties the cart after its reservations were committed
// and closes it, remembering the order that closed it.
func (s *Service) CompleteFinalize(ctx context.Context, principal, orderID string) error {
	c := s.carts.Get(principal)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// commits already removed the reservations; this only sweeps leftovers
	_, errs := s.releaseLines(ctx, c)
	c.lines = nil
	c.committing = false
	c.state = model.CartClosed
	c.lastOrderID = orderID
	c.version++
	if err := errors.Join(errs...); err != nil {
		obs.Logger.Warn("cart_finalize_release_failed", "principal", principal, "order_id", orderID, "error", err)
		return err
	}
	return nil
}

// LastOrder reports the order that closed the principal's cart, if the cart
// is still closed and untouched since.
func (s *Service) LastOrder(principal string) (string, bool) {
	c := s.carts.Get(principal)
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.CartClosed || len(c.lines) > 0 || c.lastOrderID == "" {
		return "", false
	}
	return c.lastOrderID, true
}
