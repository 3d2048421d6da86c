package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/fairyhunter13/cart-checkout-engine/internal/events"
	"github.com/fairyhunter13/cart-checkout-engine/internal/ledger"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
	"github.com/fairyhunter13/cart-checkout-engine/internal/pricing"
)

var (
	ErrPrincipalRequired  = errors.New("principal is required")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrCartEmpty          = errors.New("cart is empty")
	ErrCheckoutInProgress = errors.New("checkout in progress for this cart")
	ErrCartChanged        = errors.New("cart changed during checkout")
)

// Ledger is the part of the stock ledger the cart service drives.
type Ledger interface {
	Reserve(ctx context.Context, productID, principal string, quantity int64) error
	Adjust(ctx context.Context, productID, principal string, newQuantity int64) error
	Release(ctx context.Context, productID, principal string) error
}

type Catalog interface {
	Get(id string) (model.Product, bool)
}

// View is the read model returned for GET /cart.
type View struct {
	Principal string           `json:"principal"`
	State     model.CartState  `json:"state"`
	Lines     []model.CartLine `json:"lines"`
	Quote     pricing.Quote    `json:"quote"`
}

// Service mutates carts and their reservations together. Every method is
// scoped to one principal and never touches another principal's cart.
type Service struct {
	carts      *Store
	ledger     Ledger
	catalog    Catalog
	pricing    *pricing.Engine
	dispatcher events.Dispatcher
	metrics    *obs.Metrics
}

func NewService(carts *Store, l Ledger, catalog Catalog, engine *pricing.Engine, dispatcher events.Dispatcher, metrics *obs.Metrics) *Service {
	if dispatcher == nil {
		dispatcher = events.Discard{}
	}
	return &Service{carts: carts, ledger: l, catalog: catalog, pricing: engine, dispatcher: dispatcher, metrics: metrics}
}

// AddItem merges quantity more units into the cart line and reserves the
// merged total. On failure the cart is unchanged. Repeated calls add
// repeatedly.
func (s *Service) AddItem(ctx context.Context, principal, productID string, quantity int64) (pricing.Quote, error) {
	if principal == "" {
		return pricing.Quote{}, ErrPrincipalRequired
	}
	if quantity <= 0 {
		return pricing.Quote{}, ErrInvalidQuantity
	}
	c := s.carts.GetOrCreate(principal)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == model.CartFinalizing {
		return pricing.Quote{}, ErrCheckoutInProgress
	}
	merged := c.quantity(productID) + quantity
	var err error
	if merged == quantity {
		err = s.ledger.Reserve(ctx, productID, principal, quantity)
	} else {
		// The reservation follows the whole line, including one revoked by
		// an admin stock edit.
		err = s.ledger.Adjust(ctx, productID, principal, merged)
		var ise *ledger.InsufficientStockError
		if errors.As(err, &ise) {
			// Report in units of this add, like Reserve does.
			err = &ledger.InsufficientStockError{
				ProductID: productID,
				Requested: quantity,
				Available: max(ise.Available-c.quantity(productID), 0),
			}
		}
	}
	if err != nil {
		s.rejected("add_item", err)
		return pricing.Quote{}, err
	}
	c.reopen()
	c.lastOrderID = ""
	c.set(productID, merged)
	obs.Logger.Info("cart_item_added", "principal", principal, "product_id", productID, "quantity", quantity)
	return s.quote(c)
}

// SetQuantity sets the line to quantity. Zero removes the line and its
// reservation. Repeating the call yields the same state.
func (s *Service) SetQuantity(ctx context.Context, principal, productID string, quantity int64) (pricing.Quote, error) {
	if principal == "" {
		return pricing.Quote{}, ErrPrincipalRequired
	}
	if quantity < 0 {
		return pricing.Quote{}, ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, principal, productID)
	}
	c := s.carts.GetOrCreate(principal)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == model.CartFinalizing {
		return pricing.Quote{}, ErrCheckoutInProgress
	}
	if err := s.ledger.Adjust(ctx, productID, principal, quantity); err != nil {
		s.rejected("set_quantity", err)
		return pricing.Quote{}, err
	}
	c.reopen()
	c.lastOrderID = ""
	if c.quantity(productID) != quantity {
		c.set(productID, quantity)
	}
	obs.Logger.Info("cart_quantity_set", "principal", principal, "product_id", productID, "quantity", quantity)
	return s.quote(c)
}

// RemoveItem releases the reservation and deletes the line. Removing an
// absent line is a no-op.
func (s *Service) RemoveItem(ctx context.Context, principal, productID string) (pricing.Quote, error) {
	if principal == "" {
		return pricing.Quote{}, ErrPrincipalRequired
	}
	c := s.carts.Get(principal)
	if c == nil {
		return s.pricing.Quote(nil), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == model.CartFinalizing {
		return pricing.Quote{}, ErrCheckoutInProgress
	}
	if err := s.ledger.Release(ctx, productID, principal); err != nil {
		return pricing.Quote{}, err
	}
	if c.find(productID) >= 0 {
		c.set(productID, 0)
		c.lastOrderID = ""
		obs.Logger.Info("cart_item_removed", "principal", principal, "product_id", productID)
	}
	return s.quote(c)
}

// Clear releases every reservation of the principal and empties the cart,
// leaving it closed. It is rejected only once a checkout has started
// committing stock. Lines whose release fails stay in the cart and the
// errors are returned joined.
func (s *Service) Clear(ctx context.Context, principal string) error {
	if principal == "" {
		return ErrPrincipalRequired
	}
	c := s.carts.Get(principal)
	if c == nil {
		return nil
	}
	released, err := s.clear(ctx, c)
	if released > 0 {
		s.dispatch(ctx, model.CartCleared{Principal: principal, Released: released})
	}
	return err
}

func (s *Service) clear(ctx context.Context, c *Cart) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committing {
		return 0, ErrCheckoutInProgress
	}
	kept, errs := s.releaseLines(ctx, c)
	released := len(c.lines) - len(kept)
	c.lines = kept
	c.version++
	c.lastOrderID = ""
	if len(kept) == 0 {
		c.state = model.CartClosed
	}
	obs.Logger.Info("cart_cleared", "principal", c.principal, "released_lines", released, "failed_lines", len(kept))
	return released, errors.Join(errs...)
}

func (s *Service) releaseLines(ctx context.Context, c *Cart) ([]model.CartLine, []error) {
	var kept []model.CartLine
	var errs []error
	for _, ln := range c.lines {
		if err := s.ledger.Release(ctx, ln.ProductID, c.principal); err != nil {
			kept = append(kept, ln)
			errs = append(errs, fmt.Errorf("release %s: %w", ln.ProductID, err))
		}
	}
	return kept, errs
}

// Snapshot returns the cart lines joined with live catalog prices.
func (s *Service) Snapshot(principal string) ([]model.PricedLine, error) {
	c := s.carts.Get(principal)
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.priced(c.lines)
}

// View returns the cart state, lines and a fresh quote.
func (s *Service) View(principal string) (View, error) {
	if principal == "" {
		return View{}, ErrPrincipalRequired
	}
	c := s.carts.Get(principal)
	if c == nil {
		return View{Principal: principal, State: model.CartOpen, Lines: []model.CartLine{}, Quote: s.pricing.Quote(nil)}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q, err := s.quote(c)
	if err != nil {
		return View{}, err
	}
	return View{Principal: principal, State: c.state, Lines: c.snapshot(), Quote: q}, nil
}

func (s *Service) quote(c *Cart) (pricing.Quote, error) {
	lines, err := s.priced(c.lines)
	if err != nil {
		return pricing.Quote{}, err
	}
	return s.pricing.Quote(lines), nil
}

func (s *Service) priced(lines []model.CartLine) ([]model.PricedLine, error) {
	out := make([]model.PricedLine, 0, len(lines))
	for _, ln := range lines {
		p, ok := s.catalog.Get(ln.ProductID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ledger.ErrProductNotFound, ln.ProductID)
		}
		out = append(out, model.PricedLine{
			ProductID:   ln.ProductID,
			DisplayName: p.DisplayName,
			Quantity:    ln.Quantity,
			UnitPrice:   p.UnitPrice,
			TaxCategory: p.TaxCategory,
		})
	}
	return out, nil
}

func (s *Service) rejected(op string, err error) {
	var ise *ledger.InsufficientStockError
	if errors.As(err, &ise) {
		s.metrics.StockRejected(op)
		obs.Logger.Info("cart_stock_rejected", "operation", op, "product_id", ise.ProductID, "requested", ise.Requested, "available", ise.Available)
	}
}

func (s *Service) dispatch(ctx context.Context, ev model.DomainEvent) {
	if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
		obs.Logger.Error("event_dispatch_failed", "event", ev.Type(), "error", err)
	}
}
