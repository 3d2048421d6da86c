// Package checkout turns a principal's cart into an order.
//
// Finalize runs the cart through Open -> Finalizing -> Closed. Stock is
// committed with a verify-then-commit pass over every line, so a checkout
// either commits the whole cart or nothing.
package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/cart-checkout-engine/internal/cart"
	"github.com/fairyhunter13/cart-checkout-engine/internal/events"
	"github.com/fairyhunter13/cart-checkout-engine/internal/ledger"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
	"github.com/fairyhunter13/cart-checkout-engine/internal/order"
	"github.com/fairyhunter13/cart-checkout-engine/internal/pricing"
)

// ErrCheckoutCancelled is returned when the cart was cleared while the
// checkout was still verifying it.
var ErrCheckoutCancelled = errors.New("checkout cancelled")

// Outcome labels for the checkouts metric.
const (
	OutcomeFinalized    = "finalized"
	OutcomeReplayed     = "replayed"
	OutcomeStockChanged = "stock_changed"
	OutcomeCartEmpty    = "cart_empty"
	OutcomeCancelled    = "cancelled"
	OutcomeFailed       = "failed"
)

// Carts is the cart side of the checkout state machine.
type Carts interface {
	BeginFinalize(principal string) ([]model.PricedLine, uint64, error)
	MarkCommitting(principal string, version uint64) error
	AbortFinalize(principal string)
	CompleteFinalize(ctx context.Context, principal, orderID string) error
	LastOrder(principal string) (string, bool)
	Snapshot(principal string) ([]model.PricedLine, error)
	Clear(ctx context.Context, principal string) error
}

type Ledger interface {
	CommitAll(ctx context.Context, principal string, lines []model.CartLine) error
}

// Request carries the buyer-supplied part of a finalize call.
type Request struct {
	ShippingAddress string
	PaymentToken    string
	// IdempotencyKey is optional. When set, a retry carrying the same key
	// within the replay window returns the original order.
	IdempotencyKey string
}

type Result struct {
	Order    model.Order
	Replayed bool
}

type Coordinator struct {
	carts        Carts
	ledger       Ledger
	orders       order.Store
	pricing      *pricing.Engine
	dispatcher   events.Dispatcher
	metrics      *obs.Metrics
	replayWindow time.Duration
	now          func() time.Time
}

func New(carts Carts, l Ledger, orders order.Store, engine *pricing.Engine, dispatcher events.Dispatcher, metrics *obs.Metrics, replayWindow time.Duration) *Coordinator {
	if dispatcher == nil {
		dispatcher = events.Discard{}
	}
	return &Coordinator{
		carts:        carts,
		ledger:       l,
		orders:       orders,
		pricing:      engine,
		dispatcher:   dispatcher,
		metrics:      metrics,
		replayWindow: replayWindow,
		now:          time.Now,
	}
}

// Finalize checks out the principal's cart. On a verification failure the
// cart returns to Open with its lines and reservations untouched and a
// *ledger.StockChangedError names the failing lines.
func (c *Coordinator) Finalize(ctx context.Context, principal string, req Request) (Result, error) {
	if principal == "" {
		return Result{}, cart.ErrPrincipalRequired
	}
	if prev, ok, err := c.replayable(ctx, principal, req.IdempotencyKey); err != nil {
		return Result{}, err
	} else if ok {
		c.metrics.CheckoutOutcome(OutcomeReplayed)
		obs.Logger.Info("checkout_replayed", "principal", principal, "order_id", prev.ID)
		return Result{Order: prev, Replayed: true}, nil
	}

	lines, version, err := c.carts.BeginFinalize(principal)
	if err != nil {
		if errors.Is(err, cart.ErrCartEmpty) {
			c.metrics.CheckoutOutcome(OutcomeCartEmpty)
		}
		return Result{}, err
	}
	o := c.buildOrder(principal, req, lines)

	if err := c.carts.MarkCommitting(principal, version); err != nil {
		c.carts.AbortFinalize(principal)
		c.metrics.CheckoutOutcome(OutcomeCancelled)
		obs.Logger.Info("checkout_cancelled", "principal", principal)
		return Result{}, ErrCheckoutCancelled
	}

	if err := c.ledger.CommitAll(ctx, principal, cartLines(lines)); err != nil {
		c.carts.AbortFinalize(principal)
		c.aborted(ctx, principal, err)
		return Result{}, err
	}

	// Stock is committed from here on; the order must be recorded.
	if err := c.orders.Append(ctx, o); err != nil {
		obs.Logger.Error("checkout_order_append_failed", "principal", principal, "order_id", o.ID, "order", o, "error", err)
		_ = c.carts.CompleteFinalize(ctx, principal, "")
		c.metrics.CheckoutOutcome(OutcomeFailed)
		return Result{}, fmt.Errorf("record order %s: %w", o.ID, err)
	}
	if err := c.carts.CompleteFinalize(ctx, principal, o.ID); err != nil {
		obs.Logger.Warn("checkout_cart_close_incomplete", "principal", principal, "order_id", o.ID, "error", err)
	}

	c.metrics.CheckoutOutcome(OutcomeFinalized)
	obs.Logger.Info("checkout_finalized", "principal", principal, "order_id", o.ID, "total", o.Total.String(), "lines", len(o.Lines))
	c.dispatch(ctx, model.OrderPlaced{OrderID: o.ID, Principal: principal, Lines: cartLines(lines), Total: o.Total})
	return Result{Order: o}, nil
}

// Cancel releases every reservation of the principal and empties the cart.
// It is idempotent and is rejected only while a checkout is committing.
func (c *Coordinator) Cancel(ctx context.Context, principal string) error {
	if err := c.carts.Clear(ctx, principal); err != nil {
		return err
	}
	obs.Logger.Info("checkout_cancel", "principal", principal)
	return nil
}

// replayable reports whether a finalize call is a retry of the principal's
// latest order. A key on either side must match the other, and a keyed
// retry replays only while the cart holds nothing new. Without keys the
// retry must find the cart still closed by that order.
func (c *Coordinator) replayable(ctx context.Context, principal, key string) (model.Order, bool, error) {
	latest, ok, err := c.orders.Latest(ctx, principal)
	if err != nil || !ok {
		return model.Order{}, false, err
	}
	if c.now().Sub(latest.CreatedAt) > c.replayWindow {
		return model.Order{}, false, nil
	}
	if key != "" || latest.IdempotencyKey != "" {
		if key != latest.IdempotencyKey {
			return latest, false, nil
		}
		lines, err := c.carts.Snapshot(principal)
		if err != nil {
			return model.Order{}, false, err
		}
		return latest, len(lines) == 0, nil
	}
	closedBy, closed := c.carts.LastOrder(principal)
	return latest, closed && closedBy == latest.ID, nil
}

func (c *Coordinator) buildOrder(principal string, req Request, lines []model.PricedLine) model.Order {
	q := c.pricing.Quote(lines)
	o := model.Order{
		ID:              uuid.NewString(),
		Principal:       principal,
		Lines:           make([]model.OrderLine, 0, len(q.Lines)),
		ShippingAddress: req.ShippingAddress,
		PaymentToken:    req.PaymentToken,
		Subtotal:        q.Subtotal,
		Tax:             q.Tax,
		Shipping:        q.Shipping,
		Total:           q.Total,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       c.now().UTC().Truncate(time.Microsecond),
	}
	for _, ln := range q.Lines {
		o.Lines = append(o.Lines, model.OrderLine{
			ProductID:   ln.ProductID,
			DisplayName: ln.Name,
			Quantity:    ln.Quantity,
			UnitPrice:   ln.UnitPrice,
			TaxCategory: ln.TaxCategory,
			TaxRate:     ln.TaxRate,
			Tax:         ln.Tax,
		})
	}
	o.ContentHash = contentHash(principal, o.Lines)
	return o
}

// contentHash identifies a principal's purchase independent of line order.
func contentHash(principal string, lines []model.OrderLine) string {
	parts := make([]string, len(lines))
	for i, ln := range lines {
		parts[i] = fmt.Sprintf("%s:%d:%s", ln.ProductID, ln.Quantity, ln.UnitPrice.String())
	}
	slices.Sort(parts)
	sum := sha256.Sum256([]byte(principal + "\n" + strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

func cartLines(lines []model.PricedLine) []model.CartLine {
	out := make([]model.CartLine, len(lines))
	for i, ln := range lines {
		out[i] = model.CartLine{ProductID: ln.ProductID, Quantity: ln.Quantity}
	}
	return out
}

func (c *Coordinator) aborted(ctx context.Context, principal string, err error) {
	var sce *ledger.StockChangedError
	if !errors.As(err, &sce) {
		c.metrics.CheckoutOutcome(OutcomeFailed)
		obs.Logger.Warn("checkout_failed", "principal", principal, "error", err)
		return
	}
	products := make([]string, len(sce.Lines))
	for i, ln := range sce.Lines {
		products[i] = ln.ProductID
	}
	c.metrics.CheckoutOutcome(OutcomeStockChanged)
	obs.Logger.Info("checkout_stock_changed", "principal", principal, "products", products)
	c.dispatch(ctx, model.CheckoutAborted{Principal: principal, Reason: OutcomeStockChanged, Products: products})
}

func (c *Coordinator) dispatch(ctx context.Context, ev model.DomainEvent) {
	if err := c.dispatcher.Dispatch(ctx, ev); err != nil {
		obs.Logger.Error("event_dispatch_failed", "event", ev.Type(), "error", err)
	}
}
