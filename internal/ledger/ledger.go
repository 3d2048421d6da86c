// Package ledger implements the stock ledger: the record of which units of a
// product are reserved by which principal.
//
// Every mutation of a product's reservations or on-hand stock runs under that
// product's exclusive lock, and no operation may leave
// stock - Σ reservations below zero. Lock acquisition is bounded by the
// ledger's lock timeout; callers get ErrLockTimeout instead of waiting forever.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
)

// Catalog is the subset of the catalog store the ledger reads and writes.
type Catalog interface {
	Get(id string) (model.Product, bool)
	SetStock(id string, qty int64) bool
}

// Level is a point-in-time view of one product's stock.
type Level struct {
	ProductID string `json:"product_id"`
	OnHand    int64  `json:"stock"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
}

type slot struct {
	sem          *semaphore.Weighted
	reservations map[string]int64
	reserved     int64
	stockSeq     uint64
}

// Ledger tracks reservations per (product, principal).
type Ledger struct {
	catalog     Catalog
	lockTimeout time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

// New returns a Ledger over catalog. A non-positive lockTimeout leaves lock
// acquisition bounded only by the caller's context.
func New(catalog Catalog, lockTimeout time.Duration) *Ledger {
	return &Ledger{catalog: catalog, lockTimeout: lockTimeout, slots: make(map[string]*slot)}
}

func (l *Ledger) slot(id string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1), reservations: make(map[string]int64)}
		l.slots[id] = s
	}
	return s
}

func (l *Ledger) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.lockTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.lockTimeout)
}

func (l *Ledger) acquireWith(ctx context.Context, id string) (*slot, error) {
	s := l.slot(id)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: product %s: %w", ErrLockTimeout, id, err)
	}
	return s, nil
}

func (l *Ledger) acquire(ctx context.Context, id string) (*slot, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	return l.acquireWith(ctx, id)
}

func (s *slot) release() { s.sem.Release(1) }

func available(p model.Product, s *slot) int64 {
	return max(p.StockQuantity-s.reserved, 0)
}

// Reserve holds quantity more units of productID for principal, adding to any
// existing reservation.
func (l *Ledger) Reserve(ctx context.Context, productID, principal string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	s, err := l.acquire(ctx, productID)
	if err != nil {
		return err
	}
	defer s.release()
	p, ok := l.catalog.Get(productID)
	if !ok {
		return ErrProductNotFound
	}
	if avail := available(p, s); quantity > avail {
		return &InsufficientStockError{ProductID: productID, Requested: quantity, Available: avail}
	}
	s.reservations[principal] += quantity
	s.reserved += quantity
	return nil
}

// Release drops principal's reservation on productID. Releasing a missing
// reservation is a no-op.
func (l *Ledger) Release(ctx context.Context, productID, principal string) error {
	s, err := l.acquire(ctx, productID)
	if err != nil {
		return err
	}
	defer s.release()
	if qty, ok := s.reservations[principal]; ok {
		delete(s.reservations, principal)
		s.reserved -= qty
	}
	return nil
}

// Adjust sets principal's reservation on productID to newQuantity. Growth is
// checked against available stock; shrinking always succeeds and zero removes
// the reservation. On InsufficientStockError, Available is the largest
// newQuantity that would have been accepted.
func (l *Ledger) Adjust(ctx context.Context, productID, principal string, newQuantity int64) error {
	if newQuantity < 0 {
		return ErrInvalidQuantity
	}
	s, err := l.acquire(ctx, productID)
	if err != nil {
		return err
	}
	defer s.release()
	cur := s.reservations[principal]
	delta := newQuantity - cur
	if delta > 0 {
		p, ok := l.catalog.Get(productID)
		if !ok {
			return ErrProductNotFound
		}
		if avail := available(p, s); delta > avail {
			return &InsufficientStockError{ProductID: productID, Requested: newQuantity, Available: cur + avail}
		}
	}
	if newQuantity == 0 {
		delete(s.reservations, principal)
	} else {
		s.reservations[principal] = newQuantity
	}
	s.reserved += delta
	return nil
}

// Commit turns principal's reservation on productID into a permanent stock
// decrement and returns the committed quantity.
func (l *Ledger) Commit(ctx context.Context, productID, principal string) (int64, error) {
	s, err := l.acquire(ctx, productID)
	if err != nil {
		return 0, err
	}
	defer s.release()
	qty, ok := s.reservations[principal]
	if !ok {
		return 0, &StockChangedError{Lines: []AffectedLine{{ProductID: productID}}}
	}
	p, ok := l.catalog.Get(productID)
	if !ok || p.StockQuantity < qty {
		obs.Logger.Error("ledger_consistency_violation", "product_id", productID, "principal", principal, "reserved", qty)
		return 0, fmt.Errorf("%w: product %s", ErrConsistencyViolation, productID)
	}
	l.catalog.SetStock(productID, p.StockQuantity-qty)
	delete(s.reservations, principal)
	s.reserved -= qty
	return qty, nil
}

// CommitAll commits every line of a cart as one unit. It locks all involved
// products in id order, verifies that each reservation equals the line
// quantity and only then applies the commits. A *StockChangedError means
// nothing was applied.
func (l *Ledger) CommitAll(ctx context.Context, principal string, lines []model.CartLine) error {
	ids := make([]string, 0, len(lines))
	for _, ln := range lines {
		ids = append(ids, ln.ProductID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	lctx, cancel := l.bounded(ctx)
	defer cancel()
	held := make(map[string]*slot, len(ids))
	defer func() {
		for _, s := range held {
			s.release()
		}
	}()
	for _, id := range ids {
		s, err := l.acquireWith(lctx, id)
		if err != nil {
			return err
		}
		held[id] = s
	}

	products := make(map[string]model.Product, len(ids))
	var affected []AffectedLine
	for _, ln := range lines {
		s := held[ln.ProductID]
		reserved := s.reservations[principal]
		p, ok := l.catalog.Get(ln.ProductID)
		if !ok || ln.Quantity <= 0 || reserved != ln.Quantity {
			affected = append(affected, AffectedLine{
				ProductID: ln.ProductID,
				Expected:  ln.Quantity,
				Reserved:  reserved,
				Available: available(p, s),
			})
			continue
		}
		products[ln.ProductID] = p
	}
	if len(affected) > 0 {
		return &StockChangedError{Lines: affected}
	}

	newStock := make(map[string]int64, len(lines))
	for _, ln := range lines {
		remaining := products[ln.ProductID].StockQuantity - ln.Quantity
		if remaining < 0 {
			obs.Logger.Error("ledger_consistency_violation",
				"principal", principal,
				"product_id", ln.ProductID,
				"stock", products[ln.ProductID].StockQuantity,
				"quantity", ln.Quantity,
				"lines", lines,
			)
			return fmt.Errorf("%w: product %s", ErrConsistencyViolation, ln.ProductID)
		}
		newStock[ln.ProductID] = remaining
	}
	for _, ln := range lines {
		s := held[ln.ProductID]
		// products are never removed from the catalog, so this cannot miss
		l.catalog.SetStock(ln.ProductID, newStock[ln.ProductID])
		delete(s.reservations, principal)
		s.reserved -= ln.Quantity
	}
	return nil
}

// SetStock applies an administrative on-hand stock edit. Edits carrying a
// sequence not newer than the last applied one are ignored; seq 0 always
// applies. When the new stock cannot cover the reserved total, every
// reservation on the product is revoked and the affected principals are
// returned.
func (l *Ledger) SetStock(ctx context.Context, productID string, quantity int64, seq uint64) ([]string, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	s, err := l.acquire(ctx, productID)
	if err != nil {
		return nil, err
	}
	defer s.release()
	if seq != 0 && seq <= s.stockSeq {
		return nil, nil
	}
	if _, ok := l.catalog.Get(productID); !ok {
		return nil, ErrProductNotFound
	}
	var revoked []string
	if quantity < s.reserved {
		for principal := range s.reservations {
			revoked = append(revoked, principal)
		}
		sort.Strings(revoked)
		clear(s.reservations)
		s.reserved = 0
		obs.Logger.Warn("stock_reservations_revoked", "product_id", productID, "stock", quantity, "principals", revoked)
	}
	l.catalog.SetStock(productID, quantity)
	if seq != 0 {
		s.stockSeq = seq
	}
	return revoked, nil
}

// Reservation returns principal's reserved quantity of productID.
func (l *Ledger) Reservation(ctx context.Context, productID, principal string) (int64, error) {
	s, err := l.acquire(ctx, productID)
	if err != nil {
		return 0, err
	}
	defer s.release()
	return s.reservations[principal], nil
}

// Level returns the on-hand, reserved and available stock of productID.
func (l *Ledger) Level(ctx context.Context, productID string) (Level, error) {
	s, err := l.acquire(ctx, productID)
	if err != nil {
		return Level{}, err
	}
	defer s.release()
	p, ok := l.catalog.Get(productID)
	if !ok {
		return Level{}, ErrProductNotFound
	}
	return Level{
		ProductID: productID,
		OnHand:    p.StockQuantity,
		Reserved:  s.reserved,
		Available: available(p, s),
	}, nil
}
