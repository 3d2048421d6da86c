package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cart-checkout-engine/internal/catalog"
	"github.com/fairyhunter13/cart-checkout-engine/internal/ledger"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
	"github.com/fairyhunter13/cart-checkout-engine/internal/pricing"
)

type recorder struct {
	mu  sync.Mutex
	got []model.DomainEvent
}

func (r *recorder) Dispatch(_ context.Context, ev model.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	svc     *Service
	ledger  *ledger.Ledger
	catalog *catalog.Store
	events  *recorder
	metrics *obs.Metrics
}

func setup(t *testing.T, stock map[string]int64) *env {
	t.Helper()
	cat := catalog.New()
	for id, qty := range stock {
		cat.Put(model.Product{ProductID: id, DisplayName: id, UnitPrice: d("10"), TaxCategory: model.TaxStandard, StockQuantity: qty})
	}
	l := ledger.New(cat, time.Second)
	engine := pricing.New(pricing.Config{
		Rates:                 map[model.TaxCategory]decimal.Decimal{model.TaxStandard: d("0.21"), model.TaxReduced: d("0.10")},
		FreeShippingThreshold: d("1000"),
		FlatShippingFee:       d("15"),
	})
	e := &env{ledger: l, catalog: cat, events: &recorder{}, metrics: obs.NewMetrics()}
	e.svc = NewService(NewStore(), l, cat, engine, e.events, e.metrics)
	return e
}

func (e *env) reservation(t *testing.T, id, principal string) int64 {
	t.Helper()
	qty, err := e.ledger.Reservation(context.Background(), id, principal)
	require.NoError(t, err)
	return qty
}

func (e *env) lines(t *testing.T, principal string) []model.CartLine {
	t.Helper()
	v, err := e.svc.View(principal)
	require.NoError(t, err)
	return v.Lines
}

func TestAddItem(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 10})

	t.Run("Merges repeated adds", func(t *testing.T) {
		_, err := e.svc.AddItem(ctx, "alice", "a", 2)
		require.NoError(t, err)
		q, err := e.svc.AddItem(ctx, "alice", "a", 3)
		require.NoError(t, err)
		assert.Equal(t, []model.CartLine{{ProductID: "a", Quantity: 5}}, e.lines(t, "alice"))
		assert.EqualValues(t, 5, e.reservation(t, "a", "alice"))
		assert.True(t, q.Subtotal.Equal(d("50")))
	})

	t.Run("Insufficient stock leaves cart unchanged", func(t *testing.T) {
		_, err := e.svc.AddItem(ctx, "alice", "a", 6)
		var ise *ledger.InsufficientStockError
		require.ErrorAs(t, err, &ise)
		assert.EqualValues(t, 5, ise.Available)
		assert.Equal(t, []model.CartLine{{ProductID: "a", Quantity: 5}}, e.lines(t, "alice"))
		assert.EqualValues(t, 5, e.reservation(t, "a", "alice"))
		assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.StockRejections.WithLabelValues("add_item")))
	})

	t.Run("Validation", func(t *testing.T) {
		_, err := e.svc.AddItem(ctx, "", "a", 1)
		assert.ErrorIs(t, err, ErrPrincipalRequired)
		_, err = e.svc.AddItem(ctx, "alice", "a", 0)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
		_, err = e.svc.AddItem(ctx, "alice", "missing", 1)
		assert.ErrorIs(t, err, ledger.ErrProductNotFound)
	})
}

func TestAddItemAfterRevocationRestoresReservation(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 10})

	_, err := e.svc.AddItem(ctx, "alice", "a", 3)
	require.NoError(t, err)
	revoked, err := e.ledger.SetStock(ctx, "a", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, revoked)
	assert.EqualValues(t, 0, e.reservation(t, "a", "alice"))

	_, err = e.svc.AddItem(ctx, "alice", "a", 1)
	var ise *ledger.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.EqualValues(t, 1, ise.Requested)
	assert.EqualValues(t, 0, ise.Available)
	assert.Equal(t, []model.CartLine{{ProductID: "a", Quantity: 3}}, e.lines(t, "alice"))

	_, err = e.ledger.SetStock(ctx, "a", 10, 0)
	require.NoError(t, err)
	_, err = e.svc.AddItem(ctx, "alice", "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []model.CartLine{{ProductID: "a", Quantity: 4}}, e.lines(t, "alice"))
	assert.EqualValues(t, 4, e.reservation(t, "a", "alice"))

	lv, err := e.ledger.Level(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 4, lv.Reserved)
	assert.EqualValues(t, 6, lv.Available)
}

func TestSnapshotUsesLiveCatalog(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 10})

	lines, err := e.svc.Snapshot("nobody")
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = e.svc.AddItem(ctx, "alice", "a", 2)
	require.NoError(t, err)
	price := d("12.5")
	e.catalog.Apply(model.Event{ProductID: "a", Price: &price, Sequence: 1})

	lines, err = e.svc.Snapshot("alice")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 2, lines[0].Quantity)
	assert.True(t, lines[0].UnitPrice.Equal(price))
}

func TestSetQuantityIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 10})
	_, err := e.svc.AddItem(ctx, "alice", "a", 2)
	require.NoError(t, err)

	for range 3 {
		_, err := e.svc.SetQuantity(ctx, "alice", "a", 7)
		require.NoError(t, err)
	}
	assert.Equal(t, []model.CartLine{{ProductID: "a", Quantity: 7}}, e.lines(t, "alice"))
	assert.EqualValues(t, 7, e.reservation(t, "a", "alice"))

	_, err = e.svc.SetQuantity(ctx, "alice", "a", 11)
	var ise *ledger.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.EqualValues(t, 10, ise.Available)
	assert.EqualValues(t, 7, e.reservation(t, "a", "alice"))

	_, err = e.svc.SetQuantity(ctx, "alice", "a", 0)
	require.NoError(t, err)
	assert.Empty(t, e.lines(t, "alice"))
	assert.EqualValues(t, 0, e.reservation(t, "a", "alice"))

	_, err = e.svc.SetQuantity(ctx, "alice", "a", -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestRemoveItemIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 10, "b": 10})
	_, err := e.svc.AddItem(ctx, "alice", "a", 2)
	require.NoError(t, err)
	_, err = e.svc.AddItem(ctx, "alice", "b", 1)
	require.NoError(t, err)

	for range 2 {
		_, err := e.svc.RemoveItem(ctx, "alice", "a")
		require.NoError(t, err)
	}
	assert.Equal(t, []model.CartLine{{ProductID: "b", Quantity: 1}}, e.lines(t, "alice"))
	assert.EqualValues(t, 0, e.reservation(t, "a", "alice"))

	_, err = e.svc.RemoveItem(ctx, "nobody", "a")
	assert.NoError(t, err)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 10, "b": 10})
	_, err := e.svc.AddItem(ctx, "alice", "a", 2)
	require.NoError(t, err)
	_, err = e.svc.AddItem(ctx, "alice", "b", 4)
	require.NoError(t, err)
	_, err = e.svc.AddItem(ctx, "bob", "a", 1)
	require.NoError(t, err)

	require.NoError(t, e.svc.Clear(ctx, "alice"))
	v, err := e.svc.View("alice")
	require.NoError(t, err)
	assert.Empty(t, v.Lines)
	assert.Equal(t, model.CartClosed, v.State)
	assert.True(t, v.Quote.Total.IsZero())

	lv, err := e.ledger.Level(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, lv.Reserved, "other principals keep their reservations")
	require.Len(t, e.events.got, 1)
	assert.Equal(t, model.CartCleared{Principal: "alice", Released: 2}, e.events.got[0])

	require.NoError(t, e.svc.Clear(ctx, "alice"))
	require.NoError(t, e.svc.Clear(ctx, "nobody"))
	assert.Len(t, e.events.got, 1, "clearing an empty cart raises nothing")

	_, err = e.svc.AddItem(ctx, "alice", "a", 1)
	require.NoError(t, err)
	v, _ = e.svc.View("alice")
	assert.Equal(t, model.CartOpen, v.State, "a closed cart reopens on edit")
}

func TestFinalizingRejectsEdits(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 10})
	_, err := e.svc.AddItem(ctx, "alice", "a", 2)
	require.NoError(t, err)

	lines, version, err := e.svc.BeginFinalize("alice")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].UnitPrice.Equal(d("10")))

	_, _, err = e.svc.BeginFinalize("alice")
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	_, err = e.svc.AddItem(ctx, "alice", "a", 1)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	_, err = e.svc.SetQuantity(ctx, "alice", "a", 1)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	_, err = e.svc.RemoveItem(ctx, "alice", "a")
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	require.NoError(t, e.svc.MarkCommitting("alice", version))
	assert.ErrorIs(t, e.svc.Clear(ctx, "alice"), ErrCheckoutInProgress)

	e.svc.AbortFinalize("alice")
	v, err := e.svc.View("alice")
	require.NoError(t, err)
	assert.Equal(t, model.CartOpen, v.State)
	assert.Equal(t, []model.CartLine{{ProductID: "a", Quantity: 2}}, v.Lines)
	assert.EqualValues(t, 2, e.reservation(t, "a", "alice"))
}

func TestClearBeforeCommitCancelsFinalize(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 10})
	_, err := e.svc.AddItem(ctx, "alice", "a", 2)
	require.NoError(t, err)

	_, version, err := e.svc.BeginFinalize("alice")
	require.NoError(t, err)
	require.NoError(t, e.svc.Clear(ctx, "alice"))
	assert.ErrorIs(t, e.svc.MarkCommitting("alice", version), ErrCartChanged)
	assert.EqualValues(t, 0, e.reservation(t, "a", "alice"))
}

func TestCompleteFinalizeClosesCart(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 10})
	_, err := e.svc.AddItem(ctx, "alice", "a", 2)
	require.NoError(t, err)
	_, version, err := e.svc.BeginFinalize("alice")
	require.NoError(t, err)
	require.NoError(t, e.svc.MarkCommitting("alice", version))
	require.NoError(t, e.ledger.CommitAll(ctx, "alice", []model.CartLine{{ProductID: "a", Quantity: 2}}))
	require.NoError(t, e.svc.CompleteFinalize(ctx, "alice", "order-1"))

	id, ok := e.svc.LastOrder("alice")
	assert.True(t, ok)
	assert.Equal(t, "order-1", id)

	_, _, err = e.svc.BeginFinalize("alice")
	assert.ErrorIs(t, err, ErrCartEmpty)

	_, err = e.svc.AddItem(ctx, "alice", "a", 1)
	require.NoError(t, err)
	_, ok = e.svc.LastOrder("alice")
	assert.False(t, ok, "an edit forgets the closing order")
}

// Lines and reservations must agree after any interleaving of edits.
func TestConcurrentEditsKeepCartAndLedgerInStep(t *testing.T) {
	ctx := context.Background()
	e := setup(t, map[string]int64{"a": 20, "b": 20})
	principals := []string{"p1", "p2", "p3", "p4"}

	var wg sync.WaitGroup
	for i, p := range principals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				id := []string{"a", "b"}[(i+j)%2]
				var err error
				switch j % 4 {
				case 0:
					_, err = e.svc.AddItem(ctx, p, id, 3)
				case 1:
					_, err = e.svc.SetQuantity(ctx, p, id, int64(j%6))
				case 2:
					_, err = e.svc.RemoveItem(ctx, p, id)
				case 3:
					err = e.svc.Clear(ctx, p)
				}
				var ise *ledger.InsufficientStockError
				if err != nil && !errors.As(err, &ise) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		var total int64
		for _, p := range principals {
			var inCart int64
			for _, ln := range e.lines(t, p) {
				if ln.ProductID == id {
					inCart = ln.Quantity
				}
			}
			reserved := e.reservation(t, id, p)
			assert.Equal(t, inCart, reserved, "principal %s product %s", p, id)
			total += reserved
		}
		lv, err := e.ledger.Level(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, total, lv.Reserved)
		assert.GreaterOrEqual(t, lv.Available, int64(0))
	}
}
