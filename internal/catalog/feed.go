package catalog

import (
	"context"
	"errors"

	"github.com/fairyhunter13/cart-checkout-engine/internal/events"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
)

var ErrProductIDRequired = errors.New("product_id is required")

// StockLedger applies on-hand stock edits under the ledger's product lock.
type StockLedger interface {
	SetStock(ctx context.Context, productID string, quantity int64, seq uint64) ([]string, error)
}

// Feed applies admin catalog events. Descriptive fields go straight to the
// store; stock edits are routed through the ledger so that reservations
// never exceed on-hand stock.
type Feed struct {
	store      *Store
	ledger     StockLedger
	dispatcher events.Dispatcher
	metrics    *obs.Metrics
}

func NewFeed(store *Store, l StockLedger, dispatcher events.Dispatcher, metrics *obs.Metrics) *Feed {
	if dispatcher == nil {
		dispatcher = events.Discard{}
	}
	return &Feed{store: store, ledger: l, dispatcher: dispatcher, metrics: metrics}
}

// Apply merges one event. Events older than the last applied sequence for
// the product are ignored.
func (f *Feed) Apply(ctx context.Context, ev model.Event) error {
	if ev.ProductID == "" {
		return ErrProductIDRequired
	}
	fresh := f.store.Apply(ev)
	if ev.Stock != nil {
		revoked, err := f.ledger.SetStock(ctx, ev.ProductID, *ev.Stock, ev.Sequence)
		if err != nil {
			obs.Logger.Error("catalog_stock_update_failed", "product_id", ev.ProductID, "sequence", ev.Sequence, "error", err)
			return err
		}
		if len(revoked) > 0 {
			rev := model.ReservationsRevoked{ProductID: ev.ProductID, Principals: revoked}
			if err := f.dispatcher.Dispatch(ctx, rev); err != nil {
				obs.Logger.Error("event_dispatch_failed", "event", rev.Type(), "error", err)
			}
		}
	}
	if fresh {
		obs.Logger.Debug("catalog_event_applied", "product_id", ev.ProductID, "sequence", ev.Sequence)
	}
	f.metrics.FeedEventApplied()
	return nil
}
