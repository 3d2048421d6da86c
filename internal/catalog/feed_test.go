package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
)

type stubLedger struct {
	store   *Store
	revoke  []string
	err     error
	calls   int
	lastSeq uint64
}

func (l *stubLedger) SetStock(_ context.Context, id string, qty int64, seq uint64) ([]string, error) {
	l.calls++
	l.lastSeq = seq
	if l.err != nil {
		return nil, l.err
	}
	l.store.SetStock(id, qty)
	return l.revoke, nil
}

type recorder struct{ got []model.DomainEvent }

func (r *recorder) Dispatch(_ context.Context, ev model.DomainEvent) error {
	r.got = append(r.got, ev)
	return nil
}

func TestFeedRoutesStockThroughLedger(t *testing.T) {
	st := New()
	l := &stubLedger{store: st}
	f := NewFeed(st, l, nil, nil)

	price := decimal.NewFromInt(10)
	stock := int64(5)
	if err := f.Apply(context.Background(), model.Event{ProductID: "p1", Price: &price, Stock: &stock, Sequence: 1}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	p, ok := st.Get("p1")
	if !ok || p.StockQuantity != 5 || !p.UnitPrice.Equal(price) {
		t.Fatalf("unexpected product %+v", p)
	}
	if l.calls != 1 || l.lastSeq != 1 {
		t.Fatalf("ledger calls=%d seq=%d", l.calls, l.lastSeq)
	}

	name := "Widget"
	if err := f.Apply(context.Background(), model.Event{ProductID: "p1", Name: &name, Sequence: 2}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if l.calls != 1 {
		t.Fatalf("event without stock must not reach the ledger")
	}
}

func TestFeedDispatchesRevocations(t *testing.T) {
	st := New()
	rec := &recorder{}
	f := NewFeed(st, &stubLedger{store: st, revoke: []string{"alice", "bob"}}, rec, nil)

	stock := int64(1)
	if err := f.Apply(context.Background(), model.Event{ProductID: "p1", Stock: &stock, Sequence: 1}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(rec.got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(rec.got))
	}
	ev, ok := rec.got[0].(model.ReservationsRevoked)
	if !ok || ev.ProductID != "p1" || len(ev.Principals) != 2 {
		t.Fatalf("unexpected event %#v", rec.got[0])
	}
}

func TestFeedErrors(t *testing.T) {
	st := New()
	boom := errors.New("lock timeout")
	f := NewFeed(st, &stubLedger{store: st, err: boom}, nil, nil)

	if err := f.Apply(context.Background(), model.Event{}); !errors.Is(err, ErrProductIDRequired) {
		t.Fatalf("expected ErrProductIDRequired, got %v", err)
	}
	stock := int64(3)
	if err := f.Apply(context.Background(), model.Event{ProductID: "p1", Stock: &stock, Sequence: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected ledger error, got %v", err)
	}
}
