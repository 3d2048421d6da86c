// Package catalog holds the product records read by the rest of the engine.
package catalog

import (
	"sort"
	"sync"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
)

type productState struct {
	p            model.Product
	lastSequence uint64
}

// Store is the in-memory Catalog Store. Stock quantities are written only
// through SetStock, which the stock ledger calls under its per-product lock.
type Store struct {
	mu sync.RWMutex
	m  map[string]productState
}

// New returns an empty catalog.
func New() *Store {
	return &Store{m: make(map[string]productState)}
}

// Get returns the product with id and whether it exists.
func (s *Store) Get(id string) (model.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[id]
	if !ok {
		return model.Product{}, false
	}
	return st.p, true
}

// List returns all products ordered by id.
func (s *Store) List() []model.Product {
	s.mu.RLock()
	out := make([]model.Product, 0, len(s.m))
	for _, st := range s.m {
		out = append(out, st.p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Put seeds or replaces a product record outright.
func (s *Store) Put(p model.Product) {
	if p.ProductID == "" {
		return
	}
	if p.TaxCategory == "" {
		p.TaxCategory = model.TaxStandard
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.m[p.ProductID]
	st.p = p
	s.m[p.ProductID] = st
}

// Apply merges the descriptive fields of an admin event (name, price, tax
// category) with last-write-wins ordering by sequence. Stock is not touched
// here. It reports whether the event was newer than the stored state.
func (s *Store) Apply(ev model.Event) bool {
	if ev.ProductID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[ev.ProductID]
	if ok {
		if ev.Sequence <= st.lastSequence {
			return false
		}
		mergeEvent(&st.p, ev)
		st.lastSequence = ev.Sequence
		s.m[ev.ProductID] = st
		return true
	}
	// new entry
	p := model.Product{ProductID: ev.ProductID, TaxCategory: model.TaxStandard}
	mergeEvent(&p, ev)
	s.m[ev.ProductID] = productState{p: p, lastSequence: ev.Sequence}
	return true
}

// SetStock overwrites the on-hand quantity of a known product.
func (s *Store) SetStock(id string, qty int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[id]
	if !ok {
		return false
	}
	st.p.StockQuantity = qty
	s.m[id] = st
	return true
}

func mergeEvent(p *model.Product, ev model.Event) {
	if ev.Name != nil {
		p.DisplayName = *ev.Name
	}
	if ev.Price != nil {
		p.UnitPrice = *ev.Price
	}
	if ev.TaxCategory != nil {
		p.TaxCategory = *ev.TaxCategory
	}
}
