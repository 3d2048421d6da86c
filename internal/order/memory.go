package order

import (
	"context"
	"slices"
	"sync"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
)

// MemoryStore keeps orders in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	byID        map[string]model.Order
	byPrincipal map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]model.Order), byPrincipal: make(map[string][]string)}
}

func (s *MemoryStore) Append(_ context.Context, o model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; ok {
		return ErrDuplicateOrder
	}
	o.Lines = slices.Clone(o.Lines)
	s.byID[o.ID] = o
	s.byPrincipal[o.Principal] = append(s.byPrincipal[o.Principal], o.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, principal, id string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok || o.Principal != principal {
		return model.Order{}, ErrOrderNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return o, nil
}

func (s *MemoryStore) List(_ context.Context, principal string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byPrincipal[principal]
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		o := s.byID[id]
		o.Lines = slices.Clone(o.Lines)
		out = append(out, o)
	}
	return out, nil
}

func (s *MemoryStore) Latest(_ context.Context, principal string) (model.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byPrincipal[principal]
	if len(ids) == 0 {
		return model.Order{}, false, nil
	}
	o := s.byID[ids[len(ids)-1]]
	o.Lines = slices.Clone(o.Lines)
	return o, true, nil
}
