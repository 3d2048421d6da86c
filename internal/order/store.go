// Package order persists the immutable orders produced by checkout.
package order

import (
	"context"
	"errors"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already exists")
)

// Store is the append-only order log. Orders are never updated or deleted,
// and every read is scoped to the owning principal.
type Store interface {
	Append(ctx context.Context, o model.Order) error
	Get(ctx context.Context, principal, id string) (model.Order, error)
	// List returns the principal's orders oldest first.
	List(ctx context.Context, principal string) ([]model.Order, error)
	Latest(ctx context.Context, principal string) (model.Order, bool, error)
}
