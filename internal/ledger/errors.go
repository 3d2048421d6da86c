package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrLockTimeout          = errors.New("timed out waiting for product lock")
	ErrConsistencyViolation = errors.New("stock ledger consistency violation")
)

// InsufficientStockError reports a reservation the ledger could not satisfy.
// Available is the largest quantity the same call would have accepted.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// AffectedLine describes one line whose reservation no longer matches the cart.
type AffectedLine struct {
	ProductID string `json:"product_id"`
	Expected  int64  `json:"expected"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
}

// StockChangedError is returned by CommitAll when verification fails. No
// commit has been applied when it is returned.
type StockChangedError struct {
	Lines []AffectedLine
}

func (e *StockChangedError) Error() string {
	ids := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		ids[i] = l.ProductID
	}
	return "stock changed for products: " + strings.Join(ids, ", ")
}
