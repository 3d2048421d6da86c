// Package httpapi exposes the cart, checkout and catalog operations over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/cart-checkout-engine/internal/cart"
	"github.com/fairyhunter13/cart-checkout-engine/internal/checkout"
	"github.com/fairyhunter13/cart-checkout-engine/internal/ledger"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
	"github.com/fairyhunter13/cart-checkout-engine/internal/order"
)

// jsonError is the body of every non-2xx response. The stock fields are
// set only for insufficient_stock and stock_changed.
type jsonError struct {
	Error         string                `json:"error"`
	Details       string                `json:"details,omitempty"`
	ProductID     string                `json:"product_id,omitempty"`
	Requested     *int64                `json:"requested,omitempty"`
	Available     *int64                `json:"available,omitempty"`
	AffectedLines []ledger.AffectedLine `json:"affected_lines,omitempty"`
}

// WriteJSONError writes a JSON error payload with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, jsonError{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps engine errors to status codes and error codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ise *ledger.InsufficientStockError
	var sce *ledger.StockChangedError
	switch {
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, jsonError{
			Error:     "insufficient_stock",
			Details:   err.Error(),
			ProductID: ise.ProductID,
			Requested: &ise.Requested,
			Available: &ise.Available,
		})
	case errors.As(err, &sce):
		writeJSON(w, http.StatusConflict, jsonError{
			Error:         "stock_changed",
			Details:       "some items changed, please review your cart",
			AffectedLines: sce.Lines,
		})
	case errors.Is(err, cart.ErrCartEmpty):
		WriteJSONError(w, http.StatusUnprocessableEntity, "cart_empty", "nothing to finalize")
	case errors.Is(err, cart.ErrCheckoutInProgress):
		WriteJSONError(w, http.StatusConflict, "checkout_in_progress", err.Error())
	case errors.Is(err, checkout.ErrCheckoutCancelled):
		WriteJSONError(w, http.StatusConflict, "checkout_cancelled", err.Error())
	case errors.Is(err, ledger.ErrLockTimeout):
		WriteJSONError(w, http.StatusServiceUnavailable, "lock_timeout", "try again")
	case errors.Is(err, ledger.ErrProductNotFound), errors.Is(err, order.ErrOrderNotFound):
		WriteJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidQuantity):
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, cart.ErrPrincipalRequired):
		WriteJSONError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	default:
		obs.Logger.Error("request_failed", "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
