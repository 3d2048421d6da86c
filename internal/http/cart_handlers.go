package httpapi

import (
	"net/http"
	"strings"
)

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity *int64 `json:"quantity"`
}

// principal returns the caller identity, writing a 401 when it is missing.
func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := strings.TrimSpace(r.Header.Get(PrincipalHeader))
	if p == "" {
		WriteJSONError(w, http.StatusUnauthorized, "unauthenticated", PrincipalHeader+" header is required")
		return "", false
	}
	return p, true
}

// writeCart responds with the principal's cart after a mutation so clients
// can reconcile any optimistic state.
func (a *App) writeCart(w http.ResponseWriter, r *http.Request, who string) {
	v, err := a.Carts.View(who)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *App) getCartHandler(w http.ResponseWriter, r *http.Request) {
	who, ok := principal(w, r)
	if !ok {
		return
	}
	a.writeCart(w, r, who)
}

func (a *App) addItemHandler(w http.ResponseWriter, r *http.Request) {
	who, ok := principal(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "product_id is required")
		return
	}
	if _, err := a.Carts.AddItem(r.Context(), who, req.ProductID, req.Quantity); err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.writeCart(w, r, who)
}

func (a *App) setQuantityHandler(w http.ResponseWriter, r *http.Request) {
	who, ok := principal(w, r)
	if !ok {
		return
	}
	var req setQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Quantity == nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "quantity is required")
		return
	}
	if _, err := a.Carts.SetQuantity(r.Context(), who, r.PathValue("productID"), *req.Quantity); err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.writeCart(w, r, who)
}

func (a *App) removeItemHandler(w http.ResponseWriter, r *http.Request) {
	who, ok := principal(w, r)
	if !ok {
		return
	}
	if _, err := a.Carts.RemoveItem(r.Context(), who, r.PathValue("productID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.writeCart(w, r, who)
}

func (a *App) clearCartHandler(w http.ResponseWriter, r *http.Request) {
	who, ok := principal(w, r)
	if !ok {
		return
	}
	if err := a.Carts.Clear(r.Context(), who); err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.writeCart(w, r, who)
}
