package httpapi

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/cart-checkout-engine/internal/checkout"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
)

// IdempotencyHeader optionally identifies a checkout attempt across retries.
const IdempotencyHeader = "Idempotency-Key"

type checkoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
	PaymentToken    string `json:"payment_token"`
}

type checkoutResponse struct {
	OrderID  string          `json:"order_id"`
	Total    decimal.Decimal `json:"total"`
	Replayed bool            `json:"replayed"`
	Order    model.Order     `json:"order"`
}

type orderList struct {
	Orders []model.OrderSummary `json:"orders"`
}

func (a *App) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	who, ok := principal(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	req.PaymentToken = strings.TrimSpace(req.PaymentToken)
	if req.ShippingAddress == "" || req.PaymentToken == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "shipping_address and payment_token are required")
		return
	}
	res, err := a.Checkout.Finalize(r.Context(), who, checkout.Request{
		ShippingAddress: req.ShippingAddress,
		PaymentToken:    req.PaymentToken,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, checkoutResponse{
		OrderID:  res.Order.ID,
		Total:    res.Order.Total,
		Replayed: res.Replayed,
		Order:    res.Order.Masked(),
	})
}

func (a *App) cancelCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	who, ok := principal(w, r)
	if !ok {
		return
	}
	if err := a.Checkout.Cancel(r.Context(), who); err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.writeCart(w, r, who)
}

func (a *App) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	who, ok := principal(w, r)
	if !ok {
		return
	}
	orders, err := a.Orders.List(r.Context(), who)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := orderList{Orders: make([]model.OrderSummary, 0, len(orders))}
	for _, o := range orders {
		out.Orders = append(out.Orders, o.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	who, ok := principal(w, r)
	if !ok {
		return
	}
	o, err := a.Orders.Get(r.Context(), who, r.PathValue("orderID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o.Masked())
}
