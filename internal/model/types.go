// Package model defines domain types used by the service.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TaxCategory selects the tax rate applied to a product.
type TaxCategory string

const (
	TaxStandard TaxCategory = "standard"
	TaxReduced  TaxCategory = "reduced"
)

// ParseTaxCategory accepts the category names case-insensitively.
func ParseTaxCategory(s string) (TaxCategory, error) {
	switch TaxCategory(strings.ToLower(strings.TrimSpace(s))) {
	case TaxStandard:
		return TaxStandard, nil
	case TaxReduced:
		return TaxReduced, nil
	}
	return "", fmt.Errorf("unknown tax category %q", s)
}

// Event represents an incoming catalog update event from the admin feed.
type Event struct {
	ProductID   string           `json:"product_id"`
	Name        *string          `json:"name,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	TaxCategory *TaxCategory     `json:"tax_category,omitempty"`
	Stock       *int64           `json:"stock,omitempty"`
	Sequence    uint64           `json:"-"`
}

// Normalize trims the product id and canonicalises the tax category. It
// rejects events the catalog feed cannot apply.
func (ev *Event) Normalize() error {
	ev.ProductID = strings.TrimSpace(ev.ProductID)
	if ev.ProductID == "" {
		return errors.New("product_id is required")
	}
	if ev.Price != nil && ev.Price.IsNegative() {
		return errors.New("price must be >= 0")
	}
	if ev.Stock != nil && *ev.Stock < 0 {
		return errors.New("stock must be >= 0")
	}
	if ev.TaxCategory != nil {
		cat, err := ParseTaxCategory(string(*ev.TaxCategory))
		if err != nil {
			return err
		}
		ev.TaxCategory = &cat
	}
	return nil
}

// Product represents the current catalog record of a product.
type Product struct {
	ProductID     string          `json:"product_id"`
	DisplayName   string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"price"`
	TaxCategory   TaxCategory     `json:"tax_category"`
	StockQuantity int64           `json:"stock"`
}

// CartState is the lifecycle state of a principal's cart.
type CartState string

const (
	CartOpen       CartState = "open"
	CartFinalizing CartState = "finalizing"
	CartClosed     CartState = "closed"
)

// CartLine is one product held in a cart. Its quantity always equals the
// principal's reservation for that product.
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// PricedLine is a cart line joined with live catalog data.
type PricedLine struct {
	ProductID   string
	DisplayName string
	Quantity    int64
	UnitPrice   decimal.Decimal
	TaxCategory TaxCategory
}

// OrderLine is the frozen purchase record of one line.
type OrderLine struct {
	ProductID   string          `json:"product_id" db:"product_id"`
	DisplayName string          `json:"name" db:"display_name"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	TaxCategory TaxCategory     `json:"tax_category" db:"tax_category"`
	TaxRate     decimal.Decimal `json:"tax_rate" db:"tax_rate"`
	Tax         decimal.Decimal `json:"tax" db:"tax"`
}

// Order is an immutable snapshot created by a successful checkout.
type Order struct {
	ID              string          `json:"order_id" db:"id"`
	Principal       string          `json:"principal" db:"principal"`
	Lines           []OrderLine     `json:"lines"`
	ShippingAddress string          `json:"shipping_address" db:"shipping_address"`
	PaymentToken    string          `json:"payment_token" db:"payment_token"`
	Subtotal        decimal.Decimal `json:"subtotal" db:"subtotal"`
	Tax             decimal.Decimal `json:"tax" db:"tax"`
	Shipping        decimal.Decimal `json:"shipping" db:"shipping"`
	Total           decimal.Decimal `json:"total" db:"total"`
	ContentHash     string          `json:"content_hash" db:"content_hash"`
	IdempotencyKey  string          `json:"-" db:"idempotency_key"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// OrderSummary is the list view of an order.
type OrderSummary struct {
	ID        string          `json:"order_id"`
	Total     decimal.Decimal `json:"total"`
	LineCount int             `json:"line_count"`
	ItemCount int64           `json:"item_count"`
	CreatedAt time.Time       `json:"created_at"`
}

// Summary returns the list view of o.
func (o Order) Summary() OrderSummary {
	s := OrderSummary{ID: o.ID, Total: o.Total, LineCount: len(o.Lines), CreatedAt: o.CreatedAt}
	for _, l := range o.Lines {
		s.ItemCount += l.Quantity
	}
	return s
}

// Masked returns a copy of o with the payment token reduced to its last four characters.
func (o Order) Masked() Order {
	tok := []rune(o.PaymentToken)
	if n := len(tok); n > 4 {
		o.PaymentToken = strings.Repeat("*", n-4) + string(tok[n-4:])
	}
	return o
}
