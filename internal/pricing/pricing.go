// Package pricing computes cart quotes: subtotal, per-line tax, shipping and total.
//
// Quote is a pure function of its input lines and the engine configuration.
// No rounding is applied; presentation rounding belongs to the caller.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/cart-checkout-engine/internal/config"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
)

// Basis selects what the free-shipping threshold is compared against.
type Basis string

const (
	BasisPostTax  Basis = config.BasisPostTax
	BasisSubtotal Basis = config.BasisSubtotal
)

// Config is the rate table and shipping rule of an Engine.
type Config struct {
	Rates                 map[model.TaxCategory]decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	Basis                 Basis
}

// ConfigFrom builds the pricing configuration from service configuration.
func ConfigFrom(c config.Config) (Config, error) {
	basis := Basis(c.ThresholdBasis)
	if basis != BasisPostTax && basis != BasisSubtotal {
		return Config{}, fmt.Errorf("unknown shipping threshold basis %q", c.ThresholdBasis)
	}
	return Config{
		Rates: map[model.TaxCategory]decimal.Decimal{
			model.TaxStandard: c.TaxRateStandard,
			model.TaxReduced:  c.TaxRateReduced,
		},
		FreeShippingThreshold: c.FreeShippingThreshold,
		FlatShippingFee:       c.FlatShippingFee,
		Basis:                 basis,
	}, nil
}

// LineQuote is the priced breakdown of one line.
type LineQuote struct {
	ProductID   string            `json:"product_id"`
	Name        string            `json:"name"`
	Quantity    int64             `json:"quantity"`
	UnitPrice   decimal.Decimal   `json:"unit_price"`
	TaxCategory model.TaxCategory `json:"tax_category"`
	TaxRate     decimal.Decimal   `json:"tax_rate"`
	Net         decimal.Decimal   `json:"net"`
	Tax         decimal.Decimal   `json:"tax"`
}

// Quote is the result of pricing a set of lines.
type Quote struct {
	Lines        []LineQuote                           `json:"lines"`
	Subtotal     decimal.Decimal                       `json:"subtotal"`
	TaxBreakdown map[model.TaxCategory]decimal.Decimal `json:"tax_breakdown"`
	Tax          decimal.Decimal                       `json:"tax"`
	Shipping     decimal.Decimal                       `json:"shipping"`
	Total        decimal.Decimal                       `json:"total"`
}

// Engine prices cart lines.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	if cfg.Basis == "" {
		cfg.Basis = BasisPostTax
	}
	return &Engine{cfg: cfg}
}

// Rate returns the tax rate of category. Unknown categories are taxed at the
// standard rate.
func (e *Engine) Rate(category model.TaxCategory) decimal.Decimal {
	if r, ok := e.cfg.Rates[category]; ok {
		return r
	}
	return e.cfg.Rates[model.TaxStandard]
}

// Quote prices lines. Tax is computed per line so that carts mixing
// categories are never taxed at a blended rate.
func (e *Engine) Quote(lines []model.PricedLine) Quote {
	q := Quote{
		Lines:        make([]LineQuote, 0, len(lines)),
		Subtotal:     decimal.Zero,
		TaxBreakdown: make(map[model.TaxCategory]decimal.Decimal),
		Tax:          decimal.Zero,
		Shipping:     decimal.Zero,
	}
	for _, ln := range lines {
		rate := e.Rate(ln.TaxCategory)
		net := ln.UnitPrice.Mul(decimal.NewFromInt(ln.Quantity))
		tax := net.Mul(rate)
		q.Lines = append(q.Lines, LineQuote{
			ProductID:   ln.ProductID,
			Name:        ln.DisplayName,
			Quantity:    ln.Quantity,
			UnitPrice:   ln.UnitPrice,
			TaxCategory: ln.TaxCategory,
			TaxRate:     rate,
			Net:         net,
			Tax:         tax,
		})
		q.Subtotal = q.Subtotal.Add(net)
		q.Tax = q.Tax.Add(tax)
		q.TaxBreakdown[ln.TaxCategory] = q.TaxBreakdown[ln.TaxCategory].Add(tax)
	}
	if len(lines) > 0 {
		q.Shipping = e.shipping(q.Subtotal, q.Tax)
	}
	q.Total = q.Subtotal.Add(q.Tax).Add(q.Shipping)
	return q
}

func (e *Engine) shipping(subtotal, tax decimal.Decimal) decimal.Decimal {
	basis := subtotal
	if e.cfg.Basis == BasisPostTax {
		basis = subtotal.Add(tax)
	}
	if basis.GreaterThanOrEqual(e.cfg.FreeShippingThreshold) {
		return decimal.Zero
	}
	return e.cfg.FlatShippingFee
}
