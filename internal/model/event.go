package model

import "github.com/shopspring/decimal"

// DomainEvent is published after state changes in the engine.
type DomainEvent interface {
	Type() string
	Key() string
}

type OrderPlaced struct {
	OrderID   string          `json:"order_id"`
	Principal string          `json:"principal"`
	Lines     []CartLine      `json:"lines"`
	Total     decimal.Decimal `json:"total"`
}

func (e OrderPlaced) Type() string { return "OrderPlaced" }
func (e OrderPlaced) Key() string  { return e.Principal }

type CheckoutAborted struct {
	Principal string   `json:"principal"`
	Reason    string   `json:"reason"`
	Products  []string `json:"products,omitempty"`
}

func (e CheckoutAborted) Type() string { return "CheckoutAborted" }
func (e CheckoutAborted) Key() string  { return e.Principal }

type CartCleared struct {
	Principal string `json:"principal"`
	Released  int    `json:"released_lines"`
}

func (e CartCleared) Type() string { return "CartCleared" }
func (e CartCleared) Key() string  { return e.Principal }

// ReservationsRevoked is raised when an admin stock edit drops below the
// reserved total of a product.
type ReservationsRevoked struct {
	ProductID  string   `json:"product_id"`
	Principals []string `json:"principals"`
}

func (e ReservationsRevoked) Type() string { return "ReservationsRevoked" }
func (e ReservationsRevoked) Key() string  { return e.ProductID }
