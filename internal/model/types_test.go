package model

import (
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskedKeepsLastFourCharacters(t *testing.T) {
	cases := map[string]string{
		"tok_12345678": "********5678",
		"abcd":         "abcd",
		"":             "",
		"ключ-оплаты":  "*******латы",
	}
	for in, want := range cases {
		got := Order{PaymentToken: in}.Masked().PaymentToken
		assert.Equal(t, want, got, "token %q", in)
		assert.True(t, utf8.ValidString(got))
	}
	o := Order{PaymentToken: "secret-token"}
	_ = o.Masked()
	assert.Equal(t, "secret-token", o.PaymentToken, "Masked works on a copy")
}

func TestEventNormalize(t *testing.T) {
	cat := TaxCategory(" REDUCED ")
	ev := Event{ProductID: "  p-1 ", TaxCategory: &cat}
	require.NoError(t, ev.Normalize())
	assert.Equal(t, "p-1", ev.ProductID)
	assert.Equal(t, TaxReduced, *ev.TaxCategory)

	neg := decimal.NewFromInt(-1)
	stock := int64(-2)
	bad := TaxCategory("electronics")
	for _, ev := range []Event{
		{ProductID: " "},
		{ProductID: "p", Price: &neg},
		{ProductID: "p", Stock: &stock},
		{ProductID: "p", TaxCategory: &bad},
	} {
		assert.Error(t, ev.Normalize(), "%+v", ev)
	}
}
