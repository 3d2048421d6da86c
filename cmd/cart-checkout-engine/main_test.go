package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSeedNormalizesEvents(t *testing.T) {
	path := writeSeed(t, `[{"product_id":" book ","price":"12.5","tax_category":"Reduced","stock":3}]`)
	evs, err := loadSeed(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(evs) != 1 || evs[0].ProductID != "book" || *evs[0].TaxCategory != model.TaxReduced || *evs[0].Stock != 3 {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestLoadSeedRejectsInvalidEvents(t *testing.T) {
	cases := map[string]string{
		"unknown_tax_category": `[{"product_id":"a","tax_category":"Electronics"}]`,
		"negative_stock":       `[{"product_id":"a"},{"product_id":"b","stock":-1}]`,
		"missing_product_id":   `[{"price":1}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadSeed(writeSeed(t, body))
			if err == nil || !strings.Contains(err.Error(), "seed event") {
				t.Fatalf("expected seed event error, got %v", err)
			}
		})
	}
}
