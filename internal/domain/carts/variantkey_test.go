package carts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strptr(s string) *string { return &s }

func TestVariantKey_OrderInsensitive(t *testing.T) {
	a := CartLine{
		ProductID: 42,
		Variants: []VariantSelection{
			{Name: "Size", Option: "M"},
			{Name: "Color", Option: "Red"},
		},
	}
	b := CartLine{
		ProductID: 42,
		Variants: []VariantSelection{
			{Name: "Color", Option: "Red"},
			{Name: "Size", Option: "M"},
		},
	}

	assert.Equal(t, VariantKey(a), VariantKey(b))
}

func TestVariantKey_NilAndEmptyVariantsEqual(t *testing.T) {
	a := CartLine{ProductID: 7, Variants: nil}
	b := CartLine{ProductID: 7, Variants: []VariantSelection{}}

	assert.Equal(t, VariantKey(a), VariantKey(b))
}

func TestVariantKey_DistinguishesOptions(t *testing.T) {
	base := CartLine{ProductID: 7, SizeLabel: strptr("M")}
	other := CartLine{ProductID: 7, SizeLabel: strptr("L")}

	assert.NotEqual(t, VariantKey(base), VariantKey(other))
}

func TestVariantKey_DistinguishesProducts(t *testing.T) {
	a := CartLine{ProductID: 1, Variants: []VariantSelection{{Name: "Size", Option: "M"}}}
	b := CartLine{ProductID: 2, Variants: []VariantSelection{{Name: "Size", Option: "M"}}}

	assert.NotEqual(t, VariantKey(a), VariantKey(b))
}

func TestVariantKey_IgnoresPriceOverrideAndImage(t *testing.T) {
	price := int64(500)
	a := CartLine{ProductID: 3, Variants: []VariantSelection{{Name: "Trim", Option: "Gold", PriceCentsOverride: &price}}}
	b := CartLine{ProductID: 3, Variants: []VariantSelection{{Name: "Trim", Option: "Gold", ImageURL: strptr("http://img")}}}

	assert.Equal(t, VariantKey(a), VariantKey(b))
}
