package carts

import (
	"fmt"
	"sort"
	"strings"
)

// VariantKey derives the canonical identity of a cart line: product id plus
// size/color plus every named variant selection. Two additions of the same
// product with the same options always produce the same key, so they merge
// instead of duplicating.
//
// Selections are sorted by name before joining, so the key does not depend on
// the order the options were picked in. A nil variants slice and an empty one
// produce the same key.
func VariantKey(line CartLine) string {
	var b strings.Builder

	fmt.Fprintf(&b, "p:%d", line.ProductID)
	if line.SizeLabel != nil && *line.SizeLabel != "" {
		fmt.Fprintf(&b, "|s:%s", strings.TrimSpace(*line.SizeLabel))
	}
	if line.ColorLabel != nil && *line.ColorLabel != "" {
		fmt.Fprintf(&b, "|c:%s", strings.TrimSpace(*line.ColorLabel))
	}

	if len(line.Variants) == 0 {
		return b.String()
	}

	parts := make([]string, 0, len(line.Variants))
	for _, v := range line.Variants {
		parts = append(parts, strings.TrimSpace(v.Name)+"="+strings.TrimSpace(v.Option))
	}
	sort.Strings(parts)

	b.WriteString("|v:")
	b.WriteString(strings.Join(parts, ","))
	return b.String()
}
