package carts

// Pure line-set edits. Every cart mutation is expressed as "compute the new
// full line set, then ReplaceAll" — there are no partial patches.

// AddLine merges line into the set: an existing line with the same variant
// key absorbs the quantity, otherwise line is appended.
func AddLine(lines []CartLine, line CartLine) []CartLine {
	key := VariantKey(line)
	out := make([]CartLine, len(lines))
	copy(out, lines)

	for i, l := range out {
		if VariantKey(l) == key {
			out[i].Quantity += line.Quantity
			return out
		}
	}
	return append(out, line)
}

// SetQuantity sets the quantity of the line with the given variant key.
// Quantity zero removes the line. Unknown keys leave the set unchanged.
func SetQuantity(lines []CartLine, key string, quantity int) []CartLine {
	out := make([]CartLine, 0, len(lines))
	for _, l := range lines {
		if VariantKey(l) == key {
			if quantity <= 0 {
				continue
			}
			l.Quantity = quantity
		}
		out = append(out, l)
	}
	return out
}

// RemoveLine drops the line with the given variant key.
func RemoveLine(lines []CartLine, key string) []CartLine {
	return SetQuantity(lines, key, 0)
}
