package carts

import "time"

// Merge folds a guest cart into an account cart. For each guest line whose
// variant key matches an account line, quantities are summed; everything else
// is appended with a fresh added-at timestamp. Inputs are not mutated.
//
// Merge does no I/O. The caller replaces the account cart with the result
// and clears the guest store only after that replace succeeds, which keeps a
// failed merge retryable without losing or double-counting lines.
func Merge(guest, account []CartLine, now time.Time) []CartLine {
	merged := make([]CartLine, len(account))
	copy(merged, account)

	byKey := make(map[string]int, len(merged))
	for i, l := range merged {
		byKey[VariantKey(l)] = i
	}

	for _, g := range guest {
		if i, ok := byKey[VariantKey(g)]; ok {
			merged[i].Quantity += g.Quantity
			continue
		}
		g.AddedAt = now
		merged = append(merged, g)
		byKey[VariantKey(g)] = len(merged) - 1
	}

	return merged
}
