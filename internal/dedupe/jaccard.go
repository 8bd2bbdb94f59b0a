package dedupe

// Jaccard computes set similarity over two token sets:
// |intersection| / |union|. Symmetric; 1.0 for two equal non-empty sets,
// 0.0 when either side is empty.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}

	intersection := 0
	for tok := range small {
		if large[tok] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
