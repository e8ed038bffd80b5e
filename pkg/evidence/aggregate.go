package evidence

// Merge combines cumulative evidence with a new message's evidence. For each
// type it keeps the first occurrence per distinct Raw value, existing items
// first, so an item's original confidence and snippet always win. Merge is a
// pure function and idempotent: merging the same incoming set twice yields
// the same result as merging it once.
func Merge(existing, incoming Set) Set {
	out := NewSet()
	for _, t := range Types() {
		seen := make(map[string]bool)
		for _, item := range existing.ByType(t) {
			if seen[item.Raw] {
				continue
			}
			seen[item.Raw] = true
			out[t] = append(out[t], item)
		}
		for _, item := range incoming.ByType(t) {
			if seen[item.Raw] {
				continue
			}
			seen[item.Raw] = true
			out[t] = append(out[t], item)
		}
	}
	return out
}
