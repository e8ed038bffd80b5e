// Package evidence extracts forensic artifacts from scam conversations.
// All regex patterns are compiled once at package init and shared across
// all requests.
//
// Design principles:
// - COMPILE ONCE: patterns are package-level, never built per-request
// - TYPED: every artifact carries its type and a fixed per-type confidence
// - PURE: extraction and merging have no hidden state
package evidence

// Type classifies an extracted artifact.
type Type string

const (
	TypeBankAccount Type = "bank_account"
	TypeUPIID       Type = "upi_id"
	TypeURL         Type = "url"
	TypePhone       Type = "phone"
	TypeKeyword     Type = "keyword"
)

// Types lists all artifact types in canonical order. Iteration over a Set
// always follows this order so output is deterministic.
func Types() []Type {
	return []Type{TypeBankAccount, TypeUPIID, TypeURL, TypePhone, TypeKeyword}
}

// Item is a single matched artifact. Immutable once created.
type Item struct {
	Raw        string  `json:"raw"`
	Normalized string  `json:"normalized"`
	Type       Type    `json:"type"`
	Confidence float64 `json:"confidence"`
	Snippet    string  `json:"evidence_snippet"`
}

// Set maps each artifact type to its matches, insertion order preserved.
// Uniqueness per Raw value within a type is the aggregator's job, not the
// extractor's.
type Set map[Type][]Item

// NewSet returns a Set with an empty (non-nil) slice for every type.
func NewSet() Set {
	s := make(Set, len(Types()))
	for _, t := range Types() {
		s[t] = []Item{}
	}
	return s
}

// ByType returns the items of one type. Never nil.
func (s Set) ByType(t Type) []Item {
	if items, ok := s[t]; ok {
		return items
	}
	return []Item{}
}

// Count returns the total number of items across all types.
func (s Set) Count() int {
	n := 0
	for _, t := range Types() {
		n += len(s[t])
	}
	return n
}

// Raws returns the raw values of one type, in insertion order.
func (s Set) Raws(t Type) []string {
	items := s.ByType(t)
	raws := make([]string, 0, len(items))
	for _, it := range items {
		raws = append(raws, it.Raw)
	}
	return raws
}

// Clone returns a deep copy. Items are value types, so copying the slices
// is enough.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for t, items := range s {
		cp := make([]Item, len(items))
		copy(cp, items)
		out[t] = cp
	}
	return out
}
