package types

// Set is a generic hash set backed by map[T]struct{}. It is mutable: Add
// modifies the set in place.
type Set[T comparable] map[T]struct{}

// NewSet creates a Set holding the provided elements.
//
// Parameters:
//   - data: zero or more elements to initialize the set with.
//
// Returns:
//   - A Set containing the provided elements, duplicates collapsed.
func NewSet[T comparable](data ...T) Set[T] {
	set := make(Set[T], len(data))
	set.Add(data...)
	return set
}

// Add inserts one or more elements into the set.
//
// Parameters:
//   - values: elements to add to the set.
func (s Set[T]) Add(values ...T) {
	for _, val := range values {
		s[val] = struct{}{}
	}
}

// Has reports whether val is in the set.
//
// Parameters:
//   - val: the element to look up.
//
// Returns:
//   - true if val was added to the set.
func (s Set[T]) Has(val T) bool {
	_, ok := s[val]
	return ok
}
