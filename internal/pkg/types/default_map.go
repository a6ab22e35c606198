package types

// DefaultMap is a map that materialises missing keys with a default value,
// which saves existence checks when tallying.
//
//	errorsBySide := NewDefaultMap[string](func() int { return 0 })
//	errorsBySide.Update("primary", func(n int) int { return n + 1 })
type DefaultMap[K comparable, V any] struct {
	data        map[K]V  // underlying key-value pairs
	defaultFunc func() V // produces the value of a missing key
}

// NewDefaultMap creates an empty DefaultMap.
//
// Parameters:
//   - defaultFunc: function that produces the value of a missing key.
//
// Returns:
//   - A DefaultMap with an empty underlying map.
func NewDefaultMap[K comparable, V any](defaultFunc func() V) DefaultMap[K, V] {
	return DefaultMap[K, V]{
		data:        make(map[K]V),
		defaultFunc: defaultFunc,
	}
}

// Get returns the value for key, storing and returning a default one if absent.
//
// Parameters:
//   - key: the key to retrieve.
//
// Returns:
//   - The stored value, or the freshly stored default.
func (d *DefaultMap[K, V]) Get(key K) V {
	val, ok := d.data[key]
	if ok {
		return val
	}

	val = d.defaultFunc()
	d.data[key] = val
	return val
}

// Set assigns val to key.
func (d *DefaultMap[K, V]) Set(key K, val V) {
	d.data[key] = val
}

// Update replaces the value of key with f applied to its current (or default) value.
//
// Parameters:
//   - key: the key to update.
//   - f: computes the new value from the current one.
func (d *DefaultMap[K, V]) Update(key K, f func(V) V) {
	d.Set(key, f(d.Get(key)))
}

// ToMap returns the underlying map. Later updates are visible through it.
func (d *DefaultMap[K, V]) ToMap() map[K]V {
	return d.data
}
