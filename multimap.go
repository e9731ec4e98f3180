package interop

import (
	"iter"
	"reflect"
)

// MultiMap is an associative container that allows duplicate keys and keeps
// entries in insertion order.
type MultiMap[K comparable, V any] struct {
	keys []K
	vals []V
}

var _ Associative = (*MultiMap[string, int])(nil)

// Add appends an entry.
func (m *MultiMap[K, V]) Add(k K, v V) {
	m.keys = append(m.keys, k)
	m.vals = append(m.vals, v)
}

// Values returns every value stored under k, in insertion order.
func (m *MultiMap[K, V]) Values(k K) []V {
	var out []V
	for i, key := range m.keys {
		if key == k {
			out = append(out, m.vals[i])
		}
	}
	return out
}

// Delete removes every entry stored under k and returns how many were removed.
func (m *MultiMap[K, V]) Delete(k K) int {
	n := 0
	for i, key := range m.keys {
		if key != k {
			m.keys[n], m.vals[n] = key, m.vals[i]
			n++
		}
	}
	removed := len(m.keys) - n
	clear(m.keys[n:])
	clear(m.vals[n:])
	m.keys, m.vals = m.keys[:n], m.vals[:n]
	return removed
}

// Len returns the number of entries.
func (m *MultiMap[K, V]) Len() int { return len(m.keys) }

// All iterates the entries in insertion order.
func (m *MultiMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i := range m.keys {
			if !yield(m.keys[i], m.vals[i]) {
				return
			}
		}
	}
}

func (m *MultiMap[K, V]) KeyType() reflect.Type   { return reflect.TypeFor[K]() }
func (m *MultiMap[K, V]) ValueType() reflect.Type { return reflect.TypeFor[V]() }

func (m *MultiMap[K, V]) RangePairs(yield func(key, value reflect.Value) bool) {
	keys, vals := reflect.ValueOf(m.keys), reflect.ValueOf(m.vals)
	for i := range m.keys {
		if !yield(keys.Index(i), vals.Index(i)) {
			return
		}
	}
}

func (m *MultiMap[K, V]) InsertPair(key, value reflect.Value) {
	var k K
	var v V
	reflect.ValueOf(&k).Elem().Set(key)
	reflect.ValueOf(&v).Elem().Set(value)
	m.Add(k, v)
}

func (m *MultiMap[K, V]) Clear() {
	clear(m.keys)
	clear(m.vals)
	m.keys, m.vals = m.keys[:0], m.vals[:0]
}
