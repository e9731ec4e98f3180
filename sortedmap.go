package interop

import (
	"iter"
	"reflect"

	"golang.org/x/exp/constraints"
)

// SortedMap is an associative container with unique keys kept in ascending
// order. The zero value is an empty map ready to use.
type SortedMap[K constraints.Ordered, V any] struct {
	keys []K
	vals []V
}

var _ Associative = (*SortedMap[int, int])(nil)

// search returns the position of k, or where it would be inserted.
func (m *SortedMap[K, V]) search(k K) (int, bool) {
	lo, hi := 0, len(m.keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if m.keys[mid] < k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(m.keys) && m.keys[lo] == k
}

// Put sets the value for k, replacing any previous value.
func (m *SortedMap[K, V]) Put(k K, v V) {
	i, found := m.search(k)
	if found {
		m.vals[i] = v
		return
	}
	var zk K
	var zv V
	m.keys = append(m.keys, zk)
	m.vals = append(m.vals, zv)
	copy(m.keys[i+1:], m.keys[i:])
	copy(m.vals[i+1:], m.vals[i:])
	m.keys[i], m.vals[i] = k, v
}

// Get returns the value stored for k.
func (m *SortedMap[K, V]) Get(k K) (V, bool) {
	if i, found := m.search(k); found {
		return m.vals[i], true
	}
	var zv V
	return zv, false
}

// Delete removes k and reports whether it was present.
func (m *SortedMap[K, V]) Delete(k K) bool {
	i, found := m.search(k)
	if !found {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	return true
}

// Len returns the number of entries.
func (m *SortedMap[K, V]) Len() int { return len(m.keys) }

// All iterates the entries in key order.
func (m *SortedMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i := range m.keys {
			if !yield(m.keys[i], m.vals[i]) {
				return
			}
		}
	}
}

func (m *SortedMap[K, V]) KeyType() reflect.Type   { return reflect.TypeFor[K]() }
func (m *SortedMap[K, V]) ValueType() reflect.Type { return reflect.TypeFor[V]() }

func (m *SortedMap[K, V]) RangePairs(yield func(key, value reflect.Value) bool) {
	keys, vals := reflect.ValueOf(m.keys), reflect.ValueOf(m.vals)
	for i := range m.keys {
		if !yield(keys.Index(i), vals.Index(i)) {
			return
		}
	}
}

func (m *SortedMap[K, V]) InsertPair(key, value reflect.Value) {
	var k K
	var v V
	reflect.ValueOf(&k).Elem().Set(key)
	reflect.ValueOf(&v).Elem().Set(value)
	m.Put(k, v)
}

func (m *SortedMap[K, V]) Clear() {
	clear(m.keys)
	clear(m.vals)
	m.keys, m.vals = m.keys[:0], m.vals[:0]
}
