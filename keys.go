package interop

import (
	"reflect"
)

// KeyMarshaller carries the keys removed from one associative nesting level
// across the boundary. Keys are taken back in the order they were stored, and
// each stored key must be taken exactly once.
type KeyMarshaller interface {
	// KeyType returns the key type captured at construction.
	KeyType() reflect.Type
	// Pending returns the number of stored keys not yet taken.
	Pending() int
	// Store appends a key. It panics if key is not of KeyType.
	Store(key any)
	// Take removes and returns the oldest pending key. It panics if none is pending.
	Take() any
	// Keys returns a copy of the pending keys as a []K slice without taking them.
	Keys() any
	// Reset discards all pending keys.
	Reset()
}

// NewKeyMarshaller returns an empty marshaller for keys of type t.
func NewKeyMarshaller(t reflect.Type) KeyMarshaller {
	return newKeyQueue(t)
}

// StoreKey stores a typed key into m.
func StoreKey[K any](m KeyMarshaller, key K) {
	m.Store(key)
}

// TakeKey takes the next key from m as a K.
func TakeKey[K any](m KeyMarshaller) K {
	return m.Take().(K)
}

// keyQueue is the reflection-backed KeyMarshaller. The walks use the
// reflect.Value methods directly to avoid boxing every key.
type keyQueue struct {
	typ  reflect.Type
	keys reflect.Value // []K
	head int
}

var _ KeyMarshaller = (*keyQueue)(nil)

func newKeyQueue(t reflect.Type) *keyQueue {
	return &keyQueue{typ: t, keys: reflect.MakeSlice(reflect.SliceOf(t), 0, 0)}
}

func (q *keyQueue) KeyType() reflect.Type { return q.typ }
func (q *keyQueue) Pending() int          { return q.keys.Len() - q.head }

func (q *keyQueue) Store(key any) {
	v := reflect.ValueOf(key)
	if !v.IsValid() {
		// nil for an interface-typed key
		v = reflect.Zero(q.typ)
	}
	if v.Type() != q.typ {
		if !v.Type().AssignableTo(q.typ) {
			violation(ErrKeyType, "got %s, want %s", v.Type(), q.typ)
		}
		boxed := reflect.New(q.typ).Elem()
		boxed.Set(v)
		v = boxed
	}
	q.store(v)
}

func (q *keyQueue) Take() any {
	return q.take().Interface()
}

func (q *keyQueue) Keys() any {
	pending := q.keys.Slice(q.head, q.keys.Len())
	out := reflect.MakeSlice(pending.Type(), pending.Len(), pending.Len())
	reflect.Copy(out, pending)
	return out.Interface()
}

func (q *keyQueue) Reset() {
	q.keys.Clear()
	q.keys = q.keys.Slice(0, 0)
	q.head = 0
}

func (q *keyQueue) store(v reflect.Value) {
	q.keys = reflect.Append(q.keys, v)
}

func (q *keyQueue) take() reflect.Value {
	if q.head >= q.keys.Len() {
		violation(ErrKeyUnderflow, "%s level", q.typ)
	}
	slot := q.keys.Index(q.head)
	v := reflect.New(q.typ).Elem()
	v.Set(slot)
	// Taken keys must not pin what they reference until Reset.
	slot.SetZero()
	q.head++
	return v
}

// load replaces the pending keys with the contents of a []K slice.
func (q *keyQueue) load(keys reflect.Value) {
	q.keys = keys
	q.head = 0
}

// newKeyMarshallers allocates one marshaller per associative level of p.
func newKeyMarshallers(p *plan) []KeyMarshaller {
	if !p.keyed() {
		return nil
	}
	out := make([]KeyMarshaller, p.depth)
	for level := 0; p.kind != KindLeaf; p, level = p.elem, level+1 {
		if p.kind.Keyed() {
			out[level] = newKeyQueue(p.key)
		}
	}
	return out
}
