package interop

import (
	"reflect"
	"unsafe"

	"go.uber.org/zap"
)

// noCopy makes go vet report adapters copied by value. An adapter owns its
// buffers, so a copy would alias them.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Source produces the flat representation of a value it references but does
// not copy. The arrays it returns stay owned by the Source: they are
// overwritten by the next Retrieve or Direct call and released by Close.
//
// A Source is not safe for concurrent use.
type Source[C any] struct {
	_ noCopy

	src    *C
	plan   *plan
	items  reflect.Value // []L
	sizes  []uint
	keys   []KeyMarshaller
	bools  []bool // unpacked Bits for Direct
	closed bool
}

// NewSource returns a Source over *src.
func NewSource[C any](src *C) *Source[C] {
	return &Source[C]{src: src, plan: planFor(reflect.TypeFor[C]())}
}

// Depth returns the nesting depth of C.
func (s *Source[C]) Depth() int { return s.plan.depth }

// HasDirect reports whether Direct can serve C.
func (s *Source[C]) HasDirect() bool { return s.plan.direct() }

// Direct returns the leaves of a single-level contiguous container without
// building the flat arrays. Slices and arrays are returned as views of the
// source's own storage, and strings as a view of their bytes; none of them
// may be modified. Bits are unpacked into a buffer owned by the Source.
func (s *Source[C]) Direct() (View[C], bool) {
	s.check()
	if !s.plan.direct() {
		return View[C]{}, false
	}

	v := reflect.ValueOf(s.src).Elem()
	switch s.plan.kind {
	case KindBits:
		s.bools = v.Interface().(Bits).Bools(s.bools)
		return View[C]{Data: s.bools, Len: len(s.bools)}, true
	case KindString:
		str := v.String()
		return View[C]{Data: unsafe.Slice(unsafe.StringData(str), len(str)), Len: len(str)}, true
	case KindArray:
		return View[C]{Data: v.Slice(0, v.Len()).Interface(), Len: v.Len()}, true
	default:
		return View[C]{Data: v.Convert(reflect.SliceOf(s.plan.leaf)).Interface(), Len: v.Len()}, true
	}
}

// Retrieve decomposes the referenced value. It measures the value, sizes the
// owned arrays for it and fills them in one pass.
func (s *Source[C]) Retrieve() Flat[C] {
	s.check()
	v := reflect.ValueOf(s.src).Elem()

	var m measurer
	m.walk(s.plan, v)
	s.reserve(m.items, m.sizes)

	d := decomposer{items: s.items, sizes: s.sizes, keys: s.keys}
	d.walk(s.plan, v, 0)

	if ce := Logger().Check(zap.DebugLevel, "interop: retrieved"); ce != nil {
		ce.Write(
			zap.Stringer("type", s.plan.typ),
			zap.Int("depth", s.plan.depth),
			zap.Int("items", m.items),
			zap.Int("sizes", m.sizes),
		)
	}
	return Flat[C]{Items: s.items.Interface(), Sizes: s.sizes, Keys: s.keys, Depth: s.plan.depth}
}

// reserve sizes the owned arrays for one extraction, reusing the previous
// buffers when they are large enough.
func (s *Source[C]) reserve(items, sizes int) {
	if s.items.IsValid() && s.items.Cap() >= items {
		// Drop references held by the previous extraction.
		s.items.Clear()
		s.items = s.items.Slice(0, items)
	} else {
		s.items = reflect.MakeSlice(reflect.SliceOf(s.plan.leaf), items, items)
	}

	if cap(s.sizes) >= sizes {
		s.sizes = s.sizes[:sizes]
	} else {
		s.sizes = make([]uint, sizes)
	}

	if s.keys == nil {
		s.keys = newKeyMarshallers(s.plan)
	}
	for _, k := range s.keys {
		if k != nil {
			k.Reset()
		}
	}
}

// Close releases the buffers owned by the Source. Any Flat or View obtained
// from it must not be used afterwards.
func (s *Source[C]) Close() {
	if s.closed {
		return
	}
	for _, k := range s.keys {
		if k != nil {
			k.Reset()
		}
	}
	s.items = reflect.Value{}
	s.sizes = nil
	s.keys = nil
	s.bools = nil
	s.closed = true
}

func (s *Source[C]) check() {
	if s.closed {
		violation(ErrClosed, "%s source", s.plan.typ)
	}
}
