package interop

import "reflect"

// recomposer rebuilds a value from flat arrays, consuming them in the same
// pre-order the decomposer produced them.
type recomposer struct {
	items reflect.Value // []L
	sizes []uint
	keys  []KeyMarshaller
	item  int
	size  int
}

func (r *recomposer) nextSize() int {
	if r.size >= len(r.sizes) {
		violation(ErrSizesExhausted, "entry %d of %d", r.size, len(r.sizes))
	}
	n := r.sizes[r.size]
	r.size++
	// Every child consumes at least one item or one size entry.
	if remaining := r.items.Len() - r.item + len(r.sizes) - r.size; n > uint(remaining) {
		violation(ErrItemsExhausted, "size entry %d exceeds the %d entries left", n, remaining)
	}
	return int(n)
}

// run returns the next n items.
func (r *recomposer) run(n int) reflect.Value {
	if n < 0 || n > r.items.Len()-r.item {
		violation(ErrItemsExhausted, "%d items at %d of %d", n, r.item, r.items.Len())
	}
	s := r.items.Slice(r.item, r.item+n)
	r.item += n
	return s
}

func (r *recomposer) marshaller(level int) KeyMarshaller {
	if level >= len(r.keys) || r.keys[level] == nil {
		violation(ErrShapeMismatch, "no key marshaller at level %d", level)
	}
	return r.keys[level]
}

// walk fills v, which must be settable.
func (r *recomposer) walk(p *plan, v reflect.Value, level int) {
	switch p.kind {
	case KindLeaf:
		src := r.run(1).Index(0)
		if p.recomposer && v.Addr().Interface().(LeafRecomposer).RecomposeLeaf(src.Addr().Interface()) {
			return
		}
		v.Set(src)

	case KindString:
		n := r.nextSize()
		v.SetString(string(r.run(n).Bytes()))

	case KindSlice:
		n := r.nextSize()
		s := reflect.MakeSlice(p.typ, n, n)
		if p.bulk {
			reflect.Copy(s, r.run(n))
		} else {
			for i := 0; i < n; i++ {
				r.walk(p.elem, s.Index(i), level+1)
			}
		}
		v.Set(s)

	case KindArray:
		n := r.nextSize()
		if n != v.Len() {
			violation(ErrShapeMismatch, "%s holds %d elements, size entry says %d", p.typ, v.Len(), n)
		}
		if p.bulk {
			reflect.Copy(v, r.run(n))
			return
		}
		for i := 0; i < n; i++ {
			r.walk(p.elem, v.Index(i), level+1)
		}

	case KindBits:
		n := r.nextSize()
		v.Set(reflect.ValueOf(packBits(r.run(n).Interface().([]bool))))

	case KindMap:
		n := r.nextSize()
		keys := r.marshaller(level)
		m := reflect.MakeMapWithSize(p.typ, n)
		for i := 0; i < n; i++ {
			value := reflect.New(p.elem.typ).Elem()
			r.walk(p.elem, value, level+1)
			m.SetMapIndex(takeKey(keys), value)
		}
		v.Set(m)

	case KindAssociative:
		n := r.nextSize()
		keys := r.marshaller(level)
		c := v.Addr().Interface().(Associative)
		c.Clear()
		for i := 0; i < n; i++ {
			value := reflect.New(p.elem.typ).Elem()
			r.walk(p.elem, value, level+1)
			c.InsertPair(takeKey(keys), value)
		}
	}
}

// finish checks that the walk consumed everything it was given.
func (r *recomposer) finish() {
	if r.item != r.items.Len() {
		violation(ErrShapeMismatch, "%d of %d items consumed", r.item, r.items.Len())
	}
	if r.size != len(r.sizes) {
		violation(ErrShapeMismatch, "%d of %d size entries consumed", r.size, len(r.sizes))
	}
	for level, m := range r.keys {
		if m != nil && m.Pending() != 0 {
			violation(ErrKeysPending, "%d keys at level %d", m.Pending(), level)
		}
	}
}

func takeKey(m KeyMarshaller) reflect.Value {
	if q, ok := m.(*keyQueue); ok {
		return q.take()
	}
	key := reflect.ValueOf(m.Take())
	if !key.IsValid() {
		key = reflect.Zero(m.KeyType())
	}
	return key
}

func packBits(vs []bool) Bits {
	var b Bits
	b.Resize(len(vs))
	for i, v := range vs {
		if v {
			b.Set(i, true)
		}
	}
	return b
}
