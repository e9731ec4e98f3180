package interop

import "reflect"

// decomposer flattens one value into pre-sized arrays. It walks depth first,
// pre-order: a container writes its child count before any of its children.
type decomposer struct {
	items reflect.Value // []L, sized by the counting pass
	sizes []uint
	keys  []KeyMarshaller
	item  int
	size  int
}

func (d *decomposer) pushSize(n int) {
	d.sizes[d.size] = uint(n)
	d.size++
}

func (d *decomposer) walk(p *plan, v reflect.Value, level int) {
	switch p.kind {
	case KindLeaf:
		d.leaf(p, v)

	case KindString, KindSlice, KindArray:
		n := v.Len()
		d.pushSize(n)
		if p.bulk {
			reflect.Copy(d.items.Slice(d.item, d.item+n), v)
			d.item += n
			return
		}
		for i := 0; i < n; i++ {
			d.walk(p.elem, v.Index(i), level+1)
		}

	case KindBits:
		b := v.Interface().(Bits)
		n := b.Len()
		d.pushSize(n)
		b.Bools(d.items.Slice(d.item, d.item+n).Interface().([]bool))
		d.item += n

	case KindMap:
		d.pushSize(v.Len())
		keys := d.keys[level]
		iter := v.MapRange()
		for iter.Next() {
			storeKey(keys, iter.Key())
			d.walk(p.elem, iter.Value(), level+1)
		}

	case KindAssociative:
		c := associativeOf(v)
		d.pushSize(c.Len())
		keys := d.keys[level]
		c.RangePairs(func(key, value reflect.Value) bool {
			storeKey(keys, key)
			d.walk(p.elem, value, level+1)
			return true
		})
	}
}

func (d *decomposer) leaf(p *plan, v reflect.Value) {
	slot := d.items.Index(d.item)
	d.item++
	if p.decomposer && pointerTo(v).Interface().(LeafDecomposer).DecomposeLeaf(slot.Addr().Interface()) {
		return
	}
	slot.Set(v)
}

func storeKey(m KeyMarshaller, key reflect.Value) {
	if q, ok := m.(*keyQueue); ok {
		q.store(key)
		return
	}
	m.Store(key.Interface())
}

// pointerTo returns a pointer to v, or to a copy of v when v is not addressable.
func pointerTo(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v.Addr()
	}
	ptr := reflect.New(v.Type())
	ptr.Elem().Set(v)
	return ptr
}
