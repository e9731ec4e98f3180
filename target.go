package interop

import (
	"reflect"

	"go.uber.org/zap"
)

// Target rebuilds a value of type C in place from a flat representation.
//
// A Target is not safe for concurrent use.
type Target[C any] struct {
	_ noCopy

	dst  *C
	plan *plan
}

// NewTarget returns a Target that populates *dst.
func NewTarget[C any](dst *C) *Target[C] {
	return &Target[C]{dst: dst, plan: planFor(reflect.TypeFor[C]())}
}

// ApplyDirect populates *dst from the contiguous leaves of view.
func (t *Target[C]) ApplyDirect(view View[C]) {
	p := t.plan
	if !p.direct() {
		violation(ErrNoDirectPath, "%s", p.typ)
	}
	data := t.itemSlice(view.Data)
	n := data.Len()
	if view.Len != n {
		violation(ErrShapeMismatch, "view length %d, data holds %d", view.Len, n)
	}

	v := reflect.ValueOf(t.dst).Elem()
	switch p.kind {
	case KindBits:
		v.Set(reflect.ValueOf(packBits(data.Interface().([]bool))))
	case KindString:
		v.SetString(string(data.Bytes()))
	case KindArray:
		if n != v.Len() {
			violation(ErrShapeMismatch, "%s holds %d elements, view holds %d", p.typ, v.Len(), n)
		}
		reflect.Copy(v, data)
	default:
		s := reflect.MakeSlice(p.typ, n, n)
		reflect.Copy(s, data)
		v.Set(s)
	}
}

// Apply populates *dst from flat. Every item, size entry and key of flat is
// consumed; anything left over is a contract violation.
func (t *Target[C]) Apply(flat Flat[C]) {
	p := t.plan
	if flat.Depth != p.depth {
		violation(ErrShapeMismatch, "flat depth %d, %s has depth %d", flat.Depth, p.typ, p.depth)
	}
	t.checkKeys(flat.Keys)

	r := recomposer{items: t.itemSlice(flat.Items), sizes: flat.Sizes, keys: flat.Keys}
	r.walk(p, reflect.ValueOf(t.dst).Elem(), 0)
	r.finish()

	if ce := Logger().Check(zap.DebugLevel, "interop: applied"); ce != nil {
		ce.Write(
			zap.Stringer("type", p.typ),
			zap.Int("depth", p.depth),
			zap.Int("items", r.item),
			zap.Int("sizes", r.size),
		)
	}
}

// itemSlice checks that data is a []L for the leaf type of C.
func (t *Target[C]) itemSlice(data any) reflect.Value {
	want := reflect.SliceOf(t.plan.leaf)
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		return reflect.MakeSlice(want, 0, 0)
	}
	if v.Type() != want {
		violation(ErrShapeMismatch, "items are %s, want %s", v.Type(), want)
	}
	return v
}

func (t *Target[C]) checkKeys(keys []KeyMarshaller) {
	level := 0
	for p := t.plan; p.kind != KindLeaf; p, level = p.elem, level+1 {
		if !p.kind.Keyed() {
			continue
		}
		if level >= len(keys) || keys[level] == nil {
			violation(ErrShapeMismatch, "no key marshaller at level %d", level)
		}
		if got := keys[level].KeyType(); got != p.key {
			violation(ErrShapeMismatch, "level %d keys are %s, want %s", level, got, p.key)
		}
	}
}

// Transfer copies *src into *dst through the flat representation, taking the
// direct path when C has one.
func Transfer[C any](dst, src *C) {
	s := NewSource(src)
	defer s.Close()
	t := NewTarget(dst)
	if view, ok := s.Direct(); ok {
		t.ApplyDirect(view)
		return
	}
	t.Apply(s.Retrieve())
}
