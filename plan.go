package interop

import (
	"reflect"

	"github.com/puzpuzpuz/xsync/v4"
)

// Kind classifies one nesting level of a container shape.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindString
	KindSlice
	KindArray
	KindBits
	KindMap
	KindAssociative
)

var kindNames = [...]string{
	KindLeaf:        "leaf",
	KindString:      "string",
	KindSlice:       "slice",
	KindArray:       "array",
	KindBits:        "bits",
	KindMap:         "map",
	KindAssociative: "associative",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Keyed reports whether the level extracts keys.
func (k Kind) Keyed() bool { return k == KindMap || k == KindAssociative }

var (
	bitsType           = reflect.TypeFor[Bits]()
	byteType           = reflect.TypeFor[byte]()
	boolType           = reflect.TypeFor[bool]()
	associativeType    = reflect.TypeFor[Associative]()
	leafDecomposerType = reflect.TypeFor[LeafDecomposer]()
	leafRecomposerType = reflect.TypeFor[LeafRecomposer]()
)

// plan is the compiled structure of one container type. It is built once per
// type and shared by every walk over values of that type.
type plan struct {
	typ   reflect.Type
	kind  Kind
	elem  *plan        // child plan, the value plan for keyed kinds
	key   reflect.Type // keyed kinds only
	leaf  reflect.Type // element type of the item array
	depth int

	// bulk is set when the children are trivially copyable leaves that can be
	// copied as one run.
	bulk bool

	// leaf kinds only
	trivial    bool
	decomposer bool
	recomposer bool
}

// planCache avoids recompiling the shape of a type on every adapter.
var planCache = xsync.NewMap[reflect.Type, *plan]()

func planFor(t reflect.Type) *plan {
	if p, ok := planCache.Load(t); ok {
		return p
	}
	p, _ := planCache.LoadOrStore(t, compile(t, make(map[reflect.Type]bool)))
	return p
}

func compile(t reflect.Type, visiting map[reflect.Type]bool) *plan {
	if visiting[t] {
		violation(ErrRecursiveShape, "%s", t)
	}

	p := &plan{typ: t}
	var child reflect.Type

	switch {
	case t == bitsType:
		p.kind, child = KindBits, boolType
	case t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface && reflect.PointerTo(t).Implements(associativeType):
		// KeyType and ValueType are answered by a nil receiver.
		zero := reflect.Zero(reflect.PointerTo(t)).Interface().(Associative)
		p.kind, p.key, child = KindAssociative, zero.KeyType(), zero.ValueType()
	case t.Kind() == reflect.String:
		p.kind, child = KindString, byteType
	case t.Kind() == reflect.Slice:
		p.kind, child = KindSlice, t.Elem()
	case t.Kind() == reflect.Array:
		p.kind, child = KindArray, t.Elem()
	case t.Kind() == reflect.Map:
		p.kind, p.key, child = KindMap, t.Key(), t.Elem()
	default:
		return compileLeaf(t)
	}

	visiting[t] = true
	p.elem = compile(child, visiting)
	delete(visiting, t)

	p.depth = p.elem.depth + 1
	p.leaf = p.elem.leaf
	switch p.kind {
	case KindString:
		p.bulk = true
	case KindSlice, KindArray:
		p.bulk = p.elem.kind == KindLeaf && p.elem.trivial
	}
	return p
}

func compileLeaf(t reflect.Type) *plan {
	ptr := reflect.PointerTo(t)
	p := &plan{
		typ:        t,
		kind:       KindLeaf,
		leaf:       t,
		decomposer: ptr.Implements(leafDecomposerType),
		recomposer: ptr.Implements(leafRecomposerType),
	}
	p.trivial = triviallyCopyable(t) && !p.decomposer && !p.recomposer
	return p
}

// triviallyCopyable reports whether values of t own no memory outside
// themselves, so a run of them can be copied without per-element logic.
func triviallyCopyable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return triviallyCopyable(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !triviallyCopyable(t.Field(i).Type) {
				return false
			}
		}
		return true
	}
	return false
}

// keyed reports whether any level of the shape extracts keys.
func (p *plan) keyed() bool {
	for ; p != nil; p = p.elem {
		if p.kind.Keyed() {
			return true
		}
	}
	return false
}

// direct reports whether the shape is a single level of contiguous leaves.
func (p *plan) direct() bool {
	return p.kind == KindBits || (p.bulk && p.depth == 1)
}

// Level describes one nesting level of a shape.
type Level struct {
	Kind Kind
	Type reflect.Type
	Key  reflect.Type // nil unless Kind.Keyed()
}

// Shape is the static structure of a container type.
type Shape struct {
	Depth  int
	Leaf   reflect.Type
	Levels []Level
}

// Describe returns the static shape of C.
func Describe[C any]() Shape {
	p := planFor(reflect.TypeFor[C]())
	s := Shape{Depth: p.depth, Leaf: p.leaf, Levels: make([]Level, 0, p.depth)}
	for ; p.kind != KindLeaf; p = p.elem {
		s.Levels = append(s.Levels, Level{Kind: p.kind, Type: p.typ, Key: p.key})
	}
	return s
}

// Depth returns the number of container levels between C and its leaves.
func Depth[C any]() int {
	return planFor(reflect.TypeFor[C]()).depth
}

// Measure returns the item array length and the element size array length
// needed to decompose *v.
func Measure[C any](v *C) (items, sizes int) {
	p := planFor(reflect.TypeFor[C]())
	var m measurer
	m.walk(p, reflect.ValueOf(v).Elem())
	return m.items, m.sizes
}

// measurer is the counting pass: it sizes the arrays without copying anything.
type measurer struct {
	items int
	sizes int
}

func (m *measurer) walk(p *plan, v reflect.Value) {
	if p.kind == KindLeaf {
		m.items++
		return
	}
	m.sizes++

	switch p.kind {
	case KindString, KindSlice, KindArray:
		if p.elem.kind == KindLeaf {
			m.items += v.Len()
			return
		}
		for i := 0; i < v.Len(); i++ {
			m.walk(p.elem, v.Index(i))
		}
	case KindBits:
		m.items += v.Interface().(Bits).Len()
	case KindMap:
		if p.elem.kind == KindLeaf {
			m.items += v.Len()
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			m.walk(p.elem, iter.Value())
		}
	case KindAssociative:
		c := associativeOf(v)
		if p.elem.kind == KindLeaf {
			m.items += c.Len()
			return
		}
		c.RangePairs(func(_, value reflect.Value) bool {
			m.walk(p.elem, value)
			return true
		})
	}
}

// associativeOf returns the capability surface of v, copying v when it is not
// addressable (map values, for instance).
func associativeOf(v reflect.Value) Associative {
	if v.CanAddr() {
		return v.Addr().Interface().(Associative)
	}
	ptr := reflect.New(v.Type())
	ptr.Elem().Set(v)
	return ptr.Interface().(Associative)
}
