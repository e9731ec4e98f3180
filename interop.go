package interop

import (
	"encoding"
	"fmt"
	"io"
	"reflect"
)

// Sizer is an interface for types that can report their binary size.
// This is useful for pre-allocating buffers before encoding.
type Sizer interface {
	// Size returns the size of the type in bytes when binary encoded.
	Size() int
}

// Marshaler defines the methods for encoding an object into a byte stream.
type Marshaler interface {
	encoding.BinaryMarshaler // Method: MarshalBinary() ([]byte, error)
	io.WriterTo              // Method: WriteTo(writer io.Writer) (int64, error)

	// MarshalTo encodes the object into a pre-allocated buffer, returning
	// io.ErrShortWrite if the buffer is too small.
	MarshalTo(buf []byte) (int, error)
}

// Unmarshaler defines the methods for decoding a byte stream into an object.
type Unmarshaler interface {
	encoding.BinaryUnmarshaler // Method: UnmarshalBinary(data []byte) error
	io.ReaderFrom              // Method: ReadFrom(r io.Reader) (int64, error)
}

// Codec aggregates all binary serialization and deserialization interfaces.
type Codec interface {
	Sizer
	Marshaler
	Unmarshaler
}

// LeafDecomposer is implemented by leaf types that copy themselves into an
// item array slot. dst is a pointer to the slot, of the same type as the
// receiver. Returning false falls back to plain assignment.
type LeafDecomposer interface {
	DecomposeLeaf(dst any) bool
}

// LeafRecomposer is implemented by leaf types that rebuild themselves from an
// item array slot. src is a pointer to the slot. Returning false falls back to
// plain assignment.
type LeafRecomposer interface {
	RecomposeLeaf(src any) bool
}

// Associative is the capability surface of a keyed container other than a Go
// map. It is implemented on the pointer type. KeyType and ValueType must not
// dereference the receiver: they are queried on a nil pointer.
type Associative interface {
	KeyType() reflect.Type
	ValueType() reflect.Type
	Len() int
	// RangePairs yields every key/value pair in the container's own order.
	RangePairs(yield func(key, value reflect.Value) bool)
	// InsertPair adds a pair. Ordered kinds place it by key, the others append.
	InsertPair(key, value reflect.Value)
	Clear()
}

// Flat is the decomposed form of a value of type C.
//
// Items holds a []L slice, L being the leaf type of C. Sizes holds the
// per-container child counts in pre-order. Keys is indexed by nesting level and
// only associative levels hold a marshaller.
type Flat[C any] struct {
	Items any
	Sizes []uint
	Keys  []KeyMarshaller
	Depth int
}

// ItemCount returns the number of leaves held by the item array.
func (f Flat[C]) ItemCount() int {
	if f.Items == nil {
		return 0
	}
	return reflect.ValueOf(f.Items).Len()
}

// ItemsOf returns the item array of f as a typed slice.
func ItemsOf[L, C any](f Flat[C]) ([]L, bool) {
	items, ok := f.Items.([]L)
	return items, ok
}

// View is the direct-mode representation of a value of type C: the contiguous
// leaves of a single-level container. Data holds a []L slice.
type View[C any] struct {
	Data any
	Len  int
}

// DataOf returns the contiguous leaves of v as a typed slice.
func DataOf[L, C any](v View[C]) ([]L, bool) {
	data, ok := v.Data.([]L)
	return data, ok
}

// violation reports a broken contract between the two walks.
func violation(err error, format string, args ...any) {
	panic(fmt.Errorf("%w: "+format, append([]any{err}, args...)...))
}
