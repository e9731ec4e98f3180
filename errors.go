package interop

import "errors"

// Contract violations. The engine panics with an error wrapping one of these
// when the flat representation and the walk that consumes it disagree.
var (
	// ErrKeyUnderflow indicates a key was taken from a marshaller holding none.
	ErrKeyUnderflow = errors.New("interop: key marshaller underflow")

	// ErrKeysPending indicates keys were left in a marshaller after recomposition.
	ErrKeysPending = errors.New("interop: unconsumed keys left in key marshaller")

	// ErrKeyType indicates a key of the wrong type was stored into a marshaller.
	ErrKeyType = errors.New("interop: key type does not match marshaller")

	// ErrItemsExhausted indicates recomposition read past the end of the item array.
	ErrItemsExhausted = errors.New("interop: item array exhausted")

	// ErrSizesExhausted indicates recomposition read past the end of the element size array.
	ErrSizesExhausted = errors.New("interop: element size array exhausted")

	// ErrShapeMismatch indicates the flat arrays do not describe the target's shape.
	ErrShapeMismatch = errors.New("interop: flat representation does not match container shape")

	// ErrRecursiveShape indicates a container type that contains itself.
	ErrRecursiveShape = errors.New("interop: recursive container type")

	// ErrClosed indicates an adapter was used after Close.
	ErrClosed = errors.New("interop: adapter used after close")

	// ErrNoDirectPath indicates ApplyDirect was called on a shape without contiguous storage.
	ErrNoDirectPath = errors.New("interop: container has no direct path")
)

// Frame errors. These are returned, not raised, because frame bytes arrive
// from the other side of the boundary.
var (
	// ErrNilIO indicates a frame stream was opened over a nil io.Reader/io.Writer.
	ErrNilIO = errors.New("interop: frame stream over a nil io.Reader/io.Writer")

	// ErrLeafNotFixed indicates the leaf type has no fixed binary size and cannot be framed.
	ErrLeafNotFixed = errors.New("interop: leaf type has no fixed binary size")

	// ErrKeyNotFramable indicates the key type does not survive a CBOR round trip and cannot be framed.
	ErrKeyNotFramable = errors.New("interop: key type cannot be framed")

	// ErrFrameTooLarge indicates a frame header announces more data than the frame can hold.
	ErrFrameTooLarge = errors.New("interop: frame header exceeds limits")

	// ErrTrailingData is returned when non-zero bytes follow a decoded frame.
	ErrTrailingData = errors.New("interop: non-zero trailing data found after decoding")

	// ErrTruncatedData indicates the frame ended before all announced data was read.
	ErrTruncatedData = errors.New("interop: truncated data")
)
