package interop

import (
	"fmt"
	"io"
)

// MarshalBinaryGeneric provides an `encoding.BinaryMarshaler` implementation
// for any self-sizing io.WriterTo.
func MarshalBinaryGeneric[T interface {
	Size() int
	io.WriterTo
}](v T) ([]byte, error) {
	expectedSize := v.Size()
	w := NewBytesWriter(make([]byte, expectedSize))
	n, err := v.WriteTo(w)
	if err != nil {
		return nil, err
	}
	if n < int64(expectedSize) {
		return nil, fmt.Errorf("%w: expected %d bytes, but wrote %d", ErrTruncatedData, expectedSize, n)
	}
	return w.Bytes(), nil
}

// UnmarshalBinaryGeneric adapts a stream-based `ReadFrom` to `UnmarshalBinary`
// and rejects anything but zero padding after the decoded data.
func UnmarshalBinaryGeneric[T interface {
	io.ReaderFrom
	Size() int
}](v T, data []byte) error {
	r := NewBytesReader(data)
	n, err := v.ReadFrom(r)
	if err != nil {
		return err
	}
	if expectedSize := v.Size(); n < int64(expectedSize) {
		return fmt.Errorf("%w: expected %d bytes, but read %d", ErrTruncatedData, expectedSize, n)
	}
	if len(data) > int(n) {
		return CheckBufferNotZeros(data[n:])
	}
	return nil
}

// MarshalToGeneric provides the MarshalTo method on top of Size and WriteTo.
func MarshalToGeneric[T interface {
	Size() int
	io.WriterTo
}](v T, p []byte) (int, error) {
	size := v.Size()
	if len(p) < size {
		return 0, io.ErrShortWrite
	}
	w := NewBytesWriter(p)
	n, err := v.WriteTo(w)
	if err != nil {
		return int(n), err
	}
	if n < int64(size) {
		return int(n), io.ErrShortWrite
	}
	return int(n), nil
}
