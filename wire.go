package interop

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"reflect"
	"slices"
)

// frameWriter writes the binary fields of a frame. It tracks the first error
// that occurs; after an error all subsequent writes become no-ops.
type frameWriter struct {
	w     io.Writer
	buf   *bufio.Writer // nil when w is already in memory
	count int64
	err   error
	order binary.ByteOrder
	tmp   [8]byte
}

func newFrameWriter(w io.Writer) (*frameWriter, error) {
	if w == nil {
		return nil, ErrNilIO
	}
	fw := &frameWriter{w: w, order: Order}
	switch w.(type) {
	case *BytesWriter, *bytes.Buffer, *bufio.Writer:
		// already buffered or in memory
	default:
		fw.buf = bufio.NewWriter(w)
		fw.w = fw.buf
	}
	return fw, nil
}

// setError records the first non-nil error.
func (w *frameWriter) setError(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

func (w *frameWriter) write(p []byte) {
	if w.err != nil || len(p) == 0 {
		return
	}
	n, err := w.w.Write(p)
	w.count += int64(n)
	w.setError(err)
}

func (w *frameWriter) writeUint8(v uint8) {
	w.tmp[0] = v
	w.write(w.tmp[:1])
}

func (w *frameWriter) writeUint32(v uint32) {
	w.order.PutUint32(w.tmp[:4], v)
	w.write(w.tmp[:4])
}

func (w *frameWriter) writeUint64(v uint64) {
	w.order.PutUint64(w.tmp[:8], v)
	w.write(w.tmp[:8])
}

// writeItems writes a []L item array. Platform-width integers are widened to
// 64 bits; every other leaf goes through encoding/binary.
func (w *frameWriter) writeItems(items reflect.Value) {
	if w.err != nil {
		return
	}
	switch items.Type().Elem().Kind() {
	case reflect.Int:
		for i := 0; i < items.Len(); i++ {
			w.writeUint64(uint64(items.Index(i).Int()))
		}
	case reflect.Uint, reflect.Uintptr:
		for i := 0; i < items.Len(); i++ {
			w.writeUint64(items.Index(i).Uint())
		}
	default:
		data := items.Interface()
		if err := binary.Write(w.w, w.order, data); err != nil {
			w.setError(err)
			return
		}
		w.count += int64(binary.Size(data))
	}
}

// align writes zero bytes until the offset is a multiple of n.
func (w *frameWriter) align(n int) {
	if pad := Roundup(w.count, int64(n)) - w.count; pad > 0 {
		var zeros [8]byte
		w.write(zeros[:pad])
	}
}

// result flushes the buffer and returns the final count and error state.
func (w *frameWriter) result() (int64, error) {
	if w.buf != nil && w.err == nil {
		w.setError(w.buf.Flush())
	}
	return w.count, w.err
}

// frameReader reads the binary fields of a frame without buffering, so a frame
// can be read from a stream that carries more data after it. It tracks the
// first error; subsequent reads become no-ops.
type frameReader struct {
	r     io.Reader
	count int64
	err   error
	order binary.ByteOrder
	tmp   [8]byte
}

func newFrameReader(r io.Reader) (*frameReader, error) {
	if r == nil {
		return nil, ErrNilIO
	}
	return &frameReader{r: r, order: Order}, nil
}

func (r *frameReader) setError(err error) {
	if r.err == nil && err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// A frame never ends on a field boundary the header did not announce.
			err = ErrTruncatedData
		}
		r.err = err
	}
}

func (r *frameReader) read(p []byte) {
	if r.err != nil || len(p) == 0 {
		return
	}
	n, err := io.ReadFull(r.r, p)
	r.count += int64(n)
	r.setError(err)
}

func (r *frameReader) readUint8() uint8 {
	r.read(r.tmp[:1])
	if r.err != nil {
		return 0
	}
	return r.tmp[0]
}

func (r *frameReader) readUint32() uint32 {
	r.read(r.tmp[:4])
	if r.err != nil {
		return 0
	}
	return r.order.Uint32(r.tmp[:4])
}

func (r *frameReader) readUint64() uint64 {
	r.read(r.tmp[:8])
	if r.err != nil {
		return 0
	}
	return r.order.Uint64(r.tmp[:8])
}

// frameChunkBytes bounds how far an array read runs ahead of the data
// actually received.
const frameChunkBytes = 64 << 10

// readBytes reads n bytes into a new slice.
func (r *frameReader) readBytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	buf := make([]byte, 0, min(n, frameChunkBytes))
	for len(buf) < n && r.err == nil {
		k := min(n-len(buf), frameChunkBytes)
		buf = slices.Grow(buf, k)
		r.read(buf[len(buf) : len(buf)+k])
		buf = buf[:len(buf)+k]
	}
	return buf
}

// readItemArray reads n leaves of type elem, each width bytes on the wire,
// one chunk at a time.
func (r *frameReader) readItemArray(elem reflect.Type, n, width int) reflect.Value {
	typ := reflect.SliceOf(elem)
	if width == 0 {
		return reflect.MakeSlice(typ, n, n)
	}
	step := max(frameChunkBytes/width, 1)
	items := reflect.MakeSlice(typ, 0, min(n, step))
	for items.Len() < n && r.err == nil {
		chunk := reflect.MakeSlice(typ, min(step, n-items.Len()), min(step, n-items.Len()))
		r.readItems(chunk)
		items = reflect.AppendSlice(items, chunk)
	}
	return items
}

// readItems fills a []L item array written by writeItems.
func (r *frameReader) readItems(items reflect.Value) {
	if r.err != nil || items.Len() == 0 {
		return
	}
	switch items.Type().Elem().Kind() {
	case reflect.Int:
		for i := 0; i < items.Len() && r.err == nil; i++ {
			items.Index(i).SetInt(int64(r.readUint64()))
		}
	case reflect.Uint, reflect.Uintptr:
		for i := 0; i < items.Len() && r.err == nil; i++ {
			items.Index(i).SetUint(r.readUint64())
		}
	default:
		data := items.Interface()
		if err := binary.Read(r.r, r.order, data); err != nil {
			r.setError(err)
			return
		}
		r.count += int64(binary.Size(data))
	}
}

// align discards bytes until the offset is a multiple of n.
func (r *frameReader) align(n int) {
	if pad := Roundup(r.count, int64(n)) - r.count; pad > 0 {
		var skip [8]byte
		r.read(skip[:pad])
	}
}

func (r *frameReader) result() (int64, error) {
	return r.count, r.err
}

// BytesWriter is an io.Writer that writes to a pre-allocated byte slice.
// It will not grow the slice's capacity. If a write exceeds the available space,
// it writes as much as it can and returns io.ErrShortWrite.
type BytesWriter struct {
	B []byte // destination slice
	N int    // current write position
}

// NewBytesWriter creates a new BytesWriter.
func NewBytesWriter(p []byte) *BytesWriter {
	return &BytesWriter{B: p[:cap(p)]}
}

// Write implements the io.Writer interface.
func (w *BytesWriter) Write(p []byte) (int, error) {
	n := copy(w.B[w.N:], p)
	w.N += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Reset allows the underlying byte slice to be reused.
func (w *BytesWriter) Reset() { w.N = 0 }

// Len returns the number of bytes written.
func (w *BytesWriter) Len() int { return w.N }

// Available returns the number of bytes available for writing.
func (w *BytesWriter) Available() int { return len(w.B) - w.N }

// Bytes returns a slice view of the written data.
func (w *BytesWriter) Bytes() []byte { return w.B[:w.N] }

// BytesReader is an io.Reader that reads from a byte slice.
type BytesReader struct {
	B []byte // source slice
	N int    // current read position
}

// NewBytesReader creates a new BytesReader.
func NewBytesReader(b []byte) *BytesReader {
	return &BytesReader{B: b}
}

// Read implements the [io.Reader] interface.
func (r *BytesReader) Read(p []byte) (int, error) {
	if r.N >= len(r.B) {
		return 0, io.EOF
	}
	n := copy(p, r.B[r.N:])
	r.N += n
	return n, nil
}

// Len returns the number of bytes read.
func (r *BytesReader) Len() int { return r.N }

// Available returns the number of bytes available for reading.
func (r *BytesReader) Available() int {
	return max(len(r.B)-r.N, 0)
}
