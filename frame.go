package interop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

const (
	frameHeaderSize = 4 + 8 + 8 // depth, item count, size count
	frameAlign      = 8

	// MaxFrameEntries bounds every count a frame header may announce.
	MaxFrameEntries = 1 << 28
)

// keyEncMode encodes pending keys with Core Deterministic Encoding so the same
// keys always produce the same frame bytes.
var (
	keyEncMode cbor.EncMode
	keyDecMode cbor.DecMode
)

func init() {
	var err error
	keyEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("interop: CBOR encoder initialization failed: " + err.Error())
	}
	// The key blob length already bounds the array, so the decoder's own
	// element limit only needs to cover every count a header may announce.
	keyDecMode, err = cbor.DecOptions{MaxArrayElements: MaxFrameEntries}.DecMode()
	if err != nil {
		panic("interop: CBOR decoder initialization failed: " + err.Error())
	}
}

// leafWidthCache avoids the reflection cost of binary.Size on every frame.
var leafWidthCache = xsync.NewMap[reflect.Type, int]()

// leafWidth returns the encoded size of one leaf, or -1 when the leaf has no
// fixed binary size. Platform-width integers are framed as 64 bits.
func leafWidth(t reflect.Type) int {
	if w, ok := leafWidthCache.Load(t); ok {
		return w
	}
	w := -1
	switch t.Kind() {
	case reflect.Int, reflect.Uint, reflect.Uintptr:
		w = 8
	default:
		if fixedLayout(t) {
			w = binary.Size(reflect.Zero(t).Interface())
		}
	}
	leafWidthCache.Store(t, w)
	return w
}

// fixedLayout reports whether encoding/binary can both write and read t.
// binary.Size accepts unexported struct fields, but binary.Read cannot set
// them.
func fixedLayout(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return fixedLayout(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			sf := t.Field(i)
			if sf.Name != "_" && !sf.IsExported() {
				return false
			}
			if !fixedLayout(sf.Type) {
				return false
			}
		}
		return true
	}
	return false
}

var (
	keyFramableCache    = xsync.NewMap[reflect.Type, bool]()
	cborMarshalerType   = reflect.TypeFor[cbor.Marshaler]()
	cborUnmarshalerType = reflect.TypeFor[cbor.Unmarshaler]()
)

// keyFramable reports whether a key of type t decodes from CBOR to a value
// equal to the one encoded. Interface keys come back with a different
// dynamic type and unexported struct fields are dropped, so both are refused.
func keyFramable(t reflect.Type) bool {
	if ok, hit := keyFramableCache.Load(t); hit {
		return ok
	}
	ok := cborRoundTrips(t)
	keyFramableCache.Store(t, ok)
	return ok
}

func cborRoundTrips(t reflect.Type) bool {
	if t.Implements(cborMarshalerType) && reflect.PointerTo(t).Implements(cborUnmarshalerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Array:
		return cborRoundTrips(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			sf := t.Field(i)
			if sf.Name == "_" {
				continue
			}
			if !sf.IsExported() || sf.Tag.Get("cbor") == "-" || sf.Tag.Get("json") == "-" {
				return false
			}
			if !cborRoundTrips(sf.Type) {
				return false
			}
		}
		return true
	}
	return false
}

// framable checks that values shaped like p can travel in a frame and
// returns the leaf width.
func framable(p *plan) (int, error) {
	width := leafWidth(p.leaf)
	if width < 0 {
		return 0, fmt.Errorf("%w: %s", ErrLeafNotFixed, p.leaf)
	}
	for q := p; q.kind != KindLeaf; q = q.elem {
		if q.kind.Keyed() && !keyFramable(q.key) {
			return 0, fmt.Errorf("%w: %s in %s", ErrKeyNotFramable, q.key, p.typ)
		}
	}
	return width, nil
}

// Frame carries a Flat[C] as bytes, for transports that move memory rather
// than Go values. Layout, in package Order:
//
//	u32 depth | u64 item count | u64 size count
//	items | zero padding to 8
//	sizes, u64 each
//	per level: u8 keyed [ u32 length | CBOR array of pending keys ]
//
// The pending keys are snapshotted the first time the frame is sized or
// written. The zero Frame is ready to decode into.
type Frame[C any] struct {
	Flat Flat[C]

	plan  *plan
	blobs [][]byte // encoded keys per level, nil for levels without keys
	size  int
	err   error
	ready bool
}

var _ Codec = (*Frame[[]int])(nil)

// NewFrame returns a frame over flat.
func NewFrame[C any](flat Flat[C]) *Frame[C] {
	return &Frame[C]{Flat: flat}
}

func (f *Frame[C]) shape() *plan {
	if f.plan == nil {
		f.plan = planFor(reflect.TypeFor[C]())
	}
	return f.plan
}

// prepare validates the flat and encodes its keys.
func (f *Frame[C]) prepare() error {
	if f.ready {
		return f.err
	}
	f.ready = true
	f.size, f.err = f.measure()
	return f.err
}

func (f *Frame[C]) measure() (int, error) {
	p := f.shape()
	width, err := framable(p)
	if err != nil {
		return 0, err
	}
	if f.Flat.Depth != p.depth {
		return 0, fmt.Errorf("%w: flat depth %d, %s has depth %d", ErrShapeMismatch, f.Flat.Depth, p.typ, p.depth)
	}
	if f.Flat.Items != nil {
		if got, want := reflect.TypeOf(f.Flat.Items), reflect.SliceOf(p.leaf); got != want {
			return 0, fmt.Errorf("%w: items are %s, want %s", ErrShapeMismatch, got, want)
		}
	}

	size := Roundup(frameHeaderSize+f.Flat.ItemCount()*width, frameAlign) + 8*len(f.Flat.Sizes)

	f.blobs = make([][]byte, p.depth)
	level := 0
	for q := p; q.kind != KindLeaf; q, level = q.elem, level+1 {
		size++
		if !q.kind.Keyed() {
			continue
		}
		if level >= len(f.Flat.Keys) || f.Flat.Keys[level] == nil {
			return 0, fmt.Errorf("%w: no key marshaller at level %d", ErrShapeMismatch, level)
		}
		blob, err := keyEncMode.Marshal(f.Flat.Keys[level].Keys())
		if err != nil {
			return 0, fmt.Errorf("interop: encoding level %d keys: %w", level, err)
		}
		f.blobs[level] = blob
		size += 4 + len(blob)
	}
	return size, nil
}

// Size returns the encoded size of the frame, or 0 if it cannot be encoded.
func (f *Frame[C]) Size() int {
	if f.prepare() != nil {
		return 0
	}
	return f.size
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f *Frame[C]) MarshalBinary() ([]byte, error) {
	if err := f.prepare(); err != nil {
		return nil, err
	}
	return MarshalBinaryGeneric(f)
}

// MarshalTo encodes the frame into p.
func (f *Frame[C]) MarshalTo(p []byte) (int, error) {
	if err := f.prepare(); err != nil {
		return 0, err
	}
	return MarshalToGeneric(f, p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Zero padding after
// the frame is accepted; any other trailing byte is an error.
func (f *Frame[C]) UnmarshalBinary(data []byte) error {
	return UnmarshalBinaryGeneric(f, data)
}

// WriteTo implements io.WriterTo.
func (f *Frame[C]) WriteTo(w io.Writer) (int64, error) {
	if err := f.prepare(); err != nil {
		return 0, err
	}
	fw, err := newFrameWriter(w)
	if err != nil {
		return 0, err
	}

	fw.writeUint32(uint32(f.Flat.Depth))
	fw.writeUint64(uint64(f.Flat.ItemCount()))
	fw.writeUint64(uint64(len(f.Flat.Sizes)))
	if f.Flat.ItemCount() > 0 {
		fw.writeItems(reflect.ValueOf(f.Flat.Items))
	}
	fw.align(frameAlign)
	for _, n := range f.Flat.Sizes {
		fw.writeUint64(uint64(n))
	}
	for _, blob := range f.blobs {
		if blob == nil {
			fw.writeUint8(0)
			continue
		}
		fw.writeUint8(1)
		fw.writeUint32(uint32(len(blob)))
		fw.write(blob)
	}

	n, err := fw.result()
	if ce := Logger().Check(zap.DebugLevel, "interop: frame written"); ce != nil {
		ce.Write(zap.Stringer("type", f.shape().typ), zap.Int64("bytes", n), zap.Error(err))
	}
	return n, err
}

// ReadFrom implements io.ReaderFrom. It reads exactly one frame and replaces
// f.Flat with buffers owned by the frame.
func (f *Frame[C]) ReadFrom(r io.Reader) (int64, error) {
	p := f.shape()
	width, err := framable(p)
	if err != nil {
		return 0, err
	}
	fr, err := newFrameReader(r)
	if err != nil {
		return 0, err
	}

	depth := fr.readUint32()
	itemCount := fr.readUint64()
	sizeCount := fr.readUint64()
	if n, err := fr.result(); err != nil {
		return n, err
	}
	if int(depth) != p.depth {
		return fr.count, fmt.Errorf("%w: frame depth %d, %s has depth %d", ErrShapeMismatch, depth, p.typ, p.depth)
	}
	if itemCount > MaxFrameEntries || sizeCount > MaxFrameEntries {
		return fr.count, fmt.Errorf("%w: %d items, %d sizes", ErrFrameTooLarge, itemCount, sizeCount)
	}
	if br, ok := r.(*BytesReader); ok && int(itemCount)*width+8*int(sizeCount) > br.Available() {
		return fr.count, fmt.Errorf("%w: header announces more than %d remaining bytes", ErrTruncatedData, br.Available())
	}

	// Arrays grow as bytes arrive, so a header alone cannot force a large
	// allocation from a stream of unknown length.
	items := fr.readItemArray(p.leaf, int(itemCount), width)
	fr.align(frameAlign)
	sizes := make([]uint, 0, min(sizeCount, frameChunkBytes/8))
	for range sizeCount {
		n := fr.readUint64()
		if fr.err != nil {
			break
		}
		sizes = append(sizes, uint(n))
	}

	keys := newKeyMarshallers(p)
	blobs := make([][]byte, p.depth)
	level := 0
	for q := p; q.kind != KindLeaf && fr.err == nil; q, level = q.elem, level+1 {
		keyed := fr.readUint8()
		if fr.err != nil {
			break
		}
		if keyed > 1 || (keyed == 1) != q.kind.Keyed() {
			return fr.count, fmt.Errorf("%w: level %d keyed flag %d for %s", ErrShapeMismatch, level, keyed, q.kind)
		}
		if keyed == 0 {
			continue
		}
		length := fr.readUint32()
		if length > MaxFrameEntries {
			return fr.count, fmt.Errorf("%w: level %d key blob of %d bytes", ErrFrameTooLarge, level, length)
		}
		blob := fr.readBytes(int(length))
		if fr.err != nil {
			break
		}
		dst := reflect.New(reflect.SliceOf(q.key))
		if err := keyDecMode.Unmarshal(blob, dst.Interface()); err != nil {
			return fr.count, fmt.Errorf("interop: decoding level %d keys: %w", level, err)
		}
		pending := dst.Elem()
		if pending.IsNil() {
			pending = reflect.MakeSlice(pending.Type(), 0, 0)
		}
		keys[level].(*keyQueue).load(pending)
		blobs[level] = blob
	}

	n, err := fr.result()
	if err != nil {
		return n, err
	}
	f.Flat = Flat[C]{Items: items.Interface(), Sizes: sizes, Keys: keys, Depth: p.depth}
	f.blobs, f.size, f.err, f.ready = blobs, int(n), nil, true

	if ce := Logger().Check(zap.DebugLevel, "interop: frame read"); ce != nil {
		ce.Write(zap.Stringer("type", p.typ), zap.Int64("bytes", n), zap.Uint64("items", itemCount), zap.Uint64("sizes", sizeCount))
	}
	return n, nil
}

// EncodeFrame decomposes *v and encodes it as a frame.
func EncodeFrame[C any](v *C) ([]byte, error) {
	s := NewSource(v)
	defer s.Close()
	return NewFrame(s.Retrieve()).MarshalBinary()
}

// DecodeFrame decodes a frame and rebuilds it into *dst. A frame whose arrays
// do not describe C is reported as an error rather than a panic, since the
// bytes come from the other side of the boundary.
func DecodeFrame[C any](data []byte, dst *C) error {
	var f Frame[C]
	if err := f.UnmarshalBinary(data); err != nil {
		return err
	}
	return ApplyChecked(NewTarget(dst), f.Flat)
}

// ApplyChecked applies flat like Target.Apply but returns contract violations
// as errors. Use it when flat was built from untrusted bytes.
func ApplyChecked[C any](t *Target[C], flat Flat[C]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && isViolation(e) {
				err = e
				return
			}
			panic(r)
		}
	}()
	t.Apply(flat)
	return nil
}

func isViolation(err error) bool {
	for _, sentinel := range []error{
		ErrKeyUnderflow, ErrKeysPending, ErrKeyType, ErrItemsExhausted,
		ErrSizesExhausted, ErrShapeMismatch, ErrClosed, ErrNoDirectPath,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
