// Package membridge carries decomposed containers across a module boundary
// modelled as a WebAssembly linear memory. The sending side writes a frame
// into the memory and hands the receiving side a Handle; the receiving side
// reads the frame back and rebuilds the container.
package membridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/oy3o/interop"
)

var (
	// ErrOutOfMemory indicates the linear memory cannot grow to hold a payload.
	ErrOutOfMemory = errors.New("membridge: linear memory exhausted")

	// ErrBadHandle indicates a handle outside the written region of the memory.
	ErrBadHandle = errors.New("membridge: handle outside linear memory")

	// ErrChecksum indicates a payload whose digest does not match its contents.
	ErrChecksum = errors.New("membridge: payload checksum mismatch")
)

const (
	digestSize   = 32
	payloadAlign = 8

	encodingRaw byte = 0
	encodingLZ4 byte = 1
)

// Config configures a Bridge.
type Config struct {
	// InitialPages is the memory size at instantiation, in 64 KiB pages.
	InitialPages uint32
	// MaxPages bounds memory growth.
	MaxPages uint32
	// Compress LZ4-compresses every frame before it is written.
	Compress bool
	// Logger receives debug records for every send and receive.
	Logger *zap.Logger
}

// DefaultConfig returns a 64 KiB memory that may grow to 16 MiB, uncompressed.
func DefaultConfig() Config {
	return Config{InitialPages: 1, MaxPages: 256, Logger: zap.NewNop()}
}

// Handle locates one payload in the linear memory.
type Handle struct {
	Offset uint32
	Length uint32
}

// Bridge owns a linear memory and a bump allocator over it. Payloads stay
// valid until Reset or Close. A Bridge is not safe for concurrent use.
type Bridge struct {
	cfg  Config
	log  *zap.Logger
	rt   wazero.Runtime
	mod  api.Module
	mem  api.Memory
	next uint32
}

// New instantiates the memory module.
func New(ctx context.Context, cfg Config) (*Bridge, error) {
	if cfg.InitialPages == 0 {
		cfg.InitialPages = 1
	}
	if cfg.MaxPages < cfg.InitialPages {
		cfg.MaxPages = cfg.InitialPages
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(cfg.MaxPages))
	compiled, err := rt.CompileModule(ctx, memoryModule(cfg.InitialPages, cfg.MaxPages))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("membridge: compile memory module: %w", err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("interop-boundary"))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("membridge: instantiate memory module: %w", err)
	}

	return &Bridge{
		cfg: cfg,
		log: cfg.Logger,
		rt:  rt,
		mod: mod,
		mem: mod.ExportedMemory("memory"),
	}, nil
}

// Close releases the runtime and its memory.
func (b *Bridge) Close(ctx context.Context) error {
	return b.rt.Close(ctx)
}

// Reset discards every payload, making the whole memory available again.
func (b *Bridge) Reset() { b.next = 0 }

// Used returns the number of bytes allocated to payloads.
func (b *Bridge) Used() uint32 { return b.next }

// Capacity returns the current size of the memory in bytes.
func (b *Bridge) Capacity() uint32 { return b.mem.Size() }

// payloadPool reuses the buffers payloads are assembled in before being
// copied into the memory.
var payloadPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// Send decomposes *src and writes it into the memory.
func Send[C any](ctx context.Context, b *Bridge, src *C) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	frame, err := interop.EncodeFrame(src)
	if err != nil {
		return Handle{}, err
	}

	buf := payloadPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer payloadPool.Put(buf)

	if b.cfg.Compress {
		buf.WriteByte(encodingLZ4)
		zw := lz4.NewWriter(buf)
		if _, err := zw.Write(frame); err != nil {
			return Handle{}, fmt.Errorf("membridge: compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return Handle{}, fmt.Errorf("membridge: compress: %w", err)
		}
	} else {
		buf.WriteByte(encodingRaw)
		buf.Write(frame)
	}
	sum := blake3.Sum256(buf.Bytes())
	buf.Write(sum[:])

	h, err := b.write(buf.Bytes())
	if err != nil {
		return Handle{}, err
	}
	b.log.Debug("membridge: sent",
		zap.Uint32("offset", h.Offset),
		zap.Uint32("length", h.Length),
		zap.Int("frame", len(frame)),
		zap.Bool("compressed", b.cfg.Compress),
	)
	return h, nil
}

// Receive reads the payload at h and rebuilds it into *dst.
func Receive[C any](ctx context.Context, b *Bridge, h Handle, dst *C) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := b.read(h)
	if err != nil {
		return err
	}
	if len(data) < 1+digestSize {
		return fmt.Errorf("%w: payload of %d bytes", ErrBadHandle, len(data))
	}
	body, sum := data[:len(data)-digestSize], data[len(data)-digestSize:]
	if blake3.Sum256(body) != [digestSize]byte(sum) {
		return fmt.Errorf("%w at offset %d", ErrChecksum, h.Offset)
	}

	frame := body[1:]
	switch body[0] {
	case encodingRaw:
	case encodingLZ4:
		if frame, err = io.ReadAll(lz4.NewReader(bytes.NewReader(frame))); err != nil {
			return fmt.Errorf("membridge: decompress: %w", err)
		}
	default:
		return fmt.Errorf("%w: unknown payload encoding %d", ErrBadHandle, body[0])
	}

	if err := interop.DecodeFrame(frame, dst); err != nil {
		return err
	}
	b.log.Debug("membridge: received",
		zap.Uint32("offset", h.Offset),
		zap.Uint32("length", h.Length),
		zap.Int("frame", len(frame)),
	)
	return nil
}

// memoryLimit returns the highest end offset a payload may reach. Offsets are
// 32-bit, so a full 65536-page memory still stops one byte short of 4 GiB.
func memoryLimit(pages uint32) uint64 {
	return min(uint64(pages)*wasmPageSize, math.MaxUint32)
}

// write copies payload to the next aligned offset, growing the memory as needed.
func (b *Bridge) write(payload []byte) (Handle, error) {
	offset := interop.Roundup(uint64(b.next), payloadAlign)
	end := offset + uint64(len(payload))
	if end > memoryLimit(b.cfg.MaxPages) {
		return Handle{}, fmt.Errorf("%w: need %d bytes, limit is %d pages", ErrOutOfMemory, end, b.cfg.MaxPages)
	}
	if size := uint64(b.mem.Size()); end > size {
		pages := (end - size + wasmPageSize - 1) / wasmPageSize
		if _, ok := b.mem.Grow(uint32(pages)); !ok {
			return Handle{}, fmt.Errorf("%w: cannot grow by %d pages", ErrOutOfMemory, pages)
		}
	}
	if !b.mem.Write(uint32(offset), payload) {
		return Handle{}, fmt.Errorf("%w: write of %d bytes at %d", ErrOutOfMemory, len(payload), offset)
	}
	b.next = uint32(end)
	return Handle{Offset: uint32(offset), Length: uint32(len(payload))}, nil
}

// read returns a view of the payload at h. The view is only valid until the
// memory is written or grown.
func (b *Bridge) read(h Handle) ([]byte, error) {
	if uint64(h.Offset)+uint64(h.Length) > uint64(b.next) {
		return nil, fmt.Errorf("%w: [%d, +%d) past %d", ErrBadHandle, h.Offset, h.Length, b.next)
	}
	data, ok := b.mem.Read(h.Offset, h.Length)
	if !ok {
		return nil, fmt.Errorf("%w: [%d, +%d)", ErrBadHandle, h.Offset, h.Length)
	}
	return data, nil
}
