package interop

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks and Helpers ---

// register is a composite leaf that is not trivially copyable.
type register struct {
	Name  string
	Value uint32
}

// sample is a fixed-size composite leaf.
type sample struct {
	Tick  uint32
	Level int16
	On    bool
}

// blob owns a buffer and copies it across the boundary itself.
type blob struct {
	data []byte
}

func (b *blob) DecomposeLeaf(dst any) bool {
	dst.(*blob).data = bytes.Clone(b.data)
	return true
}

func (b *blob) RecomposeLeaf(src any) bool {
	b.data = bytes.Clone(src.(*blob).data)
	return true
}

// shy implements the leaf capability but always declines.
type shy struct {
	N int
}

func (*shy) DecomposeLeaf(any) bool { return false }
func (*shy) RecomposeLeaf(any) bool { return false }

type regs []uint16

type loop []loop

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T { return &v }

// requireViolation runs fn and asserts that it panics with an error wrapping target.
func requireViolation(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic wrapping %v", target)
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.ErrorIs(t, err, target)
	}()
	fn()
}

// roundTrip decomposes v through a Source and rebuilds it through a Target,
// checking the leaf-count and size-array length laws on the way.
func roundTrip[C any](t *testing.T, v C) C {
	t.Helper()
	s := NewSource(&v)
	defer s.Close()

	flat := s.Retrieve()
	items, sizes := Measure(&v)
	assert.Equal(t, items, flat.ItemCount(), "item array length")
	assert.Len(t, flat.Sizes, sizes, "element size array length")
	assert.Equal(t, Depth[C](), flat.Depth)

	var out C
	NewTarget(&out).Apply(flat)
	return out
}

// pairs zips the keys and values of a single-level keyed flat.
func pairs[K comparable, V any, C any](t *testing.T, flat Flat[C]) map[K]V {
	t.Helper()
	require.NotEmpty(t, flat.Keys)
	keys, ok := flat.Keys[0].Keys().([]K)
	require.True(t, ok)
	vals, ok := ItemsOf[V](flat)
	require.True(t, ok)
	require.Len(t, keys, len(vals))

	out := make(map[K]V, len(keys))
	for i, k := range keys {
		out[k] = vals[i]
	}
	return out
}
