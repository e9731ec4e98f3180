package interop

import "math/bits"

// Bits is a bit-packed boolean sequence. Its elements cannot be referenced
// individually, so the engine unpacks it into a []bool before copying.
type Bits struct {
	words []uint64
	n     int
}

// BitsOf returns a Bits holding vs.
func BitsOf(vs ...bool) Bits {
	return packBits(vs)
}

// Len returns the number of bits.
func (b Bits) Len() int { return b.n }

// At returns bit i. It panics if i is out of range.
func (b Bits) At(i int) bool {
	if i < 0 || i >= b.n {
		panic("interop: Bits index out of range")
	}
	return b.words[i>>6]&(1<<(uint(i)&63)) != 0
}

// Set sets bit i. It panics if i is out of range.
func (b *Bits) Set(i int, v bool) {
	if i < 0 || i >= b.n {
		panic("interop: Bits index out of range")
	}
	if v {
		b.words[i>>6] |= 1 << (uint(i) & 63)
	} else {
		b.words[i>>6] &^= 1 << (uint(i) & 63)
	}
}

// Append adds v at the end.
func (b *Bits) Append(v bool) {
	b.Resize(b.n + 1)
	b.Set(b.n-1, v)
}

// Resize changes the length to n. New bits are false.
func (b *Bits) Resize(n int) {
	words := (n + 63) >> 6
	if n < b.n {
		// Clear the bits past the new end so a later grow reads false.
		clear(b.words[words:])
		if words > 0 {
			b.words[words-1] &= lowMask(n)
		}
		b.words = b.words[:words]
		b.n = n
		return
	}
	if words > cap(b.words) {
		grown := make([]uint64, words, max(words, 2*cap(b.words)))
		copy(grown, b.words)
		b.words = grown
	} else {
		b.words = b.words[:words]
	}
	b.n = n
}

// Count returns the number of set bits.
func (b Bits) Count() int {
	total := 0
	for _, w := range b.words {
		total += bits.OnesCount64(w)
	}
	return total
}

// Bools unpacks the sequence into dst, growing it when needed.
func (b Bits) Bools(dst []bool) []bool {
	if cap(dst) < b.n {
		dst = make([]bool, b.n)
	}
	dst = dst[:b.n]
	for i := range dst {
		dst[i] = b.words[i>>6]&(1<<(uint(i)&63)) != 0
	}
	return dst
}

// Equal reports whether b and o hold the same bits.
func (b Bits) Equal(o Bits) bool {
	if b.n != o.n {
		return false
	}
	for i := range b.words {
		if b.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

func lowMask(n int) uint64 {
	if r := uint(n) & 63; r != 0 {
		return 1<<r - 1
	}
	return ^uint64(0)
}
