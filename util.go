package interop

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/constraints"
)

// Order is the byte order of frame fields. Both sides of a boundary must
// agree on it.
var Order binary.ByteOrder = binary.BigEndian

// Roundup rounds n up to the nearest multiple of align.
func Roundup[T constraints.Integer](n, align T) T { return (n + (align - 1)) &^ (align - 1) }

// MAX_PADDING is the largest run of trailing zero bytes accepted after a
// frame. Shared-memory slots are padded, but anything larger than this is a
// framing error.
const MAX_PADDING = 1024

// CheckBufferNotZeros verifies that data holds only padding.
func CheckBufferNotZeros(data []byte) error {
	if len(data) > MAX_PADDING {
		return fmt.Errorf("%w: %d bytes exceeds maximum padding of %d bytes", ErrTrailingData, len(data), MAX_PADDING)
	}
	for i, b := range data {
		if b != 0 {
			return fmt.Errorf("%w: found non-zero byte 0x%02x at offset %d", ErrTrailingData, b, i)
		}
	}
	return nil
}
