package membridge

// wasmPageSize is the size of one WebAssembly memory page.
const wasmPageSize = 1 << 16

// memoryModule returns the binary of
//
//	(module (memory (export "memory") initial max))
//
// The bridge needs nothing from the module but its linear memory.
func memoryModule(initial, max uint32) []byte {
	limits := []byte{0x01} // min and max present
	limits = appendULEB128(limits, initial)
	limits = appendULEB128(limits, max)

	out := []byte{
		0x00, 0x61, 0x73, 0x6d, // \0asm
		0x01, 0x00, 0x00, 0x00, // version 1
	}

	// memory section: one memory
	out = append(out, 0x05)
	out = appendULEB128(out, uint32(1+len(limits)))
	out = append(out, 0x01)
	out = append(out, limits...)

	// export section: "memory" -> memory 0
	name := "memory"
	out = append(out, 0x07)
	out = appendULEB128(out, uint32(1+1+len(name)+2))
	out = append(out, 0x01, byte(len(name)))
	out = append(out, name...)
	out = append(out, 0x02, 0x00)
	return out
}

func appendULEB128(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}
