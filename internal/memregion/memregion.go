// Package memregion provides a bounds-checked view over a raw byte buffer.
// Encoded side tables (stack maps, heap metadata) are always read and
// written through a Region so an out-of-range offset fails loudly instead
// of corrupting neighbouring data.
package memregion

import (
	"encoding/binary"
	"fmt"
)

// Region is a fixed-size window over a byte buffer. All accesses are
// little-endian and bounds-checked; a violation panics because it is a
// programming error in the encoder, not an input error.
type Region struct {
	data []byte
}

// New wraps data in a Region. The Region aliases the slice; writes through
// the Region are visible to the caller.
func New(data []byte) Region {
	return Region{data: data}
}

// Size returns the region size in bytes.
func (r Region) Size() int { return len(r.data) }

// Bytes returns the backing slice.
func (r Region) Bytes() []byte { return r.data }

// Subregion returns a window of length size starting at offset.
func (r Region) Subregion(offset, size int) Region {
	r.check(offset, size)
	return Region{data: r.data[offset : offset+size]}
}

func (r Region) check(offset, size int) {
	if offset < 0 || size < 0 || offset+size > len(r.data) {
		panic(fmt.Sprintf("memregion: access [%d,%d) outside region of %d bytes", offset, offset+size, len(r.data)))
	}
}

// LoadU8 reads one byte at offset.
func (r Region) LoadU8(offset int) uint8 {
	r.check(offset, 1)
	return r.data[offset]
}

// LoadU16 reads a little-endian 16-bit value at offset.
func (r Region) LoadU16(offset int) uint16 {
	r.check(offset, 2)
	return binary.LittleEndian.Uint16(r.data[offset:])
}

// LoadU32 reads a little-endian 32-bit value at offset.
func (r Region) LoadU32(offset int) uint32 {
	r.check(offset, 4)
	return binary.LittleEndian.Uint32(r.data[offset:])
}

// LoadU64 reads a little-endian 64-bit value at offset.
func (r Region) LoadU64(offset int) uint64 {
	r.check(offset, 8)
	return binary.LittleEndian.Uint64(r.data[offset:])
}

// StoreU8 writes one byte at offset.
func (r Region) StoreU8(offset int, value uint8) {
	r.check(offset, 1)
	r.data[offset] = value
}

// StoreU16 writes a little-endian 16-bit value at offset.
func (r Region) StoreU16(offset int, value uint16) {
	r.check(offset, 2)
	binary.LittleEndian.PutUint16(r.data[offset:], value)
}

// StoreU32 writes a little-endian 32-bit value at offset.
func (r Region) StoreU32(offset int, value uint32) {
	r.check(offset, 4)
	binary.LittleEndian.PutUint32(r.data[offset:], value)
}

// StoreU64 writes a little-endian 64-bit value at offset.
func (r Region) StoreU64(offset int, value uint64) {
	r.check(offset, 8)
	binary.LittleEndian.PutUint64(r.data[offset:], value)
}

// CopyFrom copies src into the region starting at offset.
func (r Region) CopyFrom(offset int, src []byte) {
	r.check(offset, len(src))
	copy(r.data[offset:], src)
}

// LoadBytes returns a copy of size bytes starting at offset.
func (r Region) LoadBytes(offset, size int) []byte {
	r.check(offset, size)
	out := make([]byte, size)
	copy(out, r.data[offset:])
	return out
}
