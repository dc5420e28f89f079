package heap

import (
	"fmt"
	"math/bits"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/bitvec"
)

// sweepBatchSize bounds how many freed addresses a single sweep callback
// receives.
const sweepBatchSize = 256

// Bitmap maps one bit to each ObjectAlignment-sized granule of a space's
// address range. The collector keeps two per space: live (previous cycle)
// and mark (current cycle).
type Bitmap struct {
	base uint32
	bits *bitvec.BitVector
}

// NewBitmap covers [base, base+size).
func NewBitmap(base, size uint32) *Bitmap {
	return &Bitmap{base: base, bits: bitvec.New(size/ObjectAlignment, false)}
}

func (b *Bitmap) index(addr uint32) uint32 {
	if addr < b.base || addr%ObjectAlignment != 0 {
		panic(fmt.Sprintf("heap: bitmap address %#x invalid for base %#x", addr, b.base))
	}
	return (addr - b.base) / ObjectAlignment
}

// Set marks addr and reports whether it was already set.
func (b *Bitmap) Set(addr uint32) bool {
	idx := b.index(addr)
	if b.bits.IsBitSet(idx) {
		return true
	}
	b.bits.SetBit(idx)
	return false
}

// Clear unmarks addr.
func (b *Bitmap) Clear(addr uint32) { b.bits.ClearBit(b.index(addr)) }

// Test reports whether addr is marked.
func (b *Bitmap) Test(addr uint32) bool { return b.bits.IsBitSet(b.index(addr)) }

// ClearAll unmarks everything.
func (b *Bitmap) ClearAll() { b.bits.ClearAll() }

// NumMarked returns the number of marked granules.
func (b *Bitmap) NumMarked() int { return b.bits.NumSetBits() }

// NextMarked returns the first marked address at or after addr. It reads
// the storage live, so bits set behind the scan position during iteration
// are still found.
func (b *Bitmap) NextMarked(addr uint32) (uint32, bool) {
	if addr < b.base {
		addr = b.base
	}
	idx := (addr - b.base) / ObjectAlignment
	storage := b.bits.RawStorage()
	word := idx / 32
	if word >= uint32(len(storage)) {
		return 0, false
	}
	// Mask off bits below the starting index in the first word.
	w := storage[word] &^ ((1 << (idx % 32)) - 1)
	for {
		if w != 0 {
			bit := uint32(bits.TrailingZeros32(w))
			return b.base + (word*32+bit)*ObjectAlignment, true
		}
		word++
		if word >= uint32(len(storage)) {
			return 0, false
		}
		w = storage[word]
	}
}

// SweepDiff streams every address set in b but clear in mark to fn in
// batches, clearing it from b. This is the word-at-a-time bitmap diff the
// sweep phase runs over each condemned space.
func (b *Bitmap) SweepDiff(mark *Bitmap, fn func(addrs []uint32)) int {
	liveWords := b.bits.RawStorage()
	markWords := mark.bits.RawStorage()
	batch := make([]uint32, 0, sweepBatchSize)
	freed := 0

	for w := 0; w < len(liveWords); w++ {
		var m uint32
		if w < len(markWords) {
			m = markWords[w]
		}
		dead := liveWords[w] &^ m
		if dead == 0 {
			continue
		}
		liveWords[w] &^= dead
		for dead != 0 {
			bit := uint32(bits.TrailingZeros32(dead))
			dead &^= 1 << bit
			batch = append(batch, b.base+(uint32(w)*32+bit)*ObjectAlignment)
			freed++
			if len(batch) == sweepBatchSize {
				fn(batch)
				batch = batch[:0]
			}
		}
	}
	if len(batch) > 0 {
		fn(batch)
	}
	return freed
}
