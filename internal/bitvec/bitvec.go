// Package bitvec provides a growable bitmap used for register masks, GC
// root masks and heap bitmaps. Storage is an array of 32-bit words; bit i
// lives in word i>>5 at position i&31.
package bitvec

import (
	"fmt"
	"math/bits"
)

const wordBits = 32

// BitVector is a logical array of bits backed by 32-bit storage words.
// An expandable vector grows automatically when a bit beyond the current
// storage is set; a fixed-size vector treats that as a contract violation.
type BitVector struct {
	storage    []uint32
	expandable bool
}

// New creates a vector with capacity for at least startBits bits.
func New(startBits uint32, expandable bool) *BitVector {
	return &BitVector{
		storage:    make([]uint32, wordsFor(startBits)),
		expandable: expandable,
	}
}

// FromStorage wraps externally owned storage words. The vector is fixed-size;
// the caller retains ownership of the backing slice.
func FromStorage(words []uint32) *BitVector {
	return &BitVector{storage: words}
}

func wordsFor(nbits uint32) int {
	return int((nbits + wordBits - 1) / wordBits)
}

// StorageSize returns the number of 32-bit words currently backing the vector.
func (v *BitVector) StorageSize() int { return len(v.storage) }

// Expandable reports whether the vector grows on out-of-range SetBit.
func (v *BitVector) Expandable() bool { return v.expandable }

// RawStorage exposes the backing words. Mutating the returned slice mutates
// the vector.
func (v *BitVector) RawStorage() []uint32 { return v.storage }

// SetBit sets bit idx. Setting a bit beyond the current storage grows the
// vector when it is expandable and panics otherwise.
func (v *BitVector) SetBit(idx uint32) {
	word := int(idx >> 5)
	if word >= len(v.storage) {
		if !v.expandable {
			panic(fmt.Sprintf("bitvec: SetBit(%d) beyond fixed storage of %d words", idx, len(v.storage)))
		}
		v.ensureWords(word + 1)
	}
	v.storage[word] |= 1 << (idx & 0x1f)
}

// ClearBit clears bit idx. Bits beyond the current storage are already
// logically clear, so out-of-range indices are a no-op.
func (v *BitVector) ClearBit(idx uint32) {
	word := int(idx >> 5)
	if word >= len(v.storage) {
		return
	}
	v.storage[word] &^= 1 << (idx & 0x1f)
}

// IsBitSet reports whether bit idx is set. Indices beyond the current
// storage are unset.
func (v *BitVector) IsBitSet(idx uint32) bool {
	word := int(idx >> 5)
	if word >= len(v.storage) {
		return false
	}
	return v.storage[word]&(1<<(idx&0x1f)) != 0
}

// ClearAll clears every bit without shrinking storage.
func (v *BitVector) ClearAll() {
	for i := range v.storage {
		v.storage[i] = 0
	}
}

// SetInitialBits sets bits [0, numBits).
func (v *BitVector) SetInitialBits(numBits uint32) {
	full := int(numBits >> 5)
	if rem := wordsFor(numBits); rem > len(v.storage) {
		if !v.expandable {
			panic(fmt.Sprintf("bitvec: SetInitialBits(%d) beyond fixed storage", numBits))
		}
		v.ensureWords(rem)
	}
	for i := 0; i < full; i++ {
		v.storage[i] = ^uint32(0)
	}
	if rem := numBits & 0x1f; rem != 0 {
		v.storage[full] |= (1 << rem) - 1
	}
}

func (v *BitVector) ensureWords(words int) {
	if words <= len(v.storage) {
		return
	}
	grown := make([]uint32, words)
	copy(grown, v.storage)
	v.storage = grown
}

// Union ors other into v and reports whether any bit of v changed. When
// other carries set bits beyond v's storage, v grows if expandable; a
// fixed-size v panics only if a set bit would be lost.
func (v *BitVector) Union(other *BitVector) bool {
	changed := false
	limit := len(other.storage)
	if limit > len(v.storage) {
		// Only grow for words that actually carry bits.
		highest := -1
		for i := len(v.storage); i < limit; i++ {
			if other.storage[i] != 0 {
				highest = i
			}
		}
		if highest >= 0 {
			if !v.expandable {
				panic("bitvec: Union would drop bits of a larger vector")
			}
			v.ensureWords(highest + 1)
		}
		if limit > len(v.storage) {
			limit = len(v.storage)
		}
	}
	for i := 0; i < limit; i++ {
		before := v.storage[i]
		v.storage[i] = before | other.storage[i]
		if v.storage[i] != before {
			changed = true
		}
	}
	return changed
}

// Intersect keeps only the bits also set in other.
func (v *BitVector) Intersect(other *BitVector) {
	for i := range v.storage {
		if i < len(other.storage) {
			v.storage[i] &= other.storage[i]
		} else {
			v.storage[i] = 0
		}
	}
}

// Subtract clears every bit of v that is set in other.
func (v *BitVector) Subtract(other *BitVector) {
	limit := len(v.storage)
	if len(other.storage) < limit {
		limit = len(other.storage)
	}
	for i := 0; i < limit; i++ {
		v.storage[i] &^= other.storage[i]
	}
}

// Copy replaces v's bits with other's. v grows as needed.
func (v *BitVector) Copy(other *BitVector) {
	v.ensureWords(len(other.storage))
	copy(v.storage, other.storage)
	for i := len(other.storage); i < len(v.storage); i++ {
		v.storage[i] = 0
	}
}

// NumSetBits counts the set bits in the whole vector.
func (v *BitVector) NumSetBits() int {
	count := 0
	for _, w := range v.storage {
		count += bits.OnesCount32(w)
	}
	return count
}

// NumSetBitsBefore counts the set bits with index < end.
func (v *BitVector) NumSetBitsBefore(end uint32) int {
	lastWord := int(end >> 5)
	count := 0
	for i := 0; i < lastWord && i < len(v.storage); i++ {
		count += bits.OnesCount32(v.storage[i])
	}
	if rem := end & 0x1f; rem != 0 && lastWord < len(v.storage) {
		count += bits.OnesCount32(v.storage[lastWord] & ((1 << rem) - 1))
	}
	return count
}

// HighestBitSet returns the index of the highest set bit, or -1 when the
// vector is empty.
func (v *BitVector) HighestBitSet() int {
	for i := len(v.storage) - 1; i >= 0; i-- {
		if w := v.storage[i]; w != 0 {
			return i*wordBits + (wordBits - 1 - bits.LeadingZeros32(w))
		}
	}
	return -1
}

// Equal requires identical expandability and identical logical bits.
func (v *BitVector) Equal(other *BitVector) bool {
	return v.expandable == other.expandable && v.SameBitsSet(other)
}

// SameBitsSet compares only logical bit content: missing high words of the
// shorter vector are treated as zero.
func (v *BitVector) SameBitsSet(other *BitVector) bool {
	longer, shorter := v.storage, other.storage
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	for i, w := range shorter {
		if w != longer[i] {
			return false
		}
	}
	for _, w := range longer[len(shorter):] {
		if w != 0 {
			return false
		}
	}
	return true
}

// Iterator returns a fresh forward iterator over set-bit indices in
// ascending order. Mutating the vector while iterating is undefined.
func (v *BitVector) Iterator() *IndexIterator {
	return &IndexIterator{storage: v.storage}
}

// Indexes collects every set-bit index in ascending order.
func (v *BitVector) Indexes() []uint32 {
	out := make([]uint32, 0, v.NumSetBits())
	it := v.Iterator()
	for idx, ok := it.Next(); ok; idx, ok = it.Next() {
		out = append(out, idx)
	}
	return out
}

// IndexIterator walks set-bit indices from lowest to highest.
type IndexIterator struct {
	storage []uint32
	word    int
	pending uint32
	primed  bool
}

// Next returns the next set-bit index. The second result is false once the
// sequence is exhausted.
func (it *IndexIterator) Next() (uint32, bool) {
	if !it.primed {
		if len(it.storage) == 0 {
			return 0, false
		}
		it.pending = it.storage[0]
		it.primed = true
	}
	for {
		if it.pending != 0 {
			bit := uint32(bits.TrailingZeros32(it.pending))
			it.pending &= it.pending - 1
			return uint32(it.word)*wordBits + bit, true
		}
		it.word++
		if it.word >= len(it.storage) {
			return 0, false
		}
		it.pending = it.storage[it.word]
	}
}
