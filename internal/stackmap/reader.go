package stackmap

import (
	"fmt"
	"sort"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/memregion"
)

// Reader decodes a serialized stack-map table.
type Reader struct {
	region    memregion.Region
	count     int
	maskWidth int
}

// NewReader wraps a serialized table. It validates only the header; entry
// accesses are bounds-checked by the underlying region.
func NewReader(region memregion.Region) (*Reader, error) {
	if region.Size() < headerSize {
		return nil, fmt.Errorf("stackmap: region of %d bytes is smaller than the header", region.Size())
	}
	if total := int(region.LoadU32(0)); total != region.Size() {
		return nil, fmt.Errorf("stackmap: header size %d does not match region size %d", total, region.Size())
	}
	return &Reader{
		region:    region,
		count:     int(region.LoadU32(4)),
		maskWidth: int(region.LoadU32(8)),
	}, nil
}

// Count returns the number of safepoint entries.
func (r *Reader) Count() int { return r.count }

// StackMaskByteWidth returns the shared stack-mask width in bytes.
func (r *Reader) StackMaskByteWidth() int { return r.maskWidth }

func (r *Reader) entrySize() int { return entryFixedSize + r.maskWidth }

func (r *Reader) entryOffset(i int) int {
	if i < 0 || i >= r.count {
		panic(fmt.Sprintf("stackmap: entry index %d out of range [0,%d)", i, r.count))
	}
	return headerSize + i*r.entrySize()
}

// Entry is one decoded safepoint.
type Entry struct {
	DexPC          uint32
	NativePCOffset uint32
	RegisterMask   uint32
	StackMask      []byte
	// dexRegisterOffset / inlineInfoOffset are absolute offsets into the
	// serialized region.
	dexRegisterOffset uint32
	inlineInfoOffset  uint32
}

// HasInlineInfo reports whether the entry carries inlined frames.
func (e Entry) HasInlineInfo() bool { return e.inlineInfoOffset != NoInlineInfo }

// StackMaskBit returns bit i of the entry's stack mask.
func (e Entry) StackMaskBit(i int) bool {
	if i/8 >= len(e.StackMask) {
		return false
	}
	return e.StackMask[i/8]&(1<<(i%8)) != 0
}

// EntryAt decodes entry i.
func (r *Reader) EntryAt(i int) Entry {
	off := r.entryOffset(i)
	return Entry{
		DexPC:             r.region.LoadU32(off),
		NativePCOffset:    r.region.LoadU32(off + 4),
		RegisterMask:      r.region.LoadU32(off + 8),
		dexRegisterOffset: r.region.LoadU32(off + 12),
		inlineInfoOffset:  r.region.LoadU32(off + 16),
		StackMask:         r.region.LoadBytes(off+entryFixedSize, r.maskWidth),
	}
}

// DexRegisters decodes the n live-variable locations of entry e. The count
// is not stored per entry; the caller knows it from the compilation side
// or derives it from the next entry's start offset.
func (r *Reader) DexRegisters(e Entry, n int) []DexRegisterEntry {
	out := make([]DexRegisterEntry, n)
	off := int(e.dexRegisterOffset)
	for i := range out {
		out[i] = DexRegisterEntry{
			Kind:  LocationKind(r.region.LoadU8(off)),
			Value: int32(r.region.LoadU32(off + 1)),
		}
		off += dexRegisterSize
	}
	return out
}

// InlineInfos decodes the inlined frames of entry e, outermost first.
func (r *Reader) InlineInfos(e Entry) []InlineInfoEntry {
	if !e.HasInlineInfo() {
		return nil
	}
	off := int(e.inlineInfoOffset)
	depth := int(r.region.LoadU32(off))
	off += inlineHeaderSize
	out := make([]InlineInfoEntry, depth)
	for i := range out {
		out[i] = InlineInfoEntry{MethodIndex: r.region.LoadU32(off)}
		off += inlineEntrySize
	}
	return out
}

// EntryForNativePC returns the entry whose native pc offset equals pc,
// using binary search over the address-ordered entries.
func (r *Reader) EntryForNativePC(pc uint32) (Entry, bool) {
	idx := sort.Search(r.count, func(i int) bool {
		return r.region.LoadU32(r.entryOffset(i)+4) >= pc
	})
	if idx == r.count {
		return Entry{}, false
	}
	e := r.EntryAt(idx)
	if e.NativePCOffset != pc {
		return Entry{}, false
	}
	return e, true
}
