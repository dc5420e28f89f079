// Package stackmap builds and reads the per-method safepoint table. For
// every safepoint the table records the source pc, the native code offset,
// which registers and stack slots hold live references, and where the
// variable-length dex-register and inline-info data for that entry begins.
//
// The format is write-once: the encoder accumulates entries during code
// generation and serializes them in a single FillIn pass. Entries are
// appended in emission order, which is ascending native-pc order, so a
// reader can binary-search by native pc.
package stackmap

import (
	"fmt"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/bitvec"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/memregion"
)

// LocationKind describes where a dex register's value lives at a safepoint.
type LocationKind uint8

const (
	LocationNone LocationKind = iota
	LocationInRegister
	LocationInStack
	LocationConstant
)

func (k LocationKind) String() string {
	switch k {
	case LocationNone:
		return "none"
	case LocationInRegister:
		return "in-register"
	case LocationInStack:
		return "in-stack"
	case LocationConstant:
		return "constant"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DexRegisterEntry is one variable's location at one safepoint.
type DexRegisterEntry struct {
	Kind  LocationKind
	Value int32
}

// InlineInfoEntry is one inlined frame, outermost first.
type InlineInfoEntry struct {
	MethodIndex uint32
}

// NoInlineInfo is the serialized sentinel for entries without inlining.
const NoInlineInfo = ^uint32(0)

const (
	headerSize = 12 // total size, entry count, stack mask byte width
	// Fixed per-entry bytes before the variable-width stack mask:
	// dex pc, native pc offset, register mask, dex-register offset,
	// inline-info offset.
	entryFixedSize   = 20
	dexRegisterSize  = 5 // kind byte + value word
	inlineEntrySize  = 4
	inlineHeaderSize = 4 // depth word
)

type entry struct {
	dexPC             uint32
	nativePCOffset    uint32
	registerMask      uint32
	stackMask         *bitvec.BitVector
	numDexRegisters   int
	inlineDepth       int
	dexRegistersStart int
	inlineInfosStart  int
}

// Stream accumulates safepoint entries for one compiled unit.
type Stream struct {
	entries      []entry
	dexRegisters []DexRegisterEntry
	inlineInfos  []InlineInfoEntry

	// Highest stack-mask bit seen so far; every serialized entry shares
	// one mask width covering the widest individual mask.
	maxStackMaskBits int

	pendingDexRegisters int
	pendingInlineInfos  int
}

// NewStream returns an empty stream.
func NewStream() *Stream {
	return &Stream{}
}

// Count returns the number of entries added so far.
func (s *Stream) Count() int { return len(s.entries) }

// AddStackMapEntry appends one safepoint. stackMask may be nil when no
// stack slot holds a reference. The caller must follow with exactly
// numLiveVars AddDexRegisterEntry calls and inlineDepth AddInlineInfoEntry
// calls before the next AddStackMapEntry.
func (s *Stream) AddStackMapEntry(dexPC, nativePCOffset, registerMask uint32, stackMask *bitvec.BitVector, numLiveVars, inlineDepth int) {
	s.checkPendingDrained()
	if n := len(s.entries); n > 0 && s.entries[n-1].nativePCOffset > nativePCOffset {
		panic(fmt.Sprintf("stackmap: native pc %#x precedes previous entry %#x", nativePCOffset, s.entries[n-1].nativePCOffset))
	}
	if stackMask != nil {
		if highest := stackMask.HighestBitSet(); highest+1 > s.maxStackMaskBits {
			s.maxStackMaskBits = highest + 1
		}
	}
	s.entries = append(s.entries, entry{
		dexPC:             dexPC,
		nativePCOffset:    nativePCOffset,
		registerMask:      registerMask,
		stackMask:         stackMask,
		numDexRegisters:   numLiveVars,
		inlineDepth:       inlineDepth,
		dexRegistersStart: len(s.dexRegisters),
		inlineInfosStart:  len(s.inlineInfos),
	})
	s.pendingDexRegisters = numLiveVars
	s.pendingInlineInfos = inlineDepth
}

// AddDexRegisterEntry appends one live variable's location for the most
// recent safepoint.
func (s *Stream) AddDexRegisterEntry(kind LocationKind, value int32) {
	if s.pendingDexRegisters == 0 {
		panic("stackmap: AddDexRegisterEntry without a declared live variable")
	}
	s.pendingDexRegisters--
	s.dexRegisters = append(s.dexRegisters, DexRegisterEntry{Kind: kind, Value: value})
}

// AddInlineInfoEntry appends one inlined frame for the most recent
// safepoint, outermost to innermost.
func (s *Stream) AddInlineInfoEntry(methodIndex uint32) {
	if s.pendingInlineInfos == 0 {
		panic("stackmap: AddInlineInfoEntry without declared inline depth")
	}
	s.pendingInlineInfos--
	s.inlineInfos = append(s.inlineInfos, InlineInfoEntry{MethodIndex: methodIndex})
}

func (s *Stream) checkPendingDrained() {
	if s.pendingDexRegisters != 0 || s.pendingInlineInfos != 0 {
		panic(fmt.Sprintf("stackmap: previous entry still expects %d dex registers and %d inline infos",
			s.pendingDexRegisters, s.pendingInlineInfos))
	}
}

// StackMaskByteWidth returns the shared per-entry stack-mask width.
func (s *Stream) StackMaskByteWidth() int {
	return (s.maxStackMaskBits + 7) / 8
}

// ComputeNeededSize returns the exact serialized size. Valid only after
// all entries have been added.
func (s *Stream) ComputeNeededSize() int {
	s.checkPendingDrained()
	size := headerSize
	size += len(s.entries) * (entryFixedSize + s.StackMaskByteWidth())
	size += len(s.dexRegisters) * dexRegisterSize
	for _, e := range s.entries {
		if e.inlineDepth > 0 {
			size += inlineHeaderSize + e.inlineDepth*inlineEntrySize
		}
	}
	return size
}

// FillIn serializes the stream into region, which must be exactly
// ComputeNeededSize() bytes. All offsets written are absolute byte offsets
// from the start of the region.
func (s *Stream) FillIn(region memregion.Region) error {
	s.checkPendingDrained()
	need := s.ComputeNeededSize()
	if region.Size() != need {
		return fmt.Errorf("stackmap: region is %d bytes, need %d", region.Size(), need)
	}

	maskWidth := s.StackMaskByteWidth()
	entrySize := entryFixedSize + maskWidth
	dexTableStart := headerSize + len(s.entries)*entrySize
	inlineTableStart := dexTableStart + len(s.dexRegisters)*dexRegisterSize

	region.StoreU32(0, uint32(need))
	region.StoreU32(4, uint32(len(s.entries)))
	region.StoreU32(8, uint32(maskWidth))

	inlineCursor := inlineTableStart
	for i, e := range s.entries {
		off := headerSize + i*entrySize
		region.StoreU32(off, e.dexPC)
		region.StoreU32(off+4, e.nativePCOffset)
		region.StoreU32(off+8, e.registerMask)
		region.StoreU32(off+12, uint32(dexTableStart+e.dexRegistersStart*dexRegisterSize))
		if e.inlineDepth > 0 {
			region.StoreU32(off+16, uint32(inlineCursor))
			inlineCursor += inlineHeaderSize + e.inlineDepth*inlineEntrySize
		} else {
			region.StoreU32(off+16, NoInlineInfo)
		}
		writeStackMask(region, off+entryFixedSize, maskWidth, e.stackMask)
	}

	for i, dr := range s.dexRegisters {
		off := dexTableStart + i*dexRegisterSize
		region.StoreU8(off, uint8(dr.Kind))
		region.StoreU32(off+1, uint32(dr.Value))
	}

	cursor := inlineTableStart
	infoIndex := 0
	for _, e := range s.entries {
		if e.inlineDepth == 0 {
			continue
		}
		region.StoreU32(cursor, uint32(e.inlineDepth))
		cursor += inlineHeaderSize
		for d := 0; d < e.inlineDepth; d++ {
			region.StoreU32(cursor, s.inlineInfos[infoIndex].MethodIndex)
			infoIndex++
			cursor += inlineEntrySize
		}
	}
	return nil
}

func writeStackMask(region memregion.Region, off, width int, mask *bitvec.BitVector) {
	for b := 0; b < width; b++ {
		var v uint8
		if mask != nil {
			for bit := 0; bit < 8; bit++ {
				if mask.IsBitSet(uint32(b*8 + bit)) {
					v |= 1 << bit
				}
			}
		}
		region.StoreU8(off+b, v)
	}
}
