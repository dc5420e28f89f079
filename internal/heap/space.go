package heap

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory is returned when a space cannot satisfy an allocation.
var ErrOutOfMemory = errors.New("heap: out of memory")

// Space is one contiguous allocation region. Allocation is a bump pointer;
// reclamation happens only through the collector's bitmap sweep.
type Space struct {
	name   string
	begin  uint32
	end    uint32
	cursor uint32
	live   *Bitmap
	mark   *Bitmap
	heap   *Heap
}

func (s *Space) Name() string  { return s.name }
func (s *Space) Begin() uint32 { return s.begin }
func (s *Space) End() uint32   { return s.end }

// Used returns the bump-allocated byte count.
func (s *Space) Used() uint32 { return s.cursor - s.begin }

// Contains reports whether addr falls inside the space.
func (s *Space) Contains(addr uint32) bool { return addr >= s.begin && addr < s.end }

// LiveBitmap holds the previous cycle's survivors plus everything
// allocated since.
func (s *Space) LiveBitmap() *Bitmap { return s.live }

// MarkBitmap holds the current cycle's reachable set.
func (s *Space) MarkBitmap() *Bitmap { return s.mark }

// FinishCycle resets the mark bitmap after a sweep. The sweep itself has
// already reconciled the live bitmap by clearing the dead granules.
func (s *Space) FinishCycle() { s.mark.ClearAll() }

func (s *Space) alloc(size uint32) (uint32, error) {
	size = alignUp(size)
	if size == 0 || s.cursor+size > s.end || s.cursor+size < s.cursor {
		return 0, fmt.Errorf("%w: %d bytes in space %q (%d free)", ErrOutOfMemory, size, s.name, s.end-s.cursor)
	}
	addr := s.cursor
	s.cursor += size
	s.live.Set(addr)
	return addr, nil
}

// AllocObject allocates a zeroed instance of class. size covers the whole
// object including the header.
func (s *Space) AllocObject(class uint32, size uint32) (uint32, error) {
	if size < ObjectHeaderSize {
		return 0, fmt.Errorf("heap: object size %d below header", size)
	}
	addr, err := s.alloc(size)
	if err != nil {
		return 0, err
	}
	s.heap.mem.StoreU32(int(addr+ObjectClassOffset), class)
	return addr, nil
}

// AllocArray allocates a zeroed array of count elements of elemWidth
// bytes.
func (s *Space) AllocArray(class uint32, count int32, elemWidth uint32) (uint32, error) {
	if count < 0 {
		return 0, fmt.Errorf("heap: negative array length %d", count)
	}
	size := uint32(ArrayDataOffset) + uint32(count)*elemWidth
	addr, err := s.alloc(size)
	if err != nil {
		return 0, err
	}
	s.heap.mem.StoreU32(int(addr+ObjectClassOffset), class)
	s.heap.mem.StoreU32(int(addr+ArrayLengthOffset), uint32(count))
	return addr, nil
}
