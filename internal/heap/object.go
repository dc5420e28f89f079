package heap

import "fmt"

// Field accessors. Offsets are byte offsets from the object's address, as
// recorded in class metadata and in compiled field instructions. A zero
// reference is null everywhere.

// ClassOf returns obj's class reference.
func (h *Heap) ClassOf(obj uint32) uint32 {
	return h.mem.LoadU32(int(obj + ObjectClassOffset))
}

// Field32 loads a 32-bit primitive field.
func (h *Heap) Field32(obj, offset uint32) uint32 {
	return h.mem.LoadU32(int(obj + offset))
}

// SetField32 stores a 32-bit primitive field.
func (h *Heap) SetField32(obj, offset, value uint32) {
	h.mem.StoreU32(int(obj+offset), value)
}

// ReferenceField loads a reference field.
func (h *Heap) ReferenceField(obj, offset uint32) uint32 {
	return h.mem.LoadU32(int(obj + offset))
}

// SetReferenceField stores a reference field and dirties the card, the
// same barrier the generated code emits inline.
func (h *Heap) SetReferenceField(obj, offset, value uint32) {
	h.mem.StoreU32(int(obj+offset), value)
	if value != 0 {
		h.cards.Mark(obj)
	}
}

// ArrayLength returns an array object's element count.
func (h *Heap) ArrayLength(obj uint32) int32 {
	return int32(h.mem.LoadU32(int(obj + ArrayLengthOffset)))
}

// ArrayRefElement loads element i of a reference array.
func (h *Heap) ArrayRefElement(obj uint32, i int32) uint32 {
	return h.mem.LoadU32(int(obj+ArrayDataOffset) + int(i)*4)
}

// SetArrayRefElement stores element i of a reference array with the card
// barrier.
func (h *Heap) SetArrayRefElement(obj uint32, i int32, value uint32) {
	h.mem.StoreU32(int(obj+ArrayDataOffset)+int(i)*4, value)
	if value != 0 {
		h.cards.Mark(obj)
	}
}

// Class metadata accessors.

func (h *Heap) ClassFlags(class uint32) uint32 {
	return h.mem.LoadU32(int(class + ClassFlagsOffset))
}

// ClassRefOffsets returns the bitmap of reference-holding instance fields:
// bit i covers the 4-byte field at ObjectHeaderSize + i*4.
func (h *Heap) ClassRefOffsets(class uint32) uint32 {
	return h.mem.LoadU32(int(class + ClassRefOffsetsOffset))
}

func (h *Heap) ClassObjectSize(class uint32) uint32 {
	return h.mem.LoadU32(int(class + ClassObjectSizeOffset))
}

// ClassComponent returns the element class of an array class.
func (h *Heap) ClassComponent(class uint32) uint32 {
	return h.mem.LoadU32(int(class + ClassComponentOffset))
}

// ClassDesc describes a class to be materialized on the heap.
type ClassDesc struct {
	// ObjectSize is the instance size in bytes, header included. Ignored
	// for array classes.
	ObjectSize uint32
	// RefOffsets flags which instance fields hold references. Reference
	// classes must leave the referent field's bit clear; the collector
	// visits it separately.
	RefOffsets uint32
	Flags      uint32
	// Component is the element class for array classes.
	Component uint32
}

// NewClass allocates a class object in s. Class objects are themselves
// heap objects whose class field points at themselves, which is enough
// identity for the collector to keep them alive.
func (h *Heap) NewClass(s *Space, desc ClassDesc) (uint32, error) {
	addr, err := s.alloc(ClassVTableOffset)
	if err != nil {
		return 0, err
	}
	h.mem.StoreU32(int(addr+ObjectClassOffset), addr)
	h.mem.StoreU32(int(addr+ClassObjectSizeOffset), desc.ObjectSize)
	h.mem.StoreU32(int(addr+ClassRefOffsetsOffset), desc.RefOffsets)
	h.mem.StoreU32(int(addr+ClassFlagsOffset), desc.Flags|ClassFlagClass)
	h.mem.StoreU32(int(addr+ClassComponentOffset), desc.Component)
	return addr, nil
}

// CheckValidObject panics unless obj looks like a heap object: in range,
// aligned and with a plausible class pointer. The collector calls this on
// every object it scans; a failure is heap corruption and fatal.
func (h *Heap) CheckValidObject(obj uint32) {
	if obj == 0 || obj%ObjectAlignment != 0 || obj >= h.capacity {
		panic(fmt.Sprintf("heap: corrupt object reference %#x", obj))
	}
	class := h.ClassOf(obj)
	if class == 0 || class%ObjectAlignment != 0 || class >= h.capacity {
		panic(fmt.Sprintf("heap: object %#x has corrupt class %#x", obj, class))
	}
}
