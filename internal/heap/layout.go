// Package heap implements the managed heap: spaces carved out of mapped
// memory, the object model shared with compiled code, live bitmaps and the
// card table used by the collector.
package heap

// Object layout. References are 32-bit heap addresses; a zero reference is
// null. Compiled code and the collector both depend on these offsets, so
// they live here rather than in the code generator.
const (
	// Every object starts with its class reference and a monitor/flags
	// word.
	ObjectClassOffset   = 0
	ObjectMonitorOffset = 4
	ObjectHeaderSize    = 8

	// Arrays extend the header with a length word; elements start at the
	// next 8-byte boundary so wide elements stay aligned.
	ArrayLengthOffset = 8
	ArrayDataOffset   = 16

	// Class objects are heap objects too. Past the common header they
	// record the instance size, the bitmap of reference-field offsets,
	// class flags and the vtable.
	ClassObjectSizeOffset  = 8
	ClassRefOffsetsOffset  = 12
	ClassFlagsOffset       = 16
	ClassComponentOffset   = 20
	ClassVTableCountOffset = 24
	ClassVTableOffset      = 32 // vtable entries are u64 code pointers
)

// Class flag bits. Reference classes carry both ClassFlagReference and
// exactly one kind bit.
const (
	ClassFlagArray     = 1 << 0
	ClassFlagRefArray  = 1 << 1 // array of references
	ClassFlagClass     = 1 << 2 // the object is itself a class
	ClassFlagReference = 1 << 3

	ClassFlagSoftReference      = 1 << 4
	ClassFlagWeakReference      = 1 << 5
	ClassFlagFinalizerReference = 1 << 6
	ClassFlagPhantomReference   = 1 << 7
)

// Reference object instance fields. The referent is deliberately excluded
// from its class's reference-offset bitmap: the collector treats it
// specially instead of tracing through it.
const (
	RefReferentOffset     = 8
	RefPendingNextOffset  = 12
	RefZombieOffset       = 16
	ReferenceInstanceSize = 24
)

// Card table geometry: one byte per 2^CardShift heap bytes.
const (
	CardShift = 10
	CardSize  = 1 << CardShift
	CardClean = 0
	CardDirty = 0x70
)

// ObjectAlignment is the minimum alignment of any heap object, and the
// granularity of the live bitmaps.
const ObjectAlignment = 8
