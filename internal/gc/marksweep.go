// Package gc implements the stop-the-world mark-sweep collector. Marking
// is driven by the per-space mark bitmaps themselves: a linear bitmap walk
// does most of the traversal, and an explicit mark stack catches only the
// objects the walk has already passed, tracked by a moving finger cursor.
package gc

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sort"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/heap"
)

// State is the collector's cycle position. Phases must run in order; a
// phase entered out of order is a caller bug and panics.
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateRootsMarked
	StateRecursivelyMarked
	StateReferencesProcessed
	StateSwept
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRootsMarked:
		return "roots-marked"
	case StateRecursivelyMarked:
		return "recursively-marked"
	case StateReferencesProcessed:
		return "references-processed"
	case StateSwept:
		return "swept"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// RootEnumerator walks the external root set (thread stacks, globals,
// interned strings) and hands each root reference to visit.
type RootEnumerator func(visit func(obj uint32))

// Options tunes one collector instance.
type Options struct {
	// ImmuneEnd makes every address below it immune: such objects are
	// assumed marked by an earlier partial-collection phase and are never
	// traced into the condemned set's bitmaps. Zero means nothing is
	// immune.
	ImmuneEnd uint32
	// MarkStackCapacity is the initial mark-stack capacity; the stack
	// grows past it if marking demands.
	MarkStackCapacity int
	Logger            *slog.Logger
}

// MarkSweep collects the condemned spaces of one heap. One instance runs
// one cycle at a time, single-threaded, with mutators suspended.
type MarkSweep struct {
	heap      *heap.Heap
	condemned []*heap.Space
	immuneEnd uint32

	markStack    []uint32
	stackInitCap int
	finger       uint32
	state        State

	// softPreserveCounter alternates which soft references survive a
	// non-clearing cycle; roughly every other one is preserved.
	softPreserveCounter uint32

	// Pending reference chains are threaded through the reference
	// objects' own pending-next fields. A self-link terminates a chain, so
	// a non-zero pending-next always means "already enqueued".
	pendingSoft      uint32
	pendingWeak      uint32
	pendingFinalizer uint32
	pendingPhantom   uint32
	cleared          uint32

	freedObjects int
	logger       *slog.Logger
}

// New builds a collector over the given condemned spaces.
func New(h *heap.Heap, condemned []*heap.Space, opts Options) *MarkSweep {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]*heap.Space, len(condemned))
	copy(sorted, condemned)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Begin() < sorted[j].Begin() })
	return &MarkSweep{
		heap:         h,
		condemned:    sorted,
		immuneEnd:    opts.ImmuneEnd,
		stackInitCap: opts.MarkStackCapacity,
		logger:       logger,
	}
}

// State returns the current cycle position.
func (m *MarkSweep) State() State { return m.state }

// FreedObjects returns the total objects freed across completed cycles.
func (m *MarkSweep) FreedObjects() int { return m.freedObjects }

func (m *MarkSweep) requireState(want State) {
	if m.state != want {
		panic(fmt.Sprintf("gc: phase requires state %s, collector is %s", want, m.state))
	}
}

// Init allocates the mark stack and validates the collector's inputs.
func (m *MarkSweep) Init() error {
	if m.heap == nil {
		return fmt.Errorf("gc: nil heap")
	}
	if len(m.condemned) == 0 {
		return fmt.Errorf("gc: no condemned spaces")
	}
	for _, sp := range m.condemned {
		if sp.MarkBitmap() == nil || sp.LiveBitmap() == nil {
			return fmt.Errorf("gc: space %q has no bitmaps", sp.Name())
		}
	}
	if m.markStack == nil {
		capacity := m.stackInitCap
		if capacity <= 0 {
			capacity = 4096
		}
		m.markStack = make([]uint32, 0, capacity)
	}
	m.finger = 0
	m.state = StateInitialized
	return nil
}

// Reset prepares the collector for another cycle over the same spaces.
func (m *MarkSweep) Reset() {
	m.requireState(StateSwept)
	m.markStack = m.markStack[:0]
	m.finger = 0
	m.state = StateInitialized
}

// MarkRoots marks every root the enumerator yields.
func (m *MarkSweep) MarkRoots(enumerate RootEnumerator) {
	m.requireState(StateInitialized)
	enumerate(m.MarkObject)
	m.state = StateRootsMarked
}

func (m *MarkSweep) spaceOf(obj uint32) *heap.Space {
	for _, sp := range m.condemned {
		if sp.Contains(obj) {
			return sp
		}
	}
	return nil
}

func (m *MarkSweep) isMarked(obj uint32) bool {
	if obj < m.immuneEnd {
		return true
	}
	sp := m.spaceOf(obj)
	if sp == nil {
		// Outside the condemned set; not this cycle's problem.
		return true
	}
	return sp.MarkBitmap().Test(obj)
}

// MarkObject greys obj. Objects below the finger go on the mark stack;
// objects at or above it will be reached by the ongoing bitmap walk.
func (m *MarkSweep) MarkObject(obj uint32) {
	if obj == 0 || obj < m.immuneEnd {
		return
	}
	sp := m.spaceOf(obj)
	if sp == nil {
		return
	}
	if obj%heap.ObjectAlignment != 0 {
		panic(fmt.Sprintf("gc: misaligned object reference %#x", obj))
	}
	if alreadyMarked := sp.MarkBitmap().Set(obj); !alreadyMarked {
		if obj < m.finger {
			m.markStack = append(m.markStack, obj)
		}
	}
}

// RecursiveMark walks each condemned space's mark bitmap in ascending
// address order, scanning every marked object. The finger tracks the walk
// so MarkObject knows which newly-greyed objects the walk will still
// reach on its own. Afterwards the finger moves to the address-space top
// and the mark stack is drained.
func (m *MarkSweep) RecursiveMark() {
	m.requireState(StateRootsMarked)
	for _, sp := range m.condemned {
		addr := sp.Begin()
		for {
			next, ok := sp.MarkBitmap().NextMarked(addr)
			if !ok {
				break
			}
			m.finger = next
			m.ScanObject(next)
			addr = next + heap.ObjectAlignment
		}
	}
	m.finger = ^uint32(0)
	m.processMarkStack()
	m.state = StateRecursivelyMarked
	m.logger.Debug("recursive mark complete", "marked", m.countMarked())
}

func (m *MarkSweep) countMarked() int {
	total := 0
	for _, sp := range m.condemned {
		total += sp.MarkBitmap().NumMarked()
	}
	return total
}

func (m *MarkSweep) processMarkStack() {
	for len(m.markStack) > 0 {
		obj := m.markStack[len(m.markStack)-1]
		m.markStack = m.markStack[:len(m.markStack)-1]
		m.ScanObject(obj)
	}
}

// ScanObject greys everything obj references. Dispatch is by shape: class
// objects (self-classed, so obj == class) scan their component link,
// reference arrays scan elements, everything else follows the class's
// reference-offset bitmap. Reference-class instances are additionally
// delayed for ProcessReferences.
func (m *MarkSweep) ScanObject(obj uint32) {
	h := m.heap
	h.CheckValidObject(obj)
	class := h.ClassOf(obj)
	m.MarkObject(class)

	flags := h.ClassFlags(class)
	switch {
	case obj == class:
		m.MarkObject(h.ClassComponent(obj))
	case flags&heap.ClassFlagArray != 0:
		if flags&heap.ClassFlagRefArray != 0 {
			n := h.ArrayLength(obj)
			for i := int32(0); i < n; i++ {
				m.MarkObject(h.ArrayRefElement(obj, i))
			}
		}
	default:
		refs := h.ClassRefOffsets(class)
		for refs != 0 {
			i := uint32(bits.TrailingZeros32(refs))
			refs &^= 1 << i
			m.MarkObject(h.ReferenceField(obj, heap.ObjectHeaderSize+i*4))
		}
		if flags&heap.ClassFlagReference != 0 {
			m.DelayReferenceReferent(obj)
		}
	}
}

// DelayReferenceReferent queues a reference object whose referent is
// still white onto its kind's pending list. Idempotent: an already-linked
// reference (non-zero pending-next) is never re-linked.
func (m *MarkSweep) DelayReferenceReferent(obj uint32) {
	h := m.heap
	referent := h.ReferenceField(obj, heap.RefReferentOffset)
	if referent == 0 || m.isMarked(referent) {
		return
	}
	if h.Field32(obj, heap.RefPendingNextOffset) != 0 {
		return
	}

	flags := h.ClassFlags(h.ClassOf(obj))
	switch {
	case flags&heap.ClassFlagSoftReference != 0:
		m.enqueuePending(&m.pendingSoft, obj)
	case flags&heap.ClassFlagWeakReference != 0:
		m.enqueuePending(&m.pendingWeak, obj)
	case flags&heap.ClassFlagFinalizerReference != 0:
		m.enqueuePending(&m.pendingFinalizer, obj)
	case flags&heap.ClassFlagPhantomReference != 0:
		m.enqueuePending(&m.pendingPhantom, obj)
	default:
		panic(fmt.Sprintf("gc: reference object %#x has no kind flag (flags %#x)", obj, flags))
	}
}

// enqueuePending pushes obj at the head of an intrusive chain. The tail
// links to itself so membership is always visible as a non-zero
// pending-next. Pending-next stores skip the write barrier: the chains
// are collector-internal and torn down before mutators resume.
func (m *MarkSweep) enqueuePending(head *uint32, obj uint32) {
	if *head == 0 {
		m.heap.SetField32(obj, heap.RefPendingNextOffset, obj)
	} else {
		m.heap.SetField32(obj, heap.RefPendingNextOffset, *head)
	}
	*head = obj
}

// popPending removes and returns the chain head, zero when empty.
func (m *MarkSweep) popPending(head *uint32) uint32 {
	r := *head
	if r == 0 {
		return 0
	}
	next := m.heap.Field32(r, heap.RefPendingNextOffset)
	if next == r {
		*head = 0
	} else {
		*head = next
	}
	m.heap.SetField32(r, heap.RefPendingNextOffset, 0)
	return r
}

// ProcessReferences resolves the four pending lists in the order that
// keeps resurrection sound: preserve some soft references, clear white
// soft/weak referents, enqueue finalizable objects (which resurrects
// their referents), re-clear anything that went white again during
// resurrection, then clear phantoms. It returns the head of the cleared
// chain for hand-off to the reference-queue machinery.
func (m *MarkSweep) ProcessReferences(clearSoft bool) uint32 {
	m.requireState(StateRecursivelyMarked)

	if !clearSoft {
		m.preserveSomeSoftReferences()
	}
	m.clearWhiteReferences(&m.pendingSoft)
	m.clearWhiteReferences(&m.pendingWeak)
	m.enqueueFinalizerReferences()
	m.clearWhiteReferences(&m.pendingSoft)
	m.clearWhiteReferences(&m.pendingWeak)
	m.clearWhiteReferences(&m.pendingPhantom)

	m.state = StateReferencesProcessed
	cleared := m.cleared
	m.cleared = 0
	return cleared
}

// preserveSomeSoftReferences resurrects roughly every other pending soft
// reference's referent, then finishes marking the resurrected subgraphs.
// The alternation counter persists across cycles, biasing which
// references survive without tracking any recency.
func (m *MarkSweep) preserveSomeSoftReferences() {
	var remaining uint32
	for {
		r := m.popPending(&m.pendingSoft)
		if r == 0 {
			break
		}
		m.softPreserveCounter++
		if m.softPreserveCounter&1 != 0 {
			if referent := m.heap.ReferenceField(r, heap.RefReferentOffset); referent != 0 {
				m.MarkObject(referent)
			}
		} else {
			m.enqueuePending(&remaining, r)
		}
	}
	m.pendingSoft = remaining
	m.processMarkStack()
}

// clearWhiteReferences empties a pending chain, clearing each reference
// whose referent is still unmarked and moving it to the cleared chain.
// References whose referent got marked in the meantime simply drop off.
func (m *MarkSweep) clearWhiteReferences(head *uint32) {
	for {
		r := m.popPending(head)
		if r == 0 {
			break
		}
		referent := m.heap.ReferenceField(r, heap.RefReferentOffset)
		if referent != 0 && !m.isMarked(referent) {
			m.heap.SetField32(r, heap.RefReferentOffset, 0)
			m.enqueuePending(&m.cleared, r)
		}
	}
}

// enqueueFinalizerReferences resurrects every white finalizable referent:
// the referent is marked live, moved into the reference's zombie field
// for the finalizer to find, and the referent field is cleared. The mark
// stack is drained so the resurrected subgraphs are fully black.
func (m *MarkSweep) enqueueFinalizerReferences() {
	for {
		r := m.popPending(&m.pendingFinalizer)
		if r == 0 {
			break
		}
		referent := m.heap.ReferenceField(r, heap.RefReferentOffset)
		if referent != 0 && !m.isMarked(referent) {
			m.MarkObject(referent)
			m.heap.SetField32(r, heap.RefZombieOffset, referent)
			m.heap.SetField32(r, heap.RefReferentOffset, 0)
			m.enqueuePending(&m.cleared, r)
		}
	}
	m.processMarkStack()
}

// Sweep frees every live-but-unmarked granule via the bitmap diff,
// reporting freed addresses to fn in batches, then reconciles each
// space's bitmaps for the next cycle.
func (m *MarkSweep) Sweep(fn func(addrs []uint32)) {
	m.requireState(StateReferencesProcessed)
	freed := 0
	for _, sp := range m.condemned {
		freed += sp.LiveBitmap().SweepDiff(sp.MarkBitmap(), func(addrs []uint32) {
			if fn != nil {
				fn(addrs)
			}
		})
		sp.FinishCycle()
	}
	m.freedObjects += freed
	m.state = StateSwept
	m.logger.Debug("sweep complete", "freed", freed, "total_freed", m.freedObjects)
}

// ClearedNext follows the cleared chain returned by ProcessReferences.
// It returns zero at the end of the chain.
func (m *MarkSweep) ClearedNext(ref uint32) uint32 {
	next := m.heap.Field32(ref, heap.RefPendingNextOffset)
	if next == ref {
		return 0
	}
	return next
}
