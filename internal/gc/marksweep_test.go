package gc

import (
	"testing"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/heap"
)

// testWorld is one heap with a single condemned space and the class set
// the collector cares about: a plain two-reference-field class, a
// reference-array class and the four java.lang.ref kinds.
type testWorld struct {
	heap  *heap.Heap
	space *heap.Space

	nodeClass     uint32 // two reference fields at offsets 8 and 12
	refArrayClass uint32
	softClass     uint32
	weakClass     uint32
	finalClass    uint32
	phantomClass  uint32
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	h, err := heap.New(heap.Config{Capacity: 1 << 18})
	if err != nil {
		t.Fatalf("heap.New failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	s, err := h.AddSpace("main", 1<<16)
	if err != nil {
		t.Fatalf("AddSpace failed: %v", err)
	}

	w := &testWorld{heap: h, space: s}
	mustClass := func(desc heap.ClassDesc) uint32 {
		t.Helper()
		c, err := h.NewClass(s, desc)
		if err != nil {
			t.Fatalf("NewClass failed: %v", err)
		}
		return c
	}

	w.nodeClass = mustClass(heap.ClassDesc{ObjectSize: 16, RefOffsets: 0b11})
	w.refArrayClass = mustClass(heap.ClassDesc{
		Flags:     heap.ClassFlagArray | heap.ClassFlagRefArray,
		Component: w.nodeClass,
	})
	// The referent field's bit stays clear; the zombie field (offset 16,
	// field index 2) is traced like an ordinary reference so resurrected
	// objects stay reachable through their finalizer reference.
	refDesc := func(kind uint32) heap.ClassDesc {
		return heap.ClassDesc{
			ObjectSize: heap.ReferenceInstanceSize,
			Flags:      heap.ClassFlagReference | kind,
			RefOffsets: 0b100,
		}
	}
	w.softClass = mustClass(refDesc(heap.ClassFlagSoftReference))
	w.weakClass = mustClass(refDesc(heap.ClassFlagWeakReference))
	w.finalClass = mustClass(refDesc(heap.ClassFlagFinalizerReference))
	w.phantomClass = mustClass(refDesc(heap.ClassFlagPhantomReference))
	return w
}

func (w *testWorld) allocNode(t *testing.T) uint32 {
	t.Helper()
	obj, err := w.space.AllocObject(w.nodeClass, 16)
	if err != nil {
		t.Fatalf("AllocObject failed: %v", err)
	}
	return obj
}

func (w *testWorld) allocRef(t *testing.T, class, referent uint32) uint32 {
	t.Helper()
	obj, err := w.space.AllocObject(class, heap.ReferenceInstanceSize)
	if err != nil {
		t.Fatalf("AllocObject failed: %v", err)
	}
	w.heap.SetReferenceField(obj, heap.RefReferentOffset, referent)
	return obj
}

func (w *testWorld) link(obj uint32, slot int, target uint32) {
	w.heap.SetReferenceField(obj, heap.ObjectHeaderSize+uint32(slot)*4, target)
}

func rootsOf(objs ...uint32) RootEnumerator {
	return func(visit func(uint32)) {
		for _, o := range objs {
			visit(o)
		}
	}
}

// runCycle drives one full collection and returns the freed addresses
// and the cleared-reference chain head.
func runCycle(t *testing.T, m *MarkSweep, roots RootEnumerator, clearSoft bool) (freed []uint32, cleared uint32) {
	t.Helper()
	if m.State() == StateSwept {
		m.Reset()
	} else if err := m.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	m.MarkRoots(roots)
	m.RecursiveMark()
	cleared = m.ProcessReferences(clearSoft)
	m.Sweep(func(addrs []uint32) { freed = append(freed, addrs...) })
	return freed, cleared
}

func contains(addrs []uint32, want uint32) bool {
	for _, a := range addrs {
		if a == want {
			return true
		}
	}
	return false
}

func TestMarkSweepReachabilitySoundness(t *testing.T) {
	w := newTestWorld(t)
	// Allocate the chain back to front so scanning A pushes lower
	// addresses onto the mark stack, exercising the finger rule.
	c := w.allocNode(t)
	b := w.allocNode(t)
	a := w.allocNode(t)
	dead := w.allocNode(t)
	w.link(a, 0, b)
	w.link(b, 0, c)

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	freed, _ := runCycle(t, m, rootsOf(a), false)

	for _, obj := range []uint32{a, b, c} {
		if contains(freed, obj) {
			t.Fatalf("reachable object %#x was swept", obj)
		}
		if !w.space.LiveBitmap().Test(obj) {
			t.Fatalf("reachable object %#x lost its live bit", obj)
		}
	}
	if !contains(freed, dead) {
		t.Fatalf("unreachable object %#x was not swept", dead)
	}
	if w.space.LiveBitmap().Test(dead) {
		t.Fatal("swept object kept its live bit")
	}
	if w.space.MarkBitmap().NumMarked() != 0 {
		t.Fatal("mark bitmap not cleared after sweep")
	}
	if m.FreedObjects() != len(freed) {
		t.Fatalf("FreedObjects = %d, want %d", m.FreedObjects(), len(freed))
	}
}

func TestMarkSweepEachDeadObjectFreedOnce(t *testing.T) {
	w := newTestWorld(t)
	root := w.allocNode(t)
	var dead []uint32
	for i := 0; i < 20; i++ {
		dead = append(dead, w.allocNode(t))
	}

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	freed, _ := runCycle(t, m, rootsOf(root), false)

	seen := make(map[uint32]int)
	for _, a := range freed {
		seen[a]++
	}
	for _, d := range dead {
		if seen[d] != 1 {
			t.Fatalf("object %#x freed %d times", d, seen[d])
		}
	}
	if seen[root] != 0 {
		t.Fatal("root was freed")
	}

	// A second cycle over the survivors frees nothing new.
	freed2, _ := runCycle(t, m, rootsOf(root), false)
	if len(freed2) != 0 {
		t.Fatalf("second cycle freed %v, want nothing", freed2)
	}
}

func TestMarkSweepRefArrayTracing(t *testing.T) {
	w := newTestWorld(t)
	elem0 := w.allocNode(t)
	elem1 := w.allocNode(t)
	arr, err := w.space.AllocArray(w.refArrayClass, 4, 4)
	if err != nil {
		t.Fatalf("AllocArray failed: %v", err)
	}
	w.heap.SetArrayRefElement(arr, 0, elem0)
	w.heap.SetArrayRefElement(arr, 3, elem1)

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	freed, _ := runCycle(t, m, rootsOf(arr), false)
	for _, obj := range []uint32{arr, elem0, elem1} {
		if contains(freed, obj) {
			t.Fatalf("array-reachable object %#x was swept", obj)
		}
	}
}

func TestWeakReferenceCleared(t *testing.T) {
	w := newTestWorld(t)
	referent := w.allocNode(t)
	ref := w.allocRef(t, w.weakClass, referent)

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	freed, cleared := runCycle(t, m, rootsOf(ref), false)

	if got := w.heap.ReferenceField(ref, heap.RefReferentOffset); got != 0 {
		t.Fatalf("referent field = %#x after clear, want 0", got)
	}
	if !contains(freed, referent) {
		t.Fatal("weakly-referenced object survived the sweep")
	}
	if cleared != ref {
		t.Fatalf("cleared chain head = %#x, want %#x", cleared, ref)
	}
	if next := m.ClearedNext(ref); next != 0 {
		t.Fatalf("ClearedNext = %#x, want end of chain", next)
	}
}

func TestWeakReferenceWithStrongReferentSurvives(t *testing.T) {
	w := newTestWorld(t)
	referent := w.allocNode(t)
	ref := w.allocRef(t, w.weakClass, referent)

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	freed, cleared := runCycle(t, m, rootsOf(ref, referent), false)

	if w.heap.ReferenceField(ref, heap.RefReferentOffset) != referent {
		t.Fatal("strongly-reachable referent was cleared")
	}
	if contains(freed, referent) {
		t.Fatal("strongly-reachable referent was swept")
	}
	if cleared != 0 {
		t.Fatalf("cleared chain = %#x, want empty", cleared)
	}
	if pn := w.heap.Field32(ref, heap.RefPendingNextOffset); pn != 0 {
		t.Fatalf("pending-next = %#x after cycle, want 0", pn)
	}
}

func TestSoftReferenceAlternation(t *testing.T) {
	w := newTestWorld(t)
	r1 := w.allocNode(t)
	r2 := w.allocNode(t)
	s1 := w.allocRef(t, w.softClass, r1)
	s2 := w.allocRef(t, w.softClass, r2)

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	freed, cleared := runCycle(t, m, rootsOf(s1, s2), false)

	preserved, droppedRef := 0, 0
	for _, s := range []uint32{s1, s2} {
		if w.heap.ReferenceField(s, heap.RefReferentOffset) != 0 {
			preserved++
		} else {
			droppedRef++
		}
	}
	if preserved != 1 || droppedRef != 1 {
		t.Fatalf("preserved %d cleared %d soft referents, want 1 and 1", preserved, droppedRef)
	}
	if cleared == 0 {
		t.Fatal("no cleared chain despite a cleared soft reference")
	}
	clearedCount := 0
	for _, r := range []uint32{r1, r2} {
		if contains(freed, r) {
			clearedCount++
		}
	}
	if clearedCount != 1 {
		t.Fatalf("%d soft referents swept, want exactly 1", clearedCount)
	}
}

func TestSoftReferenceDeterministicPartition(t *testing.T) {
	clearedReferents := func(t *testing.T) [2]bool {
		w := newTestWorld(t)
		s1 := w.allocRef(t, w.softClass, w.allocNode(t))
		s2 := w.allocRef(t, w.softClass, w.allocNode(t))
		m := New(w.heap, []*heap.Space{w.space}, Options{})
		runCycle(t, m, rootsOf(s1, s2), false)
		return [2]bool{
			w.heap.ReferenceField(s1, heap.RefReferentOffset) == 0,
			w.heap.ReferenceField(s2, heap.RefReferentOffset) == 0,
		}
	}
	first := clearedReferents(t)
	second := clearedReferents(t)
	if first != second {
		t.Fatalf("soft partition differed across identical runs: %v then %v", first, second)
	}
}

func TestSoftReferencesClearedUnderPressure(t *testing.T) {
	w := newTestWorld(t)
	r1 := w.allocNode(t)
	r2 := w.allocNode(t)
	s1 := w.allocRef(t, w.softClass, r1)
	s2 := w.allocRef(t, w.softClass, r2)

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	freed, _ := runCycle(t, m, rootsOf(s1, s2), true)

	for _, s := range []uint32{s1, s2} {
		if w.heap.ReferenceField(s, heap.RefReferentOffset) != 0 {
			t.Fatal("clearSoft cycle preserved a soft referent")
		}
	}
	if !contains(freed, r1) || !contains(freed, r2) {
		t.Fatal("clearSoft cycle did not sweep the soft referents")
	}
}

func TestFinalizerResurrection(t *testing.T) {
	w := newTestWorld(t)
	referent := w.allocNode(t)
	held := w.allocNode(t)
	w.link(referent, 0, held)
	fin := w.allocRef(t, w.finalClass, referent)

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	freed, cleared := runCycle(t, m, rootsOf(fin), false)

	if w.heap.ReferenceField(fin, heap.RefReferentOffset) != 0 {
		t.Fatal("finalizable referent field not cleared")
	}
	if got := w.heap.Field32(fin, heap.RefZombieOffset); got != referent {
		t.Fatalf("zombie field = %#x, want %#x", got, referent)
	}
	// Resurrection keeps the referent and everything it holds alive.
	if contains(freed, referent) || contains(freed, held) {
		t.Fatal("resurrected subgraph was swept")
	}
	if cleared != fin {
		t.Fatalf("cleared chain head = %#x, want %#x", cleared, fin)
	}

	// Next cycle: the zombie field is an ordinary traced reference, so
	// the referent survives as long as the finalizer reference does.
	freed, _ = runCycle(t, m, rootsOf(fin), false)
	if contains(freed, referent) {
		t.Fatal("zombie-held object swept while its reference is live")
	}

	// Once the finalizer runs and drops the zombie, the object dies.
	w.heap.SetField32(fin, heap.RefZombieOffset, 0)
	freed, _ = runCycle(t, m, rootsOf(fin), false)
	if !contains(freed, referent) || !contains(freed, held) {
		t.Fatal("finalized object not reclaimed after zombie drop")
	}
}

func TestPhantomReferenceCleared(t *testing.T) {
	w := newTestWorld(t)
	referent := w.allocNode(t)
	ref := w.allocRef(t, w.phantomClass, referent)

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	freed, cleared := runCycle(t, m, rootsOf(ref), false)
	if w.heap.ReferenceField(ref, heap.RefReferentOffset) != 0 {
		t.Fatal("phantom referent not cleared")
	}
	if !contains(freed, referent) {
		t.Fatal("phantom referent not swept")
	}
	if cleared != ref {
		t.Fatalf("cleared chain head = %#x, want %#x", cleared, ref)
	}
}

func TestClearedChainTraversal(t *testing.T) {
	w := newTestWorld(t)
	refs := make([]uint32, 3)
	for i := range refs {
		refs[i] = w.allocRef(t, w.weakClass, w.allocNode(t))
	}

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	_, cleared := runCycle(t, m, rootsOf(refs...), false)

	got := make(map[uint32]bool)
	for r := cleared; r != 0; r = m.ClearedNext(r) {
		if got[r] {
			t.Fatalf("cleared chain revisits %#x", r)
		}
		got[r] = true
	}
	if len(got) != len(refs) {
		t.Fatalf("cleared chain has %d entries, want %d", len(got), len(refs))
	}
	for _, r := range refs {
		if !got[r] {
			t.Fatalf("reference %#x missing from cleared chain", r)
		}
	}
}

func TestImmuneObjectsAreSkipped(t *testing.T) {
	h, err := heap.New(heap.Config{Capacity: 1 << 18})
	if err != nil {
		t.Fatalf("heap.New failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	immuneSp, err := h.AddSpace("immune", 1<<12)
	if err != nil {
		t.Fatalf("AddSpace failed: %v", err)
	}
	mainSp, err := h.AddSpace("main", 1<<12)
	if err != nil {
		t.Fatalf("AddSpace failed: %v", err)
	}

	class, err := h.NewClass(immuneSp, heap.ClassDesc{ObjectSize: 16, RefOffsets: 0b1})
	if err != nil {
		t.Fatalf("NewClass failed: %v", err)
	}
	immuneObj, err := immuneSp.AllocObject(class, 16)
	if err != nil {
		t.Fatalf("AllocObject failed: %v", err)
	}
	root, err := mainSp.AllocObject(class, 16)
	if err != nil {
		t.Fatalf("AllocObject failed: %v", err)
	}
	h.SetReferenceField(root, heap.ObjectHeaderSize, immuneObj)

	m := New(h, []*heap.Space{mainSp}, Options{ImmuneEnd: immuneSp.End()})
	freed, _ := runCycle(t, m, rootsOf(root), false)
	if len(freed) != 0 {
		t.Fatalf("freed %v from the condemned space, want nothing", freed)
	}
	if immuneSp.MarkBitmap().Test(immuneObj) {
		t.Fatal("tracing reached into the immune region")
	}
	if !immuneSp.LiveBitmap().Test(immuneObj) {
		t.Fatal("immune object lost its live bit")
	}
}

func TestCollectorStateOrderEnforced(t *testing.T) {
	w := newTestWorld(t)
	m := New(w.heap, []*heap.Space{w.space}, Options{})

	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s out of order did not panic", name)
			}
		}()
		fn()
	}
	mustPanic("RecursiveMark", func() { m.RecursiveMark() })

	if err := m.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	mustPanic("ProcessReferences", func() { m.ProcessReferences(false) })
	mustPanic("Sweep", func() { m.Sweep(nil) })
	mustPanic("Reset", func() { m.Reset() })
}

func TestCollectorInitValidation(t *testing.T) {
	w := newTestWorld(t)
	if err := New(nil, []*heap.Space{w.space}, Options{}).Init(); err == nil {
		t.Fatal("nil heap accepted")
	}
	if err := New(w.heap, nil, Options{}).Init(); err == nil {
		t.Fatal("empty condemned set accepted")
	}
}

func TestCorruptObjectPanicsDuringMark(t *testing.T) {
	w := newTestWorld(t)
	root := w.allocNode(t)
	// Smash the class word.
	w.heap.SetField32(root, heap.ObjectClassOffset, 0)

	m := New(w.heap, []*heap.Space{w.space}, Options{})
	if err := m.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	m.MarkRoots(rootsOf(root))
	defer func() {
		if recover() == nil {
			t.Fatal("corrupt class did not panic")
		}
	}()
	m.RecursiveMark()
}
