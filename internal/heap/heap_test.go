package heap

import (
	"errors"
	"testing"
)

func newTestHeap(t *testing.T, capacity uint32) *Heap {
	t.Helper()
	h, err := New(Config{Capacity: capacity})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSpaceAllocation(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	s, err := h.AddSpace("main", 1<<12)
	if err != nil {
		t.Fatalf("AddSpace failed: %v", err)
	}

	class, err := h.NewClass(s, ClassDesc{ObjectSize: 16, RefOffsets: 0b1})
	if err != nil {
		t.Fatalf("NewClass failed: %v", err)
	}
	if h.ClassOf(class) != class {
		t.Fatalf("class of class = %#x, want self %#x", h.ClassOf(class), class)
	}
	if h.ClassFlags(class)&ClassFlagClass == 0 {
		t.Fatal("class object missing class flag")
	}

	obj, err := s.AllocObject(class, 16)
	if err != nil {
		t.Fatalf("AllocObject failed: %v", err)
	}
	if obj%ObjectAlignment != 0 {
		t.Fatalf("object %#x misaligned", obj)
	}
	if h.ClassOf(obj) != class {
		t.Fatalf("object class = %#x, want %#x", h.ClassOf(obj), class)
	}
	if !s.LiveBitmap().Test(obj) {
		t.Fatal("allocation did not set the live bit")
	}

	arr, err := s.AllocArray(class, 10, 4)
	if err != nil {
		t.Fatalf("AllocArray failed: %v", err)
	}
	if h.ArrayLength(arr) != 10 {
		t.Fatalf("array length = %d, want 10", h.ArrayLength(arr))
	}

	if _, err := s.AllocObject(class, 1<<13); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("oversized alloc err = %v, want ErrOutOfMemory", err)
	}
	if _, err := s.AllocArray(class, -1, 4); err == nil {
		t.Fatal("negative array length must fail")
	}
}

func TestHeapSpaceLayout(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	a, err := h.AddSpace("a", 1<<12)
	if err != nil {
		t.Fatalf("AddSpace failed: %v", err)
	}
	b, err := h.AddSpace("b", 1<<12)
	if err != nil {
		t.Fatalf("AddSpace failed: %v", err)
	}
	if a.End() > b.Begin() {
		t.Fatalf("spaces overlap: a ends %#x, b begins %#x", a.End(), b.Begin())
	}
	if h.SpaceContaining(a.Begin()) != a || h.SpaceContaining(b.Begin()) != b {
		t.Fatal("SpaceContaining wrong")
	}
	if h.SpaceContaining(h.Capacity()-1) != nil {
		t.Fatal("unassigned range must not resolve to a space")
	}
	if _, err := h.AddSpace("huge", 1<<20); err == nil {
		t.Fatal("oversized space must fail")
	}
}

func TestReferenceStoresDirtyCards(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	s, _ := h.AddSpace("main", 1<<13)
	class, _ := h.NewClass(s, ClassDesc{ObjectSize: 16, RefOffsets: 0b1})
	obj, _ := s.AllocObject(class, 16)
	other, _ := s.AllocObject(class, 16)

	if h.CardTable().IsDirty(obj) {
		t.Fatal("card dirty before any store")
	}
	h.SetReferenceField(obj, ObjectHeaderSize, other)
	if !h.CardTable().IsDirty(obj) {
		t.Fatal("reference store did not dirty the card")
	}
	if h.ReferenceField(obj, ObjectHeaderSize) != other {
		t.Fatal("reference field round trip failed")
	}

	// Null stores need no card.
	h.CardTable().ClearAll()
	h.SetReferenceField(obj, ObjectHeaderSize, 0)
	if h.CardTable().IsDirty(obj) {
		t.Fatal("null store dirtied the card")
	}
}

func TestCardTableScanDirty(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	ct := h.CardTable()
	ct.Mark(0)
	ct.Mark(3 * CardSize)

	var ranges [][2]uint32
	ct.ScanDirty(0, h.Capacity(), func(lo, hi uint32) {
		ranges = append(ranges, [2]uint32{lo, hi})
	})
	if len(ranges) != 2 || ranges[0][0] != 0 || ranges[1][0] != 3*CardSize {
		t.Fatalf("dirty ranges = %v", ranges)
	}
	// Scanning clears.
	count := 0
	ct.ScanDirty(0, h.Capacity(), func(lo, hi uint32) { count++ })
	if count != 0 {
		t.Fatalf("second scan found %d dirty cards, want 0", count)
	}
}

func TestBitmapNextMarkedSeesLateSets(t *testing.T) {
	b := NewBitmap(0, 1<<12)
	b.Set(0)
	b.Set(64)

	addr, ok := b.NextMarked(0)
	if !ok || addr != 0 {
		t.Fatalf("NextMarked(0) = (%#x, %v)", addr, ok)
	}
	// A bit set ahead of the cursor mid-walk is still found.
	b.Set(128)
	addr, ok = b.NextMarked(addr + ObjectAlignment)
	if !ok || addr != 64 {
		t.Fatalf("NextMarked = (%#x, %v), want 64", addr, ok)
	}
	addr, ok = b.NextMarked(addr + ObjectAlignment)
	if !ok || addr != 128 {
		t.Fatalf("NextMarked = (%#x, %v), want 128", addr, ok)
	}
	if _, ok = b.NextMarked(addr + ObjectAlignment); ok {
		t.Fatal("NextMarked past the last bit must report false")
	}
}

func TestBitmapSweepDiff(t *testing.T) {
	live := NewBitmap(0, 1<<12)
	mark := NewBitmap(0, 1<<12)
	for _, a := range []uint32{0, 8, 16, 512} {
		live.Set(a)
	}
	mark.Set(8)

	var freedAddrs []uint32
	freed := live.SweepDiff(mark, func(addrs []uint32) {
		freedAddrs = append(freedAddrs, addrs...)
	})
	if freed != 3 {
		t.Fatalf("freed = %d, want 3", freed)
	}
	want := []uint32{0, 16, 512}
	if len(freedAddrs) != len(want) {
		t.Fatalf("freed addrs = %v, want %v", freedAddrs, want)
	}
	for i, a := range want {
		if freedAddrs[i] != a {
			t.Fatalf("freed addrs = %v, want %v", freedAddrs, want)
		}
	}
	// Survivors stay, the dead are gone.
	if !live.Test(8) || live.Test(0) || live.Test(512) {
		t.Fatal("live bitmap not reconciled")
	}
}

func TestCheckValidObjectPanics(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	s, _ := h.AddSpace("main", 1<<12)
	class, _ := h.NewClass(s, ClassDesc{ObjectSize: 16})
	obj, _ := s.AllocObject(class, 16)
	h.CheckValidObject(obj) // must not panic

	for name, bad := range map[string]uint32{
		"null":         0,
		"misaligned":   obj + 1,
		"out of range": h.Capacity() + 8,
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			h.CheckValidObject(bad)
		})
	}
}
