package bitvec

import (
	"testing"
)

func TestSetClearTest(t *testing.T) {
	v := New(32, false)
	if v.StorageSize() != 1 {
		t.Fatalf("StorageSize()=%d, want 1", v.StorageSize())
	}

	v.SetBit(0)
	v.SetBit(31)
	if got, want := v.RawStorage()[0], uint32(0x80000001); got != want {
		t.Fatalf("raw storage = %#x, want %#x", got, want)
	}
	if !v.IsBitSet(0) || !v.IsBitSet(31) {
		t.Fatal("expected bits 0 and 31 set")
	}
	if v.IsBitSet(1) || v.IsBitSet(32) {
		t.Fatal("unexpected bits set")
	}

	v.ClearBit(0)
	if v.IsBitSet(0) {
		t.Fatal("bit 0 still set after ClearBit")
	}
	// Clearing beyond storage is a no-op.
	v.ClearBit(1000)
}

func TestExpandableGrowth(t *testing.T) {
	v := New(8, true)
	v.SetBit(213)
	if !v.IsBitSet(213) {
		t.Fatal("bit 213 not set after growth")
	}
	if got := v.StorageSize() * 32; got <= 213 {
		t.Fatalf("storage covers %d bits, want > 213", got)
	}
	if v.IsBitSet(212) || v.IsBitSet(214) {
		t.Fatal("growth set neighbouring bits")
	}
}

func TestFixedSizeSetBeyondStoragePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("SetBit beyond fixed storage did not panic")
		}
	}()
	New(32, false).SetBit(32)
}

func TestUnion(t *testing.T) {
	a := New(64, true)
	b := New(64, false)
	a.SetBit(3)
	b.SetBit(3)
	b.SetBit(40)

	if !a.Union(b) {
		t.Fatal("Union reported no change")
	}
	for i := uint32(0); i < 64; i++ {
		want := i == 3 || i == 40
		if a.IsBitSet(i) != want {
			t.Fatalf("bit %d = %v, want %v", i, a.IsBitSet(i), want)
		}
	}
	if a.Union(b) {
		t.Fatal("second Union reported change")
	}
}

func TestUnionGrows(t *testing.T) {
	a := New(32, true)
	b := New(128, false)
	b.SetBit(100)
	if !a.Union(b) {
		t.Fatal("Union reported no change")
	}
	if !a.IsBitSet(100) {
		t.Fatal("bit 100 lost by Union")
	}
}

func TestIntersectSubtract(t *testing.T) {
	a := New(64, false)
	b := New(64, false)
	for _, i := range []uint32{1, 5, 33, 63} {
		a.SetBit(i)
	}
	for _, i := range []uint32{5, 33} {
		b.SetBit(i)
	}

	inter := New(64, false)
	inter.Copy(a)
	inter.Intersect(b)
	if got := inter.Indexes(); len(got) != 2 || got[0] != 5 || got[1] != 33 {
		t.Fatalf("Intersect = %v, want [5 33]", got)
	}

	diff := New(64, false)
	diff.Copy(a)
	diff.Subtract(b)
	if got := diff.Indexes(); len(got) != 2 || got[0] != 1 || got[1] != 63 {
		t.Fatalf("Subtract = %v, want [1 63]", got)
	}
}

func TestNumSetBits(t *testing.T) {
	v := New(96, false)
	for _, i := range []uint32{0, 31, 32, 65, 95} {
		v.SetBit(i)
	}
	if got := v.NumSetBits(); got != 5 {
		t.Fatalf("NumSetBits()=%d, want 5", got)
	}
	tests := []struct {
		end  uint32
		want int
	}{
		{0, 0},
		{1, 1},
		{32, 2},
		{33, 3},
		{66, 4},
		{96, 5},
	}
	for _, tc := range tests {
		if got := v.NumSetBitsBefore(tc.end); got != tc.want {
			t.Errorf("NumSetBitsBefore(%d)=%d, want %d", tc.end, got, tc.want)
		}
	}
}

func TestIterator(t *testing.T) {
	v := New(64, true)
	want := []uint32{8, 16, 32, 48}
	for _, i := range want {
		v.SetBit(i)
	}

	got := v.Indexes()
	if len(got) != len(want) {
		t.Fatalf("Indexes()=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Indexes()=%v, want %v", got, want)
		}
	}

	empty := New(64, false)
	if got := empty.Indexes(); len(got) != 0 {
		t.Fatalf("empty vector yielded %v", got)
	}
	if empty.NumSetBits() != 0 {
		t.Fatal("empty vector has set bits")
	}
}

func TestIteratorRestart(t *testing.T) {
	v := New(32, false)
	v.SetBit(7)
	first := v.Iterator()
	second := v.Iterator()
	for _, it := range []*IndexIterator{first, second} {
		idx, ok := it.Next()
		if !ok || idx != 7 {
			t.Fatalf("Next()=(%d,%v), want (7,true)", idx, ok)
		}
		if _, ok := it.Next(); ok {
			t.Fatal("iterator not exhausted")
		}
	}
}

func TestEqualAndSameBitsSet(t *testing.T) {
	a := New(32, false)
	b := New(128, false)
	a.SetBit(9)
	b.SetBit(9)

	if !a.SameBitsSet(b) || !b.SameBitsSet(a) {
		t.Fatal("SameBitsSet should ignore storage size")
	}

	c := New(32, true)
	c.SetBit(9)
	if a.Equal(c) {
		t.Fatal("Equal should require matching expandability")
	}
	d := New(32, false)
	d.SetBit(9)
	if !a.Equal(d) {
		t.Fatal("identical vectors reported unequal")
	}

	b.SetBit(90)
	if a.SameBitsSet(b) {
		t.Fatal("SameBitsSet missed a high bit")
	}
}

func TestHighestBitSet(t *testing.T) {
	v := New(96, false)
	if v.HighestBitSet() != -1 {
		t.Fatal("empty vector has a highest bit")
	}
	v.SetBit(2)
	v.SetBit(70)
	if got := v.HighestBitSet(); got != 70 {
		t.Fatalf("HighestBitSet()=%d, want 70", got)
	}
}

func TestSetInitialBits(t *testing.T) {
	v := New(64, false)
	v.SetInitialBits(35)
	if got := v.NumSetBits(); got != 35 {
		t.Fatalf("NumSetBits()=%d, want 35", got)
	}
	if !v.IsBitSet(34) || v.IsBitSet(35) {
		t.Fatal("SetInitialBits boundary wrong")
	}
}
