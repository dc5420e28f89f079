package memregion

import "testing"

func TestLoadStoreRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	r := New(buf)

	r.StoreU8(0, 0xAB)
	r.StoreU16(2, 0x1234)
	r.StoreU32(4, 0xDEADBEEF)
	r.StoreU64(8, 0x0102030405060708)

	if got := r.LoadU8(0); got != 0xAB {
		t.Errorf("LoadU8=%#x", got)
	}
	if got := r.LoadU16(2); got != 0x1234 {
		t.Errorf("LoadU16=%#x", got)
	}
	if got := r.LoadU32(4); got != 0xDEADBEEF {
		t.Errorf("LoadU32=%#x", got)
	}
	if got := r.LoadU64(8); got != 0x0102030405060708 {
		t.Errorf("LoadU64=%#x", got)
	}

	// Little-endian layout.
	if buf[4] != 0xEF || buf[7] != 0xDE {
		t.Errorf("unexpected byte order: % x", buf[4:8])
	}
}

func TestSubregionAliasing(t *testing.T) {
	buf := make([]byte, 16)
	r := New(buf)
	sub := r.Subregion(8, 4)
	sub.StoreU32(0, 0x11223344)
	if got := r.LoadU32(8); got != 0x11223344 {
		t.Fatalf("subregion write not visible: %#x", got)
	}
	if sub.Size() != 4 {
		t.Fatalf("Subregion size=%d, want 4", sub.Size())
	}
}

func TestOutOfRangePanics(t *testing.T) {
	cases := []struct {
		name string
		f    func(Region)
	}{
		{"load past end", func(r Region) { r.LoadU32(13) }},
		{"store past end", func(r Region) { r.StoreU64(9, 0) }},
		{"negative offset", func(r Region) { r.LoadU8(-1) }},
		{"subregion past end", func(r Region) { r.Subregion(8, 9) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			tc.f(New(make([]byte, 16)))
		})
	}
}
