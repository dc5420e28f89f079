package amd64

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func emitOne(t *testing.T, build func(a *Assembler)) []byte {
	t.Helper()
	a := New()
	build(a)
	code, err := a.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed: %v", err)
	}
	return code
}

func expectCode(t *testing.T, got []byte, wantHex string) {
	t.Helper()
	want, err := hex.DecodeString(wantHex)
	if err != nil {
		t.Fatalf("invalid hex %q: %v", wantHex, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("unexpected encoding:\n got: %x\nwant: %x", got, want)
	}
}

func TestEncodeMov(t *testing.T) {
	tests := []struct {
		name  string
		build func(a *Assembler)
		want  string
	}{
		{"mov rax, imm32", func(a *Assembler) { a.MovRegImm(Reg64(RAX), 0x12345678) }, "48c7c078563412"},
		{"mov rax, imm64", func(a *Assembler) { a.MovRegImm(Reg64(RAX), 0x123456789A) }, "48b89a78563412000000"},
		{"mov ecx, 1", func(a *Assembler) { a.MovRegImm(Reg32(RCX), 1) }, "b901000000"},
		{"mov rax, rcx", func(a *Assembler) { a.MovRegReg(Reg64(RAX), Reg64(RCX)) }, "4889c8"},
		{"mov eax, r9d", func(a *Assembler) { a.MovRegReg(Reg32(RAX), Reg32(R9)) }, "4489c8"},
		{"mov rax, [rbx+8]", func(a *Assembler) { a.MovRegMem(Reg64(RAX), Mem(RBX).WithDisp(8)) }, "488b4308"},
		{"mov rax, [rsp]", func(a *Assembler) { a.MovRegMem(Reg64(RAX), Mem(RSP)) }, "488b0424"},
		{"mov rax, [rbp]", func(a *Assembler) { a.MovRegMem(Reg64(RAX), Mem(RBP)) }, "488b4500"},
		{"mov rax, [rax+rcx*4+16]", func(a *Assembler) { a.MovRegMem(Reg64(RAX), MemIndex(RAX, RCX, 4).WithDisp(16)) }, "488b448810"},
		{"mov [rdi+12], esi", func(a *Assembler) { a.MovMemReg(Mem(RDI).WithDisp(12), Reg32(RSI)) }, "89770c"},
		{"self-move elided", func(a *Assembler) { a.MovRegReg(Reg64(RAX), Reg64(RAX)) }, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectCode(t, emitOne(t, tc.build), tc.want)
		})
	}
}

func TestEncodeALU(t *testing.T) {
	tests := []struct {
		name  string
		build func(a *Assembler)
		want  string
	}{
		{"add rsp, -32", func(a *Assembler) { a.AddRegImm(Reg64(RSP), -32) }, "4883c4e0"},
		{"sub rsp, 0x100", func(a *Assembler) { a.SubRegImm(Reg64(RSP), 0x100) }, "4881ec00010000"},
		{"cmp edi, 100", func(a *Assembler) { a.CmpRegImm(Reg32(RDI), 100) }, "83ff64"},
		{"add rax, rcx", func(a *Assembler) { a.AddRegReg(Reg64(RAX), Reg64(RCX)) }, "4801c8"},
		{"sub eax, ebx", func(a *Assembler) { a.SubRegReg(Reg32(RAX), Reg32(RBX)) }, "29d8"},
		{"xor eax, eax", func(a *Assembler) { a.XorRegReg(Reg32(RAX), Reg32(RAX)) }, "31c0"},
		{"test rax, rax", func(a *Assembler) { a.TestRegReg(Reg64(RAX), Reg64(RAX)) }, "4885c0"},
		{"imul rax, rcx", func(a *Assembler) { a.ImulRegReg(Reg64(RAX), Reg64(RCX)) }, "480fafc1"},
		{"neg eax", func(a *Assembler) { a.NegReg(Reg32(RAX)) }, "f7d8"},
		{"cdq", func(a *Assembler) { a.Cdq(false) }, "99"},
		{"cqo", func(a *Assembler) { a.Cdq(true) }, "4899"},
		{"idiv ecx", func(a *Assembler) { a.IdivReg(Reg32(RCX)) }, "f7f9"},
		{"shl rax, 3", func(a *Assembler) { a.ShlRegImm(Reg64(RAX), 3) }, "48c1e003"},
		{"shr eax, 1", func(a *Assembler) { a.ShrRegImm(Reg32(RAX), 1) }, "d1e8"},
		{"lea rdi, [rsp+16]", func(a *Assembler) { a.Lea(Reg64(RDI), Mem(RSP).WithDisp(16)) }, "488d7c2410"},
		{"call [r15+32]", func(a *Assembler) { a.CallMem(Mem(R15).WithDisp(32)) }, "41ff5720"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectCode(t, emitOne(t, tc.build), tc.want)
		})
	}
}

func TestEncodeStack(t *testing.T) {
	code := emitOne(t, func(a *Assembler) {
		a.PushReg(RBP)
		a.PushReg(R12)
		a.PopReg(R12)
		a.PopReg(RBP)
		a.Ret()
	})
	expectCode(t, code, "554154415c5dc3")
}

func TestEncodeSetcc(t *testing.T) {
	code := emitOne(t, func(a *Assembler) {
		a.Setcc(CondEqual, RAX)
		a.Setcc(CondLess, RDI)
	})
	expectCode(t, code, "0f94c0400f9cc7")
}

func TestForwardJumpFixup(t *testing.T) {
	a := New()
	done := a.NewLabel()
	a.Jcc(CondEqual, done)     // 6 bytes
	a.MovRegImm(Reg32(RAX), 1) // 5 bytes
	a.Bind(done)
	a.Ret()

	code, err := a.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed: %v", err)
	}
	// je +5 over the mov, landing on ret.
	expectCode(t, code, "0f8405000000b801000000c3")
	if !done.IsBound() || done.Position() != 11 {
		t.Fatalf("label position=%d bound=%v", done.Position(), done.IsBound())
	}
}

func TestBackwardJump(t *testing.T) {
	a := New()
	loop := a.NewLabel()
	a.Bind(loop)
	a.AddRegImm(Reg64(RAX), 1) // 4 bytes
	a.Jmp(loop)                // 5 bytes, rel = 0 - 9 = -9

	code, err := a.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed: %v", err)
	}
	expectCode(t, code, "4883c001e9f7ffffff")
}

func TestUnboundLabelRejected(t *testing.T) {
	a := New()
	skip := a.NewLabel()
	a.Jcc(CondEqual, skip)
	a.Ret()
	if _, err := a.Bytes(); err == nil {
		t.Fatal("jump to a never-bound label must fail")
	}

	// Binding the label clears the pending fixup.
	a = New()
	skip = a.NewLabel()
	a.Jcc(CondEqual, skip)
	a.Bind(skip)
	a.Ret()
	if _, err := a.Bytes(); err != nil {
		t.Fatalf("Bytes() failed after bind: %v", err)
	}
}

func TestStickyError(t *testing.T) {
	a := New()
	a.MovRegReg(Reg64(RAX), Reg32(RCX)) // width mismatch
	a.Ret()
	if _, err := a.Bytes(); err == nil {
		t.Fatal("expected sticky error")
	}
	if a.Err() == nil {
		t.Fatal("Err() lost the failure")
	}
}

func TestRSPIndexRejected(t *testing.T) {
	a := New()
	a.MovRegMem(Reg64(RAX), MemIndex(RBX, RSP, 1))
	if _, err := a.Bytes(); err == nil {
		t.Fatal("rsp as index register must fail")
	}
}

func TestCondNegate(t *testing.T) {
	pairs := []struct{ c, want Cond }{
		{CondEqual, CondNotEqual},
		{CondLess, CondGreaterOrEqual},
		{CondBelowOrEqual, CondAbove},
	}
	for _, p := range pairs {
		if got := p.c.Negate(); got != p.want {
			t.Errorf("%v.Negate()=%v, want %v", p.c, got, p.want)
		}
	}
}
