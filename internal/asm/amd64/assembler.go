package amd64

import (
	"encoding/binary"
	"fmt"
)

// Label marks a position in the text buffer. Jumps to an unbound label are
// recorded as fixups and patched when the label is bound.
type Label struct {
	position int
	fixups   []int
	bound    bool
}

// IsBound reports whether the label has been placed.
func (l *Label) IsBound() bool { return l.bound }

// Position returns the label's offset in the text buffer. Only valid once
// bound.
func (l *Label) Position() int { return l.position }

// Assembler accumulates encoded instructions into a flat text buffer.
// Encoding errors are sticky: the first failure is retained and every
// later emission becomes a no-op, so call sites stay unconditional and the
// caller checks Err once at the end (the same contract bufio.Writer uses).
type Assembler struct {
	text []byte
	err  error

	// pendingFixups counts rel32 displacements still waiting on an
	// unbound label.
	pendingFixups int
}

// New returns an empty assembler.
func New() *Assembler {
	return &Assembler{}
}

// Err returns the first encoding error, if any.
func (a *Assembler) Err() error { return a.err }

// Size returns the current text size in bytes, i.e. the native pc offset
// of the next instruction.
func (a *Assembler) Size() int { return len(a.text) }

// Bytes returns the finished machine code. It fails if any emission failed
// or a referenced label was never bound.
func (a *Assembler) Bytes() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.pendingFixups > 0 {
		return nil, fmt.Errorf("%d branch fixups reference labels that were never bound", a.pendingFixups)
	}
	return a.text, nil
}

func (a *Assembler) emit(code []byte, err error) {
	if a.err != nil {
		return
	}
	if err != nil {
		a.err = err
		return
	}
	a.text = append(a.text, code...)
}

func (a *Assembler) emitRaw(code []byte) {
	if a.err != nil {
		return
	}
	a.text = append(a.text, code...)
}

func (a *Assembler) fail(format string, args ...any) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

// NewLabel allocates an unbound label.
func (a *Assembler) NewLabel() *Label {
	return &Label{}
}

// Bind places the label at the current position and patches every pending
// rel32 fixup against it.
func (a *Assembler) Bind(l *Label) {
	if a.err != nil {
		return
	}
	if l.bound {
		a.fail("label bound twice")
		return
	}
	l.bound = true
	l.position = len(a.text)
	for _, pos := range l.fixups {
		rel := int32(l.position - (pos + 4))
		binary.LittleEndian.PutUint32(a.text[pos:], uint32(rel))
	}
	a.pendingFixups -= len(l.fixups)
	l.fixups = nil
}

// rel32 emits a 4-byte displacement to l, recording a fixup when l is not
// yet bound.
func (a *Assembler) rel32(l *Label) {
	pos := len(a.text)
	a.text = append(a.text, 0, 0, 0, 0)
	if l.bound {
		rel := int32(l.position - (pos + 4))
		binary.LittleEndian.PutUint32(a.text[pos:], uint32(rel))
		return
	}
	l.fixups = append(l.fixups, pos)
	a.pendingFixups++
}

// Jmp emits an unconditional rel32 jump.
func (a *Assembler) Jmp(l *Label) {
	if a.err != nil {
		return
	}
	a.text = append(a.text, 0xE9)
	a.rel32(l)
}

// Jcc emits a conditional rel32 jump.
func (a *Assembler) Jcc(cc Cond, l *Label) {
	if a.err != nil {
		return
	}
	a.text = append(a.text, 0x0F, 0x80+byte(cc))
	a.rel32(l)
}

// CallLabel emits a rel32 call to a label within the same unit.
func (a *Assembler) CallLabel(l *Label) {
	if a.err != nil {
		return
	}
	a.text = append(a.text, 0xE8)
	a.rel32(l)
}

// CallReg emits an indirect call through a 64-bit register.
func (a *Assembler) CallReg(target Register) { a.emitRaw(encodeCallReg(target)) }

// CallMem emits an indirect call through a code pointer in memory.
func (a *Assembler) CallMem(mem Memory) { a.emit(encodeCallMem(mem)) }

// Ret emits a near return.
func (a *Assembler) Ret() { a.emitRaw(encodeRet()) }

// Int3 emits a breakpoint; used to pad unreachable code.
func (a *Assembler) Int3() { a.emitRaw(encodeInt3()) }

// MovRegImm loads an immediate into a register, choosing the shortest
// legal encoding.
func (a *Assembler) MovRegImm(dst Reg, value int64) { a.emit(encodeMovRegImm(dst, value)) }

// MovRegReg copies src into dst. Same-register moves are elided.
func (a *Assembler) MovRegReg(dst, src Reg) {
	if dst == src {
		return
	}
	a.emit(encodeMovRegReg(dst, src))
}

// MovMemReg stores a register to memory.
func (a *Assembler) MovMemReg(mem Memory, src Reg) { a.emit(encodeMovMemReg(mem, src)) }

// MovRegMem loads a register from memory.
func (a *Assembler) MovRegMem(dst Reg, mem Memory) { a.emit(encodeMovRegMem(dst, mem)) }

// MovMemImm32 stores a sign-extended 32-bit immediate to memory.
func (a *Assembler) MovMemImm32(mem Memory, value int32) { a.emit(encodeMovMemImm32(mem, value)) }

// MovZX8 zero-extends a byte load.
func (a *Assembler) MovZX8(dst Reg, mem Memory) { a.emit(encodeMovZXRegMem(dst, mem, size8)) }

// MovZX16 zero-extends a 16-bit load.
func (a *Assembler) MovZX16(dst Reg, mem Memory) { a.emit(encodeMovZXRegMem(dst, mem, size16)) }

// MovSX8 sign-extends a byte load.
func (a *Assembler) MovSX8(dst Reg, mem Memory) { a.emit(encodeMovSXRegMem(dst, mem, size8)) }

// MovSXD sign-extends a 32-bit load into a 64-bit register.
func (a *Assembler) MovSXD(dst Reg, mem Memory) { a.emit(encodeMovSXRegMem(dst, mem, size32)) }

func (a *Assembler) AddRegImm(reg Reg, value int32) { a.emit(encodeALURegImm(aluAdd, reg, value)) }
func (a *Assembler) SubRegImm(reg Reg, value int32) { a.emit(encodeALURegImm(aluSub, reg, value)) }
func (a *Assembler) AndRegImm(reg Reg, value int32) { a.emit(encodeALURegImm(aluAnd, reg, value)) }
func (a *Assembler) OrRegImm(reg Reg, value int32)  { a.emit(encodeALURegImm(aluOr, reg, value)) }
func (a *Assembler) XorRegImm(reg Reg, value int32) { a.emit(encodeALURegImm(aluXor, reg, value)) }
func (a *Assembler) CmpRegImm(reg Reg, value int32) { a.emit(encodeALURegImm(aluCmp, reg, value)) }

func (a *Assembler) AddRegReg(dst, src Reg) {
	a.emit(encodeALURegReg(chooseOpcode(dst.size, 0x01, 0x00), dst, src))
}
func (a *Assembler) SubRegReg(dst, src Reg) {
	a.emit(encodeALURegReg(chooseOpcode(dst.size, 0x29, 0x28), dst, src))
}
func (a *Assembler) AndRegReg(dst, src Reg) {
	a.emit(encodeALURegReg(chooseOpcode(dst.size, 0x21, 0x20), dst, src))
}
func (a *Assembler) OrRegReg(dst, src Reg) {
	a.emit(encodeALURegReg(chooseOpcode(dst.size, 0x09, 0x08), dst, src))
}
func (a *Assembler) XorRegReg(dst, src Reg) {
	a.emit(encodeALURegReg(chooseOpcode(dst.size, 0x31, 0x30), dst, src))
}
func (a *Assembler) CmpRegReg(dst, src Reg) {
	a.emit(encodeALURegReg(chooseOpcode(dst.size, 0x39, 0x38), dst, src))
}

// AddRegMem adds a memory operand into dst.
func (a *Assembler) AddRegMem(dst Reg, mem Memory) { a.emit(encodeALURegMem(0x03, dst, mem)) }

// CmpRegMem compares dst against a memory operand.
func (a *Assembler) CmpRegMem(dst Reg, mem Memory) { a.emit(encodeALURegMem(0x3B, dst, mem)) }

// TestRegReg ands two registers and sets flags without writing a result.
func (a *Assembler) TestRegReg(dst, src Reg) { a.emit(encodeTestRegReg(dst, src)) }

// ImulRegReg multiplies dst by src.
func (a *Assembler) ImulRegReg(dst, src Reg) { a.emit(encodeImulRegReg(dst, src)) }

// ImulRegImm multiplies src by an immediate into dst.
func (a *Assembler) ImulRegImm(dst, src Reg, value int32) { a.emit(encodeImulRegImm(dst, src, value)) }

// Cdq sign-extends EAX into EDX (CQO for 64-bit operands).
func (a *Assembler) Cdq(wide bool) { a.emitRaw(encodeCdq(wide)) }

// IdivReg divides RDX:RAX by the operand register.
func (a *Assembler) IdivReg(reg Reg) { a.emit(unaryGroupF7(7, reg)) }

// NegReg negates the register in place.
func (a *Assembler) NegReg(reg Reg) { a.emit(unaryGroupF7(3, reg)) }

func (a *Assembler) ShlRegImm(reg Reg, count uint8) { a.emit(encodeShiftRegImm(4, reg, count)) }
func (a *Assembler) ShrRegImm(reg Reg, count uint8) { a.emit(encodeShiftRegImm(5, reg, count)) }
func (a *Assembler) SarRegImm(reg Reg, count uint8) { a.emit(encodeShiftRegImm(7, reg, count)) }

// Lea computes an effective address into dst.
func (a *Assembler) Lea(dst Reg, mem Memory) { a.emit(encodeLea(dst, mem)) }

// PushReg pushes a 64-bit register.
func (a *Assembler) PushReg(reg Register) { a.emitRaw(encodePushReg(reg)) }

// PopReg pops a 64-bit register.
func (a *Assembler) PopReg(reg Register) { a.emitRaw(encodePopReg(reg)) }

// Setcc materializes a condition flag into an 8-bit register.
func (a *Assembler) Setcc(cc Cond, reg Register) { a.emitRaw(encodeSetcc(cc, reg)) }
