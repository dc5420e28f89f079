// Package amd64 implements the x86-64 instruction encoder used by the
// compiler backend. Encoding helpers produce raw bytes; the Assembler owns
// the text buffer, labels and branch fixups.
package amd64

import "fmt"

// Register identifies one of the sixteen general-purpose registers.
type Register uint8

const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var registerNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

// code returns the low three encoding bits.
func (r Register) code() byte { return byte(r) & 7 }

// high reports whether the register needs REX.B/REX.R/REX.X extension.
func (r Register) high() bool { return r >= R8 }

// needsByteREX reports whether addressing the register's 8-bit form
// requires a REX prefix (to reach SPL/BPL/SIL/DIL instead of AH..DH).
func (r Register) needsByteREX() bool {
	return r == RSP || r == RBP || r == RSI || r == RDI || r.high()
}

// XMMRegister identifies an SSE register used for float and double values.
type XMMRegister uint8

const (
	XMM0 XMMRegister = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

func (x XMMRegister) String() string { return fmt.Sprintf("xmm%d", uint8(x)) }

func (x XMMRegister) code() byte { return byte(x) & 7 }
func (x XMMRegister) high() bool { return x >= XMM8 }

type operandSize uint8

const (
	size8  operandSize = 1
	size16 operandSize = 2
	size32 operandSize = 4
	size64 operandSize = 8
)

// Reg pairs a register id with an explicit operand width.
type Reg struct {
	id   Register
	size operandSize
}

// Reg64 constructs a 64-bit register operand.
func Reg64(id Register) Reg { return Reg{id: id, size: size64} }

// Reg32 constructs a 32-bit register operand.
func Reg32(id Register) Reg { return Reg{id: id, size: size32} }

// Reg16 constructs a 16-bit register operand.
func Reg16(id Register) Reg { return Reg{id: id, size: size16} }

// Reg8 constructs an 8-bit register operand.
func Reg8(id Register) Reg { return Reg{id: id, size: size8} }

// ID returns the underlying register.
func (r Reg) ID() Register { return r.id }

func (r Reg) String() string {
	return fmt.Sprintf("%s/%d", r.id, r.size*8)
}

// Memory describes an effective address [base + index*scale + disp].
type Memory struct {
	base     Register
	index    Register
	disp     int32
	scale    uint8
	hasIndex bool
}

// Mem constructs a memory operand referencing [base].
func Mem(base Register) Memory {
	return Memory{base: base, scale: 1}
}

// MemIndex constructs a memory operand referencing [base + index*scale].
func MemIndex(base, index Register, scale uint8) Memory {
	if scale == 0 {
		scale = 1
	}
	return Memory{base: base, index: index, scale: scale, hasIndex: true}
}

// WithDisp returns a copy of the operand with the displacement replaced.
func (m Memory) WithDisp(disp int32) Memory {
	m.disp = disp
	return m
}

func (m Memory) validate() error {
	if m.hasIndex {
		if m.index == RSP {
			return fmt.Errorf("rsp cannot be used as an index register")
		}
		switch m.scale {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("invalid index scale %d", m.scale)
		}
	}
	return nil
}

// Cond is an x86 condition code as used in Jcc/SETcc encodings.
type Cond uint8

const (
	CondOverflow       Cond = 0x0
	CondNoOverflow     Cond = 0x1
	CondBelow          Cond = 0x2
	CondAboveOrEqual   Cond = 0x3
	CondEqual          Cond = 0x4
	CondNotEqual       Cond = 0x5
	CondBelowOrEqual   Cond = 0x6
	CondAbove          Cond = 0x7
	CondSign           Cond = 0x8
	CondNotSign        Cond = 0x9
	CondLess           Cond = 0xC
	CondGreaterOrEqual Cond = 0xD
	CondLessOrEqual    Cond = 0xE
	CondGreater        Cond = 0xF
)

// Negate returns the inverse condition; x86 encodes it by flipping the
// low bit.
func (c Cond) Negate() Cond { return c ^ 1 }

var condNames = map[Cond]string{
	CondOverflow:       "o",
	CondNoOverflow:     "no",
	CondBelow:          "b",
	CondAboveOrEqual:   "ae",
	CondEqual:          "e",
	CondNotEqual:       "ne",
	CondBelowOrEqual:   "be",
	CondAbove:          "a",
	CondSign:           "s",
	CondNotSign:        "ns",
	CondLess:           "l",
	CondGreaterOrEqual: "ge",
	CondLessOrEqual:    "le",
	CondGreater:        "g",
}

func (c Cond) String() string {
	if s, ok := condNames[c]; ok {
		return s
	}
	return fmt.Sprintf("cond(%#x)", uint8(c))
}
