package amd64

import (
	"encoding/binary"
	"fmt"
	"math"
)

type rexState struct {
	w     bool
	r     bool
	x     bool
	b     bool
	force bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b && !r.force {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

func operandPrefix(size operandSize) (byte, bool) {
	if size == size16 {
		return 0x66, true
	}
	return 0x00, false
}

type memEncoding struct {
	modrm byte
	sib   []byte
	disp  []byte
	rex   rexState
}

// encodeMemoryOperand lowers an effective address into ModRM mode bits,
// an optional SIB byte and displacement bytes. RSP as base forces SIB;
// RBP/R13 with zero displacement must use an explicit 8-bit zero.
func encodeMemoryOperand(mem Memory) (memEncoding, error) {
	if err := mem.validate(); err != nil {
		return memEncoding{}, err
	}

	enc := memEncoding{
		rex: rexState{
			b: mem.base.high(),
			x: mem.hasIndex && mem.index.high(),
		},
	}

	rm := mem.base.code()

	switch {
	case mem.disp == 0 && rm != 5:
		enc.modrm = 0x00
	case mem.disp >= math.MinInt8 && mem.disp <= math.MaxInt8:
		enc.modrm = 0x40
		enc.disp = []byte{byte(mem.disp)}
	default:
		enc.modrm = 0x80
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(mem.disp))
		enc.disp = buf[:]
	}

	if mem.hasIndex || rm == 4 {
		indexCode := byte(4)
		if mem.hasIndex {
			indexCode = mem.index.code()
		}
		scaleBits := byte(0)
		switch mem.scale {
		case 1:
			scaleBits = 0
		case 2:
			scaleBits = 1
		case 4:
			scaleBits = 2
		case 8:
			scaleBits = 3
		}
		enc.sib = []byte{scaleBits<<6 | indexCode<<3 | mem.base.code()}
		rm = 4
		if enc.modrm == 0x00 && mem.base.code() == 5 {
			enc.modrm = 0x40
			enc.disp = []byte{0}
		}
	} else if enc.modrm == 0x00 && rm == 5 {
		// [rbp] / [r13] with mode 00 means rip-relative; use disp8 zero.
		enc.modrm = 0x40
		enc.disp = []byte{0}
	}

	enc.modrm |= rm
	return enc, nil
}

func appendEncoded(prefix byte, hasPrefix bool, rex rexState, opcode []byte, modrm byte, enc memEncoding, tail []byte) []byte {
	out := make([]byte, 0, 16)
	if hasPrefix {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode...)
	out = append(out, modrm)
	out = append(out, enc.sib...)
	out = append(out, enc.disp...)
	out = append(out, tail...)
	return out
}

func encodeMovRegImm(reg Reg, value int64) ([]byte, error) {
	prefix, hasPrefix := operandPrefix(reg.size)
	rex := rexState{
		b:     reg.id.high(),
		force: reg.size == size8 && reg.id.needsByteREX(),
	}

	var opcode byte
	var imm []byte

	switch reg.size {
	case size64:
		if value >= math.MinInt32 && value <= math.MaxInt32 {
			// Sign-extended 32-bit form: REX.W C7 /0 id.
			rex.w = true
			imm = make([]byte, 4)
			binary.LittleEndian.PutUint32(imm, uint32(value))
			out := make([]byte, 0, 8)
			out = append(out, rex.prefix(), 0xC7, 0xC0|reg.id.code())
			out = append(out, imm...)
			return out, nil
		}
		rex.w = true
		opcode = 0xB8 + reg.id.code()
		imm = make([]byte, 8)
		binary.LittleEndian.PutUint64(imm, uint64(value))
	case size32:
		opcode = 0xB8 + reg.id.code()
		imm = make([]byte, 4)
		binary.LittleEndian.PutUint32(imm, uint32(value))
	case size16:
		opcode = 0xB8 + reg.id.code()
		imm = make([]byte, 2)
		binary.LittleEndian.PutUint16(imm, uint16(value))
	case size8:
		opcode = 0xB0 + reg.id.code()
		imm = []byte{byte(value)}
	default:
		return nil, fmt.Errorf("unsupported register width %d", reg.size)
	}

	out := make([]byte, 0, 2+len(imm))
	if hasPrefix {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode)
	out = append(out, imm...)
	return out, nil
}

func encodeMovRegReg(dst, src Reg) ([]byte, error) {
	if dst.size != src.size {
		return nil, fmt.Errorf("mismatched register widths: %d vs %d", dst.size, src.size)
	}

	prefix, hasPrefix := operandPrefix(dst.size)
	rex := rexState{
		w:     dst.size == size64,
		r:     src.id.high(),
		b:     dst.id.high(),
		force: dst.size == size8 && (dst.id.needsByteREX() || src.id.needsByteREX()),
	}

	opcode := byte(0x89)
	if dst.size == size8 {
		opcode = 0x88
	}

	out := make([]byte, 0, 4)
	if hasPrefix {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode, 0xC0|src.id.code()<<3|dst.id.code())
	return out, nil
}

func encodeMovMemReg(mem Memory, src Reg) ([]byte, error) {
	enc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}

	prefix, hasPrefix := operandPrefix(src.size)
	rex := enc.rex
	rex.r = src.id.high()
	rex.w = src.size == size64
	rex.force = rex.force || (src.size == size8 && src.id.needsByteREX())

	opcode := byte(0x89)
	if src.size == size8 {
		opcode = 0x88
	}

	return appendEncoded(prefix, hasPrefix, rex, []byte{opcode}, enc.modrm|src.id.code()<<3, enc, nil), nil
}

func encodeMovRegMem(dst Reg, mem Memory) ([]byte, error) {
	enc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}

	prefix, hasPrefix := operandPrefix(dst.size)
	rex := enc.rex
	rex.r = dst.id.high()
	rex.w = dst.size == size64
	rex.force = rex.force || (dst.size == size8 && dst.id.needsByteREX())

	opcode := byte(0x8B)
	if dst.size == size8 {
		opcode = 0x8A
	}

	return appendEncoded(prefix, hasPrefix, rex, []byte{opcode}, enc.modrm|dst.id.code()<<3, enc, nil), nil
}

func encodeMovMemImm32(mem Memory, value int32) ([]byte, error) {
	enc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}
	imm := make([]byte, 4)
	binary.LittleEndian.PutUint32(imm, uint32(value))
	return appendEncoded(0, false, enc.rex, []byte{0xC7}, enc.modrm, enc, imm), nil
}

func encodeMovZXRegMem(dst Reg, mem Memory, srcSize operandSize) ([]byte, error) {
	if dst.size != size32 && dst.size != size64 {
		return nil, fmt.Errorf("movzx requires 32- or 64-bit destination, got %d", dst.size*8)
	}
	if srcSize != size8 && srcSize != size16 {
		return nil, fmt.Errorf("movzx supports 8- or 16-bit source, got %d", srcSize*8)
	}

	enc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}

	rex := enc.rex
	rex.r = dst.id.high()
	rex.w = dst.size == size64

	opcode := []byte{0x0F, 0xB6}
	if srcSize == size16 {
		opcode[1] = 0xB7
	}

	return appendEncoded(0, false, rex, opcode, enc.modrm|dst.id.code()<<3, enc, nil), nil
}

func encodeMovSXRegMem(dst Reg, mem Memory, srcSize operandSize) ([]byte, error) {
	if dst.size != size32 && dst.size != size64 {
		return nil, fmt.Errorf("movsx requires 32- or 64-bit destination, got %d", dst.size*8)
	}

	enc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}

	rex := enc.rex
	rex.r = dst.id.high()
	rex.w = dst.size == size64

	var opcode []byte
	switch srcSize {
	case size8:
		opcode = []byte{0x0F, 0xBE}
	case size16:
		opcode = []byte{0x0F, 0xBF}
	case size32:
		// movsxd
		opcode = []byte{0x63}
	default:
		return nil, fmt.Errorf("movsx unsupported source width %d", srcSize*8)
	}

	return appendEncoded(0, false, rex, opcode, enc.modrm|dst.id.code()<<3, enc, nil), nil
}

// ALU subcodes for the 0x81/0x83 immediate group.
const (
	aluAdd byte = 0
	aluOr  byte = 1
	aluAnd byte = 4
	aluSub byte = 5
	aluXor byte = 6
	aluCmp byte = 7
)

func encodeALURegImm(subcode byte, reg Reg, value int32) ([]byte, error) {
	prefix, hasPrefix := operandPrefix(reg.size)
	rex := rexState{
		w:     reg.size == size64,
		b:     reg.id.high(),
		force: reg.size == size8 && reg.id.needsByteREX(),
	}

	var opcode byte
	var imm []byte
	switch reg.size {
	case size8:
		opcode = 0x80
		imm = []byte{byte(value)}
	case size16, size32, size64:
		if value >= math.MinInt8 && value <= math.MaxInt8 {
			opcode = 0x83
			imm = []byte{byte(value)}
		} else {
			opcode = 0x81
			imm = make([]byte, 4)
			binary.LittleEndian.PutUint32(imm, uint32(value))
		}
	default:
		return nil, fmt.Errorf("unsupported width %d", reg.size)
	}

	out := make([]byte, 0, 8)
	if hasPrefix {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode, 0xC0|subcode<<3|reg.id.code())
	out = append(out, imm...)
	return out, nil
}

func encodeALURegReg(opcode byte, dst, src Reg) ([]byte, error) {
	if dst.size != src.size {
		return nil, fmt.Errorf("mismatched register widths: %d vs %d", dst.size, src.size)
	}

	prefix, hasPrefix := operandPrefix(dst.size)
	rex := rexState{
		w:     dst.size == size64,
		r:     src.id.high(),
		b:     dst.id.high(),
		force: dst.size == size8 && (dst.id.needsByteREX() || src.id.needsByteREX()),
	}

	out := make([]byte, 0, 4)
	if hasPrefix {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode, 0xC0|src.id.code()<<3|dst.id.code())
	return out, nil
}

func encodeALURegMem(opcode byte, dst Reg, mem Memory) ([]byte, error) {
	enc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}
	prefix, hasPrefix := operandPrefix(dst.size)
	rex := enc.rex
	rex.r = dst.id.high()
	rex.w = dst.size == size64
	return appendEncoded(prefix, hasPrefix, rex, []byte{opcode}, enc.modrm|dst.id.code()<<3, enc, nil), nil
}

func chooseOpcode(size operandSize, wide, narrow byte) byte {
	if size == size8 {
		return narrow
	}
	return wide
}

func encodeTestRegReg(dst, src Reg) ([]byte, error) {
	if dst.size != src.size {
		return nil, fmt.Errorf("mismatched register widths: %d vs %d", dst.size, src.size)
	}
	prefix, hasPrefix := operandPrefix(dst.size)
	rex := rexState{
		w:     dst.size == size64,
		r:     src.id.high(),
		b:     dst.id.high(),
		force: dst.size == size8 && (dst.id.needsByteREX() || src.id.needsByteREX()),
	}
	out := make([]byte, 0, 4)
	if hasPrefix {
		out = append(out, prefix)
	}
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, chooseOpcode(dst.size, 0x85, 0x84), 0xC0|src.id.code()<<3|dst.id.code())
	return out, nil
}

func encodeImulRegReg(dst, src Reg) ([]byte, error) {
	if dst.size != src.size {
		return nil, fmt.Errorf("imul requires matching operand widths")
	}
	if dst.size != size32 && dst.size != size64 {
		return nil, fmt.Errorf("imul unsupported width %d", dst.size*8)
	}
	rex := rexState{
		w: dst.size == size64,
		r: dst.id.high(),
		b: src.id.high(),
	}
	out := make([]byte, 0, 4)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, 0x0F, 0xAF, 0xC0|dst.id.code()<<3|src.id.code())
	return out, nil
}

func encodeImulRegImm(dst, src Reg, value int32) ([]byte, error) {
	if dst.size != src.size {
		return nil, fmt.Errorf("imul requires matching operand widths")
	}
	if dst.size != size32 && dst.size != size64 {
		return nil, fmt.Errorf("imul unsupported width %d", dst.size*8)
	}
	rex := rexState{
		w: dst.size == size64,
		r: dst.id.high(),
		b: src.id.high(),
	}

	var opcode byte
	var imm []byte
	if value >= math.MinInt8 && value <= math.MaxInt8 {
		opcode = 0x6B
		imm = []byte{byte(value)}
	} else {
		opcode = 0x69
		imm = make([]byte, 4)
		binary.LittleEndian.PutUint32(imm, uint32(value))
	}

	out := make([]byte, 0, 8)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, opcode, 0xC0|dst.id.code()<<3|src.id.code())
	out = append(out, imm...)
	return out, nil
}

// unaryGroupF7 encodes F7-group single-operand instructions (neg /3, idiv /7).
func unaryGroupF7(subcode byte, reg Reg) ([]byte, error) {
	if reg.size != size32 && reg.size != size64 {
		return nil, fmt.Errorf("unsupported width %d", reg.size*8)
	}
	rex := rexState{
		w: reg.size == size64,
		b: reg.id.high(),
	}
	out := make([]byte, 0, 3)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, 0xF7, 0xC0|subcode<<3|reg.id.code())
	return out, nil
}

func encodeShiftRegImm(subcode byte, reg Reg, count uint8) ([]byte, error) {
	rex := rexState{
		w:     reg.size == size64,
		b:     reg.id.high(),
		force: reg.size == size8 && reg.id.needsByteREX(),
	}
	opcode := chooseOpcode(reg.size, 0xC1, 0xC0)
	out := make([]byte, 0, 5)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	if count == 1 {
		out = append(out, opcode|0x10, 0xC0|subcode<<3|reg.id.code())
		return out, nil
	}
	out = append(out, opcode, 0xC0|subcode<<3|reg.id.code(), count)
	return out, nil
}

func encodeLea(dst Reg, mem Memory) ([]byte, error) {
	if dst.size != size64 && dst.size != size32 {
		return nil, fmt.Errorf("lea requires 32- or 64-bit destination")
	}
	enc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}
	rex := enc.rex
	rex.r = dst.id.high()
	rex.w = dst.size == size64
	return appendEncoded(0, false, rex, []byte{0x8D}, enc.modrm|dst.id.code()<<3, enc, nil), nil
}

func encodePushReg(reg Register) []byte {
	if reg.high() {
		return []byte{0x41, 0x50 + reg.code()}
	}
	return []byte{0x50 + reg.code()}
}

func encodePopReg(reg Register) []byte {
	if reg.high() {
		return []byte{0x41, 0x58 + reg.code()}
	}
	return []byte{0x58 + reg.code()}
}

func encodeCallReg(target Register) []byte {
	out := make([]byte, 0, 3)
	if target.high() {
		out = append(out, 0x41)
	}
	out = append(out, 0xFF, 0xD0|target.code())
	return out
}

// encodeCallMem encodes FF /2 with a memory operand: an indirect call
// through a 64-bit code pointer loaded from memory.
func encodeCallMem(mem Memory) ([]byte, error) {
	enc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}
	return appendEncoded(0, false, enc.rex, []byte{0xFF}, enc.modrm|2<<3, enc, nil), nil
}

func encodeSetcc(cc Cond, reg Register) []byte {
	rex := rexState{
		b:     reg.high(),
		force: reg.needsByteREX(),
	}
	out := make([]byte, 0, 4)
	if rexByte := rex.prefix(); rexByte != 0 {
		out = append(out, rexByte)
	}
	out = append(out, 0x0F, 0x90+byte(cc), 0xC0|reg.code())
	return out
}

func encodeRet() []byte { return []byte{0xC3} }

func encodeInt3() []byte { return []byte{0xCC} }

// encodeCdq returns CDQ (32-bit) or CQO (64-bit): sign-extend the
// accumulator into RDX ahead of idiv.
func encodeCdq(wide bool) []byte {
	if wide {
		return []byte{0x48, 0x99}
	}
	return []byte{0x99}
}
