package amd64

import (
	"fmt"
	"math"

	asm "github.com/MotorolaMobilityLLC/art-sub007/internal/asm/amd64"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/codegen"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/heap"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/hir"
)

// Emit lowers one instruction. The scratch set resets per instruction:
// inputs are loaded from their frame slots, the result is stored back, and
// nothing stays in registers afterwards.
func (b *backend) Emit(insn *hir.Instruction, ls *codegen.LocationSummary) error {
	b.free = allocatable

	switch insn.Kind {
	case hir.KindParameter, hir.KindIntConstant, hir.KindLongConstant, hir.KindNullConstant:
		// Parameters are spilled by the prologue; constants fold at uses.
		return nil

	case hir.KindAdd, hir.KindSub, hir.KindMul:
		return b.emitBinary(insn, ls)

	case hir.KindDiv:
		return b.emitDiv(insn)

	case hir.KindNeg:
		l, err := b.loadInputAny(insn.InputAt(0))
		if err != nil {
			return err
		}
		b.asm.NegReg(valueReg(l, insn.Type))
		b.store(insn, l)

	case hir.KindCondition:
		return b.emitCondition(insn, ls)

	case hir.KindIf:
		return b.emitIf(insn)

	case hir.KindGoto:
		blk := insn.Block
		succ := blk.Successors[0]
		if blk.IsBackEdge(succ) {
			b.emitSuspendCheck(insn.DexPC, true)
		}
		if succ.ID != b.nextBlockID[blk.ID] {
			b.asm.Jmp(b.blockLabels[succ.ID])
		}

	case hir.KindReturn:
		b.loadInput(insn.InputAt(0), asm.RAX)
		b.emitEpilogue()

	case hir.KindReturnVoid:
		b.emitEpilogue()

	case hir.KindNullCheck:
		r, err := b.loadInputAny(insn.InputAt(0))
		if err != nil {
			return err
		}
		b.asm.TestRegReg(asm.Reg32(r), asm.Reg32(r))
		sp := b.newSlowPath("null-check", codegen.EntryThrowNullPointer, insn.DexPC, false, nil)
		b.asm.Jcc(asm.CondEqual, sp.label)
		b.store(insn, r)

	case hir.KindBoundsCheck:
		idx, err := b.loadInputAny(insn.InputAt(0))
		if err != nil {
			return err
		}
		length, err := b.loadInputAny(insn.InputAt(1))
		if err != nil {
			return err
		}
		// Unsigned compare rejects negative indexes in the same branch.
		b.asm.CmpRegReg(asm.Reg32(idx), asm.Reg32(length))
		sp := b.newSlowPath("bounds-check", codegen.EntryThrowArrayBounds, insn.DexPC, false, nil)
		b.asm.Jcc(asm.CondAboveOrEqual, sp.label)
		b.store(insn, idx)

	case hir.KindDivZeroCheck:
		v, err := b.loadInputAny(insn.InputAt(0))
		if err != nil {
			return err
		}
		b.asm.TestRegReg(valueReg(v, insn.Type), valueReg(v, insn.Type))
		sp := b.newSlowPath("div-zero-check", codegen.EntryThrowDivZero, insn.DexPC, false, nil)
		b.asm.Jcc(asm.CondEqual, sp.label)
		b.store(insn, v)

	case hir.KindArrayLength:
		arr, err := b.loadInputAny(insn.InputAt(0))
		if err != nil {
			return err
		}
		b.asm.MovRegMem(asm.Reg32(arr), asm.Mem(arr).WithDisp(heap.ArrayLengthOffset))
		b.store(insn, arr)

	case hir.KindArrayGet:
		arr, err := b.loadInputAny(insn.InputAt(0))
		if err != nil {
			return err
		}
		idx, err := b.loadInputAny(insn.InputAt(1))
		if err != nil {
			return err
		}
		mem := asm.MemIndex(arr, idx, elementScale(insn.Type)).WithDisp(heap.ArrayDataOffset)
		b.asm.MovRegMem(valueReg(arr, insn.Type), mem)
		b.store(insn, arr)

	case hir.KindArraySet:
		arr, err := b.loadInputAny(insn.InputAt(0))
		if err != nil {
			return err
		}
		idx, err := b.loadInputAny(insn.InputAt(1))
		if err != nil {
			return err
		}
		value := insn.InputAt(2)
		val, err := b.loadInputAny(value)
		if err != nil {
			return err
		}
		mem := asm.MemIndex(arr, idx, elementScale(value.Type)).WithDisp(heap.ArrayDataOffset)
		b.asm.MovMemReg(mem, valueReg(val, value.Type))
		if value.Type == hir.Reference {
			if err := b.emitWriteBarrier(arr, val); err != nil {
				return err
			}
		}

	case hir.KindFieldGet:
		obj, err := b.loadInputAny(insn.InputAt(0))
		if err != nil {
			return err
		}
		b.asm.MovRegMem(valueReg(obj, insn.Type), asm.Mem(obj).WithDisp(insn.FieldOffset))
		b.store(insn, obj)

	case hir.KindFieldSet:
		obj, err := b.loadInputAny(insn.InputAt(0))
		if err != nil {
			return err
		}
		value := insn.InputAt(1)
		val, err := b.loadInputAny(value)
		if err != nil {
			return err
		}
		b.asm.MovMemReg(asm.Mem(obj).WithDisp(insn.FieldOffset), valueReg(val, value.Type))
		if value.Type == hir.Reference {
			if err := b.emitWriteBarrier(obj, val); err != nil {
				return err
			}
		}

	case hir.KindInvoke:
		return b.emitInvoke(insn)

	case hir.KindSuspendCheck:
		b.emitSuspendCheck(insn.DexPC, false)

	default:
		return fmt.Errorf("%w: %s", codegen.ErrUnsupportedInstruction, insn.Kind)
	}
	return b.asm.Err()
}

func (b *backend) alloc() (asm.Register, error) {
	r, ok := b.free.takeAny()
	if !ok {
		return 0, codegen.ErrNoFreeRegister
	}
	return r, nil
}

func (b *backend) allocFixed(r asm.Register) error {
	if !b.free.take(r) {
		return fmt.Errorf("%w: %s is taken", codegen.ErrNoFreeRegister, r)
	}
	return nil
}

// loadInput materializes an input value into a specific register, folding
// constants directly.
func (b *backend) loadInput(insn *hir.Instruction, into asm.Register) {
	switch insn.Kind {
	case hir.KindIntConstant, hir.KindLongConstant:
		b.asm.MovRegImm(valueReg(into, insn.Type), insn.IntValue)
	case hir.KindNullConstant:
		b.asm.MovRegImm(asm.Reg32(into), 0)
	default:
		b.asm.MovRegMem(valueReg(into, insn.Type), b.slotMem(insn))
	}
}

func (b *backend) loadInputAny(insn *hir.Instruction) (asm.Register, error) {
	r, err := b.alloc()
	if err != nil {
		return 0, err
	}
	b.loadInput(insn, r)
	return r, nil
}

// store spills a result to its frame slot and, for references, marks the
// slot live for future safepoint stack masks.
func (b *backend) store(insn *hir.Instruction, from asm.Register) {
	b.asm.MovMemReg(b.slotMem(insn), valueReg(from, insn.Type))
	if insn.Type == hir.Reference {
		b.refSlots.SetBit(uint32(b.slots[insn.ID()] / 8))
	}
}

func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

func elementScale(t hir.PrimitiveType) uint8 {
	if t.Is64Bit() {
		return 8
	}
	return 4
}

func (b *backend) emitBinary(insn *hir.Instruction, ls *codegen.LocationSummary) error {
	l, err := b.loadInputAny(insn.InputAt(0))
	if err != nil {
		return err
	}
	right := insn.InputAt(1)

	foldable := ls.InAt(1).Kind() == codegen.LocationUnallocated &&
		ls.InAt(1).Policy() == codegen.PolicyRegisterOrConstant &&
		isConstant(right) && fitsInt32(right.IntValue)
	if foldable {
		imm := int32(right.IntValue)
		switch insn.Kind {
		case hir.KindAdd:
			b.asm.AddRegImm(valueReg(l, insn.Type), imm)
		case hir.KindSub:
			b.asm.SubRegImm(valueReg(l, insn.Type), imm)
		case hir.KindMul:
			b.asm.ImulRegImm(valueReg(l, insn.Type), valueReg(l, insn.Type), imm)
		}
		b.store(insn, l)
		return nil
	}

	r, err := b.loadInputAny(right)
	if err != nil {
		return err
	}
	switch insn.Kind {
	case hir.KindAdd:
		b.asm.AddRegReg(valueReg(l, insn.Type), valueReg(r, insn.Type))
	case hir.KindSub:
		b.asm.SubRegReg(valueReg(l, insn.Type), valueReg(r, insn.Type))
	case hir.KindMul:
		b.asm.ImulRegReg(valueReg(l, insn.Type), valueReg(r, insn.Type))
	}
	b.store(insn, l)
	return nil
}

func (b *backend) emitDiv(insn *hir.Instruction) error {
	if err := b.allocFixed(asm.RAX); err != nil {
		return err
	}
	if err := b.allocFixed(asm.RDX); err != nil {
		return err
	}
	b.loadInput(insn.InputAt(0), asm.RAX)
	divisor, err := b.loadInputAny(insn.InputAt(1))
	if err != nil {
		return err
	}
	// idiv raises #DE on MIN/-1; the wrapped quotient equals the negated
	// dividend, so route that case through neg instead.
	divide := b.asm.NewLabel()
	done := b.asm.NewLabel()
	b.asm.CmpRegImm(valueReg(divisor, insn.Type), -1)
	b.asm.Jcc(asm.CondNotEqual, divide)
	b.asm.NegReg(valueReg(asm.RAX, insn.Type))
	b.asm.Jmp(done)
	b.asm.Bind(divide)
	b.asm.Cdq(insn.Type == hir.Long)
	b.asm.IdivReg(valueReg(divisor, insn.Type))
	b.asm.Bind(done)
	b.store(insn, asm.RAX)
	return nil
}

func (b *backend) emitCondition(insn *hir.Instruction, ls *codegen.LocationSummary) error {
	left := insn.InputAt(0)
	l, err := b.loadInputAny(left)
	if err != nil {
		return err
	}
	right := insn.InputAt(1)
	var rhsReg asm.Register
	rhsImm := isConstant(right) && fitsInt32(right.IntValue) &&
		ls.InAt(1).Kind() == codegen.LocationUnallocated &&
		ls.InAt(1).Policy() == codegen.PolicyRegisterOrConstant
	if !rhsImm {
		if rhsReg, err = b.loadInputAny(right); err != nil {
			return err
		}
	}
	dst, err := b.alloc()
	if err != nil {
		return err
	}

	// The xor must precede the compare: setcc writes only the low byte.
	b.asm.XorRegReg(asm.Reg32(dst), asm.Reg32(dst))
	if rhsImm {
		b.asm.CmpRegImm(valueReg(l, left.Type), int32(right.IntValue))
	} else {
		b.asm.CmpRegReg(valueReg(l, left.Type), valueReg(rhsReg, left.Type))
	}
	b.asm.Setcc(condFor(insn.Compare), dst)
	b.store(insn, dst)
	return nil
}

func condFor(cmp hir.CompareKind) asm.Cond {
	switch cmp {
	case hir.CompareEqual:
		return asm.CondEqual
	case hir.CompareNotEqual:
		return asm.CondNotEqual
	case hir.CompareLessThan:
		return asm.CondLess
	case hir.CompareLessOrEqual:
		return asm.CondLessOrEqual
	case hir.CompareGreaterThan:
		return asm.CondGreater
	case hir.CompareGreaterOrEqual:
		return asm.CondGreaterOrEqual
	default:
		panic(fmt.Sprintf("amd64: unknown compare kind %d", cmp))
	}
}

func (b *backend) emitIf(insn *hir.Instruction) error {
	blk := insn.Block
	trueBlock, falseBlock := blk.Successors[0], blk.Successors[1]

	// A conditional back edge carries the loop's suspend check, emitted
	// before the compare so the slow-path branch does not clobber flags.
	if blk.IsBackEdge(trueBlock) || blk.IsBackEdge(falseBlock) {
		b.emitSuspendCheck(insn.DexPC, true)
	}

	cond, err := b.loadInputAny(insn.InputAt(0))
	if err != nil {
		return err
	}
	b.asm.TestRegReg(asm.Reg32(cond), asm.Reg32(cond))

	next := b.nextBlockID[blk.ID]
	switch {
	case falseBlock.ID == next:
		b.asm.Jcc(asm.CondNotEqual, b.blockLabels[trueBlock.ID])
	case trueBlock.ID == next:
		b.asm.Jcc(asm.CondEqual, b.blockLabels[falseBlock.ID])
	default:
		b.asm.Jcc(asm.CondNotEqual, b.blockLabels[trueBlock.ID])
		b.asm.Jmp(b.blockLabels[falseBlock.ID])
	}
	return nil
}

func (b *backend) emitEpilogue() {
	if b.frameSize > 0 {
		b.asm.AddRegImm(asm.Reg64(asm.RSP), b.frameSize)
	}
	b.asm.Ret()
}

// emitWriteBarrier dirties the card covering obj after a reference store.
// The runtime biases the card table base so that its own low byte is the
// dirty value, which lets the mark be a single indexed byte store. A null
// value needs no card: the collector only chases non-null references.
func (b *backend) emitWriteBarrier(obj, val asm.Register) error {
	skip := b.asm.NewLabel()
	b.asm.TestRegReg(asm.Reg32(val), asm.Reg32(val))
	b.asm.Jcc(asm.CondEqual, skip)
	card, err := b.alloc()
	if err != nil {
		return err
	}
	b.asm.MovRegMem(asm.Reg64(card), asm.Mem(threadReg).WithDisp(codegen.ThreadCardTableOffset))
	b.asm.ShrRegImm(asm.Reg64(obj), heap.CardShift)
	b.asm.MovMemReg(asm.MemIndex(card, obj, 1), asm.Reg8(card))
	b.asm.Bind(skip)
	return nil
}

func (b *backend) emitInvoke(insn *hir.Instruction) error {
	for i, arg := range insn.Inputs {
		if !b.free.take(argRegisters[i]) {
			return fmt.Errorf("%w: argument register %s", codegen.ErrNoFreeRegister, argRegisters[i])
		}
		b.loadInput(arg, argRegisters[i])
	}

	switch insn.Invoke {
	case hir.InvokeStatic:
		if b.opts == nil || b.opts.Runtime == nil {
			return fmt.Errorf("%w: static call without a runtime binding", codegen.ErrUnsupportedInstruction)
		}
		addr := b.opts.Runtime.MethodCodeAddress(insn.MethodIndex)
		if addr == 0 {
			return fmt.Errorf("%w: unresolved static target %d", codegen.ErrUnsupportedInstruction, insn.MethodIndex)
		}
		b.asm.MovRegImm(asm.Reg64(asm.R10), int64(addr))
		b.asm.CallReg(asm.R10)

	case hir.InvokeVirtual:
		// Loading the class through the receiver doubles as the null
		// check: a null receiver faults here, at a pc covered by the
		// safepoint below.
		b.asm.MovRegMem(asm.Reg32(asm.RAX), asm.Mem(argRegisters[0]).WithDisp(heap.ObjectClassOffset))
		entry := int32(heap.ClassVTableOffset + insn.VTableIndex*8)
		b.asm.MovRegMem(asm.Reg64(asm.RAX), asm.Mem(asm.RAX).WithDisp(entry))
		b.asm.CallReg(asm.RAX)

	case hir.InvokeInterface:
		// The resolver entrypoint dispatches through the receiver's
		// interface table; the method index rides in RAX as a hidden
		// argument.
		b.asm.MovRegImm(asm.Reg64(asm.RAX), int64(insn.MethodIndex))
		b.asm.CallMem(asm.Mem(threadReg).WithDisp(codegen.EntrypointOffset(codegen.EntryResolveInterfaceCall)))

	default:
		return fmt.Errorf("%w: invoke kind %d", codegen.ErrUnsupportedInstruction, insn.Invoke)
	}

	b.recordSafepoint(insn.DexPC)
	if insn.Type != hir.Void {
		b.store(insn, asm.RAX)
	}
	return b.asm.Err()
}
