// Package amd64 lowers hir graphs to x86-64 machine code. It implements
// the codegen.Backend strategy and registers itself under the "amd64"
// architecture name.
//
// The allocation scheme is deliberately simple: every value-producing
// instruction owns an 8-byte frame slot, inputs are loaded into scratch
// registers per instruction and the result is stored back immediately.
// Registers therefore never stay live across a safepoint, so safepoint
// register masks are always empty and the stack mask alone describes the
// live references.
package amd64

import (
	"fmt"

	asm "github.com/MotorolaMobilityLLC/art-sub007/internal/asm/amd64"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/bitvec"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/codegen"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/hir"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/memregion"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/stackmap"
)

func init() {
	codegen.RegisterBackend("amd64", newBackend)
}

// threadReg is reserved for the per-thread runtime block and never
// allocated.
const threadReg = asm.R15

// argRegisters is the managed calling convention: up to six integer or
// reference arguments in registers, result in RAX.
var argRegisters = [6]asm.Register{asm.RDI, asm.RSI, asm.RDX, asm.RCX, asm.R8, asm.R9}

// stackOverflowReserve is how far below RSP the prologue probe touches.
// A method whose frame fits in the reserve faults on the guard page in its
// prologue instead of overflowing mid-body.
const stackOverflowReserve = 8192

type regSet uint16

const allocatable = regSet(1<<asm.RAX | 1<<asm.RCX | 1<<asm.RDX | 1<<asm.RSI |
	1<<asm.RDI | 1<<asm.R8 | 1<<asm.R9 | 1<<asm.R10 | 1<<asm.R11)

func (s *regSet) take(r asm.Register) bool {
	bit := regSet(1) << r
	if *s&bit == 0 {
		return false
	}
	*s &^= bit
	return true
}

func (s *regSet) takeAnyExcept(excluded regSet) (asm.Register, bool) {
	avail := *s &^ excluded
	for r := asm.RAX; r <= asm.R15; r++ {
		if avail&(1<<r) != 0 {
			*s &^= 1 << r
			return r, true
		}
	}
	return 0, false
}

func (s *regSet) takeAny() (asm.Register, bool) { return s.takeAnyExcept(0) }

func (s *regSet) put(r asm.Register) { *s |= 1 << r }

// slowPath is one out-of-line sequence appended after the method body.
// mask is the reference-slot snapshot taken where the guard was emitted;
// the slow path's safepoint must describe that program point, not the
// state at the end of the body where the sequence is materialized.
type slowPath struct {
	label      *asm.Label
	resume     *asm.Label // nil for throwing paths
	entry      codegen.Entrypoint
	reason     string
	dexPC      uint32
	atBackEdge bool
	mask       *bitvec.BitVector
}

type backend struct {
	graph *hir.Graph
	opts  *codegen.Options
	asm   *asm.Assembler

	// slots maps instruction id to its RSP-relative frame offset.
	slots        map[int]int32
	paramOffsets []int32 // -1 when the parameter is never materialized
	frameSize    int32
	hasBackEdge  bool

	// refSlots tracks which slot indexes hold a reference; it is
	// snapshotted into each safepoint's stack mask. The set only grows
	// along the emission order, which is sound because the prologue zeroes
	// every reference slot: a masked slot that has not been stored yet
	// reads as null and the collector ignores it.
	refSlots *bitvec.BitVector

	// refZeroOffsets are the frame offsets the prologue null-initializes:
	// every reference slot except parameter spills, which the prologue
	// writes immediately.
	refZeroOffsets []int32

	blockLabels map[int]*asm.Label
	nextBlockID map[int]int // block id -> fall-through block id, -1 for last

	free      regSet
	stream    *stackmap.Stream
	slowPaths []*slowPath
	infos     []codegen.SlowPathInfo
}

func newBackend(g *hir.Graph, opts *codegen.Options) (codegen.Backend, error) {
	if g.NumParams > len(argRegisters) {
		return nil, fmt.Errorf("%w: %d parameters exceed the register convention",
			codegen.ErrUnsupportedInstruction, g.NumParams)
	}

	b := &backend{
		graph:        g,
		opts:         opts,
		asm:          asm.New(),
		slots:        make(map[int]int32),
		paramOffsets: make([]int32, g.NumParams),
		refSlots:     bitvec.New(32, true),
		blockLabels:  make(map[int]*asm.Label),
		nextBlockID:  make(map[int]int),
		stream:       stackmap.NewStream(),
	}
	for i := range b.paramOffsets {
		b.paramOffsets[i] = -1
	}
	b.layoutFrame()

	blocks := g.Blocks()
	for i, blk := range blocks {
		b.blockLabels[blk.ID] = b.asm.NewLabel()
		if i+1 < len(blocks) {
			b.nextBlockID[blk.ID] = blocks[i+1].ID
		} else {
			b.nextBlockID[blk.ID] = -1
		}
		for _, succ := range blk.Successors {
			if blk.IsBackEdge(succ) {
				b.hasBackEdge = true
			}
		}
	}
	return b, nil
}

// layoutFrame assigns one 8-byte slot to every value-producing instruction.
// Constants are folded at use sites and get no slot.
func (b *backend) layoutFrame() {
	var next int32
	for _, blk := range b.graph.Blocks() {
		for _, insn := range blk.Instructions {
			if insn.Type == hir.Void || isConstant(insn) {
				continue
			}
			b.slots[insn.ID()] = next
			if insn.Kind == hir.KindParameter {
				b.paramOffsets[insn.ParamIndex] = next
			} else if insn.Type == hir.Reference {
				b.refZeroOffsets = append(b.refZeroOffsets, next)
			}
			next += 8
		}
	}
	b.frameSize = (next + 15) &^ 15
}

func isConstant(insn *hir.Instruction) bool {
	switch insn.Kind {
	case hir.KindIntConstant, hir.KindLongConstant, hir.KindNullConstant:
		return true
	}
	return false
}

func (b *backend) slotMem(insn *hir.Instruction) asm.Memory {
	off, ok := b.slots[insn.ID()]
	if !ok {
		panic(fmt.Sprintf("amd64: no frame slot for %v", insn))
	}
	return asm.Mem(asm.RSP).WithDisp(off)
}

// valueReg picks the operand width for a type. References are 32-bit heap
// addresses; 32-bit moves zero-extend, so a loaded reference is directly
// usable as an address base.
func valueReg(r asm.Register, t hir.PrimitiveType) asm.Reg {
	if t == hir.Long {
		return asm.Reg64(r)
	}
	return asm.Reg32(r)
}

func (b *backend) EmitPrologue() error {
	if b.frameSize > 0 {
		b.asm.MovRegMem(asm.Reg32(asm.R11), asm.Mem(asm.RSP).WithDisp(-stackOverflowReserve))
		b.asm.SubRegImm(asm.Reg64(asm.RSP), int32(b.frameSize))
	}
	for _, off := range b.refZeroOffsets {
		b.asm.MovMemImm32(asm.Mem(asm.RSP).WithDisp(off), 0)
	}
	for i := 0; i < b.graph.NumParams; i++ {
		off := b.paramOffsets[i]
		if off < 0 {
			continue
		}
		t := b.graph.ParamTypes[i]
		if t.IsFloatingPoint() {
			return fmt.Errorf("%w: floating-point parameter", codegen.ErrUnsupportedInstruction)
		}
		b.asm.MovMemReg(asm.Mem(asm.RSP).WithDisp(off), valueReg(argRegisters[i], t))
		if t == hir.Reference {
			b.refSlots.SetBit(uint32(off / 8))
		}
	}
	if b.hasBackEdge {
		b.emitSuspendCheck(0, false)
	}
	return b.asm.Err()
}

func (b *backend) BindBlock(blk *hir.BasicBlock) error {
	b.asm.Bind(b.blockLabels[blk.ID])
	return b.asm.Err()
}

func (b *backend) EmitSlowPaths() error {
	for _, sp := range b.slowPaths {
		b.asm.Bind(sp.label)
		b.infos = append(b.infos, codegen.SlowPathInfo{
			Reason:     sp.reason,
			DexPC:      sp.dexPC,
			NativePC:   uint32(sp.label.Position()),
			AtBackEdge: sp.atBackEdge,
		})
		b.asm.CallMem(asm.Mem(threadReg).WithDisp(codegen.EntrypointOffset(sp.entry)))
		b.recordSafepointMask(sp.dexPC, sp.mask)
		if sp.resume != nil {
			b.asm.Jmp(sp.resume)
		} else {
			// Throwing entrypoints never return.
			b.asm.Int3()
		}
	}
	return b.asm.Err()
}

func (b *backend) Finalize() (*codegen.CompiledMethod, error) {
	code, err := b.asm.Bytes()
	if err != nil {
		return nil, err
	}
	maps := make([]byte, b.stream.ComputeNeededSize())
	if err := b.stream.FillIn(memregion.New(maps)); err != nil {
		return nil, err
	}
	return &codegen.CompiledMethod{
		Code:      code,
		StackMaps: maps,
		FrameSize: int(b.frameSize),
		SlowPaths: b.infos,
	}, nil
}

// snapshotRefSlots copies the current reference-slot set, or returns nil
// when no reference is live yet.
func (b *backend) snapshotRefSlots() *bitvec.BitVector {
	if b.refSlots.NumSetBits() == 0 {
		return nil
	}
	mask := bitvec.New(32, true)
	mask.Copy(b.refSlots)
	return mask
}

// recordSafepoint snapshots the live references and parameter locations at
// the current native pc. The register mask is always empty: values only
// live in registers within a single instruction's expansion.
func (b *backend) recordSafepoint(dexPC uint32) {
	b.recordSafepointMask(dexPC, b.snapshotRefSlots())
}

func (b *backend) recordSafepointMask(dexPC uint32, mask *bitvec.BitVector) {
	b.stream.AddStackMapEntry(dexPC, uint32(b.asm.Size()), 0, mask, b.graph.NumParams, 0)
	for i := 0; i < b.graph.NumParams; i++ {
		if off := b.paramOffsets[i]; off >= 0 {
			b.stream.AddDexRegisterEntry(stackmap.LocationInStack, off)
		} else {
			b.stream.AddDexRegisterEntry(stackmap.LocationNone, 0)
		}
	}
}

func (b *backend) newSlowPath(reason string, entry codegen.Entrypoint, dexPC uint32, atBackEdge bool, resume *asm.Label) *slowPath {
	sp := &slowPath{
		label:      b.asm.NewLabel(),
		resume:     resume,
		entry:      entry,
		reason:     reason,
		dexPC:      dexPC,
		atBackEdge: atBackEdge,
		mask:       b.snapshotRefSlots(),
	}
	b.slowPaths = append(b.slowPaths, sp)
	return sp
}

// emitSuspendCheck tests the thread's suspend flag and branches to a slow
// path that calls the runtime and resumes.
func (b *backend) emitSuspendCheck(dexPC uint32, atBackEdge bool) {
	b.asm.MovRegMem(asm.Reg32(asm.R11), asm.Mem(threadReg).WithDisp(codegen.ThreadSuspendFlagOffset))
	b.asm.TestRegReg(asm.Reg32(asm.R11), asm.Reg32(asm.R11))
	resume := b.asm.NewLabel()
	sp := b.newSlowPath("suspend-check", codegen.EntryTestSuspend, dexPC, atBackEdge, resume)
	b.asm.Jcc(asm.CondNotEqual, sp.label)
	b.asm.Bind(resume)
}
