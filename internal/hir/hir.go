// Package hir defines the typed instruction graph consumed by the code
// generator. A Graph holds basic blocks in reverse postorder; every
// instruction carries a primitive type tag, its input edges and the source
// program counter it was built from. The graph is unit-local: one compiled
// method owns one graph and its arena, and both are dropped together.
package hir

import (
	"fmt"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/arena"
)

// PrimitiveType tags the value produced by an instruction.
type PrimitiveType uint8

const (
	Void PrimitiveType = iota
	Int
	Long
	Float
	Double
	Reference
)

func (t PrimitiveType) String() string {
	switch t {
	case Void:
		return "void"
	case Int:
		return "int"
	case Long:
		return "long"
	case Float:
		return "float"
	case Double:
		return "double"
	case Reference:
		return "ref"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Is64Bit reports whether values of this type occupy two 32-bit halves on
// a 32-bit-register architecture.
func (t PrimitiveType) Is64Bit() bool { return t == Long || t == Double }

// IsFloatingPoint reports whether values of this type live in FPU registers.
func (t PrimitiveType) IsFloatingPoint() bool { return t == Float || t == Double }

// Kind identifies the operation an instruction performs.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindParameter
	KindIntConstant
	KindLongConstant
	KindNullConstant
	KindAdd
	KindSub
	KindMul
	KindDiv
	KindNeg
	KindCondition
	KindIf
	KindGoto
	KindReturn
	KindReturnVoid
	KindNullCheck
	KindBoundsCheck
	KindDivZeroCheck
	KindArrayLength
	KindArrayGet
	KindArraySet
	KindFieldGet
	KindFieldSet
	KindInvoke
	KindSuspendCheck
)

var kindNames = [...]string{
	KindInvalid:      "invalid",
	KindParameter:    "parameter",
	KindIntConstant:  "int-constant",
	KindLongConstant: "long-constant",
	KindNullConstant: "null-constant",
	KindAdd:          "add",
	KindSub:          "sub",
	KindMul:          "mul",
	KindDiv:          "div",
	KindNeg:          "neg",
	KindCondition:    "condition",
	KindIf:           "if",
	KindGoto:         "goto",
	KindReturn:       "return",
	KindReturnVoid:   "return-void",
	KindNullCheck:    "null-check",
	KindBoundsCheck:  "bounds-check",
	KindDivZeroCheck: "div-zero-check",
	KindArrayLength:  "array-length",
	KindArrayGet:     "array-get",
	KindArraySet:     "array-set",
	KindFieldGet:     "field-get",
	KindFieldSet:     "field-set",
	KindInvoke:       "invoke",
	KindSuspendCheck: "suspend-check",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// CompareKind distinguishes condition instructions.
type CompareKind uint8

const (
	CompareEqual CompareKind = iota
	CompareNotEqual
	CompareLessThan
	CompareLessOrEqual
	CompareGreaterThan
	CompareGreaterOrEqual
)

// InvokeKind selects the dispatch shape of a call.
type InvokeKind uint8

const (
	InvokeStatic InvokeKind = iota
	InvokeVirtual
	InvokeInterface
)

// Instruction is one node of the graph. Kind-specific payload fields are
// only meaningful for the kinds that declare them.
type Instruction struct {
	Kind   Kind
	Type   PrimitiveType
	Inputs []*Instruction
	Block  *BasicBlock
	DexPC  uint32

	// Payload fields.
	IntValue    int64       // IntConstant, LongConstant
	Compare     CompareKind // Condition
	ParamIndex  int         // Parameter
	FieldOffset int32       // FieldGet, FieldSet
	Invoke      InvokeKind  // Invoke
	MethodIndex uint32      // Invoke
	VTableIndex int         // Invoke (virtual/interface)

	id int
}

// ID returns the graph-unique instruction id.
func (i *Instruction) ID() int { return i.id }

// InputAt returns input edge n.
func (i *Instruction) InputAt(n int) *Instruction { return i.Inputs[n] }

// InputCount returns the number of input edges.
func (i *Instruction) InputCount() int { return len(i.Inputs) }

// IsControlFlow reports whether the instruction terminates its block.
func (i *Instruction) IsControlFlow() bool {
	switch i.Kind {
	case KindIf, KindGoto, KindReturn, KindReturnVoid:
		return true
	}
	return false
}

// NeedsSafepoint reports whether executing the instruction can reach a
// GC-safe point, which requires a stack-map entry at its native pc.
func (i *Instruction) NeedsSafepoint() bool {
	switch i.Kind {
	case KindInvoke, KindSuspendCheck:
		return true
	}
	return false
}

// CanThrow reports whether the instruction has a faulting slow path.
func (i *Instruction) CanThrow() bool {
	switch i.Kind {
	case KindNullCheck, KindBoundsCheck, KindDivZeroCheck, KindInvoke:
		return true
	}
	return false
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%s#%d:%s", i.Kind, i.id, i.Type)
}

// BasicBlock is a single-entry single-exit run of instructions ending in a
// control-flow instruction (except the exit block).
type BasicBlock struct {
	ID           int
	Instructions []*Instruction
	Predecessors []*BasicBlock
	Successors   []*BasicBlock

	// LoopHeader marks blocks that are the target of a back edge. The code
	// generator plants the per-loop suspend check here.
	LoopHeader bool

	graph *Graph
}

// AddSuccessor links b -> succ, maintaining predecessor edges.
func (b *BasicBlock) AddSuccessor(succ *BasicBlock) {
	b.Successors = append(b.Successors, succ)
	succ.Predecessors = append(succ.Predecessors, b)
}

// LastInstruction returns the block terminator, or nil for an empty block.
func (b *BasicBlock) LastInstruction() *Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	return b.Instructions[len(b.Instructions)-1]
}

// IsBackEdge reports whether the edge b -> succ closes a loop, i.e. jumps
// to a block that precedes b in reverse postorder.
func (b *BasicBlock) IsBackEdge(succ *BasicBlock) bool {
	return succ.ID <= b.ID
}

// Graph is one compiled unit's instruction graph.
type Graph struct {
	MethodName string
	NumParams  int
	ParamTypes []PrimitiveType

	blocks  []*BasicBlock
	entry   *BasicBlock
	nodes   *arena.Arena[Instruction]
	nextID  int
	blockID int
}

// NewGraph creates an empty graph for the named method.
func NewGraph(methodName string, paramTypes ...PrimitiveType) *Graph {
	g := &Graph{
		MethodName: methodName,
		NumParams:  len(paramTypes),
		ParamTypes: paramTypes,
		nodes:      arena.New[Instruction](),
	}
	g.entry = g.NewBlock()
	return g
}

// Entry returns the entry block.
func (g *Graph) Entry() *BasicBlock { return g.entry }

// Blocks returns the blocks in creation order, which the builder is
// required to keep in reverse postorder: a block is created only after all
// of its forward predecessors.
func (g *Graph) Blocks() []*BasicBlock { return g.blocks }

// NewBlock appends a fresh block.
func (g *Graph) NewBlock() *BasicBlock {
	b := &BasicBlock{ID: g.blockID, graph: g}
	g.blockID++
	g.blocks = append(g.blocks, b)
	return b
}

// Release drops the node arena. The graph must not be used afterwards.
func (g *Graph) Release() {
	g.nodes.Release()
	g.blocks = nil
}

func (g *Graph) newInstruction(b *BasicBlock, kind Kind, typ PrimitiveType, inputs ...*Instruction) *Instruction {
	insn := g.nodes.Alloc()
	insn.Kind = kind
	insn.Type = typ
	insn.Inputs = inputs
	insn.Block = b
	insn.id = g.nextID
	g.nextID++
	b.Instructions = append(b.Instructions, insn)
	return insn
}

// Builder helpers. Each appends to the given block and returns the node.

func (g *Graph) AddParameter(b *BasicBlock, index int, typ PrimitiveType) *Instruction {
	insn := g.newInstruction(b, KindParameter, typ)
	insn.ParamIndex = index
	return insn
}

func (g *Graph) AddIntConstant(b *BasicBlock, value int32) *Instruction {
	insn := g.newInstruction(b, KindIntConstant, Int)
	insn.IntValue = int64(value)
	return insn
}

func (g *Graph) AddLongConstant(b *BasicBlock, value int64) *Instruction {
	insn := g.newInstruction(b, KindLongConstant, Long)
	insn.IntValue = value
	return insn
}

func (g *Graph) AddNullConstant(b *BasicBlock) *Instruction {
	return g.newInstruction(b, KindNullConstant, Reference)
}

func (g *Graph) AddBinary(b *BasicBlock, kind Kind, typ PrimitiveType, left, right *Instruction) *Instruction {
	switch kind {
	case KindAdd, KindSub, KindMul, KindDiv:
	default:
		panic(fmt.Sprintf("hir: %s is not a binary arithmetic kind", kind))
	}
	return g.newInstruction(b, kind, typ, left, right)
}

func (g *Graph) AddNeg(b *BasicBlock, typ PrimitiveType, value *Instruction) *Instruction {
	return g.newInstruction(b, KindNeg, typ, value)
}

func (g *Graph) AddCondition(b *BasicBlock, cmp CompareKind, left, right *Instruction) *Instruction {
	insn := g.newInstruction(b, KindCondition, Int, left, right)
	insn.Compare = cmp
	return insn
}

func (g *Graph) AddIf(b *BasicBlock, condition *Instruction) *Instruction {
	return g.newInstruction(b, KindIf, Void, condition)
}

func (g *Graph) AddGoto(b *BasicBlock) *Instruction {
	return g.newInstruction(b, KindGoto, Void)
}

func (g *Graph) AddReturn(b *BasicBlock, value *Instruction) *Instruction {
	return g.newInstruction(b, KindReturn, Void, value)
}

func (g *Graph) AddReturnVoid(b *BasicBlock) *Instruction {
	return g.newInstruction(b, KindReturnVoid, Void)
}

func (g *Graph) AddNullCheck(b *BasicBlock, object *Instruction, dexPC uint32) *Instruction {
	insn := g.newInstruction(b, KindNullCheck, Reference, object)
	insn.DexPC = dexPC
	return insn
}

func (g *Graph) AddBoundsCheck(b *BasicBlock, index, length *Instruction, dexPC uint32) *Instruction {
	insn := g.newInstruction(b, KindBoundsCheck, Int, index, length)
	insn.DexPC = dexPC
	return insn
}

func (g *Graph) AddDivZeroCheck(b *BasicBlock, value *Instruction, dexPC uint32) *Instruction {
	insn := g.newInstruction(b, KindDivZeroCheck, value.Type, value)
	insn.DexPC = dexPC
	return insn
}

func (g *Graph) AddArrayLength(b *BasicBlock, array *Instruction) *Instruction {
	return g.newInstruction(b, KindArrayLength, Int, array)
}

func (g *Graph) AddArrayGet(b *BasicBlock, typ PrimitiveType, array, index *Instruction) *Instruction {
	return g.newInstruction(b, KindArrayGet, typ, array, index)
}

func (g *Graph) AddArraySet(b *BasicBlock, array, index, value *Instruction) *Instruction {
	return g.newInstruction(b, KindArraySet, Void, array, index, value)
}

func (g *Graph) AddFieldGet(b *BasicBlock, typ PrimitiveType, object *Instruction, offset int32) *Instruction {
	insn := g.newInstruction(b, KindFieldGet, typ, object)
	insn.FieldOffset = offset
	return insn
}

func (g *Graph) AddFieldSet(b *BasicBlock, object, value *Instruction, offset int32) *Instruction {
	insn := g.newInstruction(b, KindFieldSet, Void, object, value)
	insn.FieldOffset = offset
	return insn
}

func (g *Graph) AddInvoke(b *BasicBlock, kind InvokeKind, returnType PrimitiveType, methodIndex uint32, dexPC uint32, args ...*Instruction) *Instruction {
	insn := g.newInstruction(b, KindInvoke, returnType, args...)
	insn.Invoke = kind
	insn.MethodIndex = methodIndex
	insn.DexPC = dexPC
	return insn
}

func (g *Graph) AddSuspendCheck(b *BasicBlock, dexPC uint32) *Instruction {
	insn := g.newInstruction(b, KindSuspendCheck, Void)
	insn.DexPC = dexPC
	return insn
}
