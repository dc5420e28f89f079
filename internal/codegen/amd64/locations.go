package amd64

import (
	"fmt"

	asm "github.com/MotorolaMobilityLLC/art-sub007/internal/asm/amd64"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/codegen"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/hir"
)

// BuildLocations states each instruction's operand constraints. Inputs are
// consumed at instruction entry (this backend spills every result), so they
// are uniformly marked dies-at-entry and the output may reuse input
// registers.
func (b *backend) BuildLocations(insn *hir.Instruction) (*codegen.LocationSummary, error) {
	if insn.Type.IsFloatingPoint() {
		return nil, fmt.Errorf("%w: %s of type %s", codegen.ErrUnsupportedInstruction, insn.Kind, insn.Type)
	}

	switch insn.Kind {
	case hir.KindParameter:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetOut(codegen.StackSlot(b.slots[insn.ID()]))
		return ls, nil

	case hir.KindIntConstant, hir.KindLongConstant:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetOut(codegen.ConstantLocation(insn.IntValue))
		return ls, nil

	case hir.KindNullConstant:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetOut(codegen.ConstantLocation(0))
		return ls, nil

	case hir.KindAdd, hir.KindSub, hir.KindMul:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetInAtDiesAtEntry(1, codegen.RegisterOrConstant())
		ls.SetOut(codegen.SameAsFirstInput())
		return ls, nil

	case hir.KindDiv:
		// idiv pins the dividend and result to RAX and clobbers RDX.
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RegisterLocation(int(asm.RAX)))
		ls.SetInAtDiesAtEntry(1, codegen.RequiresRegister())
		ls.AddTemp(codegen.RegisterLocation(int(asm.RDX)))
		ls.SetOut(codegen.RegisterLocation(int(asm.RAX)))
		return ls, nil

	case hir.KindNeg:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetOut(codegen.SameAsFirstInput())
		return ls, nil

	case hir.KindCondition:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetInAtDiesAtEntry(1, codegen.RegisterOrConstant())
		ls.SetOut(codegen.RequiresRegister())
		return ls, nil

	case hir.KindIf:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		return ls, nil

	case hir.KindGoto, hir.KindReturnVoid:
		return codegen.NewLocationSummary(insn, codegen.CallNone), nil

	case hir.KindReturn:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RegisterLocation(int(asm.RAX)))
		return ls, nil

	case hir.KindNullCheck, hir.KindDivZeroCheck:
		ls := codegen.NewLocationSummary(insn, codegen.CallOnSlowPath)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetOut(codegen.SameAsFirstInput())
		return ls, nil

	case hir.KindBoundsCheck:
		ls := codegen.NewLocationSummary(insn, codegen.CallOnSlowPath)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetInAtDiesAtEntry(1, codegen.RequiresRegister())
		ls.SetOut(codegen.SameAsFirstInput())
		return ls, nil

	case hir.KindArrayLength:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetOut(codegen.SameAsFirstInput())
		return ls, nil

	case hir.KindArrayGet:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetInAtDiesAtEntry(1, codegen.RequiresRegister())
		ls.SetOut(codegen.SameAsFirstInput())
		return ls, nil

	case hir.KindArraySet:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetInAtDiesAtEntry(1, codegen.RequiresRegister())
		ls.SetInAtDiesAtEntry(2, codegen.RequiresRegister())
		if insn.InputAt(2).Type == hir.Reference {
			ls.AddTemp(codegen.RequiresRegister())
		}
		return ls, nil

	case hir.KindFieldGet:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetOut(codegen.SameAsFirstInput())
		return ls, nil

	case hir.KindFieldSet:
		ls := codegen.NewLocationSummary(insn, codegen.CallNone)
		ls.SetInAtDiesAtEntry(0, codegen.RequiresRegister())
		ls.SetInAtDiesAtEntry(1, codegen.RequiresRegister())
		if insn.InputAt(1).Type == hir.Reference {
			ls.AddTemp(codegen.RequiresRegister())
		}
		return ls, nil

	case hir.KindInvoke:
		if insn.InputCount() > len(argRegisters) {
			return nil, fmt.Errorf("%w: %d call arguments exceed the register convention",
				codegen.ErrUnsupportedInstruction, insn.InputCount())
		}
		ls := codegen.NewLocationSummary(insn, codegen.Call)
		for i := range insn.Inputs {
			ls.SetInAtDiesAtEntry(i, codegen.RegisterLocation(int(argRegisters[i])))
		}
		if insn.Type != hir.Void {
			ls.SetOut(codegen.RegisterLocation(int(asm.RAX)))
		}
		return ls, nil

	case hir.KindSuspendCheck:
		ls := codegen.NewLocationSummary(insn, codegen.CallOnSlowPath)
		ls.AddTemp(codegen.RequiresRegister())
		return ls, nil

	default:
		return nil, fmt.Errorf("%w: %s", codegen.ErrUnsupportedInstruction, insn.Kind)
	}
}
