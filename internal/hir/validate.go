package hir

import (
	"fmt"

	"go.uber.org/multierr"
)

var expectedInputs = map[Kind]int{
	KindParameter:    0,
	KindIntConstant:  0,
	KindLongConstant: 0,
	KindNullConstant: 0,
	KindAdd:          2,
	KindSub:          2,
	KindMul:          2,
	KindDiv:          2,
	KindNeg:          1,
	KindCondition:    2,
	KindIf:           1,
	KindGoto:         0,
	KindReturn:       1,
	KindReturnVoid:   0,
	KindNullCheck:    1,
	KindBoundsCheck:  2,
	KindDivZeroCheck: 1,
	KindArrayLength:  1,
	KindArrayGet:     2,
	KindArraySet:     3,
	KindFieldGet:     1,
	KindFieldSet:     2,
	KindSuspendCheck: 0,
}

// Validate checks the structural invariants the code generator relies on:
// declared input counts, terminator placement and successor arity. All
// violations are reported, not just the first.
func (g *Graph) Validate() error {
	var err error
	for _, b := range g.blocks {
		err = multierr.Append(err, validateBlock(b))
	}
	return err
}

func validateBlock(b *BasicBlock) error {
	var err error
	for idx, insn := range b.Instructions {
		if want, ok := expectedInputs[insn.Kind]; ok && insn.Kind != KindInvoke {
			if got := insn.InputCount(); got != want {
				err = multierr.Append(err, fmt.Errorf("hir: block %d: %s has %d inputs, want %d", b.ID, insn, got, want))
			}
		}
		for n, in := range insn.Inputs {
			if in == nil {
				err = multierr.Append(err, fmt.Errorf("hir: block %d: %s input %d is nil", b.ID, insn, n))
			}
		}
		if insn.IsControlFlow() && idx != len(b.Instructions)-1 {
			err = multierr.Append(err, fmt.Errorf("hir: block %d: terminator %s is not last", b.ID, insn))
		}
	}

	last := b.LastInstruction()
	if last == nil {
		return multierr.Append(err, fmt.Errorf("hir: block %d is empty", b.ID))
	}
	switch last.Kind {
	case KindIf:
		if len(b.Successors) != 2 {
			err = multierr.Append(err, fmt.Errorf("hir: block %d: if needs 2 successors, has %d", b.ID, len(b.Successors)))
		}
	case KindGoto:
		if len(b.Successors) != 1 {
			err = multierr.Append(err, fmt.Errorf("hir: block %d: goto needs 1 successor, has %d", b.ID, len(b.Successors)))
		}
	case KindReturn, KindReturnVoid:
		if len(b.Successors) != 0 {
			err = multierr.Append(err, fmt.Errorf("hir: block %d: return must not have successors", b.ID))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("hir: block %d ends in non-terminator %s", b.ID, last))
	}
	return err
}
