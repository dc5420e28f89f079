package codegen

import (
	"fmt"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/hir"
)

// CallKind classifies an instruction's interaction with the runtime.
type CallKind uint8

const (
	// CallNone: the instruction never leaves compiled code.
	CallNone CallKind = iota
	// CallOnSlowPath: the main path stays in compiled code but a guard
	// may branch to a slow path that calls the runtime.
	CallOnSlowPath
	// Call: the main path itself calls out (invokes, allocation).
	Call
)

// LocationSummary is the contract between location building and emission
// for one instruction: where each input must be, which temps the emitter
// needs, and where the output goes. Summaries are produced by the backend's
// location pass before any code is emitted.
type LocationSummary struct {
	inputs      []Location
	diesAtEntry []bool
	temps       []Location
	output      Location
	callKind    CallKind
}

// NewLocationSummary allocates a summary sized for the instruction's
// inputs.
func NewLocationSummary(insn *hir.Instruction, callKind CallKind) *LocationSummary {
	n := len(insn.Inputs)
	return &LocationSummary{
		inputs:      make([]Location, n),
		diesAtEntry: make([]bool, n),
		callKind:    callKind,
	}
}

// CallKind returns the instruction's runtime-call classification.
func (ls *LocationSummary) CallKind() CallKind { return ls.callKind }

// SetInAt constrains input i.
func (ls *LocationSummary) SetInAt(i int, loc Location) { ls.inputs[i] = loc }

// SetInAtDiesAtEntry constrains input i and marks it dead at instruction
// entry, so its register may be reused for the output or a temp.
func (ls *LocationSummary) SetInAtDiesAtEntry(i int, loc Location) {
	ls.inputs[i] = loc
	ls.diesAtEntry[i] = true
}

// InAt returns the location of input i.
func (ls *LocationSummary) InAt(i int) Location { return ls.inputs[i] }

// InputCount returns the number of inputs.
func (ls *LocationSummary) InputCount() int { return len(ls.inputs) }

// DiesAtEntry reports whether input i is dead once the instruction begins.
func (ls *LocationSummary) DiesAtEntry(i int) bool { return ls.diesAtEntry[i] }

// AddTemp requests a scratch location for the emitter.
func (ls *LocationSummary) AddTemp(loc Location) { ls.temps = append(ls.temps, loc) }

// TempAt returns temp i.
func (ls *LocationSummary) TempAt(i int) Location { return ls.temps[i] }

// TempCount returns the number of temps.
func (ls *LocationSummary) TempCount() int { return len(ls.temps) }

// SetOut sets the output location.
func (ls *LocationSummary) SetOut(loc Location) { ls.output = loc }

// Out returns the output location.
func (ls *LocationSummary) Out() Location { return ls.output }

// HasOutput reports whether the instruction produces a value.
func (ls *LocationSummary) HasOutput() bool { return ls.output.IsValid() }

// SetTempAt overwrites temp i with its allocated location.
func (ls *LocationSummary) SetTempAt(i int, loc Location) { ls.temps[i] = loc }

// CheckNoConflicts panics when two allocated register inputs or temps share
// a register. Unallocated and non-register locations are skipped. Called by
// backends after allocation as a cheap internal consistency check.
func (ls *LocationSummary) CheckNoConflicts() {
	var seen []int
	note := func(what string, idx, reg int) {
		for _, s := range seen {
			if s == reg {
				panic(fmt.Sprintf("codegen: %s %d reuses register %d", what, idx, reg))
			}
		}
		seen = append(seen, reg)
	}
	for i, in := range ls.inputs {
		if in.Kind() == LocationRegister && !ls.diesAtEntry[i] {
			note("input", i, in.Register())
		}
	}
	for i, tmp := range ls.temps {
		if tmp.Kind() == LocationRegister {
			note("temp", i, tmp.Register())
		}
	}
}
