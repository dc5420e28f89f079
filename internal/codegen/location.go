// Package codegen lowers an hir.Graph to machine code. The package holds
// the architecture-neutral pieces: the Location model describing where a
// value lives, the per-instruction LocationSummary contract between the
// location builder and the emitter, the backend strategy registry and the
// compilation driver. Architecture backends live in subpackages.
package codegen

import "fmt"

// LocationKind discriminates the Location variant.
type LocationKind uint8

const (
	// LocationInvalid marks the zero value so an unset Location is never
	// mistaken for a real assignment.
	LocationInvalid LocationKind = iota
	LocationUnallocated
	LocationConstant
	LocationRegister
	LocationFpuRegister
	LocationRegisterPair
	LocationStackSlot
	LocationDoubleStackSlot
)

// Policy is the allocation request attached to an unallocated Location.
type Policy uint8

const (
	PolicyAny Policy = iota
	PolicyRequiresRegister
	PolicyRequiresFpuRegister
	PolicyRegisterOrConstant
	PolicySameAsFirstInput
)

// Location describes the storage of one value at one program point.
// Exactly one variant is active, selected by Kind.
type Location struct {
	kind LocationKind

	// reg holds the register number (or the low register of a pair),
	// stack slot byte offset, policy, or constant payload depending on
	// kind.
	reg      int32
	high     int32
	constant int64
}

// Invalid returns the invalid marker location.
func Invalid() Location { return Location{} }

// Unallocated returns a location carrying an allocation policy for the
// register allocator to satisfy.
func Unallocated(policy Policy) Location {
	return Location{kind: LocationUnallocated, reg: int32(policy)}
}

// Any is shorthand for Unallocated(PolicyAny).
func Any() Location { return Unallocated(PolicyAny) }

// RequiresRegister is shorthand for Unallocated(PolicyRequiresRegister).
func RequiresRegister() Location { return Unallocated(PolicyRequiresRegister) }

// RequiresFpuRegister is shorthand for Unallocated(PolicyRequiresFpuRegister).
func RequiresFpuRegister() Location { return Unallocated(PolicyRequiresFpuRegister) }

// RegisterOrConstant is shorthand for Unallocated(PolicyRegisterOrConstant).
func RegisterOrConstant() Location { return Unallocated(PolicyRegisterOrConstant) }

// SameAsFirstInput requests that the output reuse input 0's location
// (destructive two-operand instruction forms).
func SameAsFirstInput() Location { return Unallocated(PolicySameAsFirstInput) }

// RegisterLocation pins a specific general-purpose register.
func RegisterLocation(reg int) Location {
	return Location{kind: LocationRegister, reg: int32(reg)}
}

// FpuRegisterLocation pins a specific FPU/SSE register.
func FpuRegisterLocation(reg int) Location {
	return Location{kind: LocationFpuRegister, reg: int32(reg)}
}

// RegisterPairLocation pins a low/high register pair for a wide value.
func RegisterPairLocation(low, high int) Location {
	return Location{kind: LocationRegisterPair, reg: int32(low), high: int32(high)}
}

// StackSlot places a 32/64-bit value at a frame-pointer-relative offset.
// Offsets are finalized during frame layout and are never negative.
func StackSlot(offset int32) Location {
	if offset < 0 {
		panic(fmt.Sprintf("codegen: negative stack slot offset %d", offset))
	}
	return Location{kind: LocationStackSlot, reg: offset}
}

// DoubleStackSlot places a wide value in two consecutive slots.
func DoubleStackSlot(offset int32) Location {
	if offset < 0 {
		panic(fmt.Sprintf("codegen: negative stack slot offset %d", offset))
	}
	return Location{kind: LocationDoubleStackSlot, reg: offset}
}

// ConstantLocation folds an immediate operand directly into the
// instruction encoding.
func ConstantLocation(value int64) Location {
	return Location{kind: LocationConstant, constant: value}
}

// Kind returns the active variant.
func (l Location) Kind() LocationKind { return l.kind }

// IsValid reports whether the location has been assigned.
func (l Location) IsValid() bool { return l.kind != LocationInvalid }

// IsRegisterKind reports whether the value lives in core or FPU registers.
func (l Location) IsRegisterKind() bool {
	return l.kind == LocationRegister || l.kind == LocationFpuRegister || l.kind == LocationRegisterPair
}

// Policy returns the allocation policy of an unallocated location.
func (l Location) Policy() Policy {
	l.checkKind(LocationUnallocated)
	return Policy(l.reg)
}

// Register returns the register number.
func (l Location) Register() int {
	if l.kind != LocationRegister && l.kind != LocationFpuRegister {
		panic(fmt.Sprintf("codegen: Register() on %v", l.kind))
	}
	return int(l.reg)
}

// RegisterPairLow returns the low half of a register pair.
func (l Location) RegisterPairLow() int {
	l.checkKind(LocationRegisterPair)
	return int(l.reg)
}

// RegisterPairHigh returns the high half of a register pair.
func (l Location) RegisterPairHigh() int {
	l.checkKind(LocationRegisterPair)
	return int(l.high)
}

// StackOffset returns the frame offset of a stack slot.
func (l Location) StackOffset() int32 {
	if l.kind != LocationStackSlot && l.kind != LocationDoubleStackSlot {
		panic(fmt.Sprintf("codegen: StackOffset() on %v", l.kind))
	}
	return l.reg
}

// Constant returns the folded immediate.
func (l Location) Constant() int64 {
	l.checkKind(LocationConstant)
	return l.constant
}

func (l Location) checkKind(want LocationKind) {
	if l.kind != want {
		panic(fmt.Sprintf("codegen: location is %v, want %v", l.kind, want))
	}
}

// Equals reports whether two locations denote the same storage.
func (l Location) Equals(other Location) bool { return l == other }

func (k LocationKind) String() string {
	switch k {
	case LocationInvalid:
		return "invalid"
	case LocationUnallocated:
		return "unallocated"
	case LocationConstant:
		return "constant"
	case LocationRegister:
		return "register"
	case LocationFpuRegister:
		return "fpu-register"
	case LocationRegisterPair:
		return "register-pair"
	case LocationStackSlot:
		return "stack-slot"
	case LocationDoubleStackSlot:
		return "double-stack-slot"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (l Location) String() string {
	switch l.kind {
	case LocationRegister, LocationFpuRegister:
		return fmt.Sprintf("%v(%d)", l.kind, l.reg)
	case LocationRegisterPair:
		return fmt.Sprintf("pair(%d,%d)", l.reg, l.high)
	case LocationStackSlot, LocationDoubleStackSlot:
		return fmt.Sprintf("%v(+%d)", l.kind, l.reg)
	case LocationConstant:
		return fmt.Sprintf("constant(%d)", l.constant)
	default:
		return l.kind.String()
	}
}
