package codegen

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/hir"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/memregion"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/stackmap"
)

// Fatal compilation errors. Both abort the whole unit: there is no partial
// fallback once location building or allocation cannot make progress.
var (
	ErrUnsupportedInstruction = errors.New("codegen: unsupported instruction")
	ErrNoFreeRegister         = errors.New("codegen: no free register satisfies the constraint")
)

// Entrypoint indexes the per-thread runtime entrypoint table that compiled
// code calls through the thread register.
type Entrypoint int

const (
	EntryThrowNullPointer Entrypoint = iota
	EntryThrowArrayBounds
	EntryThrowDivZero
	EntryThrowStackOverflow
	EntryTestSuspend
	EntryAllocObject
	EntryResolveInterfaceCall
	NumEntrypoints
)

func (e Entrypoint) String() string {
	switch e {
	case EntryThrowNullPointer:
		return "throw-null-pointer"
	case EntryThrowArrayBounds:
		return "throw-array-bounds"
	case EntryThrowDivZero:
		return "throw-div-zero"
	case EntryThrowStackOverflow:
		return "throw-stack-overflow"
	case EntryTestSuspend:
		return "test-suspend"
	case EntryAllocObject:
		return "alloc-object"
	case EntryResolveInterfaceCall:
		return "resolve-interface-call"
	default:
		return fmt.Sprintf("entrypoint(%d)", int(e))
	}
}

// Thread-local storage layout, addressed off the dedicated thread register.
// Compiled code reads the suspend flag, the card-table base and the stack
// limit from here and calls the runtime through the entrypoint table.
const (
	ThreadSuspendFlagOffset = 0  // u32, non-zero requests a suspend
	ThreadCardTableOffset   = 8  // u64 card table base address
	ThreadStackEndOffset    = 16 // u64 lowest usable stack address
	ThreadEntrypointsOffset = 24 // NumEntrypoints u64 code pointers
)

// EntrypointOffset returns the thread-register-relative offset of one
// entrypoint slot.
func EntrypointOffset(e Entrypoint) int32 {
	if e < 0 || e >= NumEntrypoints {
		panic(fmt.Sprintf("codegen: invalid entrypoint %d", int(e)))
	}
	return ThreadEntrypointsOffset + int32(e)*8
}

// Runtime supplies the compile-time constants that tie generated code to
// the executing runtime: direct-call targets and heap layout shifts.
type Runtime interface {
	// MethodCodeAddress returns the native entry of a statically bound
	// method, or 0 when unknown (the backend then fails the invoke).
	MethodCodeAddress(methodIndex uint32) uint64
}

// Options configures one compilation.
type Options struct {
	Runtime Runtime
	Logger  *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// SlowPathInfo describes one out-of-line path appended after the method
// body, for diagnostics and tests.
type SlowPathInfo struct {
	// Reason names the guard that branches here ("suspend-check",
	// "null-check", "bounds-check", "div-zero-check", "stack-overflow").
	Reason string
	// DexPC is the source pc of the guarded instruction.
	DexPC uint32
	// NativePC is the offset of the slow path's first byte.
	NativePC uint32
	// AtBackEdge reports whether the guard sits on a loop back-edge.
	AtBackEdge bool
}

// CompiledMethod is the result of one compilation: position-independent
// machine code plus the serialized safepoint table describing it.
type CompiledMethod struct {
	Code      []byte
	StackMaps []byte
	// FrameSize is the full frame in bytes, a multiple of 16.
	FrameSize int
	SlowPaths []SlowPathInfo
}

// StackMapReader decodes the method's safepoint table.
func (m *CompiledMethod) StackMapReader() (*stackmap.Reader, error) {
	return stackmap.NewReader(memregion.New(m.StackMaps))
}

// Backend is one architecture's lowering strategy. The driver owns the
// block walk and the pass ordering; the backend owns constraint building
// and emission.
type Backend interface {
	// BuildLocations returns the location constraints for one instruction.
	// Called for every instruction, in emission order, before any code is
	// emitted.
	BuildLocations(insn *hir.Instruction) (*LocationSummary, error)

	// EmitPrologue lays out the frame and spills incoming arguments.
	EmitPrologue() error

	// BindBlock marks the start of a basic block in the text.
	BindBlock(b *hir.BasicBlock) error

	// Emit lowers one instruction using its previously built summary.
	Emit(insn *hir.Instruction, ls *LocationSummary) error

	// EmitSlowPaths appends the out-of-line paths after the method body.
	EmitSlowPaths() error

	// Finalize serializes the text and the safepoint table.
	Finalize() (*CompiledMethod, error)
}

// BackendFactory builds a backend bound to one graph and one option set.
type BackendFactory func(g *hir.Graph, opts *Options) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
)

// RegisterBackend wires an architecture into Compile. It panics on
// duplicate registration so mistakes surface during init.
func RegisterBackend(arch string, factory BackendFactory) {
	if arch == "" {
		panic("codegen: cannot register backend for empty architecture")
	}
	if factory == nil {
		panic("codegen: backend factory must be non-nil")
	}

	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, exists := backends[arch]; exists {
		panic(fmt.Sprintf("codegen: backend for %s already registered", arch))
	}
	backends[arch] = factory
}

func lookupBackend(arch string) (BackendFactory, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	if factory, ok := backends[arch]; ok {
		return factory, nil
	}
	if arch == "" {
		return nil, fmt.Errorf("codegen: architecture must be specified")
	}
	return nil, fmt.Errorf("codegen: no backend registered for %q", arch)
}

// Compile lowers the graph for the named architecture. The graph is
// validated first; a malformed graph is a caller bug and fails the unit.
//
// Pass ordering: locations for every instruction are built before any
// emission, then the prologue, then the blocks in their reverse-postorder
// layout, then the slow paths.
func Compile(g *hir.Graph, arch string, opts *Options) (*CompiledMethod, error) {
	if g == nil {
		return nil, fmt.Errorf("codegen: graph must be non-nil")
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("codegen: invalid graph for %s: %w", g.MethodName, err)
	}

	factory, err := lookupBackend(arch)
	if err != nil {
		return nil, err
	}
	be, err := factory(g, opts)
	if err != nil {
		return nil, err
	}

	summaries := make(map[*hir.Instruction]*LocationSummary)
	for _, b := range g.Blocks() {
		for _, insn := range b.Instructions {
			ls, err := be.BuildLocations(insn)
			if err != nil {
				return nil, fmt.Errorf("codegen: %s at dex pc %d: %w", g.MethodName, insn.DexPC, err)
			}
			summaries[insn] = ls
		}
	}

	if err := be.EmitPrologue(); err != nil {
		return nil, err
	}
	for _, b := range g.Blocks() {
		if err := be.BindBlock(b); err != nil {
			return nil, err
		}
		for _, insn := range b.Instructions {
			if err := be.Emit(insn, summaries[insn]); err != nil {
				return nil, fmt.Errorf("codegen: %s at dex pc %d: %w", g.MethodName, insn.DexPC, err)
			}
		}
	}
	if err := be.EmitSlowPaths(); err != nil {
		return nil, err
	}

	m, err := be.Finalize()
	if err != nil {
		return nil, err
	}
	opts.logger().Debug("compiled method",
		"method", g.MethodName,
		"arch", arch,
		"code_bytes", len(m.Code),
		"frame_size", m.FrameSize,
		"slow_paths", len(m.SlowPaths))
	return m, nil
}
