// Command artc compiles a built-in suite of methods with the baseline
// compiler and exercises the collector over a heap sized by the option
// file, then writes a machine-readable report. It is the smoke driver for
// the compiler and runtime packages, not a user-facing tool.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/segmentio/encoding/json"
	"go.uber.org/multierr"
	"golang.org/x/term"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/codegen"
	_ "github.com/MotorolaMobilityLLC/art-sub007/internal/codegen/amd64"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/config"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/gc"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/heap"
	"github.com/MotorolaMobilityLLC/art-sub007/internal/hir"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "artc: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Option file (default: built-in configuration)")
	output := flag.String("output", "artc-report.json", "Report output path, - for stdout")
	archFlag := flag.String("arch", "", "Target architecture (overrides the option file)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	writeConfig := flag.Bool("write-default-config", false, "Write the default option file and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compile the built-in method suite and report code and heap statistics.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *writeConfig {
		path := *configPath
		if path == "" {
			path = config.DefaultFilename
		}
		if err := config.Write(path, config.Default()); err != nil {
			return err
		}
		logger.Info("wrote default configuration", "path", path)
		return nil
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	if *archFlag != "" {
		cfg.Arch = *archFlag
	}

	rep := report{Arch: cfg.Arch}
	compileErr := compileSuite(&rep, cfg, logger)

	heapErr := exerciseHeap(&rep, cfg, logger)
	if err := multierr.Combine(compileErr, heapErr); err != nil {
		return err
	}

	return writeReport(*output, &rep, logger)
}

type report struct {
	Arch    string         `json:"arch"`
	Methods []methodReport `json:"methods"`
	Heap    *heapReport    `json:"heap,omitempty"`
}

type methodReport struct {
	Name       string           `json:"name"`
	CodeBytes  int              `json:"codeBytes"`
	FrameSize  int              `json:"frameSize"`
	Safepoints int              `json:"safepoints"`
	SlowPaths  []slowPathReport `json:"slowPaths,omitempty"`
}

type slowPathReport struct {
	Reason     string `json:"reason"`
	DexPC      uint32 `json:"dexPC"`
	NativePC   uint32 `json:"nativePC"`
	AtBackEdge bool   `json:"atBackEdge,omitempty"`
}

type heapReport struct {
	Spaces            []spaceReport `json:"spaces"`
	AllocatedObjects  int           `json:"allocatedObjects"`
	FreedObjects      int           `json:"freedObjects"`
	ClearedReferences int           `json:"clearedReferences"`
}

type spaceReport struct {
	Name      string `json:"name"`
	SizeKB    uint32 `json:"sizeKB"`
	UsedBytes uint32 `json:"usedBytes"`
}

// methodTable is the driver's stand-in for a compiled image: statically
// bound calls resolve to fixed fake code addresses.
type methodTable map[uint32]uint64

func (t methodTable) MethodCodeAddress(methodIndex uint32) uint64 { return t[methodIndex] }

const (
	methodHelper   = 100
	helperCodeAddr = 0x7100_0000_0000
)

func compileSuite(rep *report, cfg config.Config, logger *slog.Logger) error {
	suite := sampleSuite()
	opts := &codegen.Options{
		Runtime: methodTable{methodHelper: helperCodeAddr},
		Logger:  logger,
	}

	var bar *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(len(suite)), "compile")
		defer bar.Close()
	}

	var errs error
	for _, g := range suite {
		m, err := codegen.Compile(g, cfg.Arch, opts)
		if bar != nil {
			bar.Add(1)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("compile %s: %w", g.MethodName, err))
			continue
		}
		reader, err := m.StackMapReader()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("decode stack maps for %s: %w", g.MethodName, err))
			continue
		}

		mr := methodReport{
			Name:       g.MethodName,
			CodeBytes:  len(m.Code),
			FrameSize:  m.FrameSize,
			Safepoints: reader.Count(),
		}
		for _, sp := range m.SlowPaths {
			mr.SlowPaths = append(mr.SlowPaths, slowPathReport{
				Reason:     sp.Reason,
				DexPC:      sp.DexPC,
				NativePC:   sp.NativePC,
				AtBackEdge: sp.AtBackEdge,
			})
		}
		rep.Methods = append(rep.Methods, mr)
		logger.Info("compiled", "method", g.MethodName, "code_bytes", len(m.Code), "safepoints", mr.Safepoints)
	}
	return errs
}

// sampleSuite builds the driver's fixed method suite, covering straight-line
// arithmetic, branches, loops and every invoke shape.
func sampleSuite() []*hir.Graph {
	var suite []*hir.Graph

	{
		g := hir.NewGraph("intAdd", hir.Int, hir.Int)
		b := g.Entry()
		a := g.AddParameter(b, 0, hir.Int)
		c := g.AddParameter(b, 1, hir.Int)
		g.AddReturn(b, g.AddBinary(b, hir.KindAdd, hir.Int, a, c))
		suite = append(suite, g)
	}

	{
		// max(a, b) via a compare and two return blocks.
		g := hir.NewGraph("intMax", hir.Int, hir.Int)
		b0 := g.Entry()
		a := g.AddParameter(b0, 0, hir.Int)
		c := g.AddParameter(b0, 1, hir.Int)
		cond := g.AddCondition(b0, hir.CompareGreaterThan, a, c)
		g.AddIf(b0, cond)
		bThen := g.NewBlock()
		g.AddReturn(bThen, a)
		bElse := g.NewBlock()
		g.AddReturn(bElse, c)
		b0.AddSuccessor(bThen)
		b0.AddSuccessor(bElse)
		suite = append(suite, g)
	}

	{
		// Counted loop with a back edge, so the suspend machinery shows up.
		g := hir.NewGraph("spinUntilZero", hir.Int)
		b0 := g.Entry()
		n := g.AddParameter(b0, 0, hir.Int)
		g.AddGoto(b0)

		b1 := g.NewBlock()
		zero := g.AddIntConstant(b1, 0)
		cond := g.AddCondition(b1, hir.CompareGreaterThan, n, zero)
		g.AddIf(b1, cond)

		b2 := g.NewBlock()
		g.AddReturnVoid(b2)

		b0.AddSuccessor(b1)
		b1.AddSuccessor(b1)
		b1.AddSuccessor(b2)
		suite = append(suite, g)
	}

	{
		g := hir.NewGraph("checkedDiv", hir.Int, hir.Int)
		b := g.Entry()
		num := g.AddParameter(b, 0, hir.Int)
		den := g.AddParameter(b, 1, hir.Int)
		checked := g.AddDivZeroCheck(b, den, 5)
		g.AddReturn(b, g.AddBinary(b, hir.KindDiv, hir.Int, num, checked))
		suite = append(suite, g)
	}

	{
		// arr[i] with the null and bounds guards the verifier could not drop.
		g := hir.NewGraph("arrayLoad", hir.Reference, hir.Int)
		b := g.Entry()
		arr := g.AddParameter(b, 0, hir.Reference)
		idx := g.AddParameter(b, 1, hir.Int)
		checkedArr := g.AddNullCheck(b, arr, 1)
		length := g.AddArrayLength(b, checkedArr)
		checkedIdx := g.AddBoundsCheck(b, idx, length, 2)
		g.AddReturn(b, g.AddArrayGet(b, hir.Int, checkedArr, checkedIdx))
		suite = append(suite, g)
	}

	{
		g := hir.NewGraph("callHelper", hir.Int)
		b := g.Entry()
		x := g.AddParameter(b, 0, hir.Int)
		call := g.AddInvoke(b, hir.InvokeStatic, hir.Int, methodHelper, 3, x)
		g.AddReturn(b, call)
		suite = append(suite, g)
	}

	{
		g := hir.NewGraph("callVirtual", hir.Reference)
		b := g.Entry()
		recv := g.AddParameter(b, 0, hir.Reference)
		call := g.AddInvoke(b, hir.InvokeVirtual, hir.Int, 0, 4, recv)
		call.VTableIndex = 2
		g.AddReturn(b, call)
		suite = append(suite, g)
	}

	return suite
}

// exerciseHeap builds the configured heap, allocates a small object graph
// with one unreachable component and a weak reference, and runs one full
// collection.
func exerciseHeap(rep *report, cfg config.Config, logger *slog.Logger) error {
	h, err := heap.New(heap.Config{
		Capacity: cfg.Heap.CapacityMB * 1024 * 1024,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create heap: %w", err)
	}
	defer h.Close()

	spaces := make([]*heap.Space, 0, len(cfg.Heap.Spaces))
	for _, sc := range cfg.Heap.Spaces {
		sp, err := h.AddSpace(sc.Name, sc.SizeKB*1024)
		if err != nil {
			return fmt.Errorf("add space %s: %w", sc.Name, err)
		}
		spaces = append(spaces, sp)
	}
	main := spaces[len(spaces)-1]

	nodeClass, err := h.NewClass(main, heap.ClassDesc{ObjectSize: 16, RefOffsets: 0b1})
	if err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	weakClass, err := h.NewClass(main, heap.ClassDesc{
		ObjectSize: heap.ReferenceInstanceSize,
		Flags:      heap.ClassFlagReference | heap.ClassFlagWeakReference,
	})
	if err != nil {
		return fmt.Errorf("create class: %w", err)
	}

	// A reachable pair, an unreachable pair and a weak reference to one of
	// the unreachable objects.
	allocated := 0
	alloc := func(class, size uint32) (uint32, error) {
		obj, err := main.AllocObject(class, size)
		if err == nil {
			allocated++
		}
		return obj, err
	}
	root, err := alloc(nodeClass, 16)
	if err != nil {
		return err
	}
	held, _ := alloc(nodeClass, 16)
	h.SetReferenceField(root, heap.ObjectHeaderSize, held)
	garbage, _ := alloc(nodeClass, 16)
	garbage2, _ := alloc(nodeClass, 16)
	h.SetReferenceField(garbage, heap.ObjectHeaderSize, garbage2)
	weak, err := alloc(weakClass, heap.ReferenceInstanceSize)
	if err != nil {
		return err
	}
	h.SetReferenceField(weak, heap.RefReferentOffset, garbage)

	collector := gc.New(h, spaces, gc.Options{
		MarkStackCapacity: cfg.GC.MarkStackCapacity,
		Logger:            logger,
	})
	if err := collector.Init(); err != nil {
		return fmt.Errorf("init collector: %w", err)
	}
	collector.MarkRoots(func(visit func(uint32)) {
		visit(root)
		visit(weak)
	})
	collector.RecursiveMark()
	cleared := collector.ProcessReferences(cfg.GC.ClearSoftReferences)
	collector.Sweep(nil)

	clearedCount := 0
	for r := cleared; r != 0; r = collector.ClearedNext(r) {
		clearedCount++
	}

	hr := &heapReport{
		AllocatedObjects:  allocated,
		FreedObjects:      collector.FreedObjects(),
		ClearedReferences: clearedCount,
	}
	for i, sp := range spaces {
		hr.Spaces = append(hr.Spaces, spaceReport{
			Name:      sp.Name(),
			SizeKB:    cfg.Heap.Spaces[i].SizeKB,
			UsedBytes: sp.Used(),
		})
	}
	rep.Heap = hr
	logger.Info("collection complete", "freed", hr.FreedObjects, "cleared_refs", clearedCount)
	return nil
}

func writeReport(path string, rep *report, logger *slog.Logger) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	logger.Info("report written", "path", path, "methods", len(rep.Methods))
	return nil
}
