// jvmcore CLI - runs a static method from a program image
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/jvmcore/classes"
	"github.com/chazu/jvmcore/manifest"
	"github.com/chazu/jvmcore/rt"
	"github.com/chazu/jvmcore/sched"
	"github.com/chazu/jvmcore/tracestore"
	"github.com/chazu/jvmcore/vm"
)

var log = commonlog.GetLogger("jvmcore.cli")

type options struct {
	verbose     int
	config      string
	trace       bool
	traceFrames bool
	traceDB     string
	disasm      bool
	snapshot    string
	timeout     time.Duration
	demo        string
	stats       bool
	dump        bool
}

func main() {
	var o options
	flag.BoolFunc("v", "Increase verbosity (repeatable)", func(string) error { o.verbose++; return nil })
	flag.StringVar(&o.config, "config", "", "Directory containing jvmcore.toml (default: search upwards from .)")
	flag.BoolVar(&o.trace, "trace", false, "Trace every instruction to stderr")
	flag.BoolVar(&o.traceFrames, "trace-frames", false, "Dump the frame after every traced instruction")
	flag.StringVar(&o.traceDB, "trace-db", "", "Record the trace in this SQLite database")
	flag.BoolVar(&o.disasm, "disasm", false, "Disassemble the image instead of running it")
	flag.StringVar(&o.snapshot, "snapshot", "", "Write a CBOR thread snapshot here if the run does not complete")
	flag.DurationVar(&o.timeout, "timeout", 0, "Stop the run after this long")
	flag.StringVar(&o.demo, "demo", "", "Write a demo image to this path and exit")
	flag.BoolVar(&o.stats, "stats", false, "Print profiler, heap and scheduler statistics")
	flag.BoolVar(&o.dump, "dump", false, "Dump the final outcome in detail")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jvmcore [options] [image.cbor] [Class.method(desc)]\n\n")
		fmt.Fprintf(os.Stderr, "Loads a program image and runs a static method through the scheduler.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jvmcore -demo demo.cbor            # Write the demo image\n")
		fmt.Fprintf(os.Stderr, "  jvmcore demo.cbor                  # Run the image's entry point\n")
		fmt.Fprintf(os.Stderr, "  jvmcore demo.cbor 'demo/Main.fib(I)I'  # Run another method\n")
		fmt.Fprintf(os.Stderr, "  jvmcore -disasm demo.cbor          # Show the bytecode\n")
	}
	flag.Parse()

	code, err := run(o, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil || m != nil {
		return m, err
	}
	return manifest.Default(), nil
}

func run(o options, args []string) (int, error) {
	m, err := loadManifest(o.config)
	if err != nil {
		return 0, err
	}
	verbosity := m.Log.Verbosity + o.verbose
	if m.Log.File != "" {
		path := m.Path(m.Log.File)
		commonlog.Configure(verbosity, &path)
	} else {
		commonlog.Configure(verbosity, nil)
	}

	if o.demo != "" {
		if err := demoImage().WriteFile(o.demo); err != nil {
			return 0, err
		}
		log.Infof("wrote demo image to %s", o.demo)
		return 0, nil
	}

	imagePath := m.Path(m.Run.Image)
	if len(args) > 0 {
		imagePath = args[0]
	}
	if imagePath == "" {
		flag.Usage()
		return 2, nil
	}
	img, err := classes.ReadImageFile(imagePath)
	if err != nil {
		return 0, err
	}
	if o.disasm {
		fmt.Print(disassemble(img))
		return 0, nil
	}

	entry, err := chooseEntry(img, m, args)
	if err != nil {
		return 0, err
	}

	// Tracing
	var writers vm.MultiTraceWriter
	if o.trace || m.Trace.Instructions {
		writers = append(writers, vm.NewIndentingWriter(os.Stderr))
	}
	if m.Trace.Log {
		writers = append(writers, vm.NewLogTraceWriter(commonlog.GetLogger("jvmcore.trace")))
	}
	traceDB := o.traceDB
	if traceDB == "" {
		traceDB = m.Path(m.Trace.Database)
	}
	var store *tracestore.Store
	if traceDB != "" {
		store, err = tracestore.Open(traceDB, entry.String())
		if err != nil {
			return 0, err
		}
		defer store.Close()
		writers = append(writers, store)
	}
	opts := m.VMOptions()
	if len(writers) > 0 {
		opts = append(opts, vm.WithTrace(writers), vm.WithFrameTrace(o.traceFrames || m.Trace.Frames))
	}

	machine := vm.New(opts...)
	loader := classes.NewLoader()
	runtime := rt.New(machine, loader, rt.WithQuantum(m.VM.Quantum))
	if _, err := loader.Load(img); err != nil {
		return 0, err
	}
	method, err := loader.ResolveEntry(entry)
	if err != nil {
		return 0, err
	}

	s := sched.New(runtime)
	task, err := s.Spawn(method)
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	timeout := o.timeout
	if timeout == 0 && m.Run.Timeout != "" {
		if timeout, err = time.ParseDuration(m.Run.Timeout); err != nil {
			return 0, fmt.Errorf("invalid run timeout %q: %w", m.Run.Timeout, err)
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log.Infof("running %s", entry)
	runErr := s.Run(ctx)
	if store != nil {
		if err := store.Err(); err != nil {
			log.Errorf("trace database: %v", err)
		}
	}

	out := task.Outcome
	if o.dump {
		spew.Fdump(os.Stderr, out)
	}
	if o.stats {
		printStats(os.Stderr, machine, loader, s)
	}
	if o.snapshot != "" && task.Snapshot != nil {
		if err := writeSnapshot(o.snapshot, task.Snapshot); err != nil {
			return 0, err
		}
		log.Infof("wrote snapshot to %s", o.snapshot)
	}
	if runErr != nil {
		return 0, runErr
	}

	switch out.Status {
	case vm.Completed:
		if out.Value.Kind != vm.KindVoid {
			fmt.Println(out.Value)
		}
		return 0, nil
	case vm.Threw:
		fmt.Fprintf(os.Stderr, "Exception in %s: %v\n", entry, out.Err)
		return 1, nil
	case vm.Stopped:
		fmt.Fprintf(os.Stderr, "Stopped\n")
		return 3, nil
	default:
		return 0, out.Err
	}
}

// chooseEntry picks the method to run: the command line, then the
// manifest, then the image's own entry point.
func chooseEntry(img *classes.Image, m *manifest.Manifest, args []string) (classes.EntryPoint, error) {
	switch {
	case len(args) > 1:
		return parseEntry(args[1])
	case m.Run.Entry != "":
		return parseEntry(m.Run.Entry)
	case img.Entry != nil:
		return *img.Entry, nil
	}
	return classes.EntryPoint{}, fmt.Errorf("no entry point given and the image has none")
}

// parseEntry splits "pkg/Class.name(desc)".
func parseEntry(s string) (classes.EntryPoint, error) {
	paren := strings.IndexByte(s, '(')
	if paren < 0 {
		return classes.EntryPoint{}, fmt.Errorf("entry point %q has no descriptor", s)
	}
	dot := strings.LastIndexByte(s[:paren], '.')
	if dot <= 0 || dot == paren-1 {
		return classes.EntryPoint{}, fmt.Errorf("entry point %q must be Class.method(desc)", s)
	}
	return classes.EntryPoint{Class: s[:dot], Name: s[dot+1 : paren], Descriptor: s[paren:]}, nil
}

func disassemble(img *classes.Image) string {
	var b strings.Builder
	for _, c := range img.Classes {
		fmt.Fprintf(&b, "class %s", c.Name)
		if c.Super != "" {
			fmt.Fprintf(&b, " extends %s", c.Super)
		}
		b.WriteString("\n")
		for _, md := range c.Methods {
			fmt.Fprintf(&b, "\n  %s%s  [%s] locals=%d stack=%d\n", md.Name, md.Descriptor, md.Flags, md.MaxLocals, md.MaxStack)
			for _, line := range strings.Split(strings.TrimRight(vm.Disassemble(md.Code), "\n"), "\n") {
				if line != "" {
					fmt.Fprintf(&b, "    %s\n", line)
				}
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeSnapshot(path string, s *vm.Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write snapshot %s: %w", path, err)
	}
	return nil
}

func printStats(w io.Writer, machine *vm.VM, loader *classes.Loader, s *sched.Scheduler) {
	ps := machine.Profiler.Stats()
	fmt.Fprintf(w, "methods: %d profiled, %d hot, %d invocations\n", ps.TotalMethods, ps.HotMethods, ps.TotalInvocations)
	for _, mc := range machine.Profiler.TopMethods(5) {
		fmt.Fprintf(w, "  %8d  %s\n", mc.Count, methodName(mc.Method))
	}
	var hot []string
	for _, m := range machine.Profiler.HotMethods() {
		hot = append(hot, methodName(m))
	}
	sort.Strings(hot)
	for _, name := range hot {
		fmt.Fprintf(w, "  hot       %s\n", name)
	}
	hs := loader.Heap().Stats()
	fmt.Fprintf(w, "heap: %d objects, %d arrays, %d strings\n", hs.Objects, hs.Arrays, hs.Strings)
	ss := s.Stats()
	fmt.Fprintf(w, "scheduler: %d rounds, %d resumes, %d initializers\n", ss.Rounds, ss.Resumes, ss.Initializers)
}

func methodName(m vm.MethodInfo) string {
	return m.Class().Name() + "." + m.Name() + m.Descriptor()
}
