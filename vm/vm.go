package vm

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: one arena and the threads carved out of it
// ---------------------------------------------------------------------------

// DefaultStackSlots is the per-thread stack region used when none is
// configured.
const DefaultStackSlots = 1 << 16

// VM owns an arena and the threads whose stacks live in it.
type VM struct {
	arena    *Arena
	Profiler *Profiler

	stackSlots  int
	trace       TraceWriter
	traceFrames bool
	log         commonlog.Logger

	aborted  atomic.Bool
	nextID   atomic.Int32
	threadMu sync.Mutex
	threads  []*Thread
}

// Option configures a VM.
type Option func(*VM)

// WithArenaSlots sets the arena size in slots.
func WithArenaSlots(n int) Option {
	return func(vm *VM) { vm.arena = NewArena(n) }
}

// WithStackSlots sets the size of each thread's stack region.
func WithStackSlots(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.stackSlots = n
		}
	}
}

// WithTrace enables instruction tracing to w.
func WithTrace(w TraceWriter) Option {
	return func(vm *VM) { vm.trace = w }
}

// WithFrameTrace additionally dumps the current frame after every
// instruction. It has no effect without WithTrace.
func WithFrameTrace(on bool) Option {
	return func(vm *VM) { vm.traceFrames = on }
}

// WithHotThreshold sets the profiler's hot method threshold.
func WithHotThreshold(n uint64) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.Profiler.MethodHotThreshold = n
		}
	}
}

// WithLogger replaces the default logger.
func WithLogger(log commonlog.Logger) Option {
	return func(vm *VM) { vm.log = log }
}

// New creates a VM.
func New(opts ...Option) *VM {
	vm := &VM{
		stackSlots: DefaultStackSlots,
		Profiler:   NewProfiler(),
		log:        commonlog.GetLogger("jvmcore.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.arena == nil {
		vm.arena = NewArena(DefaultArenaSlots)
	}
	return vm
}

// Arena returns the VM's slot memory.
func (vm *VM) Arena() *Arena {
	return vm.arena
}

// Trace returns the configured trace writer, or nil.
func (vm *VM) Trace() TraceWriter {
	return vm.trace
}

// Aborted reports whether an internal error has stopped the VM.
func (vm *VM) Aborted() bool {
	return vm.aborted.Load()
}

// NewThread carves a stack region out of the arena for a new thread bound
// to ctx.
func (vm *VM) NewThread(ctx ExecutionContext) (*Thread, error) {
	base, err := vm.arena.Allocate(vm.stackSlots)
	if err != nil {
		return nil, errors.Wrap(err, "cannot allocate thread stack")
	}
	t := newThread(vm, ctx, int(vm.nextID.Add(1)), base, base+vm.stackSlots)

	vm.threadMu.Lock()
	vm.threads = append(vm.threads, t)
	vm.threadMu.Unlock()

	vm.log.Debugf("thread %d: stack [%d, %d)", t.id, t.bp, t.limit)
	return t, nil
}

// Threads returns the threads created so far.
func (vm *VM) Threads() []*Thread {
	vm.threadMu.Lock()
	defer vm.threadMu.Unlock()
	return append([]*Thread(nil), vm.threads...)
}

func (vm *VM) abort(err *InternalError) {
	if vm.aborted.CompareAndSwap(false, true) {
		vm.log.Critical("interpreter aborted", "error", err.Error())
		vm.log.Criticalf("%+v", err.Cause())
	}
}
