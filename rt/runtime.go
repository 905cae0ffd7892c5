// Package rt is the execution context guest threads run in: monitors,
// native methods, safepoint scheduling and the exception log.
package rt

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/jvmcore/classes"
	"github.com/chazu/jvmcore/vm"
)

// UnsatisfiedLinkError is raised when a native method has no registered
// implementation.
const UnsatisfiedLinkError = "java/lang/UnsatisfiedLinkError"

// NativeFunc implements a native or compiled method. receiver is Null for
// static methods. The returned Suspension is honoured after the call.
type NativeFunc func(t *vm.Thread, receiver vm.Value, args []vm.Value) (vm.Value, vm.Suspension, error)

// Exception is a guest exception recorded by RaiseException.
type Exception struct {
	Thread int
	Err    *vm.GuestError
}

// Runtime implements vm.ExecutionContext for the threads of one VM.
type Runtime struct {
	vm     *vm.VM
	loader *classes.Loader

	quantum int
	out     io.Writer
	log     commonlog.Logger

	mu         sync.Mutex
	natives    map[string]NativeFunc
	monitors   map[any]*monitor
	exceptions []Exception

	shutdown atomic.Bool
}

// threadState is the runtime's per-thread bookkeeping, kept in Thread.Data.
type threadState struct {
	polls    int
	activity uint64 // safepoint polls plus native calls
}

func stateOf(t *vm.Thread) *threadState {
	st, _ := t.Data.(*threadState)
	return st
}

// Activity counts the safepoint polls and native calls t has made. A
// thread whose registers and activity are unchanged across a resume did no
// work.
func (r *Runtime) Activity(t *vm.Thread) uint64 {
	if st := stateOf(t); st != nil {
		return st.activity
	}
	return 0
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithQuantum makes a thread yield after n safepoint polls. Zero never
// yields.
func WithQuantum(n int) Option {
	return func(r *Runtime) { r.quantum = n }
}

// WithOutput redirects what guest code prints.
func WithOutput(w io.Writer) Option {
	return func(r *Runtime) { r.out = w }
}

// New creates a runtime for v whose classes come from l. The Sys class is
// defined in l unless it already is, and its natives are registered.
func New(v *vm.VM, l *classes.Loader, opts ...Option) *Runtime {
	r := &Runtime{
		vm:       v,
		loader:   l,
		out:      os.Stdout,
		log:      commonlog.GetLogger("jvmcore.rt"),
		natives:  make(map[string]NativeFunc),
		monitors: make(map[any]*monitor),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.watchHotMethods()
	r.registerSys()
	if _, err := l.Lookup(SysClass); err != nil {
		if _, err := l.Define(SysClassDef()); err != nil {
			r.log.Errorf("defining %s: %v", SysClass, err)
		}
	}
	return r
}

// watchHotMethods logs each method as the profiler marks it hot. A hook
// already installed on the profiler still runs.
func (r *Runtime) watchHotMethods() {
	prev := r.vm.Profiler.OnHot
	r.vm.Profiler.OnHot = func(m vm.MethodInfo, p *vm.MethodProfile) {
		r.log.Infof("%s is hot after %d invocations", methodKey(m), p.InvocationCount.Load())
		if prev != nil {
			prev(m, p)
		}
	}
}

// VM returns the VM the runtime serves.
func (r *Runtime) VM() *vm.VM { return r.vm }

// Loader returns the class loader.
func (r *Runtime) Loader() *classes.Loader { return r.loader }

// Heap implements vm.ExecutionContext.
func (r *Runtime) Heap() vm.Heap { return r.loader.Heap() }

// NewThread creates a thread bound to the runtime.
func (r *Runtime) NewThread() (*vm.Thread, error) {
	t, err := r.vm.NewThread(r)
	if err != nil {
		return nil, err
	}
	t.Data = &threadState{}
	return t, nil
}

// Shutdown makes every later suspension point answer Stopping.
func (r *Runtime) Shutdown() {
	if r.shutdown.CompareAndSwap(false, true) {
		r.log.Info("runtime shutting down")
	}
}

// IsShutdown reports whether Shutdown was called.
func (r *Runtime) IsShutdown() bool { return r.shutdown.Load() }

// ---------------------------------------------------------------------------
// Natives
// ---------------------------------------------------------------------------

// Register installs fn as the implementation of the method with the given
// key, "Class.name(desc)".
func (r *Runtime) Register(key string, fn NativeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.natives[key] = fn
}

// Compile replaces the bytecode of m with fn. Later calls to m go through
// CallNative; frames already running m are unaffected.
func (r *Runtime) Compile(m *classes.Method, fn NativeFunc) {
	r.Register(m.Key(), fn)
	m.SetCompiled(true)
	r.log.Debugf("compiled %s", m.Key())
}

// CallNative implements vm.ExecutionContext.
func (r *Runtime) CallNative(t *vm.Thread, m vm.MethodInfo, receiver vm.Value, args []vm.Value) (vm.Value, vm.Suspension, error) {
	key := methodKey(m)
	r.mu.Lock()
	fn, ok := r.natives[key]
	r.mu.Unlock()
	if !ok {
		return vm.Void, vm.Running, vm.NewGuestError(UnsatisfiedLinkError, "%s", key)
	}
	if st := stateOf(t); st != nil {
		st.activity++
	}
	v, s, err := fn(t, receiver, args)
	if s == vm.Running && r.IsShutdown() {
		s = vm.Stopping
	}
	return v, s, err
}

func methodKey(m vm.MethodInfo) string {
	if c := m.Class(); c != nil {
		return c.Name() + "." + m.Name() + m.Descriptor()
	}
	return m.Name() + m.Descriptor()
}

// ---------------------------------------------------------------------------
// Safepoints and exceptions
// ---------------------------------------------------------------------------

// Safepoint implements vm.ExecutionContext. With a quantum configured the
// thread pauses every quantum polls so that others get to run.
func (r *Runtime) Safepoint(t *vm.Thread) vm.Suspension {
	if r.IsShutdown() {
		return vm.Stopping
	}
	st := stateOf(t)
	if st == nil {
		return vm.Running
	}
	st.activity++
	if r.quantum <= 0 {
		return vm.Running
	}
	st.polls++
	if st.polls >= r.quantum {
		st.polls = 0
		return vm.Pausing
	}
	return vm.Running
}

// RaiseException implements vm.ExecutionContext.
func (r *Runtime) RaiseException(t *vm.Thread, err *vm.GuestError) {
	r.mu.Lock()
	r.exceptions = append(r.exceptions, Exception{Thread: t.ID(), Err: err})
	r.mu.Unlock()
	r.log.Infof("thread %d raised %v", t.ID(), err)
}

// Exceptions returns the exceptions raised so far, oldest first.
func (r *Runtime) Exceptions() []Exception {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Exception(nil), r.exceptions...)
}

var _ vm.ExecutionContext = (*Runtime)(nil)
