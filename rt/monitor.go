package rt

import (
	"github.com/chazu/jvmcore/vm"
)

// monitor is a re-entrant lock owned by one guest thread.
type monitor struct {
	owner *vm.Thread
	count int
}

// MonitorEnter implements vm.ExecutionContext. A monitor held by another
// thread pauses the caller, which retries when resumed.
func (r *Runtime) MonitorEnter(t *vm.Thread, obj any) vm.Suspension {
	if r.IsShutdown() {
		return vm.Stopping
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mon, ok := r.monitors[obj]
	switch {
	case !ok:
		r.monitors[obj] = &monitor{owner: t, count: 1}
	case mon.owner == t:
		mon.count++
	default:
		r.log.Debugf("thread %d waits for a monitor held by thread %d", t.ID(), mon.owner.ID())
		return vm.Pausing
	}
	return vm.Running
}

// MonitorExit implements vm.ExecutionContext.
func (r *Runtime) MonitorExit(t *vm.Thread, obj any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mon, ok := r.monitors[obj]
	if !ok || mon.owner != t {
		return vm.NewGuestError(vm.IllegalMonitorStateException, "thread %d does not own the monitor", t.ID())
	}
	mon.count--
	if mon.count == 0 {
		delete(r.monitors, obj)
	}
	return nil
}

// MonitorOwner returns the thread holding obj's monitor and its entry
// count.
func (r *Runtime) MonitorOwner(obj any) (*vm.Thread, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mon, ok := r.monitors[obj]; ok {
		return mon.owner, mon.count
	}
	return nil, 0
}

// ReleaseAll drops every monitor t still holds. The scheduler calls it for
// threads that end with frames still on the stack.
func (r *Runtime) ReleaseAll(t *vm.Thread) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for obj, mon := range r.monitors {
		if mon.owner == t {
			delete(r.monitors, obj)
			n++
		}
	}
	return n
}
