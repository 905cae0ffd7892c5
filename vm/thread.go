package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Thread: a private stack region and the live frame registers
// ---------------------------------------------------------------------------

// Thread is one guest thread. Its frames live in the region [bp, limit) of
// the VM's arena. fp, sp and pc are only current while the interpreter is
// not running on the thread; the dispatch loop keeps them in locals and
// writes them back at every exit point.
type Thread struct {
	id  int
	vm  *VM
	ctx ExecutionContext

	bp, limit  int
	fp, sp, pc int

	stopped bool
	depth   int // nested Interpret calls

	locks []heldMonitor

	// Data is free for the execution context's own per-thread state.
	Data any
}

// heldMonitor records a monitor acquired on entry to a synchronized method.
type heldMonitor struct {
	fp  int
	obj any
}

func newThread(vm *VM, ctx ExecutionContext, id, bp, limit int) *Thread {
	return &Thread{
		id:    id,
		vm:    vm,
		ctx:   ctx,
		bp:    bp,
		limit: limit,
		fp:    bp,
		sp:    bp,
		pc:    -1,
	}
}

// ID returns the thread's identifier, unique within its VM.
func (t *Thread) ID() int { return t.id }

// VM returns the owning VM.
func (t *Thread) VM() *VM { return t.vm }

// Context returns the execution context the thread runs in.
func (t *Thread) Context() ExecutionContext { return t.ctx }

// FP returns the saved frame pointer.
func (t *Thread) FP() int { return t.fp }

// SP returns the saved stack pointer.
func (t *Thread) SP() int { return t.sp }

// PC returns the saved program counter.
func (t *Thread) PC() int { return t.pc }

// Base returns the first slot of the thread's region.
func (t *Thread) Base() int { return t.bp }

// Limit returns the slot after the end of the thread's region.
func (t *Thread) Limit() int { return t.limit }

// Stopped reports whether the thread has been stopped for good.
func (t *Thread) Stopped() bool { return t.stopped }

// Stop marks the thread stopped. Further interpretation faults.
func (t *Thread) Stop() { t.stopped = true }

// Set overwrites the live registers.
func (t *Thread) Set(fp, sp, pc int) {
	t.fp, t.sp, t.pc = fp, sp, pc
}

// HasFrames reports whether any frame, marker or not, is on the thread.
func (t *Thread) HasFrames() bool {
	return t.fp >= t.bp+CallerSaveSize
}

// CurrentFrameView returns a view of the innermost frame.
func (t *Thread) CurrentFrameView() FrameView {
	v := FrameView{arena: t.vm.arena, bp: t.bp}
	v.Set(t.fp, t.sp, t.pc)
	return v
}

// PushFrame pushes a frame for m. The m.ArgumentSlots() slots at sp are
// taken as the frame's arguments; they are written afterwards through
// FrameView.SetParameter or were pushed by the caller. A nil m pushes a
// marker frame.
func (t *Thread) PushFrame(m MethodInfo) error {
	argSlots, locals, stack := 0, 0, 0
	if m != nil {
		argSlots = m.ArgumentSlots()
		locals = m.MaxLocals() - argSlots
		stack = m.MaxStack()
	}
	if t.sp+argSlots+CallerSaveSize+locals+stack > t.limit {
		return NewGuestError(StackOverflowError, "thread %d: no room for %s", t.id, frameName(m))
	}

	a := t.vm.arena
	t.sp += argSlots
	a.SetInt(t.sp, int32(t.pc))
	a.SetInt(t.sp+1, int32(t.fp))
	if m == nil {
		a.SetRef(t.sp+2, nil)
	} else {
		a.SetRef(t.sp+2, m)
	}
	t.fp = t.sp + CallerSaveSize
	t.sp = t.fp + locals
	t.pc = 0
	return nil
}

// PushMarkerFrame pushes a frame with no method. Returning into a marker
// frame ends the Interpret call that is running above it.
func (t *Thread) PushMarkerFrame() error {
	return t.PushFrame(nil)
}

// PopMarkerFrame restores the registers saved by the innermost marker
// frame and discards it.
func (t *Thread) PopMarkerFrame() {
	a := t.vm.arena
	if debugAssertions && a.Ref(t.fp+CalleeMethodInfoOffset) != nil {
		fatalf("thread %d: popping a non-marker frame at fp %d", t.id, t.fp)
	}
	fp := t.fp
	t.pc = int(a.Int(fp + CallerRAOffset))
	t.fp = int(a.Int(fp + CallerFPOffset))
	t.sp = fp - CallerSaveSize
}

// unwindTo pops every frame above the marker at markerFP and then the
// marker itself, releasing monitors held by the popped frames.
func (t *Thread) unwindTo(markerFP int) {
	for t.fp > markerFP {
		mi := t.vm.arena.Ref(t.fp + CalleeMethodInfoOffset)
		m, _ := mi.(MethodInfo)
		t.releaseFrameMonitor(t.fp)
		argSlots := 0
		if m != nil {
			argSlots = m.ArgumentSlots()
		}
		if w := t.vm.trace; w != nil {
			w.Outdent()
		}
		fp := t.fp
		t.pc = int(t.vm.arena.Int(fp + CallerRAOffset))
		t.fp = int(t.vm.arena.Int(fp + CallerFPOffset))
		t.sp = fp + ArgumentFramePointerOffset(argSlots)
	}
	if t.fp == markerFP {
		t.PopMarkerFrame()
	}
}

func (t *Thread) pushMonitor(fp int, obj any) {
	t.locks = append(t.locks, heldMonitor{fp: fp, obj: obj})
}

// popMonitor removes the monitor recorded for the frame at fp.
func (t *Thread) popMonitor(fp int) (any, bool) {
	n := len(t.locks)
	if n == 0 || t.locks[n-1].fp != fp {
		return nil, false
	}
	obj := t.locks[n-1].obj
	t.locks = t.locks[:n-1]
	return obj, true
}

func (t *Thread) releaseFrameMonitor(fp int) {
	if obj, ok := t.popMonitor(fp); ok {
		if err := t.ctx.MonitorExit(t, obj); err != nil {
			t.vm.log.Warningf("thread %d: releasing monitor during unwind: %v", t.id, err)
		}
	}
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread %d [fp=%d sp=%d pc=%d]", t.id, t.fp, t.sp, t.pc)
}

func frameName(m MethodInfo) string {
	if m == nil {
		return "marker frame"
	}
	return qualifiedName(m)
}
