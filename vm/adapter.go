package vm

import (
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Entry adapter: calling guest methods from Go
// ---------------------------------------------------------------------------

// Prepare pushes a marker frame and a frame for m, and writes receiver and
// args into the new frame's parameter slots. The thread is then ready for
// Interpret. A synchronized m takes its monitor (the receiver, or the class
// for static methods) first and returns a *BlockedError if it cannot. On
// error the thread is left unchanged.
func (t *Thread) Prepare(m MethodInfo, receiver Value, args ...Value) error {
	kinds := m.ParameterKinds()
	if len(args) != len(kinds) {
		return errors.Errorf("%s takes %d arguments, got %d", qualifiedName(m), len(kinds), len(args))
	}
	if m.IsNative() || m.IsCompiled() {
		return errors.Errorf("%s has no bytecode to interpret", qualifiedName(m))
	}
	if !m.IsStatic() && receiver.IsNull() {
		return NewGuestError(NullPointerException, "invoking %s on null", qualifiedName(m))
	}

	var lock any
	if m.IsSynchronized() {
		lock = receiver.Ref()
		if m.IsStatic() {
			lock = m.Class()
		}
		if s := t.ctx.MonitorEnter(t, lock); s != Running {
			return &BlockedError{Method: qualifiedName(m), Suspension: s}
		}
	}

	fp, sp, pc := t.fp, t.sp, t.pc
	err := t.PushMarkerFrame()
	if err == nil {
		if err = t.PushFrame(m); err != nil {
			t.Set(fp, sp, pc)
		}
	}
	if err != nil {
		if lock != nil {
			if xerr := t.ctx.MonitorExit(t, lock); xerr != nil {
				t.vm.log.Warningf("thread %d: releasing monitor of %s: %v", t.id, qualifiedName(m), xerr)
			}
		}
		return err
	}
	if lock != nil {
		t.pushMonitor(t.fp, lock)
	}

	view := t.CurrentFrameView()
	index := 0
	if !m.IsStatic() {
		view.SetParameter(KindReference, index, receiver)
		index++
	}
	for i, k := range kinds {
		view.SetParameter(k, index, args[i])
		index += k.Slots()
	}

	t.vm.Profiler.RecordMethodInvocation(m)
	if w := t.vm.trace; w != nil {
		w.WriteLn(">> ENTER " + qualifiedName(m))
		w.Indent()
	}
	return nil
}

// Invoke calls m on t and runs it until it returns or yields.
//
// At top level a Suspended outcome leaves the frames in place so that a
// later Interpret resumes them. When Invoke runs inside a native method
// (the thread is already interpreting) frames above the new marker are
// discarded on any outcome but Completed, since the enclosing native call
// cannot be resumed. A synchronized m whose monitor is held elsewhere
// yields Suspended with nothing pushed; call Invoke again to retry.
func (t *Thread) Invoke(m MethodInfo, receiver Value, args ...Value) Outcome {
	if m.IsNative() || m.IsCompiled() {
		v, s, err := t.ctx.CallNative(t, m, receiver, args)
		switch {
		case err != nil:
			if g, ok := AsGuestError(err); ok {
				t.ctx.RaiseException(t, g)
				return Outcome{Status: Threw, Err: g}
			}
			return Outcome{Status: Faulted, Err: err}
		case s == Stopping:
			t.stopped = true
			return Outcome{Status: Stopped, Value: v}
		}
		return Outcome{Status: Completed, Value: v}
	}

	nested := t.depth > 0
	if err := t.Prepare(m, receiver, args...); err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			if blocked.Suspension == Stopping {
				t.stopped = true
				return Outcome{Status: Stopped}
			}
			return Outcome{Status: Suspended}
		}
		if g, ok := AsGuestError(err); ok {
			t.ctx.RaiseException(t, g)
			return Outcome{Status: Threw, Err: g}
		}
		return Outcome{Status: Faulted, Err: err}
	}
	marker := int(t.vm.arena.Int(t.fp + CallerFPOffset))

	out := Interpret(t)
	if nested && out.Status != Completed && out.Status != Faulted {
		t.unwindTo(marker)
	}
	return out
}

// Reset discards every frame on the thread and releases the monitors they
// held.
func (t *Thread) Reset() {
	t.unwindTo(t.bp + CallerSaveSize)
	for len(t.locks) > 0 {
		t.releaseFrameMonitor(t.locks[len(t.locks)-1].fp)
	}
	t.Set(t.bp, t.bp, -1)
}
