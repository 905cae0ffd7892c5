package vm

// ---------------------------------------------------------------------------
// Call linking
// ---------------------------------------------------------------------------

// invoke executes one of the four invoke opcodes. Interpreted callees are
// entered by rebinding the loop to a new frame; native and compiled callees
// are called through the execution context.
func (m *machine) invoke() (Outcome, bool) {
	index := m.readU2()
	if m.op == OpInvokeInterface {
		m.pc += 2 // count and zero byte
	}
	isStatic := m.op == OpInvokeStatic

	callee, err := m.cp.ResolveMethod(index, isStatic)
	if err != nil {
		return m.throw(linkageError(err, NoSuchMethodError)), true
	}
	if isStatic {
		if out, stop := m.initCheck(callee.Class()); stop {
			return out, true
		}
	}

	target := callee
	var receiver any
	if !isStatic {
		receiver = m.o4[m.sp-callee.ArgumentSlots()]
		if receiver == nil {
			return m.throw(nullPointer("invoking " + qualifiedName(callee) + " on null")), true
		}
		switch m.op {
		case OpInvokeVirtual:
			if slot := callee.VTableIndex(); slot >= 0 {
				target = m.heap.ClassOf(receiver).VirtualMethod(slot)
			}
		case OpInvokeInterface:
			target = m.heap.ClassOf(receiver).InterfaceMethod(callee)
		}
	}
	if target == nil || target.IsAbstract() {
		return m.throw(NewGuestError(AbstractMethodError, "%s", qualifiedName(callee))), true
	}
	return m.call(callee, target, receiver)
}

func (m *machine) call(callee, target MethodInfo, receiver any) (Outcome, bool) {
	var lock any
	if target.IsSynchronized() {
		lock = receiver
		if target.IsStatic() {
			lock = target.Class()
		}
		if s := m.ctx.MonitorEnter(m.t, lock); s != Running {
			return m.suspendAt(s), true
		}
	}

	if target.IsNative() || target.IsCompiled() {
		return m.callNative(callee, target, lock)
	}

	locals := target.MaxLocals() - target.ArgumentSlots()
	if m.sp+CallerSaveSize+locals+target.MaxStack() > m.t.limit {
		if lock != nil {
			m.exitMonitor(lock)
		}
		return m.throw(NewGuestError(StackOverflowError, "%s", qualifiedName(target))), true
	}

	m.pushI4(int32(m.pc)) // return address
	m.pushI4(int32(m.fp)) // caller frame pointer
	m.pushO4(target)      // callee method info

	m.fp = m.sp
	m.sp = m.fp + locals
	m.pc = 0
	m.bind(target)
	if lock != nil {
		m.t.pushMonitor(m.fp, lock)
	}

	m.vm.Profiler.RecordMethodInvocation(target)
	if m.trace != nil {
		m.trace.WriteLn(">> " + qualifiedName(target))
		m.trace.Indent()
	}
	return Outcome{}, false
}

// callNative pops the arguments by their declared kinds, hands them to the
// execution context and pushes the result. The scratch argument slice is
// only valid for the duration of the call.
func (m *machine) callNative(callee, target MethodInfo, lock any) (Outcome, bool) {
	kinds := target.ParameterKinds()
	if cap(m.args) < len(kinds) {
		m.args = make([]Value, len(kinds))
	}
	args := m.args[:len(kinds)]
	for i := len(kinds) - 1; i >= 0; i-- {
		args[i] = m.popKind(kinds[i])
	}
	receiver := Null
	if !target.IsStatic() {
		receiver = RefValue(m.popO4())
	}

	m.save()
	fp, sp := m.fp, m.sp
	result, s, err := m.ctx.CallNative(m.t, target, receiver, args)
	if m.t.fp != fp || m.t.sp != sp {
		fatalf("native %s left the frame state unbalanced: fp %d -> %d, sp %d -> %d",
			qualifiedName(target), fp, m.t.fp, sp, m.t.sp)
	}
	m.load()
	for i := range args {
		args[i] = Void
	}

	if lock != nil {
		if g := m.exitMonitor(lock); g != nil {
			return m.throw(g), true
		}
	}
	if err != nil {
		if g, ok := AsGuestError(err); ok {
			return m.throw(g), true
		}
		fatalf("native %s failed: %v", qualifiedName(target), err)
	}
	if rk := callee.ReturnKind(); rk != KindVoid {
		m.pushKind(rk, result)
	}
	if s != Running {
		return m.yield(s), true
	}
	return Outcome{}, false
}

func (m *machine) exitMonitor(obj any) *GuestError {
	if err := m.ctx.MonitorExit(m.t, obj); err != nil {
		return linkageError(err, IllegalMonitorStateException)
	}
	return nil
}

// doReturn pops the current frame. Returning into a marker frame ends the
// Interpret call with the return value.
func (m *machine) doReturn() (Outcome, bool) {
	k := returnOpKind(m.op)
	rv := Void
	if k != KindVoid {
		rv = m.popKind(k)
		if rk := m.mi.ReturnKind(); k == KindInt && rk.IsIntLike() {
			rv = KindedInt(rk, rv.Int())
		}
	}

	if m.mi.IsSynchronized() {
		if obj, ok := m.t.popMonitor(m.fp); ok {
			if g := m.exitMonitor(obj); g != nil {
				return m.throw(g), true
			}
		}
	}

	fp := m.fp
	m.pc = int(m.i4[fp+CallerRAOffset])
	m.sp = fp + ArgumentFramePointerOffset(m.argSlots)
	m.fp = int(m.i4[fp+CallerFPOffset])
	if m.trace != nil {
		m.trace.Outdent()
	}

	caller, _ := m.o4[m.fp+CalleeMethodInfoOffset].(MethodInfo)
	if caller == nil {
		m.save()
		m.t.PopMarkerFrame()
		if m.trace != nil {
			m.trace.WriteLn("<< " + rv.String())
		}
		return Outcome{Status: Completed, Value: rv}, true
	}
	m.bind(caller)
	if k != KindVoid {
		m.pushKind(k, rv)
	}
	return Outcome{}, false
}

func returnOpKind(op Opcode) Kind {
	switch op {
	case OpIReturn:
		return KindInt
	case OpLReturn:
		return KindLong
	case OpFReturn:
		return KindFloat
	case OpDReturn:
		return KindDouble
	case OpAReturn:
		return KindReference
	}
	return KindVoid
}
