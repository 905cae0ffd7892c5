package vm

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// machine: the registers of one Interpret call
// ---------------------------------------------------------------------------

// machine holds the dispatch loop's working copy of the thread registers
// and the cached method context. The thread's own fp, sp and pc are written
// back (save) before every exit and every call out to code that may run
// guest frames, and read again (load) afterwards.
type machine struct {
	t     *Thread
	vm    *VM
	i4    []int32
	o4    []any
	ctx   ExecutionContext
	heap  Heap
	trace TraceWriter
	view  FrameView

	fp, sp, pc int
	opPC       int
	op         Opcode

	mi       MethodInfo
	ci       ClassInfo
	cp       ConstantPool
	code     []byte
	argSlots int

	field FieldInfo // last resolved field, for frame traces
	args  []Value   // scratch for native calls
}

func newMachine(t *Thread) *machine {
	a := t.vm.arena
	return &machine{
		t:     t,
		vm:    t.vm,
		i4:    a.i4,
		o4:    a.o4,
		ctx:   t.ctx,
		heap:  t.ctx.Heap(),
		trace: t.vm.trace,
		view:  FrameView{arena: a, bp: t.bp},
	}
}

func (m *machine) save() {
	m.t.fp, m.t.sp, m.t.pc = m.fp, m.sp, m.pc
}

func (m *machine) load() {
	m.fp, m.sp, m.pc = m.t.fp, m.t.sp, m.t.pc
}

func (m *machine) bind(mi MethodInfo) {
	m.mi = mi
	m.ci = mi.Class()
	m.cp = m.ci.ConstantPool()
	m.code = mi.Code()
	m.argSlots = mi.ArgumentSlots()
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (m *machine) pushI4(v int32) {
	m.i4[m.sp] = v
	m.sp++
}

func (m *machine) popI4() int32 {
	m.sp--
	return m.i4[m.sp]
}

func (m *machine) pushF4(f float32) {
	m.pushI4(int32(math.Float32bits(f)))
}

func (m *machine) popF4() float32 {
	return math.Float32frombits(uint32(m.popI4()))
}

func (m *machine) pushI8(v int64) {
	m.i4[m.sp] = int32(uint32(v))
	m.i4[m.sp+1] = int32(uint32(uint64(v) >> 32))
	m.sp += 2
}

func (m *machine) popI8() int64 {
	m.sp -= 2
	return int64(uint64(uint32(m.i4[m.sp])) | uint64(uint32(m.i4[m.sp+1]))<<32)
}

func (m *machine) pushF8(d float64) {
	m.pushI8(int64(math.Float64bits(d)))
}

func (m *machine) popF8() float64 {
	return math.Float64frombits(uint64(m.popI8()))
}

func (m *machine) pushO4(r any) {
	m.o4[m.sp] = r
	m.sp++
}

func (m *machine) popO4() any {
	m.sp--
	r := m.o4[m.sp]
	m.o4[m.sp] = nil
	return r
}

func (m *machine) pushKind(k Kind, v Value) {
	switch {
	case k == KindReference:
		m.pushO4(v.Ref())
	case k.IsIntLike():
		m.pushI4(v.Int())
	case k == KindFloat:
		m.pushF4(v.Float())
	case k == KindLong:
		m.pushI8(v.Long())
	case k == KindDouble:
		m.pushF8(v.Double())
	default:
		fatalf("cannot push a value of kind %s", k)
	}
}

func (m *machine) popKind(k Kind) Value {
	switch {
	case k == KindReference:
		return RefValue(m.popO4())
	case k.IsIntLike():
		return KindedInt(k, m.popI4())
	case k == KindFloat:
		return FloatValue(m.popF4())
	case k == KindLong:
		return LongValue(m.popI8())
	case k == KindDouble:
		return DoubleValue(m.popF8())
	}
	fatalf("cannot pop a value of kind %s", k)
	return Void
}

func (m *machine) copySlot(dst, src int) {
	m.i4[dst] = m.i4[src]
	m.o4[dst] = m.o4[src]
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (m *machine) readU1() int {
	v := m.code[m.pc]
	m.pc++
	return int(v)
}

func (m *machine) readI1() int32 {
	return int32(int8(m.readU1()))
}

func (m *machine) readU2() int {
	v := int(m.code[m.pc])<<8 | int(m.code[m.pc+1])
	m.pc += 2
	return v
}

func (m *machine) readI2() int32 {
	return int32(int16(m.readU2()))
}

func (m *machine) readI4() int32 {
	v := m.i4At(m.pc)
	m.pc += 4
	return v
}

func (m *machine) i4At(pos int) int32 {
	c := m.code
	return int32(uint32(c[pos])<<24 | uint32(c[pos+1])<<16 | uint32(c[pos+2])<<8 | uint32(c[pos+3]))
}

// readTargetPC consumes a 16-bit branch offset and returns the absolute
// target, relative to the branching opcode.
func (m *machine) readTargetPC() int {
	offset := m.readI2()
	return m.opPC + int(offset)
}

// local returns the arena slot of local variable index.
func (m *machine) local(index int) int {
	return m.fp + LocalFramePointerOffset(index, m.argSlots)
}

func (m *machine) loadWide(index int) {
	m.i4[m.sp] = m.i4[m.local(index)]
	m.i4[m.sp+1] = m.i4[m.local(index+1)]
	m.sp += 2
}

func (m *machine) storeWide(index int) {
	m.sp -= 2
	m.i4[m.local(index)] = m.i4[m.sp]
	m.i4[m.local(index+1)] = m.i4[m.sp+1]
}

// ---------------------------------------------------------------------------
// Exits
// ---------------------------------------------------------------------------

// yield leaves the loop after the current instruction has completed.
func (m *machine) yield(s Suspension) Outcome {
	m.save()
	if s == Stopping {
		m.t.stopped = true
		return Outcome{Status: Stopped}
	}
	return Outcome{Status: Suspended}
}

// suspendAt leaves the loop without completing the current instruction; it
// runs again from the start when the thread resumes.
func (m *machine) suspendAt(s Suspension) Outcome {
	m.pc = m.opPC
	return m.yield(s)
}

// throw reports a guest exception raised by the current instruction.
func (m *machine) throw(g *GuestError) Outcome {
	m.pc = m.opPC
	m.save()
	if m.trace != nil {
		m.trace.WriteLn("!! " + g.Error())
	}
	m.ctx.RaiseException(m.t, g)
	return Outcome{Status: Threw, Err: g}
}

// initCheck runs the class-init check for c before an instruction uses it.
// A class whose initializer failed raises NoClassDefFoundError.
func (m *machine) initCheck(c ClassInfo) (Outcome, bool) {
	s, err := c.EnsureInitialized(m.t)
	if err != nil {
		return m.throw(linkageError(err, NoClassDefFoundError)), true
	}
	if s != Running {
		return m.suspendAt(s), true
	}
	return Outcome{}, false
}

// branch moves pc to target and polls for suspension on backward branches.
func (m *machine) branch(target int) (Outcome, bool) {
	m.pc = target
	if target <= m.opPC {
		if s := m.ctx.Safepoint(m.t); s != Running {
			return m.yield(s), true
		}
	}
	return Outcome{}, false
}

func linkageError(err error, class string) *GuestError {
	if g, ok := AsGuestError(err); ok {
		return g
	}
	return &GuestError{Class: class, Message: err.Error()}
}

func nullPointer(what string) *GuestError {
	return NewGuestError(NullPointerException, "%s", what)
}

func (m *machine) checkBounds(arr any, index int32) *GuestError {
	if n := m.heap.ArrayLength(arr); index < 0 || int(index) >= n {
		return NewGuestError(ArrayIndexOutOfBoundsException, "index %d out of bounds for length %d", index, n)
	}
	return nil
}

func (m *machine) fault(r any) Outcome {
	var ie *InternalError
	switch e := r.(type) {
	case *InternalError:
		ie = e
	case error:
		ie = &InternalError{PC: -1, cause: errors.WithStack(e)}
	default:
		ie = newInternalError("%v", e)
	}
	if ie.Method == "" && m.mi != nil {
		ie.Op, ie.PC, ie.Method = m.op, m.opPC, qualifiedName(m.mi)
	}
	m.t.stopped = true
	m.vm.abort(ie)
	return Outcome{Status: Faulted, Err: ie}
}

// checkCache verifies that the cached method context matches the frame.
func (m *machine) checkCache() {
	mi, _ := m.o4[m.fp+CalleeMethodInfoOffset].(MethodInfo)
	if mi != m.mi {
		fatalf("frame at fp %d holds %v but the loop is running %s", m.fp, mi, qualifiedName(m.mi))
	}
	code := mi.Code()
	if len(code) != len(m.code) || (len(code) > 0 && &code[0] != &m.code[0]) {
		fatalf("cached code of %s is stale", qualifiedName(mi))
	}
	if mi.Class() != m.ci || m.ci.ConstantPool() != m.cp {
		fatalf("cached class or constant pool of %s is stale", qualifiedName(mi))
	}
}

func (m *machine) traceInstruction() {
	r := NewBytecodeReader(m.code)
	r.Seek(m.opPC)
	m.trace.WriteLn(fmt.Sprintf("%s %s", qualifiedName(m.mi), DisassembleInstruction(r)))
}

// ---------------------------------------------------------------------------
// Interpret: the dispatch loop
// ---------------------------------------------------------------------------

// Interpret runs the thread's innermost frame until a return unwinds past
// a marker frame, a collaborator asks the thread to yield, a guest
// exception is raised, or an internal error aborts the VM. Method calls
// between interpreted methods do not recurse on the Go stack.
func Interpret(t *Thread) (out Outcome) {
	switch {
	case t.vm.Aborted():
		return Outcome{Status: Faulted, Err: &InternalError{PC: -1, cause: errors.WithStack(ErrAborted)}}
	case t.stopped:
		return Outcome{Status: Faulted, Err: &InternalError{PC: -1, cause: errors.WithStack(ErrThreadStopped)}}
	}

	m := newMachine(t)
	t.depth++
	defer func() {
		t.depth--
		if r := recover(); r != nil {
			out = m.fault(r)
		}
	}()
	return m.run()
}

func (m *machine) run() Outcome {
	if !m.t.HasFrames() {
		fatalf("thread %d has no frame to interpret", m.t.id)
	}
	m.load()
	mi, _ := m.o4[m.fp+CalleeMethodInfoOffset].(MethodInfo)
	if mi == nil {
		fatalf("thread %d: innermost frame at fp %d is a marker", m.t.id, m.fp)
	}
	m.bind(mi)

	for {
		if debugAssertions {
			m.checkCache()
		}
		m.opPC = m.pc
		m.op = Opcode(m.code[m.pc])
		m.pc++
		m.field = nil
		if m.trace != nil {
			m.traceInstruction()
		}

		switch m.op {
		case OpNop:

		// Constants
		case OpAConstNull:
			m.pushO4(nil)
		case OpIConstM1, OpIConst0, OpIConst1, OpIConst2, OpIConst3, OpIConst4, OpIConst5:
			m.pushI4(int32(m.op) - int32(OpIConst0))
		case OpLConst0, OpLConst1:
			m.pushI8(int64(m.op - OpLConst0))
		case OpFConst0, OpFConst1, OpFConst2:
			m.pushF4(float32(m.op - OpFConst0))
		case OpDConst0, OpDConst1:
			m.pushF8(float64(m.op - OpDConst0))
		case OpBIPush:
			m.pushI4(m.readI1())
		case OpSIPush:
			m.pushI4(m.readI2())
		case OpLdc, OpLdcW, OpLdc2W:
			var index int
			if m.op == OpLdc {
				index = m.readU1()
			} else {
				index = m.readU2()
			}
			tag := m.cp.PeekTag(index)
			k, ok := constantKind(tag, m.op == OpLdc2W)
			if !ok {
				fatalf("%s cannot load constant %d with tag %d", m.op, index, tag)
			}
			v, err := m.cp.Resolve(index, tag)
			if err != nil {
				return m.throw(linkageError(err, NoClassDefFoundError))
			}
			m.pushKind(k, v)

		// Loads
		case OpILoad, OpFLoad:
			m.pushI4(m.i4[m.local(m.readU1())])
		case OpALoad:
			m.pushO4(m.o4[m.local(m.readU1())])
		case OpLLoad, OpDLoad:
			m.loadWide(m.readU1())
		case OpILoad0, OpILoad1, OpILoad2, OpILoad3:
			m.pushI4(m.i4[m.local(int(m.op-OpILoad0))])
		case OpFLoad0, OpFLoad1, OpFLoad2, OpFLoad3:
			m.pushI4(m.i4[m.local(int(m.op-OpFLoad0))])
		case OpALoad0, OpALoad1, OpALoad2, OpALoad3:
			m.pushO4(m.o4[m.local(int(m.op-OpALoad0))])
		case OpLLoad0, OpLLoad1, OpLLoad2, OpLLoad3:
			m.loadWide(int(m.op - OpLLoad0))
		case OpDLoad0, OpDLoad1, OpDLoad2, OpDLoad3:
			m.loadWide(int(m.op - OpDLoad0))

		// Stores
		case OpIStore, OpFStore:
			slot := m.local(m.readU1())
			m.i4[slot] = m.popI4()
		case OpAStore:
			slot := m.local(m.readU1())
			m.o4[slot] = m.popO4()
		case OpLStore, OpDStore:
			m.storeWide(m.readU1())
		case OpIStore0, OpIStore1, OpIStore2, OpIStore3:
			slot := m.local(int(m.op - OpIStore0))
			m.i4[slot] = m.popI4()
		case OpFStore0, OpFStore1, OpFStore2, OpFStore3:
			slot := m.local(int(m.op - OpFStore0))
			m.i4[slot] = m.popI4()
		case OpAStore0, OpAStore1, OpAStore2, OpAStore3:
			slot := m.local(int(m.op - OpAStore0))
			m.o4[slot] = m.popO4()
		case OpLStore0, OpLStore1, OpLStore2, OpLStore3:
			m.storeWide(int(m.op - OpLStore0))
		case OpDStore0, OpDStore1, OpDStore2, OpDStore3:
			m.storeWide(int(m.op - OpDStore0))
		case OpIInc:
			slot := m.local(m.readU1())
			m.i4[slot] += m.readI1()

		// Arrays
		case OpIALoad, OpLALoad, OpFALoad, OpDALoad, OpAALoad, OpBALoad, OpCALoad, OpSALoad:
			index := m.popI4()
			arr := m.popO4()
			if arr == nil {
				return m.throw(nullPointer("array load from null"))
			}
			if g := m.checkBounds(arr, index); g != nil {
				return m.throw(g)
			}
			m.pushKind(arrayOpKind(m.op), m.heap.ArrayLoad(arr, int(index)))
		case OpIAStore, OpLAStore, OpFAStore, OpDAStore, OpAAStore, OpBAStore, OpCAStore, OpSAStore:
			v := m.popKind(arrayOpKind(m.op))
			index := m.popI4()
			arr := m.popO4()
			if arr == nil {
				return m.throw(nullPointer("array store to null"))
			}
			if g := m.checkBounds(arr, index); g != nil {
				return m.throw(g)
			}
			if m.op == OpAAStore && v.Ref() != nil && !m.heap.CanStore(arr, v.Ref()) {
				return m.throw(NewGuestError(ArrayStoreException, "%s", m.heap.ClassOf(v.Ref()).Name()))
			}
			m.heap.ArrayStore(arr, int(index), v)
		case OpArrayLength:
			arr := m.popO4()
			if arr == nil {
				return m.throw(nullPointer("arraylength of null"))
			}
			m.pushI4(int32(m.heap.ArrayLength(arr)))

		// Stack
		case OpPop:
			m.sp--
		case OpPop2:
			m.sp -= 2
		case OpDup:
			m.copySlot(m.sp, m.sp-1)
			m.sp++
		case OpDupX1:
			sp := m.sp
			m.copySlot(sp, sp-1)
			m.copySlot(sp-1, sp-2)
			m.copySlot(sp-2, sp)
			m.sp++
		case OpDupX2:
			sp := m.sp
			m.copySlot(sp, sp-1)
			m.copySlot(sp-1, sp-2)
			m.copySlot(sp-2, sp-3)
			m.copySlot(sp-3, sp)
			m.sp++
		case OpDup2:
			sp := m.sp
			m.copySlot(sp, sp-2)
			m.copySlot(sp+1, sp-1)
			m.sp += 2
		case OpDup2X1:
			sp := m.sp
			m.copySlot(sp+1, sp-1)
			m.copySlot(sp, sp-2)
			m.copySlot(sp-1, sp-3)
			m.copySlot(sp-3, sp)
			m.copySlot(sp-2, sp+1)
			m.sp += 2
		case OpDup2X2:
			sp := m.sp
			m.copySlot(sp+1, sp-1)
			m.copySlot(sp, sp-2)
			m.copySlot(sp-1, sp-3)
			m.copySlot(sp-2, sp-4)
			m.copySlot(sp-4, sp)
			m.copySlot(sp-3, sp+1)
			m.sp += 2
		case OpSwap:
			sp := m.sp
			i, o := m.i4[sp-1], m.o4[sp-1]
			m.copySlot(sp-1, sp-2)
			m.i4[sp-2], m.o4[sp-2] = i, o

		// Int arithmetic
		case OpIAdd:
			b, a := m.popI4(), m.popI4()
			m.pushI4(a + b)
		case OpISub:
			b, a := m.popI4(), m.popI4()
			m.pushI4(a - b)
		case OpIMul:
			b, a := m.popI4(), m.popI4()
			m.pushI4(a * b)
		case OpIDiv, OpIRem:
			b, a := m.popI4(), m.popI4()
			if b == 0 {
				return m.throw(NewGuestError(ArithmeticException, "/ by zero"))
			}
			if m.op == OpIDiv {
				m.pushI4(a / b)
			} else {
				m.pushI4(a % b)
			}
		case OpINeg:
			m.pushI4(-m.popI4())
		case OpIShl:
			s, v := m.popI4()&31, m.popI4()
			m.pushI4(v << uint(s))
		case OpIShr:
			s, v := m.popI4()&31, m.popI4()
			m.pushI4(v >> uint(s))
		case OpIUShr:
			s, v := m.popI4()&31, m.popI4()
			m.pushI4(int32(uint32(v) >> uint(s)))
		case OpIAnd:
			b, a := m.popI4(), m.popI4()
			m.pushI4(a & b)
		case OpIOr:
			b, a := m.popI4(), m.popI4()
			m.pushI4(a | b)
		case OpIXor:
			b, a := m.popI4(), m.popI4()
			m.pushI4(a ^ b)

		// Long arithmetic
		case OpLAdd:
			b, a := m.popI8(), m.popI8()
			m.pushI8(a + b)
		case OpLSub:
			b, a := m.popI8(), m.popI8()
			m.pushI8(a - b)
		case OpLMul:
			b, a := m.popI8(), m.popI8()
			m.pushI8(a * b)
		case OpLDiv, OpLRem:
			b, a := m.popI8(), m.popI8()
			if b == 0 {
				return m.throw(NewGuestError(ArithmeticException, "/ by zero"))
			}
			if m.op == OpLDiv {
				m.pushI8(a / b)
			} else {
				m.pushI8(a % b)
			}
		case OpLNeg:
			m.pushI8(-m.popI8())
		case OpLShl:
			s, v := m.popI4()&63, m.popI8()
			m.pushI8(v << uint(s))
		case OpLShr:
			s, v := m.popI4()&63, m.popI8()
			m.pushI8(v >> uint(s))
		case OpLUShr:
			s, v := m.popI4()&63, m.popI8()
			m.pushI8(int64(uint64(v) >> uint(s)))
		case OpLAnd:
			b, a := m.popI8(), m.popI8()
			m.pushI8(a & b)
		case OpLOr:
			b, a := m.popI8(), m.popI8()
			m.pushI8(a | b)
		case OpLXor:
			b, a := m.popI8(), m.popI8()
			m.pushI8(a ^ b)

		// Float and double arithmetic
		case OpFAdd:
			b, a := m.popF4(), m.popF4()
			m.pushF4(a + b)
		case OpFSub:
			b, a := m.popF4(), m.popF4()
			m.pushF4(a - b)
		case OpFMul:
			b, a := m.popF4(), m.popF4()
			m.pushF4(a * b)
		case OpFDiv:
			b, a := m.popF4(), m.popF4()
			m.pushF4(a / b)
		case OpFRem:
			b, a := m.popF4(), m.popF4()
			m.pushF4(float32(math.Mod(float64(a), float64(b))))
		case OpFNeg:
			m.pushF4(-m.popF4())
		case OpDAdd:
			b, a := m.popF8(), m.popF8()
			m.pushF8(a + b)
		case OpDSub:
			b, a := m.popF8(), m.popF8()
			m.pushF8(a - b)
		case OpDMul:
			b, a := m.popF8(), m.popF8()
			m.pushF8(a * b)
		case OpDDiv:
			b, a := m.popF8(), m.popF8()
			m.pushF8(a / b)
		case OpDRem:
			b, a := m.popF8(), m.popF8()
			m.pushF8(math.Mod(a, b))
		case OpDNeg:
			m.pushF8(-m.popF8())

		// Conversions
		case OpI2L:
			m.pushI8(int64(m.popI4()))
		case OpI2F:
			m.pushF4(float32(m.popI4()))
		case OpI2D:
			m.pushF8(float64(m.popI4()))
		case OpL2I:
			m.pushI4(int32(m.popI8()))
		case OpL2F:
			m.pushF4(float32(m.popI8()))
		case OpL2D:
			m.pushF8(float64(m.popI8()))
		case OpF2I:
			m.pushI4(toInt32(float64(m.popF4())))
		case OpF2L:
			m.pushI8(toInt64(float64(m.popF4())))
		case OpF2D:
			m.pushF8(float64(m.popF4()))
		case OpD2I:
			m.pushI4(toInt32(m.popF8()))
		case OpD2L:
			m.pushI8(toInt64(m.popF8()))
		case OpD2F:
			m.pushF4(float32(m.popF8()))
		case OpI2B:
			m.pushI4(int32(int8(m.popI4())))
		case OpI2C:
			m.pushI4(int32(uint16(m.popI4())))
		case OpI2S:
			m.pushI4(int32(int16(m.popI4())))

		// Comparisons
		case OpLCmp:
			b, a := m.popI8(), m.popI8()
			m.pushI4(compare(a, b))
		case OpFCmpL, OpFCmpG:
			b, a := m.popF4(), m.popF4()
			m.pushI4(compareFloat(float64(a), float64(b), m.op == OpFCmpG))
		case OpDCmpL, OpDCmpG:
			b, a := m.popF8(), m.popF8()
			m.pushI4(compareFloat(a, b, m.op == OpDCmpG))

		// Branches
		case OpIfEq, OpIfNe, OpIfLt, OpIfGe, OpIfGt, OpIfLe:
			target := m.readTargetPC()
			if intCondition(m.op-OpIfEq, m.popI4(), 0) {
				if out, stop := m.branch(target); stop {
					return out
				}
			}
		case OpIfICmpEq, OpIfICmpNe, OpIfICmpLt, OpIfICmpGe, OpIfICmpGt, OpIfICmpLe:
			target := m.readTargetPC()
			b, a := m.popI4(), m.popI4()
			if intCondition(m.op-OpIfICmpEq, a, b) {
				if out, stop := m.branch(target); stop {
					return out
				}
			}
		case OpIfACmpEq, OpIfACmpNe:
			target := m.readTargetPC()
			b, a := m.popO4(), m.popO4()
			if (a == b) == (m.op == OpIfACmpEq) {
				if out, stop := m.branch(target); stop {
					return out
				}
			}
		case OpIfNull, OpIfNonNull:
			target := m.readTargetPC()
			if (m.popO4() == nil) == (m.op == OpIfNull) {
				if out, stop := m.branch(target); stop {
					return out
				}
			}
		case OpGoto:
			if out, stop := m.branch(m.readTargetPC()); stop {
				return out
			}
		case OpGotoW:
			offset := m.readI4()
			if out, stop := m.branch(m.opPC + int(offset)); stop {
				return out
			}
		case OpTableSwitch:
			m.pc = (m.opPC + 4) &^ 3
			def, low, high := m.readI4(), m.readI4(), m.readI4()
			index := m.popI4()
			target := m.opPC + int(def)
			if index >= low && index <= high {
				target = m.opPC + int(m.i4At(m.pc+int(int64(index)-int64(low))*4))
			}
			if out, stop := m.branch(target); stop {
				return out
			}
		case OpLookupSwitch:
			m.pc = (m.opPC + 4) &^ 3
			def, n := m.readI4(), int(m.readI4())
			key := m.popI4()
			target := m.opPC + int(def)
			lo, hi := 0, n
			for lo < hi {
				mid := int(uint(lo+hi) >> 1)
				k := m.i4At(m.pc + mid*8)
				switch {
				case k < key:
					lo = mid + 1
				case k > key:
					hi = mid
				default:
					target = m.opPC + int(m.i4At(m.pc+mid*8+4))
					lo, hi = 0, 0
				}
			}
			if out, stop := m.branch(target); stop {
				return out
			}

		// Fields
		case OpGetField:
			f, err := m.cp.ResolveField(m.readU2(), false)
			if err != nil {
				return m.throw(linkageError(err, NoSuchFieldError))
			}
			m.field = f
			obj := m.popO4()
			if obj == nil {
				return m.throw(nullPointer("getfield " + f.Name() + " of null"))
			}
			m.pushKind(f.Kind(), f.Get(obj))
		case OpPutField:
			f, err := m.cp.ResolveField(m.readU2(), false)
			if err != nil {
				return m.throw(linkageError(err, NoSuchFieldError))
			}
			m.field = f
			v := m.popKind(f.Kind())
			obj := m.popO4()
			if obj == nil {
				return m.throw(nullPointer("putfield " + f.Name() + " of null"))
			}
			f.Set(obj, v)
		case OpGetStatic:
			f, err := m.cp.ResolveField(m.readU2(), true)
			if err != nil {
				return m.throw(linkageError(err, NoSuchFieldError))
			}
			m.field = f
			if out, stop := m.initCheck(f.Class()); stop {
				return out
			}
			m.pushKind(f.Kind(), f.GetStatic())
		case OpPutStatic:
			f, err := m.cp.ResolveField(m.readU2(), true)
			if err != nil {
				return m.throw(linkageError(err, NoSuchFieldError))
			}
			m.field = f
			if out, stop := m.initCheck(f.Class()); stop {
				return out
			}
			f.SetStatic(m.popKind(f.Kind()))

		// Objects
		case OpNew:
			c, err := m.cp.ResolveClass(m.readU2())
			if err != nil {
				return m.throw(linkageError(err, NoClassDefFoundError))
			}
			if out, stop := m.initCheck(c); stop {
				return out
			}
			m.pushO4(m.heap.NewObject(c))
		case OpNewArray:
			code := byte(m.readU1())
			k, ok := ArrayTypeKind(code)
			if !ok {
				fatalf("bad array type code %d", code)
			}
			size := m.popI4()
			if size < 0 {
				return m.throw(NewGuestError(NegativeArraySizeException, "%d", size))
			}
			m.pushO4(m.heap.NewArray(ArrayElement{Kind: k}, int(size)))
		case OpANewArray:
			c, err := m.cp.ResolveClass(m.readU2())
			if err != nil {
				return m.throw(linkageError(err, NoClassDefFoundError))
			}
			size := m.popI4()
			if size < 0 {
				return m.throw(NewGuestError(NegativeArraySizeException, "%d", size))
			}
			m.pushO4(m.heap.NewArray(ArrayElement{Kind: KindReference, Class: c}, int(size)))
		case OpCheckCast:
			c, err := m.cp.ResolveClass(m.readU2())
			if err != nil {
				return m.throw(linkageError(err, NoClassDefFoundError))
			}
			if obj := m.o4[m.sp-1]; obj != nil && !m.heap.IsInstance(obj, c) {
				return m.throw(NewGuestError(ClassCastException, "%s cannot be cast to %s", m.heap.ClassOf(obj).Name(), c.Name()))
			}
		case OpInstanceOf:
			c, err := m.cp.ResolveClass(m.readU2())
			if err != nil {
				return m.throw(linkageError(err, NoClassDefFoundError))
			}
			obj := m.popO4()
			if obj != nil && m.heap.IsInstance(obj, c) {
				m.pushI4(1)
			} else {
				m.pushI4(0)
			}
		case OpAThrow:
			obj := m.popO4()
			if obj == nil {
				return m.throw(nullPointer("athrow of null"))
			}
			return m.throw(&GuestError{Class: m.heap.ClassOf(obj).Name(), Thrown: obj})

		// Monitors
		case OpMonitorEnter:
			obj := m.o4[m.sp-1]
			if obj == nil {
				m.popO4()
				return m.throw(nullPointer("monitorenter on null"))
			}
			if s := m.ctx.MonitorEnter(m.t, obj); s != Running {
				return m.suspendAt(s)
			}
			m.popO4()
		case OpMonitorExit:
			obj := m.popO4()
			if obj == nil {
				return m.throw(nullPointer("monitorexit on null"))
			}
			if err := m.ctx.MonitorExit(m.t, obj); err != nil {
				return m.throw(linkageError(err, IllegalMonitorStateException))
			}

		// Calls and returns
		case OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeInterface:
			if out, stop := m.invoke(); stop {
				return out
			}
		case OpIReturn, OpLReturn, OpFReturn, OpDReturn, OpAReturn, OpReturn:
			if out, stop := m.doReturn(); stop {
				return out
			}

		default:
			fatalf("opcode %s (0x%02X) is not implemented", m.op, byte(m.op))
		}

		if m.trace != nil && m.vm.traceFrames {
			m.view.Set(m.fp, m.sp, m.opPC)
			m.view.Trace(m.trace, m.field)
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func constantKind(tag ConstantTag, wide bool) (Kind, bool) {
	switch {
	case wide && tag == TagLong:
		return KindLong, true
	case wide && tag == TagDouble:
		return KindDouble, true
	case wide:
		return KindVoid, false
	case tag == TagInteger:
		return KindInt, true
	case tag == TagFloat:
		return KindFloat, true
	case tag == TagString, tag == TagClass:
		return KindReference, true
	}
	return KindVoid, false
}

func arrayOpKind(op Opcode) Kind {
	switch op {
	case OpLALoad, OpLAStore:
		return KindLong
	case OpFALoad, OpFAStore:
		return KindFloat
	case OpDALoad, OpDAStore:
		return KindDouble
	case OpAALoad, OpAAStore:
		return KindReference
	}
	return KindInt
}

// intCondition evaluates the n-th condition in eq, ne, lt, ge, gt, le order.
func intCondition(n Opcode, a, b int32) bool {
	switch n {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	case 5:
		return a <= b
	}
	fatalf("bad condition %d", n)
	return false
}

func compare(a, b int64) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareFloat orders a and b; an unordered pair yields 1 when nanIsGreater
// and -1 otherwise.
func compareFloat(a, b float64, nanIsGreater bool) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	case nanIsGreater:
		return 1
	}
	return -1
}

// toInt32 converts with saturation; NaN becomes 0.
func toInt32(d float64) int32 {
	switch {
	case math.IsNaN(d):
		return 0
	case d >= math.MaxInt32:
		return math.MaxInt32
	case d <= math.MinInt32:
		return math.MinInt32
	}
	return int32(d)
}

// toInt64 converts with saturation; NaN becomes 0.
func toInt64(d float64) int64 {
	switch {
	case math.IsNaN(d):
		return 0
	case d >= math.MaxInt64:
		return math.MaxInt64
	case d <= math.MinInt64:
		return math.MinInt64
	}
	return int64(d)
}
