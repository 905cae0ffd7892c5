package vm

import (
	"fmt"
	"testing"
)

// ---------------------------------------------------------------------------
// Minimal collaborators for driving the interpreter in tests
// ---------------------------------------------------------------------------

type testMethod struct {
	name, desc   string
	class        *testClass
	maxLocals    int
	maxStack     int
	code         []byte
	params       []Kind
	ret          Kind
	static       bool
	native       bool
	abstract     bool
	synchronized bool
	vtable       int
}

// newTestMethod builds a method from its descriptor. maxLocals counts
// parameter slots too; pass -1 to use exactly the parameter slots.
func newTestMethod(c *testClass, name, desc string, static bool, maxLocals, maxStack int, code []byte) *testMethod {
	params, ret, err := ParseMethodDescriptor(desc)
	if err != nil {
		panic(err)
	}
	m := &testMethod{
		name: name, desc: desc, class: c,
		maxStack: maxStack, code: code,
		params: params, ret: ret, static: static, vtable: -1,
	}
	if maxLocals < 0 {
		maxLocals = m.ArgumentSlots()
	}
	m.maxLocals = maxLocals
	return m
}

func (m *testMethod) Name() string           { return m.name }
func (m *testMethod) Descriptor() string     { return m.desc }
func (m *testMethod) Class() ClassInfo       { return m.class }
func (m *testMethod) MaxLocals() int         { return m.maxLocals }
func (m *testMethod) MaxStack() int          { return m.maxStack }
func (m *testMethod) Code() []byte           { return m.code }
func (m *testMethod) ParameterKinds() []Kind { return m.params }
func (m *testMethod) ReturnKind() Kind       { return m.ret }
func (m *testMethod) IsStatic() bool         { return m.static }
func (m *testMethod) IsNative() bool         { return m.native }
func (m *testMethod) IsCompiled() bool       { return false }
func (m *testMethod) IsAbstract() bool       { return m.abstract }
func (m *testMethod) IsSynchronized() bool   { return m.synchronized }
func (m *testMethod) VTableIndex() int       { return m.vtable }

func (m *testMethod) ArgumentSlots() int {
	n := SlotCount(m.params)
	if !m.static {
		n++
	}
	return n
}

type testClass struct {
	name        string
	super       *testClass
	pool        *testPool
	vtable      []MethodInfo
	itable      map[MethodInfo]MethodInfo
	initialized bool
	initAnswer  Suspension
	initErr     error
	initCalls   int
}

func newTestClass(name string, super *testClass) *testClass {
	return &testClass{name: name, super: super, pool: newTestPool(), initialized: true, initAnswer: Pausing}
}

func (c *testClass) Name() string               { return c.name }
func (c *testClass) ConstantPool() ConstantPool { return c.pool }

func (c *testClass) IsAssignableTo(other ClassInfo) bool {
	for k := c; k != nil; k = k.super {
		if ClassInfo(k) == other {
			return true
		}
	}
	return false
}

func (c *testClass) VirtualMethod(slot int) MethodInfo {
	if slot < 0 || slot >= len(c.vtable) {
		return nil
	}
	return c.vtable[slot]
}

func (c *testClass) InterfaceMethod(m MethodInfo) MethodInfo {
	for k := c; k != nil; k = k.super {
		if impl, ok := k.itable[m]; ok {
			return impl
		}
	}
	return nil
}

func (c *testClass) EnsureInitialized(t *Thread) (Suspension, error) {
	c.initCalls++
	if c.initialized {
		return Running, nil
	}
	return c.initAnswer, c.initErr
}

// testPool holds resolved entries by index. Entries may be *testClass,
// *testField, *testMethod, Value, or error.
type testPool struct {
	tags    map[int]ConstantTag
	entries map[int]any
}

func newTestPool() *testPool {
	return &testPool{tags: map[int]ConstantTag{}, entries: map[int]any{}}
}

func (p *testPool) add(index int, tag ConstantTag, entry any) uint16 {
	p.tags[index] = tag
	p.entries[index] = entry
	return uint16(index)
}

func (p *testPool) PeekTag(index int) ConstantTag { return p.tags[index] }

func (p *testPool) Resolve(index int, tag ConstantTag) (Value, error) {
	switch e := p.entries[index].(type) {
	case Value:
		return e, nil
	case error:
		return Void, e
	}
	return Void, fmt.Errorf("no constant at %d", index)
}

func (p *testPool) ResolveClass(index int) (ClassInfo, error) {
	switch e := p.entries[index].(type) {
	case *testClass:
		return e, nil
	case error:
		return nil, e
	}
	return nil, fmt.Errorf("no class at %d", index)
}

func (p *testPool) ResolveField(index int, isStatic bool) (FieldInfo, error) {
	switch e := p.entries[index].(type) {
	case *testField:
		if e.static != isStatic {
			return nil, fmt.Errorf("field %s has the wrong staticness", e.name)
		}
		return e, nil
	case error:
		return nil, e
	}
	return nil, fmt.Errorf("no field at %d", index)
}

func (p *testPool) ResolveMethod(index int, isStatic bool) (MethodInfo, error) {
	switch e := p.entries[index].(type) {
	case *testMethod:
		return e, nil
	case error:
		return nil, e
	}
	return nil, fmt.Errorf("no method at %d", index)
}

type testField struct {
	name   string
	kind   Kind
	class  *testClass
	static bool
	value  Value // static value
}

func (f *testField) Name() string      { return f.name }
func (f *testField) Kind() Kind        { return f.kind }
func (f *testField) Class() ClassInfo  { return f.class }
func (f *testField) IsStatic() bool    { return f.static }
func (f *testField) GetStatic() Value  { return f.value }
func (f *testField) SetStatic(v Value) { f.value = v }
func (f *testField) Get(obj any) Value { return obj.(*testObject).fields[f.name] }
func (f *testField) Set(obj any, v Value) {
	obj.(*testObject).fields[f.name] = v
}

type testObject struct {
	class  *testClass
	fields map[string]Value
}

func (o *testObject) String() string { return o.class.name + " instance" }

type testArray struct {
	elem ArrayElement
	data []Value
}

type testHeap struct {
	arrayClass *testClass
}

func (h *testHeap) NewObject(c ClassInfo) any {
	return &testObject{class: c.(*testClass), fields: map[string]Value{}}
}

func (h *testHeap) NewArray(elem ArrayElement, length int) any {
	a := &testArray{elem: elem, data: make([]Value, length)}
	for i := range a.data {
		a.data[i] = ZeroValue(elem.Kind)
	}
	return a
}

func (h *testHeap) ClassOf(obj any) ClassInfo {
	switch o := obj.(type) {
	case *testObject:
		return o.class
	case *testArray:
		return h.arrayClass
	}
	return nil
}

func (h *testHeap) IsInstance(obj any, c ClassInfo) bool {
	return h.ClassOf(obj).IsAssignableTo(c)
}

func (h *testHeap) ArrayLength(arr any) int { return len(arr.(*testArray).data) }

func (h *testHeap) ArrayLoad(arr any, index int) Value { return arr.(*testArray).data[index] }

func (h *testHeap) ArrayStore(arr any, index int, v Value) {
	a := arr.(*testArray)
	if a.elem.Kind.IsIntLike() {
		v = KindedInt(a.elem.Kind, v.Int())
	}
	a.data[index] = v
}

func (h *testHeap) CanStore(arr any, v any) bool {
	a := arr.(*testArray)
	return a.elem.Class == nil || h.IsInstance(v, a.elem.Class)
}

type nativeFunc func(t *Thread, receiver Value, args []Value) (Value, Suspension, error)

type testContext struct {
	heap      *testHeap
	natives   map[string]nativeFunc
	owners    map[any]*Thread
	counts    map[any]int
	raised    []*GuestError
	safepoint func(t *Thread) Suspension
	safepolls int
}

func newTestContext() *testContext {
	return &testContext{
		heap:    &testHeap{arrayClass: newTestClass("[", nil)},
		natives: map[string]nativeFunc{},
		owners:  map[any]*Thread{},
		counts:  map[any]int{},
	}
}

func (c *testContext) Heap() Heap { return c.heap }

func (c *testContext) MonitorEnter(t *Thread, obj any) Suspension {
	if owner, ok := c.owners[obj]; ok && owner != t {
		return Pausing
	}
	c.owners[obj] = t
	c.counts[obj]++
	return Running
}

func (c *testContext) MonitorExit(t *Thread, obj any) error {
	if c.owners[obj] != t {
		return fmt.Errorf("thread %d does not own the monitor", t.ID())
	}
	c.counts[obj]--
	if c.counts[obj] == 0 {
		delete(c.owners, obj)
		delete(c.counts, obj)
	}
	return nil
}

func (c *testContext) CallNative(t *Thread, m MethodInfo, receiver Value, args []Value) (Value, Suspension, error) {
	fn, ok := c.natives[m.Name()]
	if !ok {
		return Void, Running, fmt.Errorf("no native %s", m.Name())
	}
	return fn(t, receiver, args)
}

func (c *testContext) Safepoint(t *Thread) Suspension {
	c.safepolls++
	if c.safepoint != nil {
		return c.safepoint(t)
	}
	return Running
}

func (c *testContext) RaiseException(t *Thread, err *GuestError) {
	c.raised = append(c.raised, err)
}

// newTestThread creates a small VM and one thread bound to a fresh context.
func newTestThread(t *testing.T, opts ...Option) (*Thread, *testContext) {
	t.Helper()
	ctx := newTestContext()
	opts = append([]Option{WithArenaSlots(1 << 16), WithStackSlots(1 << 14)}, opts...)
	vm := New(opts...)
	th, err := vm.NewThread(ctx)
	if err != nil {
		t.Fatalf("NewThread: %v", err)
	}
	return th, ctx
}

// code assembles bytecode with a builder.
func code(build func(b *BytecodeBuilder)) []byte {
	b := NewBytecodeBuilder()
	build(b)
	return b.Bytes()
}
