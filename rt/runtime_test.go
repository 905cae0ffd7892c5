package rt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/jvmcore/classes"
	"github.com/chazu/jvmcore/heap"
	"github.com/chazu/jvmcore/vm"
)

func newRuntime(t *testing.T, opts ...Option) (*Runtime, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithOutput(&out)}, opts...)
	v := vm.New(vm.WithArenaSlots(1<<16), vm.WithStackSlots(1<<12))
	return New(v, classes.NewLoader(), opts...), &out
}

func newThread(t *testing.T, r *Runtime) *vm.Thread {
	t.Helper()
	th, err := r.NewThread()
	require.NoError(t, err)
	return th
}

func asm(build func(b *vm.BytecodeBuilder)) []byte {
	b := vm.NewBytecodeBuilder()
	build(b)
	return b.Bytes()
}

func define(t *testing.T, r *Runtime, def classes.ClassDef) *classes.Class {
	t.Helper()
	c, err := r.Loader().Define(def)
	require.NoError(t, err)
	return c
}

func sysMethod(t *testing.T, r *Runtime, name, desc string) *classes.Method {
	t.Helper()
	sys, err := r.Loader().Lookup(SysClass)
	require.NoError(t, err)
	m := sys.Method(name, desc)
	require.NotNil(t, m, "%s%s", name, desc)
	return m
}

func TestMonitors(t *testing.T) {
	r, _ := newRuntime(t)
	t1, t2 := newThread(t, r), newThread(t, r)
	obj := new(heap.Object)

	assert.Equal(t, vm.Running, r.MonitorEnter(t1, obj))
	assert.Equal(t, vm.Running, r.MonitorEnter(t1, obj), "re-entrant")
	owner, count := r.MonitorOwner(obj)
	assert.Same(t, t1, owner)
	assert.Equal(t, 2, count)

	assert.Equal(t, vm.Pausing, r.MonitorEnter(t2, obj))
	err := r.MonitorExit(t2, obj)
	g, ok := vm.AsGuestError(err)
	require.True(t, ok)
	assert.Equal(t, vm.IllegalMonitorStateException, g.Class)

	require.NoError(t, r.MonitorExit(t1, obj))
	assert.Equal(t, vm.Pausing, r.MonitorEnter(t2, obj), "still held once")
	require.NoError(t, r.MonitorExit(t1, obj))
	owner, _ = r.MonitorOwner(obj)
	assert.Nil(t, owner)

	assert.Equal(t, vm.Running, r.MonitorEnter(t2, obj))
	assert.Equal(t, 1, r.ReleaseAll(t2))
	assert.Error(t, r.MonitorExit(t2, obj))

	r.Shutdown()
	assert.Equal(t, vm.Stopping, r.MonitorEnter(t1, obj))
}

func TestSafepointQuantum(t *testing.T) {
	r, _ := newRuntime(t, WithQuantum(3))
	th := newThread(t, r)

	var got []vm.Suspension
	for i := 0; i < 7; i++ {
		got = append(got, r.Safepoint(th))
	}
	assert.Equal(t, []vm.Suspension{
		vm.Running, vm.Running, vm.Pausing,
		vm.Running, vm.Running, vm.Pausing,
		vm.Running,
	}, got)

	r.Shutdown()
	assert.Equal(t, vm.Stopping, r.Safepoint(th))

	free, _ := newRuntime(t)
	assert.Equal(t, vm.Running, free.Safepoint(newThread(t, free)))
}

func TestUnregisteredNative(t *testing.T) {
	r, _ := newRuntime(t)
	c := define(t, r, classes.ClassDef{
		Name: "demo/Lib",
		Methods: []classes.MethodDef{
			{Name: "missing", Descriptor: "()V", Flags: classes.AccStatic | classes.AccNative},
		},
	})
	th := newThread(t, r)
	_, _, err := r.CallNative(th, c.Method("missing", "()V"), vm.Null, nil)
	g, ok := vm.AsGuestError(err)
	require.True(t, ok)
	assert.Equal(t, UnsatisfiedLinkError, g.Class)
	assert.Equal(t, "demo/Lib.missing()V", g.Message)
}

func TestPrintNatives(t *testing.T) {
	r, out := newRuntime(t)
	c := define(t, r, classes.ClassDef{
		Name: "demo/Hello",
		Constants: []classes.Constant{
			{},
			classes.StringConst("hello"),
			classes.MethodRef(SysClass, "print", "(Ljava/lang/String;)V"),
			classes.MethodRef(SysClass, "print", "(I)V"),
			classes.MethodRef(SysClass, "print", "(J)V"),
		},
		Methods: []classes.MethodDef{{
			Name: "main", Descriptor: "()V", Flags: classes.AccStatic, MaxStack: 2,
			Code: asm(func(b *vm.BytecodeBuilder) {
				b.EmitByte(vm.OpLdc, 1)
				b.EmitUint16(vm.OpInvokeStatic, 2)
				b.EmitInt8(vm.OpBIPush, -7)
				b.EmitUint16(vm.OpInvokeStatic, 3)
				b.Emit(vm.OpLConst1)
				b.EmitUint16(vm.OpInvokeStatic, 4)
				b.Emit(vm.OpReturn)
			}),
		}},
	})

	th := newThread(t, r)
	res := th.Invoke(c.Method("main", "()V"), vm.Null)
	require.Equal(t, vm.Completed, res.Status, "%v", res)
	assert.Equal(t, "hello\n-7\n1\n", out.String())
	assert.Equal(t, th.Base(), th.SP())
}

func TestYieldAndExit(t *testing.T) {
	r, _ := newRuntime(t)
	c := define(t, r, classes.ClassDef{
		Name: "demo/Yielder",
		Constants: []classes.Constant{
			{},
			classes.MethodRef(SysClass, "yield", "()V"),
			classes.MethodRef(SysClass, "exit", "()V"),
			classes.MethodRef(SysClass, "threadId", "()I"),
		},
		Methods: []classes.MethodDef{
			{
				Name: "id", Descriptor: "()I", Flags: classes.AccStatic, MaxStack: 1,
				Code: asm(func(b *vm.BytecodeBuilder) {
					b.EmitUint16(vm.OpInvokeStatic, 1)
					b.EmitUint16(vm.OpInvokeStatic, 3)
					b.Emit(vm.OpIReturn)
				}),
			},
			{
				Name: "quit", Descriptor: "()V", Flags: classes.AccStatic,
				Code: asm(func(b *vm.BytecodeBuilder) {
					b.EmitUint16(vm.OpInvokeStatic, 2)
					b.Emit(vm.OpReturn)
				}),
			},
		},
	})

	th := newThread(t, r)
	res := th.Invoke(c.Method("id", "()I"), vm.Null)
	require.Equal(t, vm.Suspended, res.Status)
	res = vm.Interpret(th)
	require.Equal(t, vm.Completed, res.Status)
	assert.Equal(t, int32(th.ID()), res.Value.Int())

	res = th.Invoke(c.Method("quit", "()V"), vm.Null)
	assert.Equal(t, vm.Stopped, res.Status)
	assert.True(t, th.Stopped())
}

func TestShutdownStopsAfterNative(t *testing.T) {
	r, _ := newRuntime(t)
	th := newThread(t, r)
	r.Shutdown()
	_, s, err := r.CallNative(th, sysMethod(t, r, "threadId", "()I"), vm.Null, nil)
	require.NoError(t, err)
	assert.Equal(t, vm.Stopping, s)
}

func TestCompile(t *testing.T) {
	r, _ := newRuntime(t)
	c := define(t, r, classes.ClassDef{
		Name: "demo/Math",
		Constants: []classes.Constant{
			{},
			classes.MethodRef("demo/Math", "twice", "(I)I"),
		},
		Methods: []classes.MethodDef{
			{
				Name: "twice", Descriptor: "(I)I", Flags: classes.AccStatic, MaxStack: 2,
				Code: asm(func(b *vm.BytecodeBuilder) {
					b.Emit(vm.OpILoad0)
					b.Emit(vm.OpIConst2)
					b.Emit(vm.OpIMul)
					b.Emit(vm.OpIReturn)
				}),
			},
			{
				Name: "main", Descriptor: "()I", Flags: classes.AccStatic, MaxStack: 1,
				Code: asm(func(b *vm.BytecodeBuilder) {
					b.Emit(vm.OpIConst5)
					b.EmitUint16(vm.OpInvokeStatic, 1)
					b.Emit(vm.OpIReturn)
				}),
			},
		},
	})
	main, twice := c.Method("main", "()I"), c.Method("twice", "(I)I")
	th := newThread(t, r)

	res := th.Invoke(main, vm.Null)
	require.Equal(t, vm.Completed, res.Status)
	assert.Equal(t, int32(10), res.Value.Int())

	r.Compile(twice, func(_ *vm.Thread, _ vm.Value, args []vm.Value) (vm.Value, vm.Suspension, error) {
		return vm.IntValue(args[0].Int() * 3), vm.Running, nil
	})
	assert.True(t, twice.IsCompiled())

	res = th.Invoke(main, vm.Null)
	require.Equal(t, vm.Completed, res.Status)
	assert.Equal(t, int32(15), res.Value.Int())

	res = th.Invoke(twice, vm.Null, vm.IntValue(4))
	require.Equal(t, vm.Completed, res.Status)
	assert.Equal(t, int32(12), res.Value.Int())
}

func TestExceptionLog(t *testing.T) {
	r, _ := newRuntime(t)
	c := define(t, r, classes.ClassDef{
		Name: "demo/Div",
		Methods: []classes.MethodDef{{
			Name: "main", Descriptor: "()I", Flags: classes.AccStatic, MaxStack: 2,
			Code: asm(func(b *vm.BytecodeBuilder) {
				b.Emit(vm.OpIConst1)
				b.Emit(vm.OpIConst0)
				b.Emit(vm.OpIDiv)
				b.Emit(vm.OpIReturn)
			}),
		}},
	})
	th := newThread(t, r)
	res := th.Invoke(c.Method("main", "()I"), vm.Null)
	require.Equal(t, vm.Threw, res.Status)

	ex := r.Exceptions()
	require.Len(t, ex, 1)
	assert.Equal(t, th.ID(), ex[0].Thread)
	assert.Equal(t, vm.ArithmeticException, ex[0].Err.Class)
}

func TestHotMethodsAreReported(t *testing.T) {
	v := vm.New(vm.WithArenaSlots(1<<16), vm.WithStackSlots(1<<12), vm.WithHotThreshold(3))
	var hot []string
	v.Profiler.OnHot = func(m vm.MethodInfo, p *vm.MethodProfile) {
		hot = append(hot, methodKey(m))
	}
	r := New(v, classes.NewLoader(), WithOutput(new(bytes.Buffer)))
	c := define(t, r, classes.ClassDef{
		Name: "demo/One",
		Methods: []classes.MethodDef{{
			Name: "one", Descriptor: "()I", Flags: classes.AccStatic, MaxStack: 1,
			Code: asm(func(b *vm.BytecodeBuilder) {
				b.Emit(vm.OpIConst1)
				b.Emit(vm.OpIReturn)
			}),
		}},
	})
	m := c.Method("one", "()I")
	th := newThread(t, r)
	for i := 0; i < 5; i++ {
		require.Equal(t, vm.Completed, th.Invoke(m, vm.Null).Status)
	}

	assert.Equal(t, []string{"demo/One.one()I"}, hot, "earlier hook still runs, once")
	require.Len(t, v.Profiler.HotMethods(), 1)
	assert.Same(t, m, v.Profiler.HotMethods()[0])
}
