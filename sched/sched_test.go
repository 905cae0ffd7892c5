package sched

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/jvmcore/classes"
	"github.com/chazu/jvmcore/rt"
	"github.com/chazu/jvmcore/vm"
)

type fixture struct {
	sched *Scheduler
	out   *bytes.Buffer
}

func newFixture(t *testing.T, quantum int, defs ...classes.ClassDef) *fixture {
	t.Helper()
	var out bytes.Buffer
	v := vm.New(vm.WithArenaSlots(1<<16), vm.WithStackSlots(1<<12))
	r := rt.New(v, classes.NewLoader(), rt.WithOutput(&out), rt.WithQuantum(quantum))
	_, err := r.Loader().Load(&classes.Image{Version: classes.ImageVersion, Classes: defs})
	require.NoError(t, err)
	return &fixture{sched: New(r), out: &out}
}

func (f *fixture) spawn(t *testing.T, class, name, desc string, args ...vm.Value) *Task {
	t.Helper()
	c, err := f.sched.Runtime().Loader().Lookup(class)
	require.NoError(t, err)
	m := c.Method(name, desc)
	require.NotNil(t, m)
	task, err := f.sched.Spawn(m, args...)
	require.NoError(t, err)
	return task
}

func asm(build func(b *vm.BytecodeBuilder)) []byte {
	b := vm.NewBytecodeBuilder()
	build(b)
	return b.Bytes()
}

func staticMethod(name, desc string, maxLocals, maxStack int, code []byte) classes.MethodDef {
	return classes.MethodDef{
		Name: name, Descriptor: desc, Flags: classes.AccPublic | classes.AccStatic,
		MaxLocals: maxLocals, MaxStack: maxStack, Code: code,
	}
}

func runOK(t *testing.T, f *fixture) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.sched.Run(ctx))
}

// sumTo returns 0+1+...+(n-1), polling a safepoint on every iteration.
func sumTo() []byte {
	return asm(func(b *vm.BytecodeBuilder) {
		loop, done := b.NewLabel(), b.NewLabel()
		b.Emit(vm.OpIConst0)
		b.Emit(vm.OpIStore1) // sum
		b.Emit(vm.OpIConst0)
		b.Emit(vm.OpIStore2) // i
		b.Mark(loop)
		b.Emit(vm.OpILoad2)
		b.Emit(vm.OpILoad0)
		b.EmitJump(vm.OpIfICmpGe, done)
		b.Emit(vm.OpILoad1)
		b.Emit(vm.OpILoad2)
		b.Emit(vm.OpIAdd)
		b.Emit(vm.OpIStore1)
		b.EmitIInc(2, 1)
		b.EmitJump(vm.OpGoto, loop)
		b.Mark(done)
		b.Emit(vm.OpILoad1)
		b.Emit(vm.OpIReturn)
	})
}

func TestRunSingleTask(t *testing.T) {
	f := newFixture(t, 0, classes.ClassDef{
		Name:    "demo/Sum",
		Methods: []classes.MethodDef{staticMethod("sum", "(I)I", 3, 2, sumTo())},
	})
	task := f.spawn(t, "demo/Sum", "sum", "(I)I", vm.IntValue(100))
	runOK(t, f)

	require.True(t, task.Done())
	require.Equal(t, vm.Completed, task.Outcome.Status, "%v", task.Outcome)
	assert.Equal(t, int32(4950), task.Outcome.Value.Int())
	assert.Nil(t, task.Snapshot)
	assert.True(t, task.Thread.Stopped())
	assert.Equal(t, 1, f.sched.Stats().Rounds)
}

func TestRoundRobinWithQuantum(t *testing.T) {
	f := newFixture(t, 10, classes.ClassDef{
		Name:    "demo/Sum",
		Methods: []classes.MethodDef{staticMethod("sum", "(I)I", 3, 2, sumTo())},
	})
	a := f.spawn(t, "demo/Sum", "sum", "(I)I", vm.IntValue(100))
	b := f.spawn(t, "demo/Sum", "sum", "(I)I", vm.IntValue(50))
	runOK(t, f)

	assert.Equal(t, int32(4950), a.Outcome.Value.Int())
	assert.Equal(t, int32(1225), b.Outcome.Value.Int())
	stats := f.sched.Stats()
	assert.Greater(t, stats.Rounds, 5)
	assert.Greater(t, stats.Resumes, stats.Rounds)
}

func TestClassInitializer(t *testing.T) {
	f := newFixture(t, 0, classes.ClassDef{
		Name: "demo/Config",
		Constants: []classes.Constant{
			{},
			classes.FieldRef("demo/Config", "value", "I"),
		},
		Fields: []classes.FieldDef{{Name: "value", Descriptor: "I", Flags: classes.AccStatic}},
		Methods: []classes.MethodDef{
			staticMethod("<clinit>", "()V", 0, 1, asm(func(b *vm.BytecodeBuilder) {
				b.EmitInt8(vm.OpBIPush, 7)
				b.EmitUint16(vm.OpPutStatic, 1)
				b.Emit(vm.OpReturn)
			})),
			staticMethod("get", "()I", 0, 1, asm(func(b *vm.BytecodeBuilder) {
				b.EmitUint16(vm.OpGetStatic, 1)
				b.Emit(vm.OpIReturn)
			})),
		},
	})
	task := f.spawn(t, "demo/Config", "get", "()I")
	runOK(t, f)

	require.Equal(t, vm.Completed, task.Outcome.Status, "%v", task.Outcome)
	assert.Equal(t, int32(7), task.Outcome.Value.Int())
	assert.Equal(t, 1, f.sched.Stats().Initializers)

	c, _ := f.sched.Runtime().Loader().Lookup("demo/Config")
	assert.Equal(t, classes.Initialized, c.State())
}

func TestSuperclassInitializedFirst(t *testing.T) {
	printer := func(n int8) []byte {
		return asm(func(b *vm.BytecodeBuilder) {
			b.EmitInt8(vm.OpBIPush, n)
			b.EmitUint16(vm.OpInvokeStatic, 1)
			b.Emit(vm.OpReturn)
		})
	}
	pool := []classes.Constant{
		{},
		classes.MethodRef(rt.SysClass, "print", "(I)V"),
		classes.FieldRef("demo/Derived", "x", "I"),
	}
	f := newFixture(t, 0,
		classes.ClassDef{
			Name:      "demo/Derived",
			Super:     "demo/Base",
			Constants: pool,
			Fields:    []classes.FieldDef{{Name: "x", Descriptor: "I", Flags: classes.AccStatic}},
			Methods: []classes.MethodDef{
				staticMethod("<clinit>", "()V", 0, 1, printer(2)),
				staticMethod("main", "()I", 0, 1, asm(func(b *vm.BytecodeBuilder) {
					b.EmitUint16(vm.OpGetStatic, 2)
					b.Emit(vm.OpIReturn)
				})),
			},
		},
		classes.ClassDef{
			Name:      "demo/Base",
			Constants: pool,
			Methods:   []classes.MethodDef{staticMethod("<clinit>", "()V", 0, 1, printer(1))},
		},
	)
	task := f.spawn(t, "demo/Derived", "main", "()I")
	runOK(t, f)

	require.Equal(t, vm.Completed, task.Outcome.Status, "%v", task.Outcome)
	assert.Equal(t, "1\n2\n", f.out.String())
	assert.Equal(t, 2, f.sched.Stats().Initializers)
}

func TestFailingInitializer(t *testing.T) {
	f := newFixture(t, 0, classes.ClassDef{
		Name: "demo/Broken",
		Constants: []classes.Constant{
			{},
			classes.FieldRef("demo/Broken", "value", "I"),
		},
		Fields: []classes.FieldDef{{Name: "value", Descriptor: "I", Flags: classes.AccStatic}},
		Methods: []classes.MethodDef{
			staticMethod("<clinit>", "()V", 0, 2, asm(func(b *vm.BytecodeBuilder) {
				b.Emit(vm.OpIConst1)
				b.Emit(vm.OpIConst0)
				b.Emit(vm.OpIDiv)
				b.EmitUint16(vm.OpPutStatic, 1)
				b.Emit(vm.OpReturn)
			})),
			staticMethod("get", "()I", 0, 1, asm(func(b *vm.BytecodeBuilder) {
				b.EmitUint16(vm.OpGetStatic, 1)
				b.Emit(vm.OpIReturn)
			})),
		},
	})
	first := f.spawn(t, "demo/Broken", "get", "()I")
	runOK(t, f)
	require.Equal(t, vm.Threw, first.Outcome.Status)
	assert.NotNil(t, first.Snapshot)

	c, _ := f.sched.Runtime().Loader().Lookup("demo/Broken")
	assert.Equal(t, classes.Erroneous, c.State())

	second := f.spawn(t, "demo/Broken", "get", "()I")
	runOK(t, f)
	require.Equal(t, vm.Threw, second.Outcome.Status)
	g, ok := vm.AsGuestError(second.Outcome.Err)
	require.True(t, ok)
	assert.Equal(t, vm.NoClassDefFoundError, g.Class)
	assert.False(t, f.sched.Runtime().IsShutdown())
}

func TestMonitorContention(t *testing.T) {
	f := newFixture(t, 0, classes.ClassDef{
		Name: "demo/Shared",
		Constants: []classes.Constant{
			{},
			classes.MethodRef(rt.SysClass, "print", "(I)V"),
			classes.MethodRef(rt.SysClass, "yield", "()V"),
			classes.MethodRef("demo/Shared", "work", "(I)V"),
		},
		Methods: []classes.MethodDef{
			{
				Name: "work", Descriptor: "(I)V", Flags: classes.AccStatic | classes.AccSynchronized, MaxStack: 1,
				Code: asm(func(b *vm.BytecodeBuilder) {
					b.Emit(vm.OpILoad0)
					b.EmitUint16(vm.OpInvokeStatic, 1)
					b.EmitUint16(vm.OpInvokeStatic, 2)
					b.Emit(vm.OpILoad0)
					b.EmitUint16(vm.OpInvokeStatic, 1)
					b.Emit(vm.OpReturn)
				}),
			},
			staticMethod("run", "(I)V", 1, 1, asm(func(b *vm.BytecodeBuilder) {
				b.Emit(vm.OpILoad0)
				b.EmitUint16(vm.OpInvokeStatic, 3)
				b.Emit(vm.OpReturn)
			})),
		},
	})
	a := f.spawn(t, "demo/Shared", "run", "(I)V", vm.IntValue(1))
	b := f.spawn(t, "demo/Shared", "run", "(I)V", vm.IntValue(2))
	runOK(t, f)

	assert.Equal(t, vm.Completed, a.Outcome.Status)
	assert.Equal(t, vm.Completed, b.Outcome.Status)
	assert.Equal(t, "1\n1\n2\n2\n", f.out.String())
}

func TestSpawnSynchronizedEntryWaitsForClassMonitor(t *testing.T) {
	sum := staticMethod("sum", "(I)I", 3, 2, sumTo())
	sum.Flags |= classes.AccSynchronized
	f := newFixture(t, 10, classes.ClassDef{Name: "demo/Sum", Methods: []classes.MethodDef{sum}})

	a := f.spawn(t, "demo/Sum", "sum", "(I)I", vm.IntValue(100))
	b := f.spawn(t, "demo/Sum", "sum", "(I)I", vm.IntValue(50))
	assert.False(t, a.blocked)
	require.True(t, b.blocked, "class monitor is held by the first task")
	assert.False(t, b.Thread.HasFrames())

	runOK(t, f)
	require.Equal(t, vm.Completed, a.Outcome.Status, "%v", a.Outcome)
	require.Equal(t, vm.Completed, b.Outcome.Status, "%v", b.Outcome)
	assert.Equal(t, int32(4950), a.Outcome.Value.Int())
	assert.Equal(t, int32(1225), b.Outcome.Value.Int())
	assert.False(t, b.blocked)
	assert.Zero(t, f.sched.Runtime().ReleaseAll(b.Thread), "monitor released on return")
}

func TestDeadlock(t *testing.T) {
	lockOrder := func(first, second uint8) []byte {
		return asm(func(b *vm.BytecodeBuilder) {
			b.EmitByte(vm.OpLdc, first)
			b.Emit(vm.OpMonitorEnter)
			b.EmitUint16(vm.OpInvokeStatic, 3)
			b.EmitByte(vm.OpLdc, second)
			b.Emit(vm.OpMonitorEnter)
			b.EmitByte(vm.OpLdc, second)
			b.Emit(vm.OpMonitorExit)
			b.EmitByte(vm.OpLdc, first)
			b.Emit(vm.OpMonitorExit)
			b.Emit(vm.OpReturn)
		})
	}
	f := newFixture(t, 0, classes.ClassDef{
		Name: "demo/Locks",
		Constants: []classes.Constant{
			{},
			classes.StringConst("a"),
			classes.StringConst("b"),
			classes.MethodRef(rt.SysClass, "yield", "()V"),
		},
		Methods: []classes.MethodDef{
			staticMethod("ab", "()V", 0, 1, lockOrder(1, 2)),
			staticMethod("ba", "()V", 0, 1, lockOrder(2, 1)),
		},
	})
	a := f.spawn(t, "demo/Locks", "ab", "()V")
	b := f.spawn(t, "demo/Locks", "ba", "()V")

	err := f.sched.Run(context.Background())
	assert.ErrorIs(t, err, ErrDeadlock)
	assert.Equal(t, vm.Stopped, a.Outcome.Status)
	assert.Equal(t, vm.Stopped, b.Outcome.Status)

	lock := f.sched.Runtime().Loader().Intern("a")
	owner, _ := f.sched.Runtime().MonitorOwner(lock)
	assert.Nil(t, owner, "monitors released")
}

func spinner() classes.ClassDef {
	return classes.ClassDef{
		Name: "demo/Spin",
		Methods: []classes.MethodDef{
			staticMethod("forever", "()V", 0, 0, asm(func(b *vm.BytecodeBuilder) {
				top := b.NewLabel()
				b.Mark(top)
				b.EmitJump(vm.OpGoto, top)
			})),
		},
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t, 10, spinner())
	task := f.spawn(t, "demo/Spin", "forever", "()V")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.sched.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, vm.Stopped, task.Outcome.Status)
	assert.True(t, f.sched.Runtime().IsShutdown())
}

func TestTimeout(t *testing.T) {
	f := newFixture(t, 100, spinner())
	task := f.spawn(t, "demo/Spin", "forever", "()V")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := f.sched.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Equal(t, vm.Stopped, task.Outcome.Status)
	require.NotNil(t, task.Snapshot)
	assert.NotEmpty(t, task.Snapshot.Frames)
}

func TestSpawnRejectsInstanceMethods(t *testing.T) {
	f := newFixture(t, 0, classes.ClassDef{
		Name: "demo/Obj",
		Methods: []classes.MethodDef{{
			Name: "get", Descriptor: "()I", MaxStack: 1,
			Code: []byte{byte(vm.OpIConst0), byte(vm.OpIReturn)},
		}},
	})
	c, _ := f.sched.Runtime().Loader().Lookup("demo/Obj")
	_, err := f.sched.Spawn(c.Method("get", "()I"))
	assert.Error(t, err)
}

func TestRunAll(t *testing.T) {
	def := classes.ClassDef{
		Name:    "demo/Sum",
		Methods: []classes.MethodDef{staticMethod("sum", "(I)I", 3, 2, sumTo())},
	}
	var fixtures []*fixture
	var tasks []*Task
	for i := 1; i <= 4; i++ {
		f := newFixture(t, 7, def)
		tasks = append(tasks, f.spawn(t, "demo/Sum", "sum", "(I)I", vm.IntValue(int32(i*10))))
		fixtures = append(fixtures, f)
	}
	scheds := make([]*Scheduler, len(fixtures))
	for i, f := range fixtures {
		scheds[i] = f.sched
	}
	require.NoError(t, RunAll(context.Background(), scheds...))
	for i, task := range tasks {
		n := int32((i + 1) * 10)
		assert.Equal(t, n*(n-1)/2, task.Outcome.Value.Int())
	}
}
