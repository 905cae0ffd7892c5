package rt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/jvmcore/classes"
	"github.com/chazu/jvmcore/heap"
	"github.com/chazu/jvmcore/vm"
)

const arraycopyDesc = "(Ljava/lang/Object;ILjava/lang/Object;II)V"

func intArray(r *Runtime, vals ...int32) *heap.Array {
	a := r.Loader().Heap().NewArray(vm.ArrayElement{Kind: vm.KindInt}, len(vals)).(*heap.Array)
	copy(a.Ints(), vals)
	return a
}

func TestArraycopy(t *testing.T) {
	r, _ := newRuntime(t)
	th := newThread(t, r)
	copyFn := sysMethod(t, r, "arraycopy", arraycopyDesc)

	call := func(src any, srcPos int32, dst any, dstPos, n int32) error {
		_, _, err := r.CallNative(th, copyFn, vm.Null, []vm.Value{
			vm.RefValue(src), vm.IntValue(srcPos), vm.RefValue(dst), vm.IntValue(dstPos), vm.IntValue(n),
		})
		return err
	}

	src := intArray(r, 1, 2, 3, 4, 5)
	dst := intArray(r, 0, 0, 0)
	require.NoError(t, call(src, 1, dst, 0, 3))
	assert.Equal(t, []int32{2, 3, 4}, dst.Ints())

	require.NoError(t, call(src, 0, src, 1, 4), "overlapping")
	assert.Equal(t, []int32{1, 1, 2, 3, 4}, src.Ints())

	longs := r.Loader().Heap().NewArray(vm.ArrayElement{Kind: vm.KindLong}, 3)
	strings := r.Loader().Heap().NewArray(vm.ArrayElement{Kind: vm.KindReference, Class: r.Loader().StringClass()}, 2)
	objects := r.Loader().Heap().NewArray(vm.ArrayElement{Kind: vm.KindReference, Class: mustLookup(t, r, classes.ObjectClass)}, 2)
	objects.(*heap.Array).Store(0, vm.RefValue(r.Loader().Intern("s")))
	objects.(*heap.Array).Store(1, vm.RefValue(new(heap.Object)))

	tests := []struct {
		name  string
		err   error
		class string
	}{
		{"null source", call(nil, 0, dst, 0, 1), vm.NullPointerException},
		{"not an array", call(new(heap.Object), 0, dst, 0, 1), vm.ArrayStoreException},
		{"kind mismatch", call(longs, 0, dst, 0, 1), vm.ArrayStoreException},
		{"past the end", call(src, 3, dst, 0, 3), vm.ArrayIndexOutOfBoundsException},
		{"negative length", call(src, 0, dst, 0, -1), vm.ArrayIndexOutOfBoundsException},
		{"element store check", call(objects, 0, strings, 0, 2), vm.ArrayStoreException},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, ok := vm.AsGuestError(tt.err)
			require.True(t, ok, "got %v", tt.err)
			assert.Equal(t, tt.class, g.Class)
		})
	}
}

func mustLookup(t *testing.T, r *Runtime, name string) *classes.Class {
	t.Helper()
	c, err := r.Loader().Lookup(name)
	require.NoError(t, err)
	return c
}

func TestSysClassDef(t *testing.T) {
	def := SysClassDef()
	assert.Equal(t, SysClass, def.Name)
	require.Len(t, def.Methods, len(sysNatives))
	for _, m := range def.Methods {
		assert.True(t, m.Flags.Has(classes.AccStatic|classes.AccNative), m.Name)
	}

	r, _ := newRuntime(t)
	_, err := r.Loader().Define(def)
	assert.Error(t, err, "already defined by New")
}
