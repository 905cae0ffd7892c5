package rt

import (
	"fmt"
	"time"

	"github.com/chazu/jvmcore/classes"
	"github.com/chazu/jvmcore/heap"
	"github.com/chazu/jvmcore/vm"
)

// SysClass is the class holding the runtime's built-in natives.
const SysClass = "jvmcore/Sys"

type sysNative struct {
	name, desc string
	fn         func(r *Runtime) NativeFunc
}

var sysNatives = []sysNative{
	{"print", "(I)V", printer("%d", func(v vm.Value) any { return v.Int() })},
	{"print", "(J)V", printer("%d", func(v vm.Value) any { return v.Long() })},
	{"print", "(F)V", printer("%g", func(v vm.Value) any { return v.Float() })},
	{"print", "(D)V", printer("%g", func(v vm.Value) any { return v.Double() })},
	{"print", "(Ljava/lang/String;)V", printer("%s", describe)},
	{"yield", "()V", func(*Runtime) NativeFunc {
		return func(*vm.Thread, vm.Value, []vm.Value) (vm.Value, vm.Suspension, error) {
			return vm.Void, vm.Pausing, nil
		}
	}},
	{"exit", "()V", func(*Runtime) NativeFunc {
		return func(*vm.Thread, vm.Value, []vm.Value) (vm.Value, vm.Suspension, error) {
			return vm.Void, vm.Stopping, nil
		}
	}},
	{"threadId", "()I", func(*Runtime) NativeFunc {
		return func(t *vm.Thread, _ vm.Value, _ []vm.Value) (vm.Value, vm.Suspension, error) {
			return vm.IntValue(int32(t.ID())), vm.Running, nil
		}
	}},
	{"nanoTime", "()J", func(*Runtime) NativeFunc {
		return func(*vm.Thread, vm.Value, []vm.Value) (vm.Value, vm.Suspension, error) {
			return vm.LongValue(time.Now().UnixNano()), vm.Running, nil
		}
	}},
	{"arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", func(r *Runtime) NativeFunc { return r.arraycopy }},
}

func printer(format string, get func(vm.Value) any) func(r *Runtime) NativeFunc {
	return func(r *Runtime) NativeFunc {
		return func(_ *vm.Thread, _ vm.Value, args []vm.Value) (vm.Value, vm.Suspension, error) {
			fmt.Fprintf(r.out, format+"\n", get(args[0]))
			return vm.Void, vm.Running, nil
		}
	}
}

func describe(v vm.Value) any {
	switch s := v.Ref().(type) {
	case nil:
		return "null"
	case *heap.String:
		return s.Value
	default:
		return fmt.Sprint(s)
	}
}

func (r *Runtime) registerSys() {
	for _, n := range sysNatives {
		r.natives[SysClass+"."+n.name+n.desc] = n.fn(r)
	}
}

// SysClassDef returns the definition of the Sys class for inclusion in
// program images. Every method is a static native served by the runtime.
func SysClassDef() classes.ClassDef {
	def := classes.ClassDef{Name: SysClass, Flags: classes.AccPublic | classes.AccFinal}
	for _, n := range sysNatives {
		def.Methods = append(def.Methods, classes.MethodDef{
			Name:       n.name,
			Descriptor: n.desc,
			Flags:      classes.AccPublic | classes.AccStatic | classes.AccNative,
		})
	}
	return def
}

// arraycopy copies length elements between arrays of the same element
// kind, with the checks System.arraycopy makes. Overlapping copies within
// one array behave as if through a temporary.
func (r *Runtime) arraycopy(_ *vm.Thread, _ vm.Value, args []vm.Value) (vm.Value, vm.Suspension, error) {
	srcRef, srcPos, dstRef, dstPos, n := args[0].Ref(), int(args[1].Int()), args[2].Ref(), int(args[3].Int()), int(args[4].Int())
	if srcRef == nil || dstRef == nil {
		return vm.Void, vm.Running, vm.NewGuestError(vm.NullPointerException, "arraycopy")
	}
	src, ok1 := srcRef.(*heap.Array)
	dst, ok2 := dstRef.(*heap.Array)
	if !ok1 || !ok2 {
		return vm.Void, vm.Running, vm.NewGuestError(vm.ArrayStoreException, "arraycopy: not an array")
	}
	se, de := src.Element(), dst.Element()
	if se.Kind != de.Kind {
		return vm.Void, vm.Running, vm.NewGuestError(vm.ArrayStoreException, "arraycopy: %s into %s", src, dst)
	}
	if srcPos < 0 || dstPos < 0 || n < 0 || srcPos+n > src.Len() || dstPos+n > dst.Len() {
		return vm.Void, vm.Running, vm.NewGuestError(vm.ArrayIndexOutOfBoundsException,
			"arraycopy: last source index %d out of bounds for length %d", srcPos+n, src.Len())
	}

	h := r.loader.Heap()
	tmp := make([]vm.Value, n)
	for i := range tmp {
		tmp[i] = src.Load(srcPos + i)
	}
	for i, v := range tmp {
		if se.Kind == vm.KindReference && !h.CanStore(dst, v.Ref()) {
			return vm.Void, vm.Running, vm.NewGuestError(vm.ArrayStoreException, "arraycopy: element %d", srcPos+i)
		}
		dst.Store(dstPos+i, v)
	}
	return vm.Void, vm.Running, nil
}
