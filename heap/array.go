package heap

import (
	"fmt"

	"github.com/chazu/jvmcore/vm"
)

// Array is a guest array. Elements are stored in a slice specialised to the
// element kind; int-like kinds share ints and are narrowed on store.
type Array struct {
	class vm.ClassInfo
	elem  vm.ArrayElement

	ints    []int32
	longs   []int64
	floats  []float32
	doubles []float64
	refs    []any
}

func newArray(class vm.ClassInfo, elem vm.ArrayElement, n int) *Array {
	a := &Array{class: class, elem: elem}
	switch {
	case elem.Kind.IsIntLike():
		a.ints = make([]int32, n)
	case elem.Kind == vm.KindLong:
		a.longs = make([]int64, n)
	case elem.Kind == vm.KindFloat:
		a.floats = make([]float32, n)
	case elem.Kind == vm.KindDouble:
		a.doubles = make([]float64, n)
	case elem.Kind == vm.KindReference:
		a.refs = make([]any, n)
	default:
		panic(fmt.Sprintf("heap: no arrays of %s", elem.Kind))
	}
	return a
}

// Class returns the array class.
func (a *Array) Class() vm.ClassInfo { return a.class }

// Element returns the element type.
func (a *Array) Element() vm.ArrayElement { return a.elem }

// Len returns the number of elements.
func (a *Array) Len() int {
	switch {
	case a.ints != nil:
		return len(a.ints)
	case a.longs != nil:
		return len(a.longs)
	case a.floats != nil:
		return len(a.floats)
	case a.doubles != nil:
		return len(a.doubles)
	}
	return len(a.refs)
}

// Load returns element i. The caller checks bounds.
func (a *Array) Load(i int) vm.Value {
	switch k := a.elem.Kind; {
	case k.IsIntLike():
		return vm.KindedInt(k, a.ints[i])
	case k == vm.KindLong:
		return vm.LongValue(a.longs[i])
	case k == vm.KindFloat:
		return vm.FloatValue(a.floats[i])
	case k == vm.KindDouble:
		return vm.DoubleValue(a.doubles[i])
	}
	return vm.RefValue(a.refs[i])
}

// Store writes element i, narrowing int-like values to the element kind.
func (a *Array) Store(i int, v vm.Value) {
	switch k := a.elem.Kind; {
	case k.IsIntLike():
		a.ints[i] = vm.KindedInt(k, v.Int()).Int()
	case k == vm.KindLong:
		a.longs[i] = v.Long()
	case k == vm.KindFloat:
		a.floats[i] = v.Float()
	case k == vm.KindDouble:
		a.doubles[i] = v.Double()
	default:
		a.refs[i] = v.Ref()
	}
}

// Ints exposes the backing store of an int-like array, nil otherwise.
func (a *Array) Ints() []int32 { return a.ints }

func (a *Array) String() string {
	name := a.elem.Kind.String()
	if a.elem.Class != nil {
		name = a.elem.Class.Name()
	}
	return fmt.Sprintf("%s[%d]", name, a.Len())
}
