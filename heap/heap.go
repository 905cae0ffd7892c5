// Package heap provides guest objects, arrays and strings, and a vm.Heap
// over them.
package heap

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/jvmcore/vm"
)

// ClassSource supplies the classes the heap cannot derive by itself.
type ClassSource interface {
	// ArrayClass returns the class of arrays with the given element type.
	ArrayClass(elem vm.ArrayElement) vm.ClassInfo
	// StringClass returns java/lang/String.
	StringClass() vm.ClassInfo
}

// Layout is implemented by classes that describe their instance fields.
// Classes that do not implement it produce objects with no fields.
type Layout interface {
	InstanceFieldKinds() []vm.Kind
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

// Object is an instance of a non-array class. Fields are indexed by the
// slot the class assigned them.
type Object struct {
	class  vm.ClassInfo
	Fields []vm.Value
}

// Class returns the object's class.
func (o *Object) Class() vm.ClassInfo { return o.class }

func (o *Object) String() string {
	return fmt.Sprintf("%s@%p", o.class.Name(), o)
}

// String is a guest java/lang/String. Strings are immutable and compared by
// reference like any other object.
type String struct {
	class vm.ClassInfo
	Value string
}

// Class returns java/lang/String.
func (s *String) Class() vm.ClassInfo { return s.class }

func (s *String) String() string {
	return fmt.Sprintf("%q", s.Value)
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// Heap allocates guest objects. It keeps no registry of what it allocated;
// unreachable objects are collected by the Go garbage collector.
type Heap struct {
	classes ClassSource

	objects atomic.Int64
	arrays  atomic.Int64
	strings atomic.Int64
}

// New creates a heap.
func New(classes ClassSource) *Heap {
	return &Heap{classes: classes}
}

// Stats counts allocations.
type Stats struct {
	Objects int64
	Arrays  int64
	Strings int64
}

// Stats returns allocation counts since the heap was created.
func (h *Heap) Stats() Stats {
	return Stats{
		Objects: h.objects.Load(),
		Arrays:  h.arrays.Load(),
		Strings: h.strings.Load(),
	}
}

// NewObject allocates an instance of c with every field at its zero value.
func (h *Heap) NewObject(c vm.ClassInfo) any {
	h.objects.Add(1)
	obj := &Object{class: c}
	if l, ok := c.(Layout); ok {
		kinds := l.InstanceFieldKinds()
		obj.Fields = make([]vm.Value, len(kinds))
		for i, k := range kinds {
			obj.Fields[i] = vm.ZeroValue(k)
		}
	}
	return obj
}

// NewString allocates a string.
func (h *Heap) NewString(s string) *String {
	h.strings.Add(1)
	return &String{class: h.classes.StringClass(), Value: s}
}

// NewArray allocates an array of length zero-valued elements.
func (h *Heap) NewArray(elem vm.ArrayElement, length int) any {
	h.arrays.Add(1)
	return newArray(h.classes.ArrayClass(elem), elem, length)
}

// ClassOf returns the class of any heap value.
func (h *Heap) ClassOf(obj any) vm.ClassInfo {
	switch o := obj.(type) {
	case *Object:
		return o.class
	case *Array:
		return o.class
	case *String:
		return o.class
	}
	return nil
}

// IsInstance reports whether obj may be used where c is expected.
func (h *Heap) IsInstance(obj any, c vm.ClassInfo) bool {
	oc := h.ClassOf(obj)
	return oc != nil && oc.IsAssignableTo(c)
}

// ArrayLength returns the length of arr.
func (h *Heap) ArrayLength(arr any) int {
	return arr.(*Array).Len()
}

// ArrayLoad reads arr[index].
func (h *Heap) ArrayLoad(arr any, index int) vm.Value {
	return arr.(*Array).Load(index)
}

// ArrayStore writes arr[index].
func (h *Heap) ArrayStore(arr any, index int, v vm.Value) {
	arr.(*Array).Store(index, v)
}

// CanStore reports whether v may be stored into the reference array arr.
func (h *Heap) CanStore(arr any, v any) bool {
	a := arr.(*Array)
	if a.elem.Kind != vm.KindReference {
		return false
	}
	return v == nil || a.elem.Class == nil || h.IsInstance(v, a.elem.Class)
}

var _ vm.Heap = (*Heap)(nil)
