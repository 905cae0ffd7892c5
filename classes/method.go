package classes

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/chazu/jvmcore/heap"
	"github.com/chazu/jvmcore/vm"
)

// ---------------------------------------------------------------------------
// Method
// ---------------------------------------------------------------------------

// Method is a method of a loaded class. It implements vm.MethodInfo.
type Method struct {
	class      *Class
	name, desc string
	flags      AccessFlags

	maxLocals, maxStack int
	code                []byte

	params   []vm.Kind
	ret      vm.Kind
	argSlots int

	vtableIndex int
	compiled    atomic.Bool
}

func newMethod(c *Class, def MethodDef) (*Method, error) {
	params, ret, err := vm.ParseMethodDescriptor(def.Descriptor)
	if err != nil {
		return nil, errors.Wrapf(err, "method %s.%s", c.name, def.Name)
	}
	m := &Method{
		class:       c,
		name:        def.Name,
		desc:        def.Descriptor,
		flags:       def.Flags,
		maxLocals:   def.MaxLocals,
		maxStack:    def.MaxStack,
		code:        def.Code,
		params:      params,
		ret:         ret,
		argSlots:    vm.SlotCount(params),
		vtableIndex: -1,
	}
	if !m.IsStatic() {
		m.argSlots++
	}
	if m.maxLocals < m.argSlots {
		m.maxLocals = m.argSlots
	}

	hasBody := !m.IsNative() && !m.IsAbstract()
	switch {
	case hasBody && len(m.code) == 0:
		return nil, errors.Errorf("method %s has no code", m)
	case !hasBody && len(m.code) > 0:
		return nil, errors.Errorf("%s method %s has code", m.flags, m)
	case m.maxStack < 0:
		return nil, errors.Errorf("method %s has negative max stack", m)
	}
	return m, nil
}

func (m *Method) Name() string              { return m.name }
func (m *Method) Descriptor() string        { return m.desc }
func (m *Method) Class() vm.ClassInfo       { return m.class }
func (m *Method) Owner() *Class             { return m.class }
func (m *Method) Flags() AccessFlags        { return m.flags }
func (m *Method) ArgumentSlots() int        { return m.argSlots }
func (m *Method) MaxLocals() int            { return m.maxLocals }
func (m *Method) MaxStack() int             { return m.maxStack }
func (m *Method) Code() []byte              { return m.code }
func (m *Method) ParameterKinds() []vm.Kind { return m.params }
func (m *Method) ReturnKind() vm.Kind       { return m.ret }
func (m *Method) IsStatic() bool            { return m.flags.Has(AccStatic) }
func (m *Method) IsNative() bool            { return m.flags.Has(AccNative) }
func (m *Method) IsAbstract() bool          { return m.flags.Has(AccAbstract) }
func (m *Method) IsSynchronized() bool      { return m.flags.Has(AccSynchronized) }
func (m *Method) VTableIndex() int          { return m.vtableIndex }

// IsCompiled reports whether a Go implementation replaced the bytecode.
func (m *Method) IsCompiled() bool { return m.compiled.Load() }

// SetCompiled marks the method as having a Go implementation. Calls to a
// compiled method go through the execution context instead of the
// interpreter.
func (m *Method) SetCompiled(on bool) { m.compiled.Store(on) }

// Key returns "Class.name(desc)", the form natives are registered under.
func (m *Method) Key() string {
	return m.class.name + "." + m.name + m.desc
}

func (m *Method) String() string { return m.Key() }

// isVirtual reports whether the method takes part in vtable dispatch.
func (m *Method) isVirtual() bool {
	return !m.IsStatic() && !m.flags.Has(AccPrivate) && m.name != "<init>" && m.name != "<clinit>"
}

// ---------------------------------------------------------------------------
// Field
// ---------------------------------------------------------------------------

// Field is a field of a loaded class. It implements vm.FieldInfo. Instance
// fields index heap.Object.Fields; static fields index the class's static
// storage.
type Field struct {
	class      *Class
	name, desc string
	flags      AccessFlags
	kind       vm.Kind
	slot       int
}

func newField(c *Class, def FieldDef) (*Field, error) {
	if def.Descriptor == "" {
		return nil, errors.Errorf("field %s.%s has no descriptor", c.name, def.Name)
	}
	k, err := vm.ParseFieldDescriptor(def.Descriptor)
	if err != nil {
		return nil, errors.Wrapf(err, "field %s.%s", c.name, def.Name)
	}
	return &Field{class: c, name: def.Name, desc: def.Descriptor, flags: def.Flags, kind: k}, nil
}

func (f *Field) Name() string        { return f.name }
func (f *Field) Descriptor() string  { return f.desc }
func (f *Field) Kind() vm.Kind       { return f.kind }
func (f *Field) Class() vm.ClassInfo { return f.class }
func (f *Field) IsStatic() bool      { return f.flags.Has(AccStatic) }
func (f *Field) Slot() int           { return f.slot }

// Get reads the field of obj, which must be a *heap.Object.
func (f *Field) Get(obj any) vm.Value {
	return obj.(*heap.Object).Fields[f.slot]
}

// Set writes the field of obj, narrowing int-like values.
func (f *Field) Set(obj any, v vm.Value) {
	obj.(*heap.Object).Fields[f.slot] = f.narrow(v)
}

// GetStatic reads a static field.
func (f *Field) GetStatic() vm.Value {
	return f.class.statics[f.slot]
}

// SetStatic writes a static field.
func (f *Field) SetStatic(v vm.Value) {
	f.class.statics[f.slot] = f.narrow(v)
}

func (f *Field) narrow(v vm.Value) vm.Value {
	if f.kind.IsIntLike() {
		return vm.KindedInt(f.kind, v.Int())
	}
	return v
}

func (f *Field) String() string {
	return f.class.name + "." + f.name + ":" + f.desc
}
