package classes

import (
	"fmt"
	"sync"

	"github.com/chazu/jvmcore/vm"
)

// InitState tracks a class through static initialization.
type InitState uint8

const (
	Uninitialized InitState = iota
	Pending                 // a thread asked for <clinit>; the scheduler has not started it
	Initializing            // <clinit> is running on initThread
	Initialized
	Erroneous // <clinit> threw or its thread died
)

func (s InitState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Pending:
		return "pending"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case Erroneous:
		return "erroneous"
	}
	return fmt.Sprintf("InitState(%d)", uint8(s))
}

// Class is a loaded class, interface or array class. It implements
// vm.ClassInfo and heap.Layout.
type Class struct {
	name       string
	flags      AccessFlags
	super      *Class
	interfaces []*Class
	loader     *Loader
	pool       *ConstantPool

	methods []*Method
	fields  []*Field
	vtable  []*Method
	clinit  *Method

	instanceKinds []vm.Kind
	statics       []vm.Value

	// elem is set for array classes.
	elem *vm.ArrayElement

	mu         sync.Mutex
	state      InitState
	initThread *vm.Thread
}

func (c *Class) Name() string                  { return c.name }
func (c *Class) Flags() AccessFlags            { return c.flags }
func (c *Class) Super() *Class                 { return c.super }
func (c *Class) Interfaces() []*Class          { return c.interfaces }
func (c *Class) ConstantPool() vm.ConstantPool { return c.pool }
func (c *Class) Pool() *ConstantPool           { return c.pool }
func (c *Class) Methods() []*Method            { return c.methods }
func (c *Class) Fields() []*Field              { return c.fields }
func (c *Class) IsInterface() bool             { return c.flags.Has(AccInterface) }
func (c *Class) IsArray() bool                 { return c.elem != nil }
func (c *Class) String() string                { return c.name }

// InstanceFieldKinds lists the kinds of every instance field, inherited
// fields first, in slot order.
func (c *Class) InstanceFieldKinds() []vm.Kind { return c.instanceKinds }

// Element returns the element type of an array class.
func (c *Class) Element() (vm.ArrayElement, bool) {
	if c.elem == nil {
		return vm.ArrayElement{}, false
	}
	return *c.elem, true
}

// State returns the initialization state.
func (c *Class) State() InitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Method returns the method declared by c with the given name and
// descriptor, or nil.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.methods {
		if m.name == name && m.desc == desc {
			return m
		}
	}
	return nil
}

// FindMethod looks up a method in c, its superclasses and then its
// superinterfaces.
func (c *Class) FindMethod(name, desc string) *Method {
	for k := c; k != nil; k = k.super {
		if m := k.Method(name, desc); m != nil {
			return m
		}
	}
	for k := c; k != nil; k = k.super {
		for _, iface := range k.interfaces {
			if m := iface.FindMethod(name, desc); m != nil {
				return m
			}
		}
	}
	return nil
}

// FindField looks up a field in c, its superinterfaces and then its
// superclasses.
func (c *Class) FindField(name, desc string) *Field {
	for _, f := range c.fields {
		if f.name == name && f.desc == desc {
			return f
		}
	}
	for _, iface := range c.interfaces {
		if f := iface.FindField(name, desc); f != nil {
			return f
		}
	}
	if c.super != nil {
		return c.super.FindField(name, desc)
	}
	return nil
}

// IsAssignableTo reports whether instances of c may be used where other is
// expected.
func (c *Class) IsAssignableTo(other vm.ClassInfo) bool {
	o, ok := other.(*Class)
	if !ok {
		return false
	}
	if c == o {
		return true
	}
	if c.elem != nil {
		if o.elem != nil {
			ce, oe := c.elem, o.elem
			if ce.Kind != vm.KindReference || oe.Kind != vm.KindReference {
				return false
			}
			cc, _ := ce.Class.(*Class)
			oc, _ := oe.Class.(*Class)
			return cc != nil && oc != nil && cc.IsAssignableTo(oc)
		}
		return o == c.super
	}
	for k := c; k != nil; k = k.super {
		if k == o {
			return true
		}
		for _, iface := range k.interfaces {
			if iface.IsAssignableTo(o) {
				return true
			}
		}
	}
	return false
}

// VirtualMethod returns the vtable entry at slot.
func (c *Class) VirtualMethod(slot int) vm.MethodInfo {
	if slot < 0 || slot >= len(c.vtable) {
		return nil
	}
	return c.vtable[slot]
}

// InterfaceMethod returns c's implementation of the interface method m.
func (c *Class) InterfaceMethod(m vm.MethodInfo) vm.MethodInfo {
	name, desc := m.Name(), m.Descriptor()
	for i := len(c.vtable) - 1; i >= 0; i-- {
		if impl := c.vtable[i]; impl.name == name && impl.desc == desc {
			return impl
		}
	}
	// A default method inherited from an interface.
	if im := c.FindMethod(name, desc); im != nil && !im.IsAbstract() && !im.IsStatic() {
		return im
	}
	return nil
}

// link builds the vtable and field layout. The superclass and interfaces
// must already be linked.
func (c *Class) link() {
	if c.super != nil {
		c.vtable = append([]*Method(nil), c.super.vtable...)
		c.instanceKinds = append([]vm.Kind(nil), c.super.instanceKinds...)
	}
	for _, m := range c.methods {
		if m.name == "<clinit>" {
			c.clinit = m
		}
		if !m.isVirtual() || c.IsInterface() {
			continue
		}
		m.vtableIndex = len(c.vtable)
		for i, sm := range c.vtable {
			if sm.name == m.name && sm.desc == m.desc {
				m.vtableIndex = i
				break
			}
		}
		if m.vtableIndex == len(c.vtable) {
			c.vtable = append(c.vtable, m)
		} else {
			c.vtable[m.vtableIndex] = m
		}
	}
	for _, f := range c.fields {
		if f.IsStatic() {
			f.slot = len(c.statics)
			c.statics = append(c.statics, vm.ZeroValue(f.kind))
		} else {
			f.slot = len(c.instanceKinds)
			c.instanceKinds = append(c.instanceKinds, f.kind)
		}
	}
}

// ---------------------------------------------------------------------------
// Initialization
// ---------------------------------------------------------------------------

// EnsureInitialized reports whether t may use the class now. A class with
// a <clinit> is queued on the loader for t and the thread is paused; the
// scheduler runs the initializer and resumes t, which then retries. The
// thread running <clinit> may use the class while it is initializing. A
// class whose initializer failed, or whose superclass's did, answers
// NoClassDefFoundError.
func (c *Class) EnsureInitialized(t *vm.Thread) (vm.Suspension, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Initialized:
		return vm.Running, nil
	case Initializing:
		if c.initThread == t {
			return vm.Running, nil
		}
		return vm.Pausing, nil
	case Pending:
		return vm.Pausing, nil
	case Erroneous:
		return vm.Running, vm.NewGuestError(vm.NoClassDefFoundError, "could not initialize class %s", c.name)
	}

	if c.super != nil {
		if s, err := c.super.EnsureInitialized(t); err != nil || s != vm.Running {
			return s, err
		}
	}
	if c.clinit == nil {
		c.state = Initialized
		return vm.Running, nil
	}
	c.state = Pending
	c.initThread = t
	c.loader.requestInit(t, c)
	return vm.Pausing, nil
}

// Initializer returns the class's <clinit>, or nil.
func (c *Class) Initializer() *Method { return c.clinit }

// BeginInit moves a pending class to Initializing on t.
func (c *Class) BeginInit(t *vm.Thread) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Pending || c.initThread != t {
		return false
	}
	c.state = Initializing
	return true
}

// FinishInit records the outcome of <clinit>.
func (c *Class) FinishInit(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.state = Initialized
		c.loader.log.Debugf("initialized %s", c.name)
	} else {
		c.state = Erroneous
		c.loader.log.Warningf("initializer of %s failed", c.name)
	}
	c.initThread = nil
}

// abandon returns a class whose initializing thread went away to
// Uninitialized, so that another thread can start over.
func (c *Class) abandon(t *vm.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initThread == t && (c.state == Pending || c.state == Initializing) {
		c.state = Uninitialized
		c.initThread = nil
	}
}

var _ vm.ClassInfo = (*Class)(nil)
