// Package classes loads guest classes from program images and provides
// the class, method, field and constant pool implementations the
// interpreter runs against.
package classes

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"github.com/chazu/jvmcore/heap"
	"github.com/chazu/jvmcore/vm"
)

// Bootstrap class names.
const (
	ObjectClass = "java/lang/Object"
	StringClass = "java/lang/String"
)

// Loader owns the classes of one VM instance, the heap their instances
// live in, and the queue of class initializers waiting to run.
type Loader struct {
	mu      sync.Mutex
	classes map[string]*Class
	arrays  map[vm.ArrayElement]*Class
	strings map[string]*heap.String
	pending map[*vm.Thread][]*Class

	heap *heap.Heap
	log  commonlog.Logger
}

// NewLoader creates a loader holding the bootstrap classes.
func NewLoader() *Loader {
	l := &Loader{
		classes: make(map[string]*Class),
		arrays:  make(map[vm.ArrayElement]*Class),
		strings: make(map[string]*heap.String),
		pending: make(map[*vm.Thread][]*Class),
		log:     commonlog.GetLogger("jvmcore.classes"),
	}
	l.heap = heap.New(l)

	object := l.bootstrap(ObjectClass, nil)
	l.bootstrap(StringClass, object)
	return l
}

func (l *Loader) bootstrap(name string, super *Class) *Class {
	c := &Class{
		name:   name,
		flags:  AccPublic,
		super:  super,
		loader: l,
		state:  Initialized,
	}
	c.pool = newConstantPool(l, []Constant{{}})
	c.link()
	l.classes[name] = c
	return c
}

// Heap returns the heap allocating instances of this loader's classes.
func (l *Loader) Heap() *heap.Heap { return l.heap }

// Define links a class definition. Its superclass and interfaces must be
// defined already.
func (l *Loader) Define(def ClassDef) (*Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.define(def)
}

func (l *Loader) define(def ClassDef) (*Class, error) {
	if def.Name == "" || strings.HasPrefix(def.Name, "[") {
		return nil, errors.Errorf("invalid class name %q", def.Name)
	}
	if _, ok := l.classes[def.Name]; ok {
		return nil, errors.Errorf("class %s already defined", def.Name)
	}

	c := &Class{name: def.Name, flags: def.Flags, loader: l}
	superName := def.Super
	if superName == "" {
		superName = ObjectClass
	}
	super, ok := l.classes[superName]
	if !ok {
		return nil, errors.Errorf("class %s: superclass %s not defined", def.Name, superName)
	}
	if super.IsInterface() {
		return nil, errors.Errorf("class %s: superclass %s is an interface", def.Name, superName)
	}
	c.super = super
	for _, name := range def.Interfaces {
		iface, ok := l.classes[name]
		if !ok {
			return nil, errors.Errorf("class %s: interface %s not defined", def.Name, name)
		}
		if !iface.IsInterface() {
			return nil, errors.Errorf("class %s: %s is not an interface", def.Name, name)
		}
		c.interfaces = append(c.interfaces, iface)
	}

	constants := def.Constants
	if len(constants) == 0 {
		constants = []Constant{{}}
	}
	c.pool = newConstantPool(l, constants)

	for _, fd := range def.Fields {
		f, err := newField(c, fd)
		if err != nil {
			return nil, err
		}
		c.fields = append(c.fields, f)
	}
	for _, md := range def.Methods {
		if c.Method(md.Name, md.Descriptor) != nil {
			return nil, errors.Errorf("class %s: duplicate method %s%s", def.Name, md.Name, md.Descriptor)
		}
		m, err := newMethod(c, md)
		if err != nil {
			return nil, err
		}
		c.methods = append(c.methods, m)
	}

	c.link()
	l.classes[c.name] = c
	l.log.Debugf("defined %s (%d methods, %d fields)", c.name, len(c.methods), len(c.fields))
	return c, nil
}

// Lookup returns a loaded class. Names starting with '[' denote array
// classes, which are created on demand. An unknown class is a
// NoClassDefFoundError.
func (l *Loader) Lookup(name string) (*Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookup(name)
}

func (l *Loader) lookup(name string) (*Class, error) {
	if c, ok := l.classes[name]; ok {
		return c, nil
	}
	if !strings.HasPrefix(name, "[") {
		return nil, vm.NewGuestError(vm.NoClassDefFoundError, "%s", name)
	}
	elem, err := l.elementOf(name[1:])
	if err != nil {
		return nil, err
	}
	return l.arrayClass(elem), nil
}

// elementOf parses the element part of an array class name.
func (l *Loader) elementOf(desc string) (vm.ArrayElement, error) {
	if desc == "" {
		return vm.ArrayElement{}, vm.NewGuestError(vm.NoClassDefFoundError, "[")
	}
	switch desc[0] {
	case 'L':
		if !strings.HasSuffix(desc, ";") {
			return vm.ArrayElement{}, vm.NewGuestError(vm.NoClassDefFoundError, "[%s", desc)
		}
		c, err := l.lookup(desc[1 : len(desc)-1])
		if err != nil {
			return vm.ArrayElement{}, err
		}
		return vm.ArrayElement{Kind: vm.KindReference, Class: c}, nil
	case '[':
		c, err := l.lookup(desc)
		if err != nil {
			return vm.ArrayElement{}, err
		}
		return vm.ArrayElement{Kind: vm.KindReference, Class: c}, nil
	}
	k, ok := vm.KindFromDescriptor(desc[0])
	if !ok || k == vm.KindVoid || len(desc) != 1 {
		return vm.ArrayElement{}, vm.NewGuestError(vm.NoClassDefFoundError, "[%s", desc)
	}
	return vm.ArrayElement{Kind: k}, nil
}

// ArrayClass returns the class of arrays with the given element type.
func (l *Loader) ArrayClass(elem vm.ArrayElement) vm.ClassInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arrayClass(elem)
}

func (l *Loader) arrayClass(elem vm.ArrayElement) *Class {
	if c, ok := l.arrays[elem]; ok {
		return c
	}
	c := &Class{
		name:   "[" + elementName(elem),
		flags:  AccPublic | AccFinal,
		super:  l.classes[ObjectClass],
		loader: l,
		elem:   &elem,
		state:  Initialized,
	}
	c.pool = newConstantPool(l, []Constant{{}})
	c.link()
	l.arrays[elem] = c
	return c
}

func elementName(elem vm.ArrayElement) string {
	switch elem.Kind {
	case vm.KindBoolean:
		return "Z"
	case vm.KindByte:
		return "B"
	case vm.KindChar:
		return "C"
	case vm.KindShort:
		return "S"
	case vm.KindInt:
		return "I"
	case vm.KindFloat:
		return "F"
	case vm.KindLong:
		return "J"
	case vm.KindDouble:
		return "D"
	}
	if elem.Class == nil {
		return "L" + ObjectClass + ";"
	}
	name := elem.Class.Name()
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// StringClass returns java/lang/String.
func (l *Loader) StringClass() vm.ClassInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classes[StringClass]
}

// Intern returns the canonical string object for s.
func (l *Loader) Intern(s string) *heap.String {
	l.mu.Lock()
	if str, ok := l.strings[s]; ok {
		l.mu.Unlock()
		return str
	}
	l.mu.Unlock()

	str := l.heap.NewString(s)
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.strings[s]; ok {
		return prev
	}
	l.strings[s] = str
	return str
}

// Classes returns the names of all non-array classes, sorted.
func (l *Loader) Classes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.classes))
	for name := range l.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Initializer queue
// ---------------------------------------------------------------------------

func (l *Loader) requestInit(t *vm.Thread, c *Class) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[t] = append(l.pending[t], c)
	l.log.Debugf("thread %d waits for %s.<clinit>", t.ID(), c.name)
}

// TakePendingInit removes and returns the next class whose initializer t
// is waiting for.
func (l *Loader) TakePendingInit(t *vm.Thread) (*Class, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.pending[t]
	if len(q) == 0 {
		return nil, false
	}
	c := q[0]
	if len(q) == 1 {
		delete(l.pending, t)
	} else {
		l.pending[t] = q[1:]
	}
	return c, true
}

// HasPendingInit reports whether t waits for an initializer to be run.
func (l *Loader) HasPendingInit(t *vm.Thread) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending[t]) > 0
}

// AbandonInit releases every class t was about to initialize or was
// initializing. Call it when t stops for good.
func (l *Loader) AbandonInit(t *vm.Thread) {
	l.mu.Lock()
	q := l.pending[t]
	delete(l.pending, t)
	all := make([]*Class, 0, len(l.classes))
	for _, c := range l.classes {
		all = append(all, c)
	}
	l.mu.Unlock()

	for _, c := range q {
		c.abandon(t)
	}
	for _, c := range all {
		c.abandon(t)
	}
}

var _ heap.ClassSource = (*Loader)(nil)
