package classes

import (
	"github.com/pkg/errors"

	"github.com/chazu/jvmcore/vm"
)

// Constant is one constant pool entry in its symbolic form. Which fields
// are meaningful depends on Tag.
type Constant struct {
	Tag vm.ConstantTag `cbor:"tag"`

	Int    int32   `cbor:"i,omitempty"`
	Long   int64   `cbor:"j,omitempty"`
	Float  float32 `cbor:"f,omitempty"`
	Double float64 `cbor:"d,omitempty"`

	// Text is the string of Utf8 and String entries.
	Text string `cbor:"s,omitempty"`
	// Class names the class of Class entries and of member references.
	Class string `cbor:"c,omitempty"`
	// Name and Descriptor identify the member of a reference.
	Name       string `cbor:"n,omitempty"`
	Descriptor string `cbor:"t,omitempty"`
}

// Constant constructors used when assembling images.
func IntConst(v int32) Constant      { return Constant{Tag: vm.TagInteger, Int: v} }
func LongConst(v int64) Constant     { return Constant{Tag: vm.TagLong, Long: v} }
func FloatConst(v float32) Constant  { return Constant{Tag: vm.TagFloat, Float: v} }
func DoubleConst(v float64) Constant { return Constant{Tag: vm.TagDouble, Double: v} }
func StringConst(s string) Constant  { return Constant{Tag: vm.TagString, Text: s} }
func ClassRef(name string) Constant  { return Constant{Tag: vm.TagClass, Class: name} }

func FieldRef(class, name, desc string) Constant {
	return Constant{Tag: vm.TagFieldref, Class: class, Name: name, Descriptor: desc}
}

func MethodRef(class, name, desc string) Constant {
	return Constant{Tag: vm.TagMethodref, Class: class, Name: name, Descriptor: desc}
}

func InterfaceMethodRef(class, name, desc string) Constant {
	return Constant{Tag: vm.TagInterfaceMethodref, Class: class, Name: name, Descriptor: desc}
}

// ConstantPool resolves the symbolic references of one class and caches
// the results. Index 0 is never valid. It implements vm.ConstantPool.
type ConstantPool struct {
	loader   *Loader
	entries  []Constant
	resolved []any
}

func newConstantPool(l *Loader, entries []Constant) *ConstantPool {
	return &ConstantPool{loader: l, entries: entries, resolved: make([]any, len(entries))}
}

// Len returns the number of entries, including the unused entry 0.
func (p *ConstantPool) Len() int { return len(p.entries) }

// Entry returns the symbolic entry at index.
func (p *ConstantPool) Entry(index int) (Constant, bool) {
	if index <= 0 || index >= len(p.entries) {
		return Constant{}, false
	}
	return p.entries[index], true
}

func (p *ConstantPool) cached(index int) any {
	if index <= 0 || index >= len(p.resolved) {
		return nil
	}
	return p.resolved[index]
}

// PeekTag returns the tag of the entry at index, 0 if there is none.
func (p *ConstantPool) PeekTag(index int) vm.ConstantTag {
	e, _ := p.Entry(index)
	return e.Tag
}

func (p *ConstantPool) entry(index int, tags ...vm.ConstantTag) (Constant, error) {
	e, ok := p.Entry(index)
	if !ok {
		return e, errors.Errorf("constant pool index %d out of range", index)
	}
	for _, tag := range tags {
		if e.Tag == tag {
			return e, nil
		}
	}
	return e, errors.Errorf("constant pool entry %d has tag %d, want %v", index, e.Tag, tags)
}

// Resolve returns the value of a loadable constant. String constants are
// interned by the loader.
func (p *ConstantPool) Resolve(index int, tag vm.ConstantTag) (vm.Value, error) {
	e, err := p.entry(index, tag)
	if err != nil {
		return vm.Void, err
	}
	switch tag {
	case vm.TagInteger:
		return vm.IntValue(e.Int), nil
	case vm.TagFloat:
		return vm.FloatValue(e.Float), nil
	case vm.TagLong:
		return vm.LongValue(e.Long), nil
	case vm.TagDouble:
		return vm.DoubleValue(e.Double), nil
	case vm.TagString:
		if s, ok := p.cached(index).(vm.Value); ok {
			return s, nil
		}
		s := vm.RefValue(p.loader.Intern(e.Text))
		p.resolved[index] = s
		return s, nil
	}
	return vm.Void, errors.Errorf("constant pool entry %d (tag %d) is not loadable", index, tag)
}

// ResolveClass resolves a Class entry.
func (p *ConstantPool) ResolveClass(index int) (vm.ClassInfo, error) {
	if c, ok := p.cached(index).(*Class); ok {
		return c, nil
	}
	e, err := p.entry(index, vm.TagClass)
	if err != nil {
		return nil, err
	}
	c, err := p.loader.Lookup(e.Class)
	if err != nil {
		return nil, err
	}
	p.resolved[index] = c
	return c, nil
}

// ResolveField resolves a Fieldref entry. A field whose staticness does
// not match the instruction is an IncompatibleClassChangeError.
func (p *ConstantPool) ResolveField(index int, isStatic bool) (vm.FieldInfo, error) {
	f, ok := p.cached(index).(*Field)
	if !ok {
		e, err := p.entry(index, vm.TagFieldref)
		if err != nil {
			return nil, err
		}
		c, err := p.loader.Lookup(e.Class)
		if err != nil {
			return nil, err
		}
		if f = c.FindField(e.Name, e.Descriptor); f == nil {
			return nil, vm.NewGuestError(vm.NoSuchFieldError, "%s.%s:%s", e.Class, e.Name, e.Descriptor)
		}
		p.resolved[index] = f
	}
	if f.IsStatic() != isStatic {
		return nil, vm.NewGuestError(IncompatibleClassChangeError, "%s: static %v", f, f.IsStatic())
	}
	return f, nil
}

// ResolveMethod resolves a Methodref or InterfaceMethodref entry.
func (p *ConstantPool) ResolveMethod(index int, isStatic bool) (vm.MethodInfo, error) {
	m, ok := p.cached(index).(*Method)
	if !ok {
		e, err := p.entry(index, vm.TagMethodref, vm.TagInterfaceMethodref)
		if err != nil {
			return nil, err
		}
		c, err := p.loader.Lookup(e.Class)
		if err != nil {
			return nil, err
		}
		if m = c.FindMethod(e.Name, e.Descriptor); m == nil {
			return nil, vm.NewGuestError(vm.NoSuchMethodError, "%s.%s%s", e.Class, e.Name, e.Descriptor)
		}
		p.resolved[index] = m
	}
	if m.IsStatic() != isStatic {
		return nil, vm.NewGuestError(IncompatibleClassChangeError, "%s: static %v", m, m.IsStatic())
	}
	return m, nil
}

// IncompatibleClassChangeError is raised when a resolved member does not
// match the instruction using it.
const IncompatibleClassChangeError = "java/lang/IncompatibleClassChangeError"

var _ vm.ConstantPool = (*ConstantPool)(nil)
