package vm

// ---------------------------------------------------------------------------
// Collaborators: the narrow interfaces the interpreter is written against.
// Class loading, object layout and native code live behind these.
// ---------------------------------------------------------------------------

// Suspension is a collaborator's answer to "may this thread keep running?".
type Suspension uint8

const (
	Running  Suspension = iota // proceed
	Pausing                    // yield at the current safe point and resume later
	Stopping                   // yield permanently
)

func (s Suspension) String() string {
	switch s {
	case Running:
		return "running"
	case Pausing:
		return "pausing"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// MethodInfo describes a method the interpreter can call or run.
type MethodInfo interface {
	Name() string
	Descriptor() string
	Class() ClassInfo

	// ArgumentSlots counts parameter slots including the receiver.
	ArgumentSlots() int
	// MaxLocals counts all local slots, parameters included.
	MaxLocals() int
	MaxStack() int
	Code() []byte

	// ParameterKinds lists declared parameter kinds, receiver excluded.
	ParameterKinds() []Kind
	ReturnKind() Kind

	IsStatic() bool
	IsNative() bool
	IsCompiled() bool
	IsAbstract() bool
	IsSynchronized() bool
	VTableIndex() int
}

// ClassInfo describes a loaded class.
type ClassInfo interface {
	Name() string
	ConstantPool() ConstantPool

	// IsAssignableTo reports whether instances of this class may be used
	// where other is expected.
	IsAssignableTo(other ClassInfo) bool

	// VirtualMethod returns the vtable entry at slot, nil if out of range.
	VirtualMethod(slot int) MethodInfo
	// InterfaceMethod returns this class's implementation of m, or nil.
	InterfaceMethod(m MethodInfo) MethodInfo

	// EnsureInitialized runs, or arranges to run, the class initializer.
	// Running means the class may be used now. An error means the class
	// can never be used; it is raised as a guest exception.
	EnsureInitialized(t *Thread) (Suspension, error)
}

// ConstantTag identifies the kind of a constant pool entry.
type ConstantTag uint8

const (
	TagUtf8               ConstantTag = 1
	TagInteger            ConstantTag = 3
	TagFloat              ConstantTag = 4
	TagLong               ConstantTag = 5
	TagDouble             ConstantTag = 6
	TagClass              ConstantTag = 7
	TagString             ConstantTag = 8
	TagFieldref           ConstantTag = 9
	TagMethodref          ConstantTag = 10
	TagInterfaceMethodref ConstantTag = 11
	TagNameAndType        ConstantTag = 12
)

// ConstantPool resolves symbolic references of one class. Resolution errors
// are returned; a *GuestError names the throwable to raise, anything else is
// raised as the linkage error matching the entry's tag.
type ConstantPool interface {
	PeekTag(index int) ConstantTag
	Resolve(index int, tag ConstantTag) (Value, error)
	ResolveClass(index int) (ClassInfo, error)
	ResolveField(index int, isStatic bool) (FieldInfo, error)
	ResolveMethod(index int, isStatic bool) (MethodInfo, error)
}

// FieldInfo describes a resolved field.
type FieldInfo interface {
	Name() string
	Kind() Kind
	Class() ClassInfo
	IsStatic() bool
	Get(obj any) Value
	Set(obj any, v Value)
	GetStatic() Value
	SetStatic(v Value)
}

// ArrayElement describes the element type of a new array. Class is set for
// reference arrays only.
type ArrayElement struct {
	Kind  Kind
	Class ClassInfo
}

// Heap allocates and inspects guest objects and arrays. Callers perform
// null and bounds checks before calling.
type Heap interface {
	NewObject(c ClassInfo) any
	NewArray(elem ArrayElement, length int) any
	ClassOf(obj any) ClassInfo
	IsInstance(obj any, c ClassInfo) bool

	ArrayLength(arr any) int
	ArrayLoad(arr any, index int) Value
	ArrayStore(arr any, index int, v Value)
	// CanStore reports whether v may be stored into the reference array arr.
	CanStore(arr any, v any) bool
}

// ExecutionContext is the runtime the interpreter runs inside.
type ExecutionContext interface {
	Heap() Heap

	MonitorEnter(t *Thread, obj any) Suspension
	MonitorExit(t *Thread, obj any) error

	// CallNative runs a native or compiled method. The Suspension is honoured
	// after the call completes.
	CallNative(t *Thread, m MethodInfo, receiver Value, args []Value) (Value, Suspension, error)

	// Safepoint is polled on backward branches.
	Safepoint(t *Thread) Suspension

	// RaiseException records a guest exception raised on t.
	RaiseException(t *Thread, err *GuestError)
}

// TraceWriter receives indented diagnostic lines.
type TraceWriter interface {
	WriteLn(s string)
	Indent()
	Outdent()
}
