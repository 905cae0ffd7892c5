package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Kind: storage class of a guest value
// ---------------------------------------------------------------------------

// Kind identifies how a value is laid out in arena slots.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBoolean
	KindByte
	KindChar
	KindShort
	KindInt
	KindFloat
	KindLong
	KindDouble
	KindReference
)

var kindNames = [...]string{
	KindVoid:      "void",
	KindBoolean:   "boolean",
	KindByte:      "byte",
	KindChar:      "char",
	KindShort:     "short",
	KindInt:       "int",
	KindFloat:     "float",
	KindLong:      "long",
	KindDouble:    "double",
	KindReference: "reference",
}

// String implements the Stringer interface.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Slots returns the number of arena slots a value of this kind occupies.
func (k Kind) Slots() int {
	switch k {
	case KindVoid:
		return 0
	case KindLong, KindDouble:
		return 2
	default:
		return 1
	}
}

// IsWide returns true for the two-slot kinds.
func (k Kind) IsWide() bool {
	return k == KindLong || k == KindDouble
}

// IsIntLike returns true for kinds stored as a plain int32 slot.
func (k Kind) IsIntLike() bool {
	switch k {
	case KindBoolean, KindByte, KindChar, KindShort, KindInt:
		return true
	}
	return false
}

// KindFromDescriptor maps a field descriptor's leading character to a Kind.
func KindFromDescriptor(c byte) (Kind, bool) {
	switch c {
	case 'Z':
		return KindBoolean, true
	case 'B':
		return KindByte, true
	case 'C':
		return KindChar, true
	case 'S':
		return KindShort, true
	case 'I':
		return KindInt, true
	case 'F':
		return KindFloat, true
	case 'J':
		return KindLong, true
	case 'D':
		return KindDouble, true
	case 'L', '[':
		return KindReference, true
	case 'V':
		return KindVoid, true
	}
	return KindVoid, false
}

// ---------------------------------------------------------------------------
// Value: a kind-tagged guest value crossing the interpreter boundary
// ---------------------------------------------------------------------------

// Value carries a guest value between the interpreter and its collaborators.
// Primitive kinds keep their raw bits in bits; references live in ref.
type Value struct {
	Kind Kind
	bits uint64
	ref  any
}

// Void is the result of a method that returns nothing.
var Void = Value{Kind: KindVoid}

// Null is the null reference.
var Null = Value{Kind: KindReference}

// IntValue returns an int value.
func IntValue(v int32) Value {
	return Value{Kind: KindInt, bits: uint64(uint32(v))}
}

// KindedInt returns an int-like value of the given kind, narrowed the way a
// store of that kind narrows it.
func KindedInt(k Kind, v int32) Value {
	switch k {
	case KindBoolean:
		v &= 1
	case KindByte:
		v = int32(int8(v))
	case KindChar:
		v = int32(uint16(v))
	case KindShort:
		v = int32(int16(v))
	}
	return Value{Kind: k, bits: uint64(uint32(v))}
}

// FloatValue returns a float value.
func FloatValue(f float32) Value {
	return Value{Kind: KindFloat, bits: uint64(math.Float32bits(f))}
}

// LongValue returns a long value.
func LongValue(v int64) Value {
	return Value{Kind: KindLong, bits: uint64(v)}
}

// DoubleValue returns a double value.
func DoubleValue(d float64) Value {
	return Value{Kind: KindDouble, bits: math.Float64bits(d)}
}

// RefValue returns a reference value. A nil ref is the null reference.
func RefValue(ref any) Value {
	return Value{Kind: KindReference, ref: ref}
}

// ZeroValue returns the default value for a field or array element of kind k.
func ZeroValue(k Kind) Value {
	return Value{Kind: k}
}

// Int returns the value as an int32. Valid for int-like kinds.
func (v Value) Int() int32 { return int32(uint32(v.bits)) }

// Float returns the value as a float32.
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.bits)) }

// Long returns the value as an int64.
func (v Value) Long() int64 { return int64(v.bits) }

// Double returns the value as a float64.
func (v Value) Double() float64 { return math.Float64frombits(v.bits) }

// Ref returns the referenced object, nil for null.
func (v Value) Ref() any { return v.ref }

// IsNull returns true for the null reference.
func (v Value) IsNull() bool {
	return v.Kind == KindReference && v.ref == nil
}

// Bits returns the raw 64-bit pattern of a primitive value.
func (v Value) Bits() uint64 { return v.bits }

// String implements the Stringer interface.
func (v Value) String() string {
	switch {
	case v.Kind == KindVoid:
		return "void"
	case v.Kind.IsIntLike():
		return fmt.Sprintf("%s %d", v.Kind, v.Int())
	case v.Kind == KindFloat:
		return fmt.Sprintf("float %g", v.Float())
	case v.Kind == KindLong:
		return fmt.Sprintf("long %d", v.Long())
	case v.Kind == KindDouble:
		return fmt.Sprintf("double %g", v.Double())
	case v.ref == nil:
		return "null"
	default:
		return fmt.Sprintf("ref %v", v.ref)
	}
}

// ParseMethodDescriptor splits a method descriptor such as "(IJLjava/lang/String;)V"
// into parameter kinds and the return kind.
func ParseMethodDescriptor(desc string) ([]Kind, Kind, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, KindVoid, fmt.Errorf("malformed method descriptor %q", desc)
	}
	var params []Kind
	i := 1
	for i < len(desc) && desc[i] != ')' {
		k, n, err := parseFieldType(desc, i)
		if err != nil {
			return nil, KindVoid, err
		}
		if k == KindVoid {
			return nil, KindVoid, fmt.Errorf("void parameter in %q", desc)
		}
		params = append(params, k)
		i += n
	}
	if i >= len(desc) {
		return nil, KindVoid, fmt.Errorf("unterminated parameters in %q", desc)
	}
	ret, n, err := parseFieldType(desc, i+1)
	if err != nil {
		return nil, KindVoid, err
	}
	if i+1+n != len(desc) {
		return nil, KindVoid, fmt.Errorf("trailing characters in %q", desc)
	}
	return params, ret, nil
}

// ParseFieldDescriptor returns the kind of a field descriptor such as "J"
// or "[Ljava/lang/String;". Void is not a field type.
func ParseFieldDescriptor(desc string) (Kind, error) {
	k, n, err := parseFieldType(desc, 0)
	if err != nil {
		return KindVoid, err
	}
	if n != len(desc) {
		return KindVoid, fmt.Errorf("trailing characters in %q", desc)
	}
	if k == KindVoid {
		return KindVoid, fmt.Errorf("void field type %q", desc)
	}
	return k, nil
}

// parseFieldType parses one type at desc[i:] and returns its kind and length.
func parseFieldType(desc string, i int) (Kind, int, error) {
	if i >= len(desc) {
		return KindVoid, 0, fmt.Errorf("truncated descriptor %q", desc)
	}
	start := i
	for i < len(desc) && desc[i] == '[' {
		i++
	}
	if i >= len(desc) {
		return KindVoid, 0, fmt.Errorf("truncated descriptor %q", desc)
	}
	if desc[i] == 'L' {
		end := i
		for end < len(desc) && desc[end] != ';' {
			end++
		}
		if end == len(desc) {
			return KindVoid, 0, fmt.Errorf("unterminated class name in %q", desc)
		}
		if end == i+1 {
			return KindVoid, 0, fmt.Errorf("empty class name in %q", desc)
		}
		return KindReference, end + 1 - start, nil
	}
	k, ok := KindFromDescriptor(desc[i])
	if !ok {
		return KindVoid, 0, fmt.Errorf("bad type %q in %q", desc[i], desc)
	}
	if i > start {
		if k == KindVoid {
			return KindVoid, 0, fmt.Errorf("array of void in %q", desc)
		}
		return KindReference, i + 1 - start, nil
	}
	return k, 1, nil
}

// SlotCount sums the slots taken by kinds.
func SlotCount(kinds []Kind) int {
	n := 0
	for _, k := range kinds {
		n += k.Slots()
	}
	return n
}
