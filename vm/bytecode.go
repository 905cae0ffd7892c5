package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Multi-byte operands are
// big-endian.
type Opcode byte

// Constants
const (
	OpNop        Opcode = 0x00
	OpAConstNull Opcode = 0x01
	OpIConstM1   Opcode = 0x02
	OpIConst0    Opcode = 0x03
	OpIConst1    Opcode = 0x04
	OpIConst2    Opcode = 0x05
	OpIConst3    Opcode = 0x06
	OpIConst4    Opcode = 0x07
	OpIConst5    Opcode = 0x08
	OpLConst0    Opcode = 0x09
	OpLConst1    Opcode = 0x0A
	OpFConst0    Opcode = 0x0B
	OpFConst1    Opcode = 0x0C
	OpFConst2    Opcode = 0x0D
	OpDConst0    Opcode = 0x0E
	OpDConst1    Opcode = 0x0F
	OpBIPush     Opcode = 0x10
	OpSIPush     Opcode = 0x11
	OpLdc        Opcode = 0x12
	OpLdcW       Opcode = 0x13
	OpLdc2W      Opcode = 0x14
)

// Loads
const (
	OpILoad  Opcode = 0x15
	OpLLoad  Opcode = 0x16
	OpFLoad  Opcode = 0x17
	OpDLoad  Opcode = 0x18
	OpALoad  Opcode = 0x19
	OpILoad0 Opcode = 0x1A
	OpILoad1 Opcode = 0x1B
	OpILoad2 Opcode = 0x1C
	OpILoad3 Opcode = 0x1D
	OpLLoad0 Opcode = 0x1E
	OpLLoad1 Opcode = 0x1F
	OpLLoad2 Opcode = 0x20
	OpLLoad3 Opcode = 0x21
	OpFLoad0 Opcode = 0x22
	OpFLoad1 Opcode = 0x23
	OpFLoad2 Opcode = 0x24
	OpFLoad3 Opcode = 0x25
	OpDLoad0 Opcode = 0x26
	OpDLoad1 Opcode = 0x27
	OpDLoad2 Opcode = 0x28
	OpDLoad3 Opcode = 0x29
	OpALoad0 Opcode = 0x2A
	OpALoad1 Opcode = 0x2B
	OpALoad2 Opcode = 0x2C
	OpALoad3 Opcode = 0x2D
	OpIALoad Opcode = 0x2E
	OpLALoad Opcode = 0x2F
	OpFALoad Opcode = 0x30
	OpDALoad Opcode = 0x31
	OpAALoad Opcode = 0x32
	OpBALoad Opcode = 0x33
	OpCALoad Opcode = 0x34
	OpSALoad Opcode = 0x35
)

// Stores
const (
	OpIStore  Opcode = 0x36
	OpLStore  Opcode = 0x37
	OpFStore  Opcode = 0x38
	OpDStore  Opcode = 0x39
	OpAStore  Opcode = 0x3A
	OpIStore0 Opcode = 0x3B
	OpIStore1 Opcode = 0x3C
	OpIStore2 Opcode = 0x3D
	OpIStore3 Opcode = 0x3E
	OpLStore0 Opcode = 0x3F
	OpLStore1 Opcode = 0x40
	OpLStore2 Opcode = 0x41
	OpLStore3 Opcode = 0x42
	OpFStore0 Opcode = 0x43
	OpFStore1 Opcode = 0x44
	OpFStore2 Opcode = 0x45
	OpFStore3 Opcode = 0x46
	OpDStore0 Opcode = 0x47
	OpDStore1 Opcode = 0x48
	OpDStore2 Opcode = 0x49
	OpDStore3 Opcode = 0x4A
	OpAStore0 Opcode = 0x4B
	OpAStore1 Opcode = 0x4C
	OpAStore2 Opcode = 0x4D
	OpAStore3 Opcode = 0x4E
	OpIAStore Opcode = 0x4F
	OpLAStore Opcode = 0x50
	OpFAStore Opcode = 0x51
	OpDAStore Opcode = 0x52
	OpAAStore Opcode = 0x53
	OpBAStore Opcode = 0x54
	OpCAStore Opcode = 0x55
	OpSAStore Opcode = 0x56
)

// Stack
const (
	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5A
	OpDupX2  Opcode = 0x5B
	OpDup2   Opcode = 0x5C
	OpDup2X1 Opcode = 0x5D
	OpDup2X2 Opcode = 0x5E
	OpSwap   Opcode = 0x5F
)

// Math
const (
	OpIAdd  Opcode = 0x60
	OpLAdd  Opcode = 0x61
	OpFAdd  Opcode = 0x62
	OpDAdd  Opcode = 0x63
	OpISub  Opcode = 0x64
	OpLSub  Opcode = 0x65
	OpFSub  Opcode = 0x66
	OpDSub  Opcode = 0x67
	OpIMul  Opcode = 0x68
	OpLMul  Opcode = 0x69
	OpFMul  Opcode = 0x6A
	OpDMul  Opcode = 0x6B
	OpIDiv  Opcode = 0x6C
	OpLDiv  Opcode = 0x6D
	OpFDiv  Opcode = 0x6E
	OpDDiv  Opcode = 0x6F
	OpIRem  Opcode = 0x70
	OpLRem  Opcode = 0x71
	OpFRem  Opcode = 0x72
	OpDRem  Opcode = 0x73
	OpINeg  Opcode = 0x74
	OpLNeg  Opcode = 0x75
	OpFNeg  Opcode = 0x76
	OpDNeg  Opcode = 0x77
	OpIShl  Opcode = 0x78
	OpLShl  Opcode = 0x79
	OpIShr  Opcode = 0x7A
	OpLShr  Opcode = 0x7B
	OpIUShr Opcode = 0x7C
	OpLUShr Opcode = 0x7D
	OpIAnd  Opcode = 0x7E
	OpLAnd  Opcode = 0x7F
	OpIOr   Opcode = 0x80
	OpLOr   Opcode = 0x81
	OpIXor  Opcode = 0x82
	OpLXor  Opcode = 0x83
	OpIInc  Opcode = 0x84
)

// Conversions
const (
	OpI2L Opcode = 0x85
	OpI2F Opcode = 0x86
	OpI2D Opcode = 0x87
	OpL2I Opcode = 0x88
	OpL2F Opcode = 0x89
	OpL2D Opcode = 0x8A
	OpF2I Opcode = 0x8B
	OpF2L Opcode = 0x8C
	OpF2D Opcode = 0x8D
	OpD2I Opcode = 0x8E
	OpD2L Opcode = 0x8F
	OpD2F Opcode = 0x90
	OpI2B Opcode = 0x91
	OpI2C Opcode = 0x92
	OpI2S Opcode = 0x93
)

// Comparisons
const (
	OpLCmp     Opcode = 0x94
	OpFCmpL    Opcode = 0x95
	OpFCmpG    Opcode = 0x96
	OpDCmpL    Opcode = 0x97
	OpDCmpG    Opcode = 0x98
	OpIfEq     Opcode = 0x99
	OpIfNe     Opcode = 0x9A
	OpIfLt     Opcode = 0x9B
	OpIfGe     Opcode = 0x9C
	OpIfGt     Opcode = 0x9D
	OpIfLe     Opcode = 0x9E
	OpIfICmpEq Opcode = 0x9F
	OpIfICmpNe Opcode = 0xA0
	OpIfICmpLt Opcode = 0xA1
	OpIfICmpGe Opcode = 0xA2
	OpIfICmpGt Opcode = 0xA3
	OpIfICmpLe Opcode = 0xA4
	OpIfACmpEq Opcode = 0xA5
	OpIfACmpNe Opcode = 0xA6
)

// Control
const (
	OpGoto         Opcode = 0xA7
	OpJsr          Opcode = 0xA8
	OpRet          Opcode = 0xA9
	OpTableSwitch  Opcode = 0xAA
	OpLookupSwitch Opcode = 0xAB
	OpIReturn      Opcode = 0xAC
	OpLReturn      Opcode = 0xAD
	OpFReturn      Opcode = 0xAE
	OpDReturn      Opcode = 0xAF
	OpAReturn      Opcode = 0xB0
	OpReturn       Opcode = 0xB1
)

// References
const (
	OpGetStatic       Opcode = 0xB2
	OpPutStatic       Opcode = 0xB3
	OpGetField        Opcode = 0xB4
	OpPutField        Opcode = 0xB5
	OpInvokeVirtual   Opcode = 0xB6
	OpInvokeSpecial   Opcode = 0xB7
	OpInvokeStatic    Opcode = 0xB8
	OpInvokeInterface Opcode = 0xB9
	OpInvokeDynamic   Opcode = 0xBA
	OpNew             Opcode = 0xBB
	OpNewArray        Opcode = 0xBC
	OpANewArray       Opcode = 0xBD
	OpArrayLength     Opcode = 0xBE
	OpAThrow          Opcode = 0xBF
	OpCheckCast       Opcode = 0xC0
	OpInstanceOf      Opcode = 0xC1
	OpMonitorEnter    Opcode = 0xC2
	OpMonitorExit     Opcode = 0xC3
)

// Extended
const (
	OpWide           Opcode = 0xC4
	OpMultiANewArray Opcode = 0xC5
	OpIfNull         Opcode = 0xC6
	OpIfNonNull      Opcode = 0xC7
	OpGotoW          Opcode = 0xC8
	OpJsrW           Opcode = 0xC9
)

// Array type codes used by NEWARRAY.
const (
	ArrayTypeBoolean = 4
	ArrayTypeChar    = 5
	ArrayTypeFloat   = 6
	ArrayTypeDouble  = 7
	ArrayTypeByte    = 8
	ArrayTypeShort   = 9
	ArrayTypeInt     = 10
	ArrayTypeLong    = 11
)

// ArrayTypeKind maps a NEWARRAY type code to its element kind.
func ArrayTypeKind(code byte) (Kind, bool) {
	switch code {
	case ArrayTypeBoolean:
		return KindBoolean, true
	case ArrayTypeChar:
		return KindChar, true
	case ArrayTypeFloat:
		return KindFloat, true
	case ArrayTypeDouble:
		return KindDouble, true
	case ArrayTypeByte:
		return KindByte, true
	case ArrayTypeShort:
		return KindShort, true
	case ArrayTypeInt:
		return KindInt, true
	case ArrayTypeLong:
		return KindLong, true
	}
	return KindVoid, false
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // mnemonic
	OperandBytes int    // number of operand bytes, -1 if variable
}

// opcodeTable is indexed by opcode; unassigned opcodes have no name.
var opcodeTable = [256]OpcodeInfo{
	// constants
	OpNop:        {"NOP", 0},
	OpAConstNull: {"ACONST_NULL", 0},
	OpIConstM1:   {"ICONST_M1", 0},
	OpIConst0:    {"ICONST_0", 0},
	OpIConst1:    {"ICONST_1", 0},
	OpIConst2:    {"ICONST_2", 0},
	OpIConst3:    {"ICONST_3", 0},
	OpIConst4:    {"ICONST_4", 0},
	OpIConst5:    {"ICONST_5", 0},
	OpLConst0:    {"LCONST_0", 0},
	OpLConst1:    {"LCONST_1", 0},
	OpFConst0:    {"FCONST_0", 0},
	OpFConst1:    {"FCONST_1", 0},
	OpFConst2:    {"FCONST_2", 0},
	OpDConst0:    {"DCONST_0", 0},
	OpDConst1:    {"DCONST_1", 0},
	OpBIPush:     {"BIPUSH", 1},
	OpSIPush:     {"SIPUSH", 2},
	OpLdc:        {"LDC", 1},
	OpLdcW:       {"LDC_W", 2},
	OpLdc2W:      {"LDC2_W", 2},

	// loads
	OpILoad:  {"ILOAD", 1},
	OpLLoad:  {"LLOAD", 1},
	OpFLoad:  {"FLOAD", 1},
	OpDLoad:  {"DLOAD", 1},
	OpALoad:  {"ALOAD", 1},
	OpILoad0: {"ILOAD_0", 0},
	OpILoad1: {"ILOAD_1", 0},
	OpILoad2: {"ILOAD_2", 0},
	OpILoad3: {"ILOAD_3", 0},
	OpLLoad0: {"LLOAD_0", 0},
	OpLLoad1: {"LLOAD_1", 0},
	OpLLoad2: {"LLOAD_2", 0},
	OpLLoad3: {"LLOAD_3", 0},
	OpFLoad0: {"FLOAD_0", 0},
	OpFLoad1: {"FLOAD_1", 0},
	OpFLoad2: {"FLOAD_2", 0},
	OpFLoad3: {"FLOAD_3", 0},
	OpDLoad0: {"DLOAD_0", 0},
	OpDLoad1: {"DLOAD_1", 0},
	OpDLoad2: {"DLOAD_2", 0},
	OpDLoad3: {"DLOAD_3", 0},
	OpALoad0: {"ALOAD_0", 0},
	OpALoad1: {"ALOAD_1", 0},
	OpALoad2: {"ALOAD_2", 0},
	OpALoad3: {"ALOAD_3", 0},
	OpIALoad: {"IALOAD", 0},
	OpLALoad: {"LALOAD", 0},
	OpFALoad: {"FALOAD", 0},
	OpDALoad: {"DALOAD", 0},
	OpAALoad: {"AALOAD", 0},
	OpBALoad: {"BALOAD", 0},
	OpCALoad: {"CALOAD", 0},
	OpSALoad: {"SALOAD", 0},

	// stores
	OpIStore:  {"ISTORE", 1},
	OpLStore:  {"LSTORE", 1},
	OpFStore:  {"FSTORE", 1},
	OpDStore:  {"DSTORE", 1},
	OpAStore:  {"ASTORE", 1},
	OpIStore0: {"ISTORE_0", 0},
	OpIStore1: {"ISTORE_1", 0},
	OpIStore2: {"ISTORE_2", 0},
	OpIStore3: {"ISTORE_3", 0},
	OpLStore0: {"LSTORE_0", 0},
	OpLStore1: {"LSTORE_1", 0},
	OpLStore2: {"LSTORE_2", 0},
	OpLStore3: {"LSTORE_3", 0},
	OpFStore0: {"FSTORE_0", 0},
	OpFStore1: {"FSTORE_1", 0},
	OpFStore2: {"FSTORE_2", 0},
	OpFStore3: {"FSTORE_3", 0},
	OpDStore0: {"DSTORE_0", 0},
	OpDStore1: {"DSTORE_1", 0},
	OpDStore2: {"DSTORE_2", 0},
	OpDStore3: {"DSTORE_3", 0},
	OpAStore0: {"ASTORE_0", 0},
	OpAStore1: {"ASTORE_1", 0},
	OpAStore2: {"ASTORE_2", 0},
	OpAStore3: {"ASTORE_3", 0},
	OpIAStore: {"IASTORE", 0},
	OpLAStore: {"LASTORE", 0},
	OpFAStore: {"FASTORE", 0},
	OpDAStore: {"DASTORE", 0},
	OpAAStore: {"AASTORE", 0},
	OpBAStore: {"BASTORE", 0},
	OpCAStore: {"CASTORE", 0},
	OpSAStore: {"SASTORE", 0},

	// stack
	OpPop:    {"POP", 0},
	OpPop2:   {"POP2", 0},
	OpDup:    {"DUP", 0},
	OpDupX1:  {"DUP_X1", 0},
	OpDupX2:  {"DUP_X2", 0},
	OpDup2:   {"DUP2", 0},
	OpDup2X1: {"DUP2_X1", 0},
	OpDup2X2: {"DUP2_X2", 0},
	OpSwap:   {"SWAP", 0},

	// math
	OpIAdd:  {"IADD", 0},
	OpLAdd:  {"LADD", 0},
	OpFAdd:  {"FADD", 0},
	OpDAdd:  {"DADD", 0},
	OpISub:  {"ISUB", 0},
	OpLSub:  {"LSUB", 0},
	OpFSub:  {"FSUB", 0},
	OpDSub:  {"DSUB", 0},
	OpIMul:  {"IMUL", 0},
	OpLMul:  {"LMUL", 0},
	OpFMul:  {"FMUL", 0},
	OpDMul:  {"DMUL", 0},
	OpIDiv:  {"IDIV", 0},
	OpLDiv:  {"LDIV", 0},
	OpFDiv:  {"FDIV", 0},
	OpDDiv:  {"DDIV", 0},
	OpIRem:  {"IREM", 0},
	OpLRem:  {"LREM", 0},
	OpFRem:  {"FREM", 0},
	OpDRem:  {"DREM", 0},
	OpINeg:  {"INEG", 0},
	OpLNeg:  {"LNEG", 0},
	OpFNeg:  {"FNEG", 0},
	OpDNeg:  {"DNEG", 0},
	OpIShl:  {"ISHL", 0},
	OpLShl:  {"LSHL", 0},
	OpIShr:  {"ISHR", 0},
	OpLShr:  {"LSHR", 0},
	OpIUShr: {"IUSHR", 0},
	OpLUShr: {"LUSHR", 0},
	OpIAnd:  {"IAND", 0},
	OpLAnd:  {"LAND", 0},
	OpIOr:   {"IOR", 0},
	OpLOr:   {"LOR", 0},
	OpIXor:  {"IXOR", 0},
	OpLXor:  {"LXOR", 0},
	OpIInc:  {"IINC", 2},

	// conversions
	OpI2L: {"I2L", 0},
	OpI2F: {"I2F", 0},
	OpI2D: {"I2D", 0},
	OpL2I: {"L2I", 0},
	OpL2F: {"L2F", 0},
	OpL2D: {"L2D", 0},
	OpF2I: {"F2I", 0},
	OpF2L: {"F2L", 0},
	OpF2D: {"F2D", 0},
	OpD2I: {"D2I", 0},
	OpD2L: {"D2L", 0},
	OpD2F: {"D2F", 0},
	OpI2B: {"I2B", 0},
	OpI2C: {"I2C", 0},
	OpI2S: {"I2S", 0},

	// comparisons
	OpLCmp:     {"LCMP", 0},
	OpFCmpL:    {"FCMPL", 0},
	OpFCmpG:    {"FCMPG", 0},
	OpDCmpL:    {"DCMPL", 0},
	OpDCmpG:    {"DCMPG", 0},
	OpIfEq:     {"IFEQ", 2},
	OpIfNe:     {"IFNE", 2},
	OpIfLt:     {"IFLT", 2},
	OpIfGe:     {"IFGE", 2},
	OpIfGt:     {"IFGT", 2},
	OpIfLe:     {"IFLE", 2},
	OpIfICmpEq: {"IF_ICMPEQ", 2},
	OpIfICmpNe: {"IF_ICMPNE", 2},
	OpIfICmpLt: {"IF_ICMPLT", 2},
	OpIfICmpGe: {"IF_ICMPGE", 2},
	OpIfICmpGt: {"IF_ICMPGT", 2},
	OpIfICmpLe: {"IF_ICMPLE", 2},
	OpIfACmpEq: {"IF_ACMPEQ", 2},
	OpIfACmpNe: {"IF_ACMPNE", 2},

	// control
	OpGoto:         {"GOTO", 2},
	OpJsr:          {"JSR", 2},
	OpRet:          {"RET", 1},
	OpTableSwitch:  {"TABLESWITCH", -1},
	OpLookupSwitch: {"LOOKUPSWITCH", -1},
	OpIReturn:      {"IRETURN", 0},
	OpLReturn:      {"LRETURN", 0},
	OpFReturn:      {"FRETURN", 0},
	OpDReturn:      {"DRETURN", 0},
	OpAReturn:      {"ARETURN", 0},
	OpReturn:       {"RETURN", 0},

	// references
	OpGetStatic:       {"GETSTATIC", 2},
	OpPutStatic:       {"PUTSTATIC", 2},
	OpGetField:        {"GETFIELD", 2},
	OpPutField:        {"PUTFIELD", 2},
	OpInvokeVirtual:   {"INVOKEVIRTUAL", 2},
	OpInvokeSpecial:   {"INVOKESPECIAL", 2},
	OpInvokeStatic:    {"INVOKESTATIC", 2},
	OpInvokeInterface: {"INVOKEINTERFACE", 4},
	OpInvokeDynamic:   {"INVOKEDYNAMIC", 4},
	OpNew:             {"NEW", 2},
	OpNewArray:        {"NEWARRAY", 1},
	OpANewArray:       {"ANEWARRAY", 2},
	OpArrayLength:     {"ARRAYLENGTH", 0},
	OpAThrow:          {"ATHROW", 0},
	OpCheckCast:       {"CHECKCAST", 2},
	OpInstanceOf:      {"INSTANCEOF", 2},
	OpMonitorEnter:    {"MONITORENTER", 0},
	OpMonitorExit:     {"MONITOREXIT", 0},

	// extended
	OpWide:           {"WIDE", -1},
	OpMultiANewArray: {"MULTIANEWARRAY", 3},
	OpIfNull:         {"IFNULL", 2},
	OpIfNonNull:      {"IFNONNULL", 2},
	OpGotoW:          {"GOTO_W", 4},
	OpJsrW:           {"JSR_W", 4},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info := opcodeTable[op]; info.Name != "" {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), OperandBytes: 0}
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode, or -1 for
// the switches and WIDE.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// IsBranch reports whether the opcode carries a 16-bit relative branch.
func (op Opcode) IsBranch() bool {
	return (op >= OpIfEq && op <= OpJsr) || op == OpIfNull || op == OpIfNonNull
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitRaw appends raw bytes.
func (b *BytecodeBuilder) EmitRaw(data ...byte) {
	b.bytes = append(b.bytes, data...)
}

// EmitByte appends an opcode with an unsigned 8-bit operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint16 appends an opcode with a 16-bit operand.
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand>>8), byte(operand))
}

// EmitInt16 appends an opcode with a signed 16-bit operand.
func (b *BytecodeBuilder) EmitInt16(op Opcode, operand int16) {
	b.EmitUint16(op, uint16(operand))
}

// EmitIInc appends an IINC of local index by delta.
func (b *BytecodeBuilder) EmitIInc(index uint8, delta int8) {
	b.bytes = append(b.bytes, byte(OpIInc), index, byte(delta))
}

// EmitInvokeInterface appends an INVOKEINTERFACE with its argument count.
func (b *BytecodeBuilder) EmitInvokeInterface(index uint16, count uint8) {
	b.bytes = append(b.bytes, byte(OpInvokeInterface), byte(index>>8), byte(index), count, 0)
}

// EmitLoadConst pushes an int constant using the shortest encoding.
func (b *BytecodeBuilder) EmitLoadConst(v int32) {
	switch {
	case v >= -1 && v <= 5:
		b.Emit(Opcode(int(OpIConst0) + int(v)))
	case v >= -128 && v <= 127:
		b.EmitInt8(OpBIPush, int8(v))
	case v >= -32768 && v <= 32767:
		b.EmitInt16(OpSIPush, int16(v))
	default:
		panic(fmt.Sprintf("constant %d needs the constant pool", v))
	}
}

func (b *BytecodeBuilder) appendInt32(v int32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	b.bytes = append(b.bytes, buf[:]...)
}

func (b *BytecodeBuilder) pad() {
	for len(b.bytes)%4 != 0 {
		b.bytes = append(b.bytes, 0)
	}
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a branch target that may not be placed yet.
type Label struct {
	resolved bool
	position int        // target position once resolved
	refs     []labelRef // branches waiting for the position
}

// labelRef is one unpatched branch operand. Offsets are relative to the
// address of the branching opcode.
type labelRef struct {
	opPos int
	at    int
	wide  bool
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{resolved: false, refs: make([]labelRef, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	// Patch all forward references
	for _, ref := range label.refs {
		b.patch(ref, label.position)
	}
	label.refs = nil
}

func (b *BytecodeBuilder) patch(ref labelRef, target int) {
	offset := target - ref.opPos
	if ref.wide {
		binary.BigEndian.PutUint32(b.bytes[ref.at:], uint32(int32(offset)))
		return
	}
	if offset < -32768 || offset > 32767 {
		panic(fmt.Sprintf("branch offset %d out of range", offset))
	}
	binary.BigEndian.PutUint16(b.bytes[ref.at:], uint16(int16(offset)))
}

func (b *BytecodeBuilder) ref(label *Label, opPos int, wide bool) {
	ref := labelRef{opPos: opPos, at: len(b.bytes), wide: wide}
	if wide {
		b.bytes = append(b.bytes, 0, 0, 0, 0)
	} else {
		b.bytes = append(b.bytes, 0, 0)
	}
	if label.resolved {
		b.patch(ref, label.position)
	} else {
		label.refs = append(label.refs, ref)
	}
}

// EmitJump emits a branch instruction with a 16-bit offset to label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(op))
	b.ref(label, opPos, op == OpGotoW || op == OpJsrW)
}

// EmitJumpAbsolute emits a branch to an absolute position.
func (b *BytecodeBuilder) EmitJumpAbsolute(op Opcode, target int) {
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(op), 0, 0)
	b.patch(labelRef{opPos: opPos, at: opPos + 1}, target)
}

// EmitTableSwitch emits a TABLESWITCH over [low, low+len(targets)).
func (b *BytecodeBuilder) EmitTableSwitch(low int32, def *Label, targets ...*Label) {
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(OpTableSwitch))
	b.pad()
	b.ref(def, opPos, true)
	b.appendInt32(low)
	b.appendInt32(low + int32(len(targets)) - 1)
	for _, l := range targets {
		b.ref(l, opPos, true)
	}
}

// EmitLookupSwitch emits a LOOKUPSWITCH. keys must be sorted ascending and
// parallel to targets.
func (b *BytecodeBuilder) EmitLookupSwitch(def *Label, keys []int32, targets []*Label) {
	if len(keys) != len(targets) {
		panic("lookupswitch keys and targets differ in length")
	}
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(OpLookupSwitch))
	b.pad()
	b.ref(def, opPos, true)
	b.appendInt32(int32(len(keys)))
	for i, k := range keys {
		b.appendInt32(k)
		b.ref(targets[i], opPos, true)
	}
}

// ---------------------------------------------------------------------------
// Bytecode reader for disassembly
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadU1())
}

// ReadU1 reads a single unsigned byte operand.
func (r *BytecodeReader) ReadU1() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadInt8 reads a signed 8-bit operand.
func (r *BytecodeReader) ReadInt8() int8 {
	return int8(r.ReadU1())
}

// ReadUint16 reads a 16-bit operand.
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.BigEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a signed 16-bit operand.
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// ReadInt32 reads a 32-bit operand.
func (r *BytecodeReader) ReadInt32() int32 {
	if r.pos+4 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.BigEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return int32(v)
}

// Align skips the padding that precedes switch operands.
func (r *BytecodeReader) Align() {
	for r.pos%4 != 0 {
		r.pos++
	}
}

// Skip advances the position by n bytes.
func (r *BytecodeReader) Skip(n int) {
	r.pos += n
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's position.
// Returns the string representation and advances the reader.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	switch {
	case op == OpBIPush:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt8())

	case op == OpSIPush:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt16())

	case op == OpIInc:
		idx := r.ReadU1()
		delta := r.ReadInt8()
		return fmt.Sprintf("%04d  %s %d %d", pos, info.Name, idx, delta)

	case op == OpNewArray:
		code := r.ReadU1()
		k, _ := ArrayTypeKind(code)
		return fmt.Sprintf("%04d  %s %s", pos, info.Name, k)

	case op.IsBranch():
		offset := r.ReadInt16()
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, pos+int(offset))

	case op == OpGotoW || op == OpJsrW:
		offset := r.ReadInt32()
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, pos+int(offset))

	case op == OpInvokeInterface:
		idx := r.ReadUint16()
		count := r.ReadU1()
		r.ReadU1()
		return fmt.Sprintf("%04d  %s #%d count=%d", pos, info.Name, idx, count)

	case op == OpTableSwitch:
		r.Align()
		def := r.ReadInt32()
		low := r.ReadInt32()
		high := r.ReadInt32()
		var sb strings.Builder
		fmt.Fprintf(&sb, "%04d  %s %d..%d default -> %04d", pos, info.Name, low, high, pos+int(def))
		for k := int64(low); k <= int64(high); k++ {
			fmt.Fprintf(&sb, "\n        %d -> %04d", k, pos+int(r.ReadInt32()))
		}
		return sb.String()

	case op == OpLookupSwitch:
		r.Align()
		def := r.ReadInt32()
		n := r.ReadInt32()
		var sb strings.Builder
		fmt.Fprintf(&sb, "%04d  %s default -> %04d", pos, info.Name, pos+int(def))
		for i := int32(0); i < n; i++ {
			key := r.ReadInt32()
			fmt.Fprintf(&sb, "\n        %d -> %04d", key, pos+int(r.ReadInt32()))
		}
		return sb.String()

	case op == OpWide:
		inner := r.ReadOpcode()
		idx := r.ReadUint16()
		if inner == OpIInc {
			return fmt.Sprintf("%04d  %s %s %d %d", pos, info.Name, inner, idx, r.ReadInt16())
		}
		return fmt.Sprintf("%04d  %s %s %d", pos, info.Name, inner, idx)

	case info.OperandBytes == 1:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadU1())

	case info.OperandBytes == 2:
		return fmt.Sprintf("%04d  %s #%d", pos, info.Name, r.ReadUint16())

	case info.OperandBytes > 0:
		r.Skip(info.OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, info.Name)

	default:
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var lines []string
	for r.HasMore() {
		lines = append(lines, DisassembleInstruction(r))
	}
	return strings.Join(lines, "\n")
}
