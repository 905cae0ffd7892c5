package vm

// Frame layout, as offsets from a frame pointer fp:
//
//	fp-(3+P) .. fp-4   P argument slots, receiver first
//	fp-3               caller's return address
//	fp-2               caller's frame pointer
//	fp-1               callee method descriptor (nil for a marker frame)
//	fp+0 .. fp+L-1     non-parameter locals
//	fp+L ..            operand stack
const (
	CalleeMethodInfoOffset = -1
	CallerFPOffset         = -2
	CallerRAOffset         = -3
	CallerSaveSize         = 3
)

// ArgumentFramePointerOffset returns the offset of the first argument slot
// of a frame with argSlots argument slots.
func ArgumentFramePointerOffset(argSlots int) int {
	return -(CallerSaveSize + argSlots)
}

// LocalFramePointerOffset maps a local variable index to its offset from fp.
// Indices below argSlots address the argument area beneath the saved
// caller state; the rest address the locals above fp.
func LocalFramePointerOffset(index, argSlots int) int {
	if index < argSlots {
		return ArgumentFramePointerOffset(argSlots) + index
	}
	return index - argSlots
}

// StackOffset returns the offset of the first operand stack slot from fp.
func StackOffset(maxLocals, argSlots int) int {
	return maxLocals - argSlots
}
