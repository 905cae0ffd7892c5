package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// FrameView: a cursor over one frame in the arena
// ---------------------------------------------------------------------------

// FrameView is a snapshot of a frame position. It never owns state; the
// thread's live fp, sp and pc are the source of truth.
type FrameView struct {
	FP, SP, PC int

	arena *Arena
	bp    int // base of the owning thread's region
}

// Set moves the view to another frame.
func (v *FrameView) Set(fp, sp, pc int) {
	v.FP, v.SP, v.PC = fp, sp, pc
	if debugAssertions && v.hasFrame() {
		switch v.arena.Ref(fp + CalleeMethodInfoOffset).(type) {
		case nil, MethodInfo:
		default:
			fatalf("frame at fp %d has a corrupt method slot: %T", fp, v.arena.Ref(fp+CalleeMethodInfoOffset))
		}
	}
}

func (v *FrameView) hasFrame() bool {
	return v.FP >= v.bp+CallerSaveSize
}

// MethodInfo returns the frame's method, or nil for a marker frame.
func (v *FrameView) MethodInfo() MethodInfo {
	if !v.hasFrame() {
		return nil
	}
	mi, _ := v.arena.Ref(v.FP + CalleeMethodInfoOffset).(MethodInfo)
	return mi
}

// SetMethodInfo stores the frame's method descriptor.
func (v *FrameView) SetMethodInfo(mi MethodInfo) {
	if mi == nil {
		v.arena.SetRef(v.FP+CalleeMethodInfoOffset, nil)
		return
	}
	v.arena.SetRef(v.FP+CalleeMethodInfoOffset, mi)
}

// ArgumentFramePointerOffset returns the offset of the frame's first
// argument slot.
func (v *FrameView) ArgumentFramePointerOffset() int {
	mi := v.MethodInfo()
	if mi == nil {
		return ArgumentFramePointerOffset(0)
	}
	return ArgumentFramePointerOffset(mi.ArgumentSlots())
}

// StackOffset returns the offset of the frame's first operand stack slot.
func (v *FrameView) StackOffset() int {
	mi := v.MethodInfo()
	if mi == nil {
		return 0
	}
	return StackOffset(mi.MaxLocals(), mi.ArgumentSlots())
}

// SetParameter writes an argument slot. index counts slots, so the
// parameter after a long or double is two slots further on.
func (v *FrameView) SetParameter(k Kind, index int, val Value) {
	slot := v.FP + v.ArgumentFramePointerOffset() + index
	switch {
	case k == KindReference:
		v.arena.SetRef(slot, val.Ref())
	case k.IsIntLike():
		v.arena.SetInt(slot, KindedInt(k, val.Int()).Int())
	case k == KindFloat:
		v.arena.SetFloat(slot, val.Float())
	case k == KindLong:
		v.arena.SetLong(slot, val.Long())
	case k == KindDouble:
		v.arena.SetDouble(slot, val.Double())
	default:
		fatalf("cannot pass a parameter of kind %s", k)
	}
}

// TraceStack writes one line per frame, innermost first, down to the
// outermost frame of the thread. The view is left where it started.
func (v *FrameView) TraceStack(w TraceWriter) {
	fp, sp, pc := v.FP, v.SP, v.PC
	defer v.Set(fp, sp, pc)

	for v.hasFrame() {
		mi := v.MethodInfo()
		if mi == nil {
			w.WriteLn(fmt.Sprintf("-- marker fp=%d", v.FP))
		} else {
			w.WriteLn(fmt.Sprintf("%s fp=%d sp=%d pc=%d", qualifiedName(mi), v.FP, v.SP, v.PC))
		}
		callerSP := v.FP + v.ArgumentFramePointerOffset()
		callerPC := int(v.arena.Int(v.FP + CallerRAOffset))
		callerFP := int(v.arena.Int(v.FP + CallerFPOffset))
		v.Set(callerFP, callerSP, callerPC)
	}
}

// Trace writes the frame slot by slot. Argument slots are labelled P#,
// saved caller state RA, CF and MI, locals L# and operand stack slots S#.
// field, if not nil, is appended to the header.
func (v *FrameView) Trace(w TraceWriter, field FieldInfo) {
	mi := v.MethodInfo()
	name := "<marker>"
	if mi != nil {
		name = qualifiedName(mi)
	}
	header := fmt.Sprintf("Frame: %s, FP: %d, SP: %d, PC: %d", name, v.FP, v.SP, v.PC)
	if field != nil {
		header += fmt.Sprintf(", Field: %s.%s (%s)", field.Class().Name(), field.Name(), field.Kind())
	}
	w.WriteLn(header)

	argBase := v.FP + v.ArgumentFramePointerOffset()
	stackBase := v.FP + v.StackOffset()
	argSlots := -v.ArgumentFramePointerOffset() - CallerSaveSize
	start := argBase
	if start < v.bp {
		start = v.bp
	}
	for i := start; i < v.SP; i++ {
		var label string
		switch {
		case i >= stackBase:
			label = "S" + strconv.Itoa(i-stackBase)
		case i == v.FP+CalleeMethodInfoOffset:
			label = "MI"
		case i == v.FP+CallerFPOffset:
			label = "CF"
		case i == v.FP+CallerRAOffset:
			label = "RA"
		case i >= v.FP:
			label = "L" + strconv.Itoa(argSlots+i-v.FP)
		default:
			label = "P" + strconv.Itoa(i-argBase)
		}
		w.WriteLn(fmt.Sprintf(" %-4s %6d %11d %s", label+":", i, v.arena.Int(i), describeRef(v.arena.Ref(i))))
	}
}

func describeRef(r any) string {
	switch r := r.(type) {
	case nil:
		return ""
	case MethodInfo:
		return qualifiedName(r)
	case fmt.Stringer:
		return clamp(r.String(), 48)
	default:
		return clamp(fmt.Sprintf("%T", r), 48)
	}
}

func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func qualifiedName(mi MethodInfo) string {
	var b strings.Builder
	if c := mi.Class(); c != nil {
		b.WriteString(c.Name())
		b.WriteByte('.')
	}
	b.WriteString(mi.Name())
	b.WriteString(mi.Descriptor())
	return b.String()
}
