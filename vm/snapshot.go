package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Snapshot: a serializable picture of a thread's stack
// ---------------------------------------------------------------------------

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// FrameSummary describes one frame of a snapshot.
type FrameSummary struct {
	Method string `cbor:"method"` // empty for marker frames
	FP     int    `cbor:"fp"`
	SP     int    `cbor:"sp"`
	PC     int    `cbor:"pc"`
}

// Snapshot records a thread's registers, the int view of its live stack
// region and a summary of its frames, innermost first. References are not
// captured.
type Snapshot struct {
	Thread int            `cbor:"thread"`
	FP     int            `cbor:"fp"`
	SP     int            `cbor:"sp"`
	PC     int            `cbor:"pc"`
	Base   int            `cbor:"base"`
	Limit  int            `cbor:"limit"`
	Slots  []int32        `cbor:"slots"`
	Frames []FrameSummary `cbor:"frames"`
}

// Snapshot captures the thread's saved state. It must not be called while
// the interpreter is running on t.
func (t *Thread) Snapshot() *Snapshot {
	a := t.vm.arena
	s := &Snapshot{
		Thread: t.id,
		FP:     t.fp,
		SP:     t.sp,
		PC:     t.pc,
		Base:   t.bp,
		Limit:  t.limit,
		Slots:  append([]int32(nil), a.i4[t.bp:t.sp]...),
	}

	v := t.CurrentFrameView()
	for v.hasFrame() {
		fs := FrameSummary{FP: v.FP, SP: v.SP, PC: v.PC}
		if mi := v.MethodInfo(); mi != nil {
			fs.Method = qualifiedName(mi)
		}
		s.Frames = append(s.Frames, fs)
		callerSP := v.FP + v.ArgumentFramePointerOffset()
		v.Set(int(a.Int(v.FP+CallerFPOffset)), callerSP, int(a.Int(v.FP+CallerRAOffset)))
	}
	return s
}

// Encode serializes the snapshot as canonical CBOR.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := snapshotEncMode.Marshal(s)
	return data, errors.Wrap(err, "encoding snapshot")
}

// DecodeSnapshot parses a snapshot produced by Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decoding snapshot")
	}
	return &s, nil
}
