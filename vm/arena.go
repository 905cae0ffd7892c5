package vm

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Arena: flat slot memory shared by all threads of a VM
// ---------------------------------------------------------------------------

// DefaultArenaSlots is the arena size used when none is configured.
const DefaultArenaSlots = 1 << 20

// Arena is a fixed-size region of 32-bit slots. Each slot can be read as an
// int32 or, through the same bits, as a float32. A parallel reference array
// of equal length holds managed references; a reference is only meaningful
// at an index where a reference kind was stored.
//
// Two-slot kinds (long, double) keep their low word at slot i and their high
// word at slot i+1.
type Arena struct {
	mu  sync.Mutex
	i4  []int32
	o4  []any
	top int // next unallocated slot
}

// NewArena creates an arena with the given number of slots.
func NewArena(slots int) *Arena {
	if slots <= 0 {
		slots = DefaultArenaSlots
	}
	return &Arena{
		i4: make([]int32, slots),
		o4: make([]any, slots),
	}
}

// Len returns the total number of slots.
func (a *Arena) Len() int {
	return len(a.i4)
}

// Used returns the number of slots handed out so far.
func (a *Arena) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.top
}

// Allocate reserves size consecutive slots and returns the index of the
// first. Slots are never returned to the arena.
func (a *Arena) Allocate(size int) (int, error) {
	if size < 0 {
		return 0, errors.Errorf("negative allocation size %d", size)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.top+size > len(a.i4) {
		return 0, errors.Wrapf(ErrArenaExhausted, "allocating %d slots with %d of %d in use", size, a.top, len(a.i4))
	}
	base := a.top
	a.top += size
	return base, nil
}

// Int reads slot i through the int32 view.
func (a *Arena) Int(i int) int32 { return a.i4[i] }

// SetInt writes slot i through the int32 view.
func (a *Arena) SetInt(i int, v int32) { a.i4[i] = v }

// Float reads slot i through the float32 view. No conversion takes place;
// the slot's bits are reinterpreted.
func (a *Arena) Float(i int) float32 { return math.Float32frombits(uint32(a.i4[i])) }

// SetFloat writes slot i through the float32 view.
func (a *Arena) SetFloat(i int, f float32) { a.i4[i] = int32(math.Float32bits(f)) }

// Ref reads slot i of the reference view.
func (a *Arena) Ref(i int) any { return a.o4[i] }

// SetRef writes slot i of the reference view.
func (a *Arena) SetRef(i int, r any) { a.o4[i] = r }

// Long reads the two-slot long at i.
func (a *Arena) Long(i int) int64 {
	return int64(uint64(uint32(a.i4[i])) | uint64(uint32(a.i4[i+1]))<<32)
}

// SetLong writes the two-slot long at i.
func (a *Arena) SetLong(i int, v int64) {
	a.i4[i] = int32(uint32(v))
	a.i4[i+1] = int32(uint32(uint64(v) >> 32))
}

// Double reads the two-slot double at i.
func (a *Arena) Double(i int) float64 {
	return math.Float64frombits(uint64(a.Long(i)))
}

// SetDouble writes the two-slot double at i.
func (a *Arena) SetDouble(i int, d float64) {
	a.SetLong(i, int64(math.Float64bits(d)))
}

// Load reads a kind-tagged value at slot i.
func (a *Arena) Load(k Kind, i int) Value {
	switch {
	case k == KindReference:
		return RefValue(a.o4[i])
	case k.IsIntLike():
		return Value{Kind: k, bits: uint64(uint32(a.i4[i]))}
	case k == KindFloat:
		return Value{Kind: k, bits: uint64(uint32(a.i4[i]))}
	case k == KindLong:
		return LongValue(a.Long(i))
	case k == KindDouble:
		return DoubleValue(a.Double(i))
	}
	fatalf("cannot load kind %s", k)
	return Void
}

// Store writes a value of kind k at slot i.
func (a *Arena) Store(k Kind, i int, v Value) {
	switch {
	case k == KindReference:
		a.o4[i] = v.ref
	case k.IsIntLike(), k == KindFloat:
		a.i4[i] = int32(uint32(v.bits))
	case k.IsWide():
		a.SetLong(i, int64(v.bits))
	default:
		fatalf("cannot store kind %s", k)
	}
}
