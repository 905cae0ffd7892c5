package vm

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaFloatViewSharesBits(t *testing.T) {
	a := NewArena(8)

	tests := []float32{0, 1, -1, 3.5, math.MaxFloat32, math.SmallestNonzeroFloat32, float32(math.Inf(-1))}
	for _, f := range tests {
		a.SetFloat(2, f)
		if got := a.Int(2); uint32(got) != math.Float32bits(f) {
			t.Errorf("SetFloat(%g): int view = %#x, want %#x", f, uint32(got), math.Float32bits(f))
		}
		a.SetInt(3, int32(math.Float32bits(f)))
		if got := a.Float(3); got != f {
			t.Errorf("SetInt(bits of %g): float view = %g", f, got)
		}
	}

	// NaN payloads survive the round trip untouched.
	nan := uint32(0x7fc00001)
	a.SetInt(4, int32(nan))
	assert.Equal(t, nan, math.Float32bits(a.Float(4)))
}

func TestArenaWideLayout(t *testing.T) {
	a := NewArena(4)

	a.SetLong(0, 0x1122334455667788)
	assert.Equal(t, int32(0x55667788), a.Int(0), "low word first")
	assert.Equal(t, int32(0x11223344), a.Int(1), "high word second")
	assert.Equal(t, int64(0x1122334455667788), a.Long(0))

	a.SetLong(2, -2)
	assert.Equal(t, int32(-2), a.Int(2))
	assert.Equal(t, int32(-1), a.Int(3))
	assert.Equal(t, int64(-2), a.Long(2))

	a.SetDouble(0, math.Pi)
	assert.Equal(t, math.Pi, a.Double(0))
	bits := math.Float64bits(math.Pi)
	assert.Equal(t, uint32(bits), uint32(a.Int(0)))
	assert.Equal(t, uint32(bits>>32), uint32(a.Int(1)))
}

func TestArenaLoadStore(t *testing.T) {
	a := NewArena(8)
	obj := &struct{ name string }{"x"}

	tests := []struct {
		kind Kind
		v    Value
	}{
		{KindInt, IntValue(-7)},
		{KindByte, KindedInt(KindByte, -3)},
		{KindFloat, FloatValue(2.25)},
		{KindLong, LongValue(math.MinInt64)},
		{KindDouble, DoubleValue(-0.5)},
		{KindReference, RefValue(obj)},
	}
	for _, tt := range tests {
		a.Store(tt.kind, 1, tt.v)
		got := a.Load(tt.kind, 1)
		if got.Bits() != tt.v.Bits() || got.Ref() != tt.v.Ref() {
			t.Errorf("%s: Load = %v, want %v", tt.kind, got, tt.v)
		}
	}
}

func TestArenaAllocate(t *testing.T) {
	a := NewArena(100)

	base, err := a.Allocate(60)
	require.NoError(t, err)
	assert.Equal(t, 0, base)

	base, err = a.Allocate(40)
	require.NoError(t, err)
	assert.Equal(t, 60, base)
	assert.Equal(t, 100, a.Used())

	_, err = a.Allocate(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArenaExhausted), "error %v should wrap ErrArenaExhausted", err)

	_, err = a.Allocate(-1)
	require.Error(t, err)
}
