package classes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/jvmcore/heap"
	"github.com/chazu/jvmcore/vm"
)

func poolClass(t *testing.T) (*Loader, *ConstantPool) {
	t.Helper()
	l, _, _, _ := shapes(t)
	c, err := l.Define(ClassDef{
		Name: "demo/User",
		Constants: []Constant{
			{},
			IntConst(-7),
			LongConst(1 << 40),
			FloatConst(1.5),
			DoubleConst(2.25),
			StringConst("hi"),
			ClassRef("demo/Square"),
			FieldRef("demo/Square", "sides", "I"),
			FieldRef("demo/Square", "count", "J"),
			MethodRef("demo/Square", "area", "()I"),
			MethodRef("demo/Shape", "make", "(I)I"),
			InterfaceMethodRef("demo/Named", "name", "()I"),
			ClassRef("demo/Missing"),
			MethodRef("demo/Shape", "missing", "()V"),
			FieldRef("demo/Shape", "missing", "I"),
			{Tag: vm.TagUtf8, Text: "raw"},
		},
	})
	require.NoError(t, err)
	return l, c.Pool()
}

func TestResolveConstants(t *testing.T) {
	l, p := poolClass(t)

	v, err := p.Resolve(1, vm.TagInteger)
	require.NoError(t, err)
	assert.Equal(t, int32(-7), v.Int())

	v, err = p.Resolve(2, vm.TagLong)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), v.Long())

	v, err = p.Resolve(3, vm.TagFloat)
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), v.Float())

	v, err = p.Resolve(4, vm.TagDouble)
	require.NoError(t, err)
	assert.Equal(t, 2.25, v.Double())

	v, err = p.Resolve(5, vm.TagString)
	require.NoError(t, err)
	s, ok := v.Ref().(*heap.String)
	require.True(t, ok)
	assert.Equal(t, "hi", s.Value)
	assert.Same(t, l.Intern("hi"), s)

	again, err := p.Resolve(5, vm.TagString)
	require.NoError(t, err)
	assert.Same(t, s, again.Ref())

	_, err = p.Resolve(1, vm.TagLong)
	assert.Error(t, err, "tag mismatch")
	_, err = p.Resolve(15, vm.TagUtf8)
	assert.Error(t, err, "utf8 is not loadable")
	_, err = p.Resolve(99, vm.TagInteger)
	assert.Error(t, err)
	_, ok = vm.AsGuestError(err)
	assert.False(t, ok, "a bad index is not a guest error")
}

func TestPeekTag(t *testing.T) {
	_, p := poolClass(t)
	assert.Equal(t, vm.TagInteger, p.PeekTag(1))
	assert.Equal(t, vm.TagDouble, p.PeekTag(4))
	assert.Equal(t, vm.ConstantTag(0), p.PeekTag(0))
	assert.Equal(t, vm.ConstantTag(0), p.PeekTag(100))
	assert.Equal(t, vm.TagUtf8, p.PeekTag(15), "last entry")
	assert.Equal(t, vm.ConstantTag(0), p.PeekTag(16))
	assert.Equal(t, 16, p.Len())
}

func TestResolveMembers(t *testing.T) {
	l, p := poolClass(t)
	square, _ := l.Lookup("demo/Square")

	c, err := p.ResolveClass(6)
	require.NoError(t, err)
	assert.Same(t, square, c)

	f, err := p.ResolveField(7, false)
	require.NoError(t, err)
	assert.Equal(t, "sides", f.Name())
	assert.Equal(t, "demo/Shape", f.Class().Name())

	f, err = p.ResolveField(8, true)
	require.NoError(t, err)
	assert.Equal(t, vm.KindLong, f.Kind())

	m, err := p.ResolveMethod(9, false)
	require.NoError(t, err)
	assert.Equal(t, "demo/Shape", m.Class().Name(), "inherited method")

	m, err = p.ResolveMethod(10, true)
	require.NoError(t, err)
	assert.True(t, m.IsStatic())

	m, err = p.ResolveMethod(11, false)
	require.NoError(t, err)
	assert.True(t, m.IsAbstract())

	cached, err := p.ResolveMethod(11, false)
	require.NoError(t, err)
	assert.Same(t, m, cached)
}

func TestResolutionErrors(t *testing.T) {
	_, p := poolClass(t)

	tests := []struct {
		name    string
		resolve func() error
		class   string
	}{
		{"missing class", func() error { _, err := p.ResolveClass(12); return err }, vm.NoClassDefFoundError},
		{"missing method", func() error { _, err := p.ResolveMethod(13, false); return err }, vm.NoSuchMethodError},
		{"missing field", func() error { _, err := p.ResolveField(14, false); return err }, vm.NoSuchFieldError},
		{"static field as instance", func() error { _, err := p.ResolveField(8, false); return err }, IncompatibleClassChangeError},
		{"instance field as static", func() error { _, err := p.ResolveField(7, true); return err }, IncompatibleClassChangeError},
		{"static method as virtual", func() error { _, err := p.ResolveMethod(10, false); return err }, IncompatibleClassChangeError},
		{"virtual method as static", func() error { _, err := p.ResolveMethod(9, true); return err }, IncompatibleClassChangeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resolve()
			g, ok := vm.AsGuestError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.class, g.Class)
		})
	}

	_, err := p.ResolveClass(1)
	assert.Error(t, err, "wrong tag")
	_, err = p.ResolveMethod(7, false)
	assert.Error(t, err, "field ref is not a method ref")
}
