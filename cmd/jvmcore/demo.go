package main

import (
	"github.com/chazu/jvmcore/classes"
	"github.com/chazu/jvmcore/rt"
	"github.com/chazu/jvmcore/vm"
)

// demoImage builds a two-class program: demo/Table holds a static base
// set by its initializer, and demo/Main prints fib(20) plus that base.
func demoImage() *classes.Image {
	static := classes.AccPublic | classes.AccStatic

	table := classes.ClassDef{
		Name: "demo/Table",
		Constants: []classes.Constant{
			{},
			classes.FieldRef("demo/Table", "base", "I"),
		},
		Fields: []classes.FieldDef{{Name: "base", Descriptor: "I", Flags: static}},
		Methods: []classes.MethodDef{{
			Name: "<clinit>", Descriptor: "()V", Flags: classes.AccStatic,
			MaxStack: 1,
			Code: assemble(func(b *vm.BytecodeBuilder) {
				b.EmitInt8(vm.OpBIPush, 10)
				b.EmitUint16(vm.OpPutStatic, 1)
				b.Emit(vm.OpReturn)
			}),
		}},
	}

	const (
		fibRef = iota + 1
		printInt
		baseRef
		banner
		printString
	)
	program := classes.ClassDef{
		Name: "demo/Main",
		Constants: []classes.Constant{
			{},
			classes.MethodRef("demo/Main", "fib", "(I)I"),
			classes.MethodRef(rt.SysClass, "print", "(I)V"),
			classes.FieldRef("demo/Table", "base", "I"),
			classes.StringConst("fib(20) + base ="),
			classes.MethodRef(rt.SysClass, "print", "(Ljava/lang/String;)V"),
		},
		Methods: []classes.MethodDef{
			{
				Name: "main", Descriptor: "()I", Flags: static,
				MaxLocals: 1, MaxStack: 2,
				Code: assemble(func(b *vm.BytecodeBuilder) {
					b.EmitByte(vm.OpLdc, banner)
					b.EmitUint16(vm.OpInvokeStatic, printString)
					b.EmitInt8(vm.OpBIPush, 20)
					b.EmitUint16(vm.OpInvokeStatic, fibRef)
					b.EmitUint16(vm.OpGetStatic, baseRef)
					b.Emit(vm.OpIAdd)
					b.Emit(vm.OpIStore0)
					b.Emit(vm.OpILoad0)
					b.EmitUint16(vm.OpInvokeStatic, printInt)
					b.Emit(vm.OpILoad0)
					b.Emit(vm.OpIReturn)
				}),
			},
			{
				Name: "fib", Descriptor: "(I)I", Flags: static,
				MaxLocals: 1, MaxStack: 3,
				Code: assemble(func(b *vm.BytecodeBuilder) {
					recurse := b.NewLabel()
					b.Emit(vm.OpILoad0)
					b.Emit(vm.OpIConst2)
					b.EmitJump(vm.OpIfICmpGe, recurse)
					b.Emit(vm.OpILoad0)
					b.Emit(vm.OpIReturn)
					b.Mark(recurse)
					b.Emit(vm.OpILoad0)
					b.Emit(vm.OpIConst1)
					b.Emit(vm.OpISub)
					b.EmitUint16(vm.OpInvokeStatic, fibRef)
					b.Emit(vm.OpILoad0)
					b.Emit(vm.OpIConst2)
					b.Emit(vm.OpISub)
					b.EmitUint16(vm.OpInvokeStatic, fibRef)
					b.Emit(vm.OpIAdd)
					b.Emit(vm.OpIReturn)
				}),
			},
		},
	}

	return &classes.Image{
		Version: classes.ImageVersion,
		Entry:   &classes.EntryPoint{Class: "demo/Main", Name: "main", Descriptor: "()I"},
		Classes: []classes.ClassDef{table, program},
	}
}

func assemble(build func(b *vm.BytecodeBuilder)) []byte {
	b := vm.NewBytecodeBuilder()
	build(b)
	return b.Bytes()
}
