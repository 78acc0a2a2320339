// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import (
	"encoding/binary"
	"testing"
)

func TestAssembleDelegateBodyPatchesFieldTokens(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	delegateType := &TypeDescriptor{Name: "Action"}
	targetField := &FieldDescriptor{Name: "_target", DeclaringType: delegateType}
	methodField := &FieldDescriptor{Name: "_method", DeclaringType: delegateType}

	ctor := gen.DelegateConstructor(delegateType)
	gen.AssembleDelegateBody(ctor, targetField, methodField)

	if ctor.Body[len(ctor.Body)-1] != opRet {
		t.Fatalf("delegate constructor body does not end in ret: %x", ctor.Body)
	}
	if ctor.Body[0] != opLdarg0 || ctor.Body[1] != opLdarg1 {
		t.Errorf("delegate constructor body does not start with ldarg.0 ldarg.1: %x", ctor.Body)
	}

	targetTok := tokens.TokenForField(targetField)
	gotTargetTok := Token(binary.LittleEndian.Uint32(ctor.Body[3:7]))
	if gotTargetTok != targetTok {
		t.Errorf("first stfld operand = %v, want %v", gotTargetTok, targetTok)
	}
}

func TestInvokeThunkForwardsArgumentsAndCallsVirt(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	delegateType := &TypeDescriptor{Name: "Func"}
	targetField := &FieldDescriptor{Name: "_target", DeclaringType: delegateType}
	wrapped := &MethodDescriptor{
		Name:       "Handle",
		ParamTypes: []*TypeDescriptor{{Name: "Int32"}},
		ReturnType: &TypeDescriptor{Name: "Int32"},
	}

	thunk := gen.InvokeThunk(delegateType, wrapped, targetField)

	if thunk.Name != "Invoke" {
		t.Errorf("Name = %q, want \"Invoke\"", thunk.Name)
	}
	if !thunk.Flags.has(MethodVirtual) {
		t.Errorf("Flags = %v, want MethodVirtual set", thunk.Flags)
	}
	if thunk.Flags.has(MethodVoidReturn) {
		t.Errorf("Flags should not carry MethodVoidReturn for a non-void wrapped method")
	}
	if thunk.Body[len(thunk.Body)-1] != opRet {
		t.Fatalf("invoke thunk body does not end in ret: %x", thunk.Body)
	}

	wrappedTok := tokens.TokenForMethod(wrapped)
	gotTok := Token(binary.LittleEndian.Uint32(thunk.Body[len(thunk.Body)-5 : len(thunk.Body)-1]))
	if gotTok != wrappedTok {
		t.Errorf("final call operand = %v, want %v", gotTok, wrappedTok)
	}
}

func TestInvokeThunkVoidWrappedMethod(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	delegateType := &TypeDescriptor{Name: "Action"}
	targetField := &FieldDescriptor{Name: "_target", DeclaringType: delegateType}
	wrapped := &MethodDescriptor{Name: "Handle"}

	thunk := gen.InvokeThunk(delegateType, wrapped, targetField)
	if !thunk.Flags.has(MethodVoidReturn) {
		t.Errorf("Flags = %v, want MethodVoidReturn set for a void wrapped method", thunk.Flags)
	}
}

func TestStartupStubRejectsNonStaticEntry(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	hostType := &TypeDescriptor{Name: "Host"}
	entry := &MethodDescriptor{Name: "Main"} // not static

	if _, err := gen.StartupStub(hostType, entry, nil); err == nil {
		t.Error("StartupStub() should reject a non-static entry method")
	}
}

func TestStartupStubRejectsParameterizedEntry(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	hostType := &TypeDescriptor{Name: "Host"}
	entry := &MethodDescriptor{Name: "Main", Flags: MethodStatic,
		ParamTypes: []*TypeDescriptor{{Name: "String"}, {Name: "Int32"}}}

	if _, err := gen.StartupStub(hostType, entry, nil); err == nil {
		t.Error("StartupStub() should reject an entry method with more than one parameter")
	}
}

func TestStartupStubRejectsNonArraySingleParameter(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	hostType := &TypeDescriptor{Name: "Host"}
	entry := &MethodDescriptor{Name: "Main", Flags: MethodStatic,
		ParamTypes: []*TypeDescriptor{{Name: "Int32"}}}

	if _, err := gen.StartupStub(hostType, entry, nil); err == nil {
		t.Error("StartupStub() should reject a single parameter that isn't an array type")
	}
}

func TestStartupStubCallsEntryAndReturns(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	hostType := &TypeDescriptor{Name: "Host"}
	entry := &MethodDescriptor{Name: "Main", Flags: MethodStatic}

	stub, err := gen.StartupStub(hostType, entry, nil)
	if err != nil {
		t.Fatalf("StartupStub() error = %v", err)
	}
	if len(stub.Body) != 6 || stub.Body[0] != opCall || stub.Body[5] != opRet {
		t.Fatalf("stub body = %x, want [call <4 bytes> ret]", stub.Body)
	}
	entryTok := tokens.TokenForMethod(entry)
	gotTok := Token(binary.LittleEndian.Uint32(stub.Body[1:5]))
	if gotTok != entryTok {
		t.Errorf("call operand = %v, want %v", gotTok, entryTok)
	}
}

func TestStartupStubConstructsEmptyArrayForSingleParameterEntry(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	hostType := &TypeDescriptor{Name: "Host"}
	elem := &TypeDescriptor{Name: "String"}
	argsType := &TypeDescriptor{Name: "String[]", Flags: TypeArray, ElementType: elem}
	entry := &MethodDescriptor{Name: "Main", Flags: MethodStatic, ParamTypes: []*TypeDescriptor{argsType}}

	stub, err := gen.StartupStub(hostType, entry, nil)
	if err != nil {
		t.Fatalf("StartupStub() error = %v", err)
	}
	if stub.Body[0] != opLdcI40 || stub.Body[1] != opNewarr {
		t.Fatalf("stub body = %x, want ldc.i4.0 newarr ... before the entry call", stub.Body)
	}
	elemTok := tokens.TokenForType(elem)
	gotTok := Token(binary.LittleEndian.Uint32(stub.Body[2:6]))
	if gotTok != elemTok {
		t.Errorf("newarr operand = %v, want %v", gotTok, elemTok)
	}
	if stub.Body[6] != opCall {
		t.Errorf("stub body = %x, want a call to entry right after the array is constructed", stub.Body)
	}
}

func TestStartupStubEmitsInitializerCallsBeforeEntry(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	hostType := &TypeDescriptor{Name: "Host"}
	cctor := &MethodDescriptor{Name: ".cctor", Flags: MethodStatic | MethodVoidReturn}
	initType := &TypeDescriptor{Name: "Counter", Initializer: cctor}
	entry := &MethodDescriptor{Name: "Main", Flags: MethodStatic}

	stub, err := gen.StartupStub(hostType, entry, []*TypeDescriptor{initType})
	if err != nil {
		t.Fatalf("StartupStub() error = %v", err)
	}
	cctorTok := tokens.TokenForMethod(cctor)
	if stub.Body[0] != opCall || Token(binary.LittleEndian.Uint32(stub.Body[1:5])) != cctorTok {
		t.Fatalf("stub body = %x, want a call to the initializer before the entry call", stub.Body)
	}
	entryTok := tokens.TokenForMethod(entry)
	if Token(binary.LittleEndian.Uint32(stub.Body[6:10])) != entryTok {
		t.Errorf("stub body = %x, want the entry call to follow the initializer call", stub.Body)
	}
}

func TestStartupStubPopsNonVoidEntryReturnValue(t *testing.T) {
	tokens := NewTokenAllocator()
	gen := NewSynthesizedMethodGenerator(tokens)

	hostType := &TypeDescriptor{Name: "Host"}
	entry := &MethodDescriptor{Name: "Main", Flags: MethodStatic, ReturnType: &TypeDescriptor{Name: "Int32"}}

	stub, err := gen.StartupStub(hostType, entry, nil)
	if err != nil {
		t.Fatalf("StartupStub() error = %v", err)
	}
	if len(stub.Body) != 7 || stub.Body[5] != opPop || stub.Body[6] != opRet {
		t.Fatalf("stub body = %x, want [call <4 bytes> pop ret]", stub.Body)
	}
}
