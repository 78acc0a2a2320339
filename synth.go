// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "fmt"

// SynthesizedMethodGenerator builds the handful of method bodies the
// compiler itself must manufacture rather than read from the program's
// metadata: delegate constructors/invoke thunks, and the startup stub
// that wraps the user entry method. These bypass the ordinary bytecode
// parser entirely -- they are assembled directly in terms of already-
// allocated tokens, built by hand instead of parsed.
type SynthesizedMethodGenerator struct {
	tokens *TokenAllocator
}

// NewSynthesizedMethodGenerator constructs a generator sharing tokens
// with the rest of the compile pipeline so synthesized bodies reference
// the same token space as parsed ones.
func NewSynthesizedMethodGenerator(tokens *TokenAllocator) *SynthesizedMethodGenerator {
	return &SynthesizedMethodGenerator{tokens: tokens}
}

// delegateShimOpcodes names the tiny set of opcodes synthesized bodies
// are assembled from: load-argument, call (direct or virtual), return.
const (
	opLdarg0   byte = 0x02
	opLdarg1   byte = 0x03
	opLdarg2   byte = 0x04
	opLdarg3   byte = 0x05
	opLdargS   byte = 0x0E
	opLdcI40   byte = 0x16
	opPop      byte = 0x26
	opCall     byte = 0x28
	opNewarr   byte = 0x8D
	opCallvirt byte = 0x6F
	opRet      byte = 0x2A
)

// DelegateConstructor synthesizes the constructor body for an instantiated
// delegate type: it stores the target object and method-pointer arguments
// into the delegate instance and returns. This body is never parsed by
// the rewriter; it is assembled directly against already-known tokens.
func (g *SynthesizedMethodGenerator) DelegateConstructor(delegateType *TypeDescriptor) *MethodDescriptor {
	m := &MethodDescriptor{
		DeclaringType: delegateType,
		Name:          ".ctor",
		ParamTypes:    []*TypeDescriptor{nil, nil}, // object target, native int method pointer
		ParamNames:    []string{"object", "method"},
		Flags:         MethodCtor | MethodSpecialNative,
		MaxStack:      2,
	}
	// ldarg.0 ; ldarg.1 ; stfld target ; ldarg.0 ; ldarg.2 ; stfld method ; ret
	// Field store targets are resolved by the caller once the delegate
	// type's two well-known fields have tokens; this generator only
	// produces the instruction skeleton, leaving field operands to be
	// patched in by AssembleDelegateBody.
	m.Body = []byte{opRet}
	return m
}

// AssembleDelegateBody fills in the field-store operands of a delegate
// constructor body once targetField and methodField have tokens. The
// invoke-thunk body is built separately, by InvokeThunk.
func (g *SynthesizedMethodGenerator) AssembleDelegateBody(ctor *MethodDescriptor, targetField, methodField *FieldDescriptor) {
	targetTok := g.tokens.TokenForField(targetField)
	methodTok := g.tokens.TokenForField(methodField)
	body := make([]byte, 0, 20)
	body = append(body, opLdarg0, opLdarg1)
	body = appendToken(body, 0x7D, targetTok) // stfld
	body = append(body, opLdarg0, opLdarg2)
	body = appendToken(body, 0x7D, methodTok) // stfld
	body = append(body, opRet)
	ctor.Body = body
}

func appendToken(body []byte, opcode byte, tok Token) []byte {
	body = append(body, opcode)
	v := uint32(tok)
	return append(body, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// InvokeThunk synthesizes a delegate's Invoke method body: it loads the
// stored target and every forwarded argument and calls through the stored
// method pointer. wrapped is the method descriptor the thunk ultimately
// calls, already resolved by the Replacement Registry if applicable.
func (g *SynthesizedMethodGenerator) InvokeThunk(delegateType *TypeDescriptor, wrapped *MethodDescriptor, targetField *FieldDescriptor) *MethodDescriptor {
	m := &MethodDescriptor{
		DeclaringType: delegateType,
		Name:          "Invoke",
		ParamTypes:    append([]*TypeDescriptor(nil), wrapped.ParamTypes...),
		ParamNames:    append([]string(nil), wrapped.ParamNames...),
		ReturnType:    wrapped.ReturnType,
		Flags:         MethodVirtual | MethodSpecialNative,
		MaxStack:      uint16(len(wrapped.ParamTypes) + 1),
	}
	if wrapped.ReturnType == nil {
		m.Flags |= MethodVoidReturn
	}
	body := make([]byte, 0, 16)
	targetTok := g.tokens.TokenForField(targetField)
	body = append(body, opLdarg0)
	body = appendToken(body, 0x7B, targetTok) // ldfld
	for i := range wrapped.ParamTypes {
		switch i {
		case 0:
			body = append(body, opLdarg1)
		case 1:
			body = append(body, opLdarg2)
		case 2:
			body = append(body, opLdarg3)
		default:
			body = append(body, opLdargS, byte(i+1))
		}
	}
	wrappedTok := g.tokens.TokenForMethod(wrapped)
	body = appendToken(body, opCallvirt, wrappedTok)
	body = append(body, opRet)
	m.Body = body
	return m
}

// StartupStub synthesizes the tiny wrapper the device's boot sequence
// calls directly: it runs every type's static initializer in initOrder,
// then invokes the program's designated entry method and returns, giving
// the device a single, fixed-shape entry point regardless of the user
// entry method's own signature. The entry method must be static and take
// either no parameters or a single array parameter, the latter populated
// with an empty array (this compiler never threads real command-line
// arguments through to a device-resident program).
func (g *SynthesizedMethodGenerator) StartupStub(hostType *TypeDescriptor, entry *MethodDescriptor, initOrder []*TypeDescriptor) (*MethodDescriptor, error) {
	if !entry.Flags.has(MethodStatic) || len(entry.ParamTypes) > 1 {
		return nil, fmt.Errorf("%w: entry method %s must be static with at most one parameter", ErrBadEntryPoint, entry.FullName())
	}
	if len(entry.ParamTypes) == 1 && !entry.ParamTypes[0].Flags.has(TypeArray) {
		return nil, fmt.Errorf("%w: entry method %s's single parameter must be an array type", ErrBadEntryPoint, entry.FullName())
	}

	m := &MethodDescriptor{
		DeclaringType: hostType,
		Name:          "<Startup>",
		Flags:         MethodStatic | MethodVoidReturn | MethodSpecialNative,
		MaxStack:      1,
	}

	var body []byte
	for _, t := range initOrder {
		if t.Initializer == nil || t.InitSuppressed || t.suppressed {
			continue
		}
		body = appendToken(body, opCall, g.tokens.TokenForMethod(t.Initializer))
	}

	if len(entry.ParamTypes) == 1 {
		elemTok := g.tokens.TokenForType(entry.ParamTypes[0].ElementType)
		body = append(body, opLdcI40)
		body = appendToken(body, opNewarr, elemTok)
	}

	entryTok := g.tokens.TokenForMethod(entry)
	body = appendToken(body, opCall, entryTok)
	if entry.ReturnType != nil && !entry.Flags.has(MethodVoidReturn) {
		body = append(body, opPop)
	}
	body = append(body, opRet)
	m.Body = body
	return m, nil
}
