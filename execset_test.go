// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import (
	"encoding/binary"
	"testing"
)

func newTestBuilder(reader ProgramImageReader) (*ExecutionSetBuilder, *TokenAllocator) {
	tokens := NewTokenAllocator()
	registry, _ := BuildReplacementRegistry(nil)
	resolver := NewMetadataResolver(reader)
	rewriter := NewBytecodeRewriter(resolver, registry, tokens, nil)
	walker := NewDependencyWalker(rewriter, nil, nil, nil)
	layout := NewLayoutEngine(nil, nil)
	vtable := NewVTableResolver(tokens)
	sequencer := NewInitializerSequencer(nil, nil)
	return NewExecutionSetBuilder(walker, registry, layout, vtable, sequencer, tokens, nil), tokens
}

func ldstrBody(rawIndex uint32) []byte {
	raw := make([]byte, 5)
	raw[0] = 0x72 // ldstr
	binary.LittleEndian.PutUint32(raw[1:5], rawIndex)
	return raw
}

func TestExecutionSetBuilderBasic(t *testing.T) {
	rootType := &TypeDescriptor{Name: "Root"}
	entry := &MethodDescriptor{Name: "Main", DeclaringType: rootType, Body: ldstrBody(1)}

	builder, _ := newTestBuilder(&stubReader{str: "hello"})
	es, err := builder.Build(entry)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if es.EntryMethod != entry {
		t.Errorf("EntryMethod = %v, want entry", es.EntryMethod)
	}
	if len(es.Strings) != 1 || es.Strings[0].Value != "hello" {
		t.Errorf("Strings = %v, want exactly [\"hello\"]", es.Strings)
	}
	found := false
	for _, ty := range es.Types {
		if ty == rootType {
			found = true
		}
	}
	if !found {
		t.Errorf("Types = %v, want it to include the entry method's declaring type", es.Types)
	}
}

func TestExecutionSetBuilderLayoutOrderedByInheritance(t *testing.T) {
	base := &TypeDescriptor{Name: "Base"}
	base.Members = []Member{{Kind: MemberField, Field: &FieldDescriptor{Name: "a", Kind: KindUint32, Size: 4,
		FieldType: &TypeDescriptor{Name: "UInt32", Kind: KindUint32, KindSize: 4}}}}

	derived := &TypeDescriptor{Name: "Derived", Parent: base}
	derived.Members = []Member{{Kind: MemberField, Field: &FieldDescriptor{Name: "b", Kind: KindObjectRef, Size: PointerWidth,
		FieldType: &TypeDescriptor{Name: "Object", Kind: KindObjectRef, KindSize: PointerWidth}}}}

	entry := &MethodDescriptor{Name: "Main", DeclaringType: derived, Body: retBody()}

	builder, _ := newTestBuilder(&stubReader{})
	es, err := builder.Build(entry)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if base.InstanceSize == 0 {
		t.Fatal("Build() did not compute Base's InstanceSize")
	}
	want := base.InstanceSize + PointerWidth
	if derived.InstanceSize != want {
		t.Errorf("Derived.InstanceSize = %d, want %d (Base %d + own field %d)", derived.InstanceSize, want, base.InstanceSize, PointerWidth)
	}
	baseIdx, derivedIdx := -1, -1
	for i, ty := range es.Types {
		if ty == base {
			baseIdx = i
		}
		if ty == derived {
			derivedIdx = i
		}
	}
	if baseIdx < 0 || derivedIdx < 0 || baseIdx >= derivedIdx {
		t.Errorf("Types order = %v, want Base before Derived", es.Types)
	}
}

func TestExecutionSetBuilderFinalizesInterfaceTokens(t *testing.T) {
	iface := &TypeDescriptor{Name: "IRunnable"}
	ifaceMethod := &MethodDescriptor{Name: "Run", DeclaringType: iface, Flags: MethodVirtual}
	iface.Members = []Member{{Kind: MemberMethod, Method: ifaceMethod}}

	impl := &TypeDescriptor{Name: "Worker", InterfaceTypes: []*TypeDescriptor{iface}}
	implMethod := &MethodDescriptor{Name: "Run", DeclaringType: impl, Flags: MethodVirtual, Body: retBody()}
	impl.Members = []Member{{Kind: MemberMethod, Method: implMethod}}

	entry := &MethodDescriptor{Name: "Main", DeclaringType: impl, Body: retBody()}

	builder, tokens := newTestBuilder(&stubReader{})
	_, err := builder.Build(entry)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(impl.Interfaces) != 1 || impl.Interfaces[0] != tokens.TokenForType(iface) {
		t.Errorf("Interfaces = %v, want exactly [token(iface)]", impl.Interfaces)
	}
}

func TestExecutionSetBuilderWrapsEntryInStartupStub(t *testing.T) {
	rootType := &TypeDescriptor{Name: "Main"}
	entry := &MethodDescriptor{Name: "Main", DeclaringType: rootType, Flags: MethodStatic, Body: retBody()}

	tokens := NewTokenAllocator()
	registry, _ := BuildReplacementRegistry(nil)
	resolver := NewMetadataResolver(&stubReader{})
	rewriter := NewBytecodeRewriter(resolver, registry, tokens, nil)
	walker := NewDependencyWalker(rewriter, nil, nil, nil)
	layout := NewLayoutEngine(nil, nil)
	vtable := NewVTableResolver(tokens)
	sequencer := NewInitializerSequencer(nil, nil)
	synth := NewSynthesizedMethodGenerator(tokens)
	builder := NewExecutionSetBuilder(walker, registry, layout, vtable, sequencer, tokens, synth)

	es, err := builder.Build(entry)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if es.EntryMethod == entry {
		t.Fatal("Build() should wrap entry in a synthesized startup stub, not ship it unwrapped")
	}
	entryTok := tokens.TokenForMethod(entry)
	found := false
	for i := 0; i+4 < len(es.EntryMethod.Body); i++ {
		if es.EntryMethod.Body[i] == opCall && Token(binary.LittleEndian.Uint32(es.EntryMethod.Body[i+1:i+5])) == entryTok {
			found = true
		}
	}
	if !found {
		t.Errorf("startup stub body = %x, want a call to entry's token %v", es.EntryMethod.Body, entryTok)
	}
	inMethods := false
	for _, m := range es.Methods {
		if m == entry {
			inMethods = true
		}
	}
	if !inMethods {
		t.Error("Build() should still ship the original entry method alongside the stub")
	}
}

func TestExecutionSetCheckCapacity(t *testing.T) {
	rootType := &TypeDescriptor{Name: "Root"}
	entry := &MethodDescriptor{Name: "Main", DeclaringType: rootType, Body: retBody()}

	builder, _ := newTestBuilder(&stubReader{})
	es, err := builder.Build(entry)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	est := es.Estimate()
	if err := es.CheckCapacity(est.TotalBytes); err != nil {
		t.Errorf("CheckCapacity(exact budget) should succeed, got %v", err)
	}
	if err := es.CheckCapacity(0); err == nil {
		t.Error("CheckCapacity(0) should fail for a non-empty execution set")
	}
}
