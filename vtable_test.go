// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "testing"

func TestVTableResolverBaseOverride(t *testing.T) {
	tokens := NewTokenAllocator()
	vr := NewVTableResolver(tokens)

	base := &TypeDescriptor{Name: "Base"}
	baseMethod := &MethodDescriptor{Name: "Run", DeclaringType: base, Flags: MethodVirtual}
	base.Members = []Member{{Kind: MemberMethod, Method: baseMethod}}

	derived := &TypeDescriptor{Name: "Derived", Parent: base}
	derivedMethod := &MethodDescriptor{Name: "Run", DeclaringType: derived, Flags: MethodVirtual}
	derived.Members = []Member{{Kind: MemberMethod, Method: derivedMethod}}

	vr.ResolveType(derived)

	if len(derivedMethod.Overrides) != 1 {
		t.Fatalf("Overrides = %v, want exactly one base-slot override", derivedMethod.Overrides)
	}
	if derivedMethod.Overrides[0] != tokens.TokenForMethod(baseMethod) {
		t.Errorf("Overrides[0] does not reference the base method's token")
	}
}

func TestVTableResolverNewSlotSkipsBase(t *testing.T) {
	tokens := NewTokenAllocator()
	vr := NewVTableResolver(tokens)

	base := &TypeDescriptor{Name: "Base"}
	baseMethod := &MethodDescriptor{Name: "Run", DeclaringType: base, Flags: MethodVirtual}
	base.Members = []Member{{Kind: MemberMethod, Method: baseMethod}}

	derived := &TypeDescriptor{Name: "Derived", Parent: base}
	derivedMethod := &MethodDescriptor{Name: "Run", DeclaringType: derived, Flags: MethodVirtual | MethodNewSlot}
	derived.Members = []Member{{Kind: MemberMethod, Method: derivedMethod}}

	vr.ResolveType(derived)

	if len(derivedMethod.Overrides) != 0 {
		t.Errorf("Overrides = %v, want none: a new-slot method must not be linked to the base's slot", derivedMethod.Overrides)
	}
}

func TestVTableResolverImplicitInterfaceMatch(t *testing.T) {
	tokens := NewTokenAllocator()
	vr := NewVTableResolver(tokens)

	iface := &TypeDescriptor{Name: "IRunnable"}
	ifaceMethod := &MethodDescriptor{Name: "Run", DeclaringType: iface, Flags: MethodVirtual}
	iface.Members = []Member{{Kind: MemberMethod, Method: ifaceMethod}}

	impl := &TypeDescriptor{Name: "Worker", InterfaceTypes: []*TypeDescriptor{iface}}
	implMethod := &MethodDescriptor{Name: "Run", DeclaringType: impl, Flags: MethodVirtual}
	impl.Members = []Member{{Kind: MemberMethod, Method: implMethod}}

	vr.ResolveType(impl)

	if len(implMethod.Overrides) != 1 {
		t.Fatalf("Overrides = %v, want exactly one interface-slot override", implMethod.Overrides)
	}
	if implMethod.Overrides[0] != tokens.TokenForMethod(ifaceMethod) {
		t.Errorf("Overrides[0] does not reference the interface method's token")
	}
}

func TestVTableResolverExplicitInterfaceImpl(t *testing.T) {
	tokens := NewTokenAllocator()
	vr := NewVTableResolver(tokens)

	iface := &TypeDescriptor{Name: "IRunnable"}
	ifaceMethod := &MethodDescriptor{Name: "Run", DeclaringType: iface, Flags: MethodVirtual}
	iface.Members = []Member{{Kind: MemberMethod, Method: ifaceMethod}}

	impl := &TypeDescriptor{Name: "Worker", InterfaceTypes: []*TypeDescriptor{iface}}
	implMethod := &MethodDescriptor{Name: "IRunnable.Run", DeclaringType: impl, Flags: MethodVirtual}
	impl.Members = []Member{{Kind: MemberMethod, Method: implMethod}}
	impl.SetInterfaceImplementation(ifaceMethod, implMethod)

	vr.ResolveType(impl)

	if len(implMethod.Overrides) != 1 {
		t.Fatalf("Overrides = %v, want exactly one explicit interface override", implMethod.Overrides)
	}
	if implMethod.Overrides[0] != tokens.TokenForMethod(ifaceMethod) {
		t.Errorf("Overrides[0] does not reference the explicitly-mapped interface method's token")
	}
}

func TestVTableResolverNonVirtualSkipped(t *testing.T) {
	tokens := NewTokenAllocator()
	vr := NewVTableResolver(tokens)

	base := &TypeDescriptor{Name: "Base"}
	baseMethod := &MethodDescriptor{Name: "Run", DeclaringType: base, Flags: MethodVirtual}
	base.Members = []Member{{Kind: MemberMethod, Method: baseMethod}}

	derived := &TypeDescriptor{Name: "Derived", Parent: base}
	nonVirtual := &MethodDescriptor{Name: "Run", DeclaringType: derived}
	derived.Members = []Member{{Kind: MemberMethod, Method: nonVirtual}}

	vr.ResolveType(derived)

	if nonVirtual.Overrides != nil {
		t.Errorf("Overrides = %v, want nil: a non-virtual method is never linked into the dispatch chain", nonVirtual.Overrides)
	}
}
