// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

// VTableResolver computes, for every virtual method in the execution set,
// the set of base and interface method slots it overrides. Dispatch on
// the device resolves a call by walking this override information rather
// than by re-deriving it from names at runtime.
type VTableResolver struct {
	tokens *TokenAllocator
}

// NewVTableResolver constructs a resolver that records override tokens
// via tokens, so a method's Overrides slice is stable once computed.
func NewVTableResolver(tokens *TokenAllocator) *VTableResolver {
	return &VTableResolver{tokens: tokens}
}

// ResolveType computes Overrides for every virtual method declared
// directly on t: first the base-chain walk (name+signature match against
// the nearest ancestor that declares a virtual slot, skipping dispatch
// entirely for a method marked new-slot), then the authoritative
// interface-implementation map for any explicit interface member t
// recorded via SetInterfaceImplementation.
func (vr *VTableResolver) ResolveType(t *TypeDescriptor) {
	for _, mem := range t.Members {
		if mem.Kind != MemberMethod {
			continue
		}
		m := mem.Method
		if !m.Flags.has(MethodVirtual) {
			continue
		}
		m.Overrides = nil

		if !m.Flags.has(MethodNewSlot) {
			if base := findVirtualSlot(t.Parent, m); base != nil {
				m.Overrides = append(m.Overrides, vr.tokens.TokenForMethod(base))
			}
		}

		for _, iface := range allInterfaceTypes(t) {
			if impl := explicitInterfaceImpl(t, iface, m); impl != nil {
				m.Overrides = append(m.Overrides, vr.tokens.TokenForMethod(impl))
				continue
			}
			if target := findImplicitInterfaceMember(iface, m); target != nil {
				m.Overrides = append(m.Overrides, vr.tokens.TokenForMethod(target))
			}
		}
	}
}

// findVirtualSlot walks the base chain starting at base looking for the
// nearest virtual method with the same signature as m.
func findVirtualSlot(base *TypeDescriptor, m *MethodDescriptor) *MethodDescriptor {
	for cur := base; cur != nil; cur = cur.Parent {
		for _, mem := range cur.Members {
			if mem.Kind != MemberMethod {
				continue
			}
			cand := mem.Method
			if !cand.Flags.has(MethodVirtual) {
				continue
			}
			if cand.SignatureEquals(m) {
				return cand
			}
		}
	}
	return nil
}

// explicitInterfaceImpl consults t's authoritative interface-impl map
// (populated out of band via SetInterfaceImplementation, for the cases
// where implicit name/signature matching against the interface would be
// ambiguous or simply wrong, e.g. a type implementing the same interface
// method twice under different names).
func explicitInterfaceImpl(t *TypeDescriptor, iface *TypeDescriptor, candidate *MethodDescriptor) *MethodDescriptor {
	if t.interfaceImpl == nil {
		return nil
	}
	for ifaceMethod, impl := range t.interfaceImpl {
		if ifaceMethod.DeclaringType == iface && impl == candidate {
			return ifaceMethod
		}
	}
	return nil
}

// findImplicitInterfaceMember finds iface's member with the same
// signature as m, the ordinary (non-explicit) interface dispatch path.
func findImplicitInterfaceMember(iface *TypeDescriptor, m *MethodDescriptor) *MethodDescriptor {
	for _, mem := range iface.Members {
		if mem.Kind != MemberMethod {
			continue
		}
		if mem.Method.SignatureEquals(m) {
			return mem.Method
		}
	}
	return nil
}

// allInterfaceTypes returns t's resolved interface descriptors
// (InterfaceTypes, filled in during image reading); the token-only
// Interfaces list is not consulted.
func allInterfaceTypes(t *TypeDescriptor) []*TypeDescriptor {
	return t.InterfaceTypes
}
