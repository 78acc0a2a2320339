// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "fmt"

// ReplacementSpec is the declarative table entry the replacement registry
// is built from, in place of scanning attributes at compile time: an
// explicit registry built from a declarative table.
type ReplacementSpec struct {
	// Target is the platform type this substitute stands in for.
	Target *TypeDescriptor
	// AdditionalTargets handles the well-known duplicated interop-shim
	// type: the same substitute is installed against every copy of it
	// found across the declared system-assembly list.
	AdditionalTargets []*TypeDescriptor
	// TargetMethods and TargetFields are every declared method/field of
	// Target (and of each entry in AdditionalTargets, concatenated),
	// independent of whether they are currently reachable -- replacement
	// lookups must be able to match against members that haven't been
	// walked yet.
	TargetMethods []*MethodDescriptor
	TargetFields  []*FieldDescriptor

	Substitute *TypeDescriptor

	ReplaceEntireType bool
	IncludeSubclasses bool
	IncludePrivates   bool

	// SubstituteMethods/SubstituteFields are the substitute's annotated
	// members to match against TargetMethods/TargetFields by signature or
	// operator-name equality. Unused when ReplaceEntireType is true.
	SubstituteMethods []*MethodDescriptor
	SubstituteFields  []*FieldDescriptor

	// Private marks a substitute member visible only to IncludePrivates
	// matching -- indexed parallel to SubstituteMethods/SubstituteFields.
	MethodIsPrivateOnTarget []bool
	FieldIsPrivateOnTarget  []bool
}

type typeReplacement struct {
	substitute        *TypeDescriptor
	entire            bool
	includeSubclasses bool
}

// ReplacementRegistry owns the mapping from platform types/methods to
// substitutes.
type ReplacementRegistry struct {
	typeReplacements   map[*TypeDescriptor]*typeReplacement
	methodReplacements map[*MethodDescriptor]*MethodDescriptor
	fieldReplacements  map[*FieldDescriptor]*FieldDescriptor
}

// BuildReplacementRegistry populates a registry from specs, matching
// partial-replacement members by signature/operator-name equality and
// failing loudly (ErrMissingReplacementTarget) when an annotated
// substitute member names nothing on its target: a substitute that
// points at nothing is a bug.
func BuildReplacementRegistry(specs []ReplacementSpec) (*ReplacementRegistry, error) {
	reg := &ReplacementRegistry{
		typeReplacements:   make(map[*TypeDescriptor]*typeReplacement),
		methodReplacements: make(map[*MethodDescriptor]*MethodDescriptor),
		fieldReplacements:  make(map[*FieldDescriptor]*FieldDescriptor),
	}
	for _, spec := range specs {
		targets := append([]*TypeDescriptor{spec.Target}, spec.AdditionalTargets...)
		for _, target := range targets {
			if target == nil {
				continue
			}
			reg.typeReplacements[target] = &typeReplacement{
				substitute:        spec.Substitute,
				entire:            spec.ReplaceEntireType,
				includeSubclasses: spec.IncludeSubclasses,
			}
			if spec.Substitute != nil {
				spec.Substitute.substitutedFrom = target
			}
		}
		if spec.ReplaceEntireType {
			continue
		}
		for i, subMethod := range spec.SubstituteMethods {
			private := i < len(spec.MethodIsPrivateOnTarget) && spec.MethodIsPrivateOnTarget[i]
			if private && !spec.IncludePrivates {
				continue
			}
			target := findMatchingMethod(subMethod, spec.TargetMethods)
			if target == nil {
				return nil, fmt.Errorf("%w: substitute method %s names nothing on its target",
					ErrMissingReplacementTarget, subMethod.FullName())
			}
			subMethod.substituteOf = target
			reg.methodReplacements[target] = subMethod
		}
		for i, subField := range spec.SubstituteFields {
			private := i < len(spec.FieldIsPrivateOnTarget) && spec.FieldIsPrivateOnTarget[i]
			if private && !spec.IncludePrivates {
				continue
			}
			target := findMatchingField(subField, spec.TargetFields)
			if target == nil {
				return nil, fmt.Errorf("%w: substitute field %s names nothing on its target",
					ErrMissingReplacementTarget, subField.FullName())
			}
			subField.substituteOf = target
			reg.fieldReplacements[target] = subField
		}
	}
	return reg, nil
}

func findMatchingMethod(sub *MethodDescriptor, candidates []*MethodDescriptor) *MethodDescriptor {
	for _, c := range candidates {
		if c.SignatureEquals(sub) {
			return c
		}
	}
	return nil
}

func findMatchingField(sub *FieldDescriptor, candidates []*FieldDescriptor) *FieldDescriptor {
	for _, c := range candidates {
		if c.Name == sub.Name {
			return c
		}
	}
	return nil
}

// TypeReplacement returns the substitute type for t when t (or, with
// IncludeSubclasses, one of t's bases) is marked for entire-type
// replacement.
func (r *ReplacementRegistry) TypeReplacement(t *TypeDescriptor) (*TypeDescriptor, bool) {
	if r == nil {
		return nil, false
	}
	for cur := t; cur != nil; cur = cur.Parent {
		tr, ok := r.typeReplacements[cur]
		if !ok {
			continue
		}
		if cur == t {
			if tr.entire {
				return tr.substitute, true
			}
			return nil, false
		}
		if tr.entire && tr.includeSubclasses {
			return tr.substitute, true
		}
		return nil, false
	}
	return nil, false
}

// MethodReplacement returns the substitute method for m under partial
// type replacement.
func (r *ReplacementRegistry) MethodReplacement(m *MethodDescriptor) (*MethodDescriptor, bool) {
	if r == nil {
		return nil, false
	}
	sub, ok := r.methodReplacements[m]
	return sub, ok
}

// FieldReplacement returns the substitute field for f under partial type
// replacement.
func (r *ReplacementRegistry) FieldReplacement(f *FieldDescriptor) (*FieldDescriptor, bool) {
	if r == nil {
		return nil, false
	}
	sub, ok := r.fieldReplacements[f]
	return sub, ok
}

// IsPartiallyReplaced reports whether t has any member-level replacement
// without being itself entirely replaced -- used by the execution set
// finalization pass that de-duplicates originals/substitutes.
func (r *ReplacementRegistry) IsPartiallyReplaced(t *TypeDescriptor) bool {
	if r == nil {
		return false
	}
	if tr, ok := r.typeReplacements[t]; ok && tr.entire {
		return false
	}
	for target := range r.methodReplacements {
		if target.DeclaringType == t {
			return true
		}
	}
	for target := range r.fieldReplacements {
		if target.DeclaringType == t {
			return true
		}
	}
	return false
}
