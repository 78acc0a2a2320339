// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "testing"

func TestBuildReplacementRegistryEntireType(t *testing.T) {
	target := &TypeDescriptor{Name: "Thread"}
	substitute := &TypeDescriptor{Name: "DeviceThread"}

	reg, err := BuildReplacementRegistry([]ReplacementSpec{
		{Target: target, Substitute: substitute, ReplaceEntireType: true},
	})
	if err != nil {
		t.Fatalf("BuildReplacementRegistry() error = %v", err)
	}

	got, ok := reg.TypeReplacement(target)
	if !ok || got != substitute {
		t.Errorf("TypeReplacement(target) = (%v, %v), want (%v, true)", got, ok, substitute)
	}
}

func TestBuildReplacementRegistryIncludeSubclasses(t *testing.T) {
	base := &TypeDescriptor{Name: "Stream"}
	derived := &TypeDescriptor{Name: "FileStream", Parent: base}
	substitute := &TypeDescriptor{Name: "DeviceStream"}

	reg, err := BuildReplacementRegistry([]ReplacementSpec{
		{Target: base, Substitute: substitute, ReplaceEntireType: true, IncludeSubclasses: true},
	})
	if err != nil {
		t.Fatalf("BuildReplacementRegistry() error = %v", err)
	}

	got, ok := reg.TypeReplacement(derived)
	if !ok || got != substitute {
		t.Errorf("TypeReplacement(derived) = (%v, %v), want (%v, true) via IncludeSubclasses", got, ok, substitute)
	}
}

func TestBuildReplacementRegistryNoSubclassLeakage(t *testing.T) {
	base := &TypeDescriptor{Name: "Stream"}
	derived := &TypeDescriptor{Name: "FileStream", Parent: base}
	substitute := &TypeDescriptor{Name: "DeviceStream"}

	reg, err := BuildReplacementRegistry([]ReplacementSpec{
		{Target: base, Substitute: substitute, ReplaceEntireType: true, IncludeSubclasses: false},
	})
	if err != nil {
		t.Fatalf("BuildReplacementRegistry() error = %v", err)
	}

	if _, ok := reg.TypeReplacement(derived); ok {
		t.Errorf("TypeReplacement(derived) should not inherit replacement without IncludeSubclasses")
	}
}

func TestBuildReplacementRegistryPartialMethodMatch(t *testing.T) {
	target := &TypeDescriptor{Name: "Console"}
	targetWrite := &MethodDescriptor{DeclaringType: target, Name: "Write", ParamTypes: []*TypeDescriptor{{Name: "String"}}}
	target.Members = []Member{{Kind: MemberMethod, Method: targetWrite}}

	substitute := &TypeDescriptor{Name: "DeviceConsole"}
	subWrite := &MethodDescriptor{DeclaringType: substitute, Name: "Write", ParamTypes: []*TypeDescriptor{targetWrite.ParamTypes[0]}}

	reg, err := BuildReplacementRegistry([]ReplacementSpec{
		{
			Target:            target,
			TargetMethods:     []*MethodDescriptor{targetWrite},
			Substitute:        substitute,
			SubstituteMethods: []*MethodDescriptor{subWrite},
		},
	})
	if err != nil {
		t.Fatalf("BuildReplacementRegistry() error = %v", err)
	}

	got, ok := reg.MethodReplacement(targetWrite)
	if !ok || got != subWrite {
		t.Errorf("MethodReplacement(targetWrite) = (%v, %v), want (%v, true)", got, ok, subWrite)
	}
}

func TestBuildReplacementRegistryMissingTargetFails(t *testing.T) {
	target := &TypeDescriptor{Name: "Console"}
	substitute := &TypeDescriptor{Name: "DeviceConsole"}
	orphan := &MethodDescriptor{DeclaringType: substitute, Name: "Beep"}

	_, err := BuildReplacementRegistry([]ReplacementSpec{
		{
			Target:            target,
			TargetMethods:     nil,
			Substitute:        substitute,
			SubstituteMethods: []*MethodDescriptor{orphan},
		},
	})
	if err == nil {
		t.Fatal("BuildReplacementRegistry() with an unmatched substitute method should fail")
	}
}

func TestBuildReplacementRegistryAdditionalTargets(t *testing.T) {
	targetA := &TypeDescriptor{Name: "ShimA"}
	targetB := &TypeDescriptor{Name: "ShimB"}
	substitute := &TypeDescriptor{Name: "DeviceShim"}

	reg, err := BuildReplacementRegistry([]ReplacementSpec{
		{Target: targetA, AdditionalTargets: []*TypeDescriptor{targetB}, Substitute: substitute, ReplaceEntireType: true},
	})
	if err != nil {
		t.Fatalf("BuildReplacementRegistry() error = %v", err)
	}

	for _, target := range []*TypeDescriptor{targetA, targetB} {
		got, ok := reg.TypeReplacement(target)
		if !ok || got != substitute {
			t.Errorf("TypeReplacement(%s) = (%v, %v), want (%v, true)", target.Name, got, ok, substitute)
		}
	}
}
