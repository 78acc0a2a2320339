// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "testing"

func execSetWithType(typeTokenIndex uint32) *ExecutionSet {
	ty := &TypeDescriptor{Name: "T", Token: newToken(TokenType, typeTokenIndex)}
	entry := &MethodDescriptor{Name: "Main", DeclaringType: ty, Token: newToken(TokenMethod, typeTokenIndex)}
	return &ExecutionSet{
		Types:       []*TypeDescriptor{ty},
		Methods:     []*MethodDescriptor{entry},
		EntryMethod: entry,
	}
}

func TestDiffFirstBuildReturnsEverything(t *testing.T) {
	program := execSetWithType(1)
	next := NewSnapshot(1, nil, program)

	delta := Diff(nil, next)
	if len(delta.NewTypes) != 1 || delta.NewTypes[0] != program.Types[0] {
		t.Errorf("Diff(nil, next).NewTypes = %v, want the program's single type", delta.NewTypes)
	}
	if len(delta.NewMethods) != 1 {
		t.Errorf("Diff(nil, next).NewMethods = %v, want the program's single method", delta.NewMethods)
	}
}

func TestDiffOnlyReportsNewEntities(t *testing.T) {
	prevProgram := execSetWithType(1)
	prev := NewSnapshot(1, nil, prevProgram)

	nextProgram := execSetWithType(1) // same token 1, so identical to prev
	newType := &TypeDescriptor{Name: "U", Token: newToken(TokenType, 2)}
	nextProgram.Types = append(nextProgram.Types, newType)
	next := NewSnapshot(2, nil, nextProgram)

	delta := Diff(prev, next)
	if len(delta.NewTypes) != 1 || delta.NewTypes[0] != newType {
		t.Errorf("Diff(prev, next).NewTypes = %v, want exactly [newType]", delta.NewTypes)
	}
}

func TestCloneKernelSharesDescriptorsNotTokens(t *testing.T) {
	kernel := execSetWithType(1)
	kernel.tokens = NewTokenAllocator()

	clone := CloneKernel(kernel)
	if clone.tokens != kernel.tokens {
		t.Errorf("CloneKernel() should share the kernel's token allocator")
	}
	if len(clone.Types) != 1 || clone.Types[0] != kernel.Types[0] {
		t.Errorf("CloneKernel() should reuse the same descriptor pointers")
	}

	clone.Types = append(clone.Types, &TypeDescriptor{Name: "Extra"})
	if len(kernel.Types) != 1 {
		t.Errorf("CloneKernel() should not let mutation of the clone's slice affect the original")
	}
}

func TestSnapshotValidateRequiresEntryMethod(t *testing.T) {
	program := &ExecutionSet{}
	snap := NewSnapshot(1, nil, program)
	if err := snap.Validate(); err == nil {
		t.Error("Validate() should fail when the program has no entry method")
	}

	program.EntryMethod = &MethodDescriptor{Name: "Main"}
	if err := snap.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil once an entry method is set", err)
	}
}
