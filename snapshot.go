// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "fmt"

// Snapshot is an immutable, versioned rendering of an ExecutionSet ready
// for comparison against whatever the device currently holds: the upload
// driver diffs two snapshots to compute a delta upload instead of always
// re-flashing the whole image.
type Snapshot struct {
	Version uint32

	// Kernel holds the platform-provided type/method set that every
	// program snapshot shares; it is cloned, not re-walked, once resolved
	// for the first program compiled against a given platform release,
	// since the kernel does not change across programs built against the
	// same device firmware revision.
	Kernel *ExecutionSet

	Program *ExecutionSet

	// typeIndex/methodIndex/fieldIndex let Diff look up whether an entity
	// present in one snapshot is also present, by token, in another; the
	// entities themselves are not compared.
	typeIndex   map[Token]*TypeDescriptor
	methodIndex map[Token]*MethodDescriptor
	fieldIndex  map[Token]*FieldDescriptor
}

// NewSnapshot builds a Snapshot from a kernel execution set (may be nil
// for a first/whole-image build) and a program execution set.
func NewSnapshot(version uint32, kernel, program *ExecutionSet) *Snapshot {
	s := &Snapshot{
		Version:     version,
		Kernel:      kernel,
		Program:     program,
		typeIndex:   make(map[Token]*TypeDescriptor),
		methodIndex: make(map[Token]*MethodDescriptor),
		fieldIndex:  make(map[Token]*FieldDescriptor),
	}
	for _, es := range []*ExecutionSet{kernel, program} {
		if es == nil {
			continue
		}
		for _, t := range es.Types {
			s.typeIndex[t.Token] = t
		}
		for _, m := range es.Methods {
			s.methodIndex[m.Token] = m
		}
		for _, f := range es.Fields {
			s.fieldIndex[f.Token] = f
		}
	}
	return s
}

// CloneKernel produces a fresh kernel ExecutionSet sharing es's resolved
// descriptors (not a deep copy) for reuse across programs built for the
// same device firmware revision, since the kernel does not change across
// programs. The reuse is of the *resolved graph*, never of an already-
// allocated token space, since the program built against it
// gets its own TokenAllocator.
func CloneKernel(es *ExecutionSet) *ExecutionSet {
	clone := &ExecutionSet{
		Types:     append([]*TypeDescriptor(nil), es.Types...),
		Methods:   append([]*MethodDescriptor(nil), es.Methods...),
		Fields:    append([]*FieldDescriptor(nil), es.Fields...),
		Strings:   append([]*StringBlob(nil), es.Strings...),
		Constants: append([]*ConstantBlob(nil), es.Constants...),
		InitOrder:    append([]*TypeDescriptor(nil), es.InitOrder...),
		StartupFlags: es.StartupFlags,
		tokens:       es.tokens,
	}
	return clone
}

// Delta is the set of entities present in next but absent (by identity)
// from prev -- what an incremental upload actually needs to transmit.
type Delta struct {
	NewTypes     []*TypeDescriptor
	NewMethods   []*MethodDescriptor
	NewFields    []*FieldDescriptor
	NewStrings   []*StringBlob
	NewConstants []*ConstantBlob
}

// Diff computes what next adds relative to prev, keyed on token identity
// (stable across a recompile only insofar as token allocation order is
// stable -- see invariant 2 in the data model).
func Diff(prev, next *Snapshot) *Delta {
	d := &Delta{}
	if prev == nil {
		d.NewTypes = next.Program.Types
		d.NewMethods = next.Program.Methods
		d.NewFields = next.Program.Fields
		d.NewStrings = next.Program.Strings
		d.NewConstants = next.Program.Constants
		return d
	}
	for _, t := range next.Program.Types {
		if _, ok := prev.typeIndex[t.Token]; !ok {
			d.NewTypes = append(d.NewTypes, t)
		}
	}
	for _, m := range next.Program.Methods {
		if _, ok := prev.methodIndex[m.Token]; !ok {
			d.NewMethods = append(d.NewMethods, m)
		}
	}
	for _, f := range next.Program.Fields {
		if _, ok := prev.fieldIndex[f.Token]; !ok {
			d.NewFields = append(d.NewFields, f)
		}
	}
	prevStrings := make(map[Token]struct{}, len(prev.Program.Strings))
	for _, s := range prev.Program.Strings {
		prevStrings[s.Token] = struct{}{}
	}
	for _, s := range next.Program.Strings {
		if _, ok := prevStrings[s.Token]; !ok {
			d.NewStrings = append(d.NewStrings, s)
		}
	}
	prevConsts := make(map[Token]struct{}, len(prev.Program.Constants))
	for _, c := range prev.Program.Constants {
		prevConsts[c.Token] = struct{}{}
	}
	for _, c := range next.Program.Constants {
		if _, ok := prevConsts[c.Token]; !ok {
			d.NewConstants = append(d.NewConstants, c)
		}
	}
	return d
}

// Validate reports an error if the snapshot has no program execution set
// or the program has no entry method. It does not check the program's
// references against the kernel execution set.
func (s *Snapshot) Validate() error {
	if s.Program == nil {
		return fmt.Errorf("nanoimage: snapshot has no program execution set")
	}
	if s.Program.EntryMethod == nil {
		return fmt.Errorf("%w: program has no entry method", ErrBadEntryPoint)
	}
	return nil
}
