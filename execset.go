// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "fmt"

// ExecutionSet is the finalized, self-consistent collection of program
// entities that will be assembled into an uploadable image: every type,
// method, field, string, and constant blob the program reaches, with
// replacement originals folded away and tokens stabilized.
type ExecutionSet struct {
	Types     []*TypeDescriptor
	Methods   []*MethodDescriptor
	Fields    []*FieldDescriptor
	Strings   []*StringBlob
	Constants []*ConstantBlob

	EntryMethod *MethodDescriptor

	// InitOrder is the sequence types' static initializers run in,
	// computed by the initializer sequencer.
	InitOrder []*TypeDescriptor

	// StartupFlags is carried into the image header's startup-flags byte;
	// Compiler.Compile sets it from the compile settings' launch/flash
	// options after Build returns.
	StartupFlags StartupFlags

	tokens *TokenAllocator
}

// ExecutionSetBuilder orchestrates building the execution set: it runs
// the dependency walk, applies
// replacement de-duplication, computes layout, resolves virtual dispatch,
// and sequences initializers. The capacity estimate is computed separately,
// by ExecutionSet.Estimate.
type ExecutionSetBuilder struct {
	walker    *DependencyWalker
	registry  *ReplacementRegistry
	layout    *LayoutEngine
	vtable    *VTableResolver
	sequencer *InitializerSequencer
	tokens    *TokenAllocator
	synth     *SynthesizedMethodGenerator
}

// NewExecutionSetBuilder wires together the components the finalization
// pass needs.
func NewExecutionSetBuilder(
	walker *DependencyWalker,
	registry *ReplacementRegistry,
	layout *LayoutEngine,
	vtable *VTableResolver,
	sequencer *InitializerSequencer,
	tokens *TokenAllocator,
	synth *SynthesizedMethodGenerator,
) *ExecutionSetBuilder {
	return &ExecutionSetBuilder{
		walker:    walker,
		registry:  registry,
		layout:    layout,
		vtable:    vtable,
		sequencer: sequencer,
		tokens:    tokens,
		synth:     synth,
	}
}

// Build runs the full finalization pipeline starting from entry.
func (b *ExecutionSetBuilder) Build(entry *MethodDescriptor) (*ExecutionSet, error) {
	walked, err := b.walker.Walk(entry)
	if err != nil {
		return nil, err
	}

	types := dedupReplacedTypes(walked.Types, b.registry)

	// Layout must run in dependency order (a derived type's instance size
	// depends on its base's), so sort by inheritance depth before sizing.
	orderedTypes := orderByInheritanceDepth(types)
	for _, t := range orderedTypes {
		if t.Flags.has(TypeArray) {
			b.layout.ClassifyValueArrayElement(t)
			continue
		}
		if t.Flags.has(TypeValueType) && t.Kind == 0 {
			t.Kind, t.KindSize = b.layout.ClassifyValueType(t, 0)
		}
	}
	for _, t := range orderedTypes {
		declaringIsValueType := t.Flags.has(TypeValueType)
		for _, f := range t.Fields() {
			b.layout.ClassifyField(f, declaringIsValueType)
		}
		b.layout.StabilizeFieldOrder(t)
	}
	for _, t := range orderedTypes {
		b.layout.ComputeInstanceSize(t)
		b.layout.ComputeStaticSize(t)
	}

	for _, t := range orderedTypes {
		b.vtable.ResolveType(t)
	}

	for _, t := range orderedTypes {
		for _, iface := range t.InterfaceTypes {
			t.Interfaces = append(t.Interfaces, b.tokens.TokenForType(iface))
		}
	}

	initOrder, err := b.sequencer.Sequence(orderedTypes)
	if err != nil {
		return nil, err
	}

	methods := dedupReplacedMethods(walked.Methods, b.registry)
	fields := dedupReplacedFields(walked.Fields, b.registry)

	for _, t := range orderedTypes {
		b.tokens.TokenForType(t)
	}
	for _, m := range methods {
		b.tokens.TokenForMethod(m)
	}
	for _, f := range fields {
		b.tokens.TokenForField(f)
	}

	var strings []*StringBlob
	seenStr := make(map[Token]struct{})
	for _, tok := range walked.Strings {
		if _, ok := seenStr[tok]; ok {
			continue
		}
		seenStr[tok] = struct{}{}
		if s, ok := b.tokens.ResolveString(tok); ok {
			strings = append(strings, s)
		}
	}

	var constants []*ConstantBlob
	seenConst := make(map[Token]struct{})
	for _, tok := range walked.Constants {
		if _, ok := seenConst[tok]; ok {
			continue
		}
		seenConst[tok] = struct{}{}
		if c, ok := b.tokens.ResolveConstant(tok); ok {
			constants = append(constants, c)
		}
	}

	entryPoint := entry
	if b.synth != nil {
		stub, err := b.synth.StartupStub(entry.DeclaringType, entry, initOrder)
		if err != nil {
			return nil, err
		}
		b.tokens.TokenForMethod(stub)
		methods = append(methods, stub)
		entryPoint = stub
	}

	es := &ExecutionSet{
		Types:       orderedTypes,
		Methods:     methods,
		Fields:      fields,
		Strings:     strings,
		Constants:   constants,
		EntryMethod: entryPoint,
		InitOrder:   initOrder,
		tokens:      b.tokens,
	}
	return es, nil
}

// dedupReplacedTypes drops any type that a entire-type replacement has
// superseded, keeping the substitute in its place: the original never
// appears in the finished image once it has been wholly replaced.
func dedupReplacedTypes(types []*TypeDescriptor, reg *ReplacementRegistry) []*TypeDescriptor {
	var out []*TypeDescriptor
	seen := make(map[*TypeDescriptor]struct{})
	for _, t := range types {
		target := t
		if sub, replaced := reg.TypeReplacement(t); replaced {
			target = sub
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

func dedupReplacedMethods(methods []*MethodDescriptor, reg *ReplacementRegistry) []*MethodDescriptor {
	var out []*MethodDescriptor
	seen := make(map[*MethodDescriptor]struct{})
	for _, m := range methods {
		target := m
		if sub, replaced := reg.MethodReplacement(m); replaced {
			target = sub
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

func dedupReplacedFields(fields []*FieldDescriptor, reg *ReplacementRegistry) []*FieldDescriptor {
	var out []*FieldDescriptor
	seen := make(map[*FieldDescriptor]struct{})
	for _, f := range fields {
		target := f
		if sub, replaced := reg.FieldReplacement(f); replaced {
			target = sub
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// orderByInheritanceDepth returns types sorted so that every type appears
// after its Parent, a precondition for ComputeInstanceSize's single
// top-down pass.
func orderByInheritanceDepth(types []*TypeDescriptor) []*TypeDescriptor {
	depth := make(map[*TypeDescriptor]int, len(types))
	var compute func(t *TypeDescriptor) int
	compute = func(t *TypeDescriptor) int {
		if d, ok := depth[t]; ok {
			return d
		}
		d := 0
		if t.Parent != nil {
			d = compute(t.Parent) + 1
		}
		depth[t] = d
		return d
	}
	for _, t := range types {
		compute(t)
	}
	out := append([]*TypeDescriptor(nil), types...)
	// stable insertion sort by depth: the type counts here are small
	// (bounded by what fits in device flash), so O(n^2) is plenty, and it
	// preserves discovery order among equal-depth types.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && depth[out[j-1]] > depth[out[j]] {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

// MemoryEstimate reports the projected device memory footprint of the
// execution set before upload, so the caller can fail fast against the
// device's reported capacity rather than discover the overrun mid-flash.
type MemoryEstimate struct {
	CodeBytes     uint64
	StaticBytes   uint64
	MetadataBytes uint64
	TotalBytes    uint64
}

// Estimate computes a MemoryEstimate for es.
func (es *ExecutionSet) Estimate() MemoryEstimate {
	var est MemoryEstimate
	for _, m := range es.Methods {
		est.CodeBytes += uint64(len(m.Body))
	}
	for _, t := range es.Types {
		est.StaticBytes += uint64(t.StaticSize)
		est.MetadataBytes += uint64(32 + len(t.Members)*8)
	}
	for _, s := range es.Strings {
		est.MetadataBytes += uint64(len(s.Value))
	}
	for _, c := range es.Constants {
		est.MetadataBytes += uint64(len(c.Data))
	}
	est.TotalBytes = est.CodeBytes + est.StaticBytes + est.MetadataBytes
	return est
}

// CheckCapacity fails with ErrCapacityExceeded if es would not fit within
// budget.
func (es *ExecutionSet) CheckCapacity(budget uint64) error {
	est := es.Estimate()
	if est.TotalBytes > budget {
		return fmt.Errorf("%w: needs %d bytes, device reports %d", ErrCapacityExceeded, est.TotalBytes, budget)
	}
	return nil
}
