// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

// Fuzz exercises the bytecode rewriter against arbitrary input, a bare
// go-fuzz-style entry point ("func Fuzz(data []byte) int") adapted to this
// package's own rewrite pipeline. No go-fuzz dependency is imported, only
// its calling convention.
func Fuzz(data []byte) int {
	img := &Image{
		Types: []TypeRow{
			{Namespace: "Fuzz", Name: "Root", ParentIndex: -1, ElementIndex: -1},
		},
		Methods: []MethodRow{
			{DeclaringType: 0, Name: "Entry", ReturnType: -1, Flags: MethodStatic, Body: data},
		},
		EntryMethodIndex: 0,
	}
	reader := NewImageReader(img)
	resolver := NewMetadataResolver(reader)
	registry, err := BuildReplacementRegistry(nil)
	if err != nil {
		return 0
	}
	tokens := NewTokenAllocator()
	rewriter := NewBytecodeRewriter(resolver, registry, tokens, nil)

	entry, err := reader.EntryMethod()
	if err != nil {
		return 0
	}
	if _, _, err := rewriter.RewriteMethodBody(entry, data); err != nil {
		return 0
	}
	return 1
}
