// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

// DescriptorKind tags what ResolveToken returned.
type DescriptorKind uint8

const (
	DescNone DescriptorKind = iota
	DescMethod
	DescField
	DescType
	DescString
)

// ResolveContext carries the generic instantiation context a token
// resolution needs: the declaring type's type arguments and, if the
// enclosing method is itself generic, its method arguments. Without this
// context, references inside a generic definition cannot be resolved.
type ResolveContext struct {
	TypeArgs   []*TypeDescriptor
	MethodArgs []*TypeDescriptor
}

// ProgramImageReader abstracts away how bytecode and metadata are read
// from the host's managed program representation, in place of a runtime
// reflection facility; any concrete type able to parse the program's
// metadata tables can implement it. imageReader (imageformat.go) is this
// compiler's own implementation.
type ProgramImageReader interface {
	// ResolveToken resolves a raw 32-bit operand of the given operand form
	// to its descriptor. It must not panic on malformed input; a failed
	// resolution is reported via the boolean return, never an error.
	ResolveToken(m *MethodDescriptor, raw uint32, form OperandForm, ctx ResolveContext) (any, DescriptorKind, bool)

	// EntryMethod returns the designated static entry method.
	EntryMethod() (*MethodDescriptor, error)
}

// MetadataResolver resolves a raw bytecode token within a method to the
// descriptor it names, propagating that method's (and its declaring
// type's) generic argument context.
type MetadataResolver struct {
	reader ProgramImageReader
}

// NewMetadataResolver constructs a resolver over reader.
func NewMetadataResolver(reader ProgramImageReader) *MetadataResolver {
	return &MetadataResolver{reader: reader}
}

// Resolve resolves raw, found inside m's bytecode as an operand of the
// given form, to its descriptor. ok is false both for a raw value that
// isn't actually a token (tolerated, never panics) and for a token whose
// target index is out of range.
func (r *MetadataResolver) Resolve(m *MethodDescriptor, raw uint32, form OperandForm) (any, DescriptorKind, bool) {
	ctx := ResolveContext{}
	if m.DeclaringType != nil {
		ctx.TypeArgs = m.DeclaringType.GenericArgs
	}
	ctx.MethodArgs = m.GenericArgs
	return r.reader.ResolveToken(m, raw, form, ctx)
}
