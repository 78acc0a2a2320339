// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "fmt"

// PrimitiveKind tags the well-known runtime primitives and generic
// templates the layout engine must special-case. It is carried on a
// TypeRow/TypeDescriptor rather than re-derived from the type's name at
// layout time, a plain-constant classification rather than pattern-matching
// strings.
type PrimitiveKind uint8

const (
	PrimitiveNone PrimitiveKind = iota
	PrimitiveInt8
	PrimitiveUint8
	PrimitiveInt16
	PrimitiveUint16
	PrimitiveChar
	PrimitiveInt32
	PrimitiveUint32
	PrimitiveInt64
	PrimitiveUint64
	PrimitiveSingle
	PrimitiveDouble
	PrimitiveBoolean
	PrimitiveDateTime
	PrimitiveTimeSpan
	// PrimitiveByReferenceWrapper marks an instantiation of the well-known
	// generic "by-reference wrapper" template.
	PrimitiveByReferenceWrapper
	// PrimitiveSliceTemplate marks an instantiation of the well-known
	// generic "slice" template.
	PrimitiveSliceTemplate
	// PrimitiveGenericParam marks a placeholder standing for a generic
	// type/method parameter, substituted via ResolveContext at resolve
	// time.
	PrimitiveGenericParam
)

// TypeRow is one type definition in an Image.
type TypeRow struct {
	Namespace string
	Name      string
	// ParentIndex is an index into Image.Types, or -1 for no base type.
	ParentIndex int32
	Flags       TypeFlags
	Primitive   PrimitiveKind
	// GenericParamIndex is meaningful only when Primitive ==
	// PrimitiveGenericParam: which positional argument this placeholder
	// resolves to.
	GenericParamIndex int32
	Interfaces        []int32 // indices into Image.Types
	FieldIndices      []int32 // indices into Image.Fields
	MethodIndices     []int32 // indices into Image.Methods
	// LayoutSize is the declared layout-size attribute, or 0 if absent.
	// The reader does not copy it onto the TypeDescriptor, and layout
	// classification does not consult it: a value type's size is always
	// the sum of its fields.
	LayoutSize int64
	// ElementIndex is meaningful only when Flags has TypeArray set: index
	// into Image.Types of the element type.
	ElementIndex int32
	GenericArgs  []int32 // indices into Image.Types, for instantiated generics
	Suppressed   bool
}

// VariableRow is a local variable or argument slot as read from the image,
// prior to kind/size classification.
type VariableRow struct {
	TypeIndex int32
	Name      string
}

// FieldRow is one field definition in an Image.
type FieldRow struct {
	DeclaringType int32 // index into Image.Types
	Name          string
	FieldType     int32 // index into Image.Types
	Static        bool
	ConstantInit  []byte
}

// MethodRow is one method definition in an Image.
type MethodRow struct {
	DeclaringType  int32 // index into Image.Types
	Name           string
	Params         []VariableRow
	ReturnType     int32 // index into Image.Types, -1 for void
	Flags          MethodFlags
	NativeSelector int32
	// Body is nil for abstract methods and for methods with a positive
	// NativeSelector.
	Body        []byte
	Locals      []VariableRow
	MaxStack    uint16
	GenericArgs []int32 // indices into Image.Types
}

// Image is the in-memory program representation the metadata resolver
// reads through. The on-disk container is left unspecified upstream, so
// Image is this compiler's own concrete format: a table-of-rows-plus-heaps
// shape, simplified to what the resolver, rewriter, and layout passes
// actually consume.
type Image struct {
	Types   []TypeRow
	Methods []MethodRow
	Fields  []FieldRow
	// Strings is the interned user-string heap; OperandString operands
	// are indices into it.
	Strings []string

	EntryMethodIndex int32
}

// tokAny tag bits for OperandTokAny (ldtoken), packed into the top byte of
// the raw 32-bit operand.
const (
	tokAnyType uint32 = iota
	tokAnyMethod
	tokAnyField
	tokAnyString
)

// EncodeTokAny packs a tag and index into a single raw ldtoken operand.
func EncodeTokAny(tag uint32, index uint32) uint32 {
	return tag<<24 | (index & 0x00FFFFFF)
}

func decodeTokAny(raw uint32) (tag, index uint32) {
	return raw >> 24, raw & 0x00FFFFFF
}

// imageReader implements ProgramImageReader over an in-memory Image,
// lazily materializing canonical *TypeDescriptor/*MethodDescriptor/
// *FieldDescriptor values so that repeated resolution of the same row
// always yields the same pointer, which token allocation identity
// depends on.
type imageReader struct {
	img *Image

	types   []*TypeDescriptor
	methods []*MethodDescriptor
	fields  []*FieldDescriptor
}

// NewImageReader wraps img as a ProgramImageReader.
func NewImageReader(img *Image) ProgramImageReader {
	return &imageReader{
		img:     img,
		types:   make([]*TypeDescriptor, len(img.Types)),
		methods: make([]*MethodDescriptor, len(img.Methods)),
		fields:  make([]*FieldDescriptor, len(img.Fields)),
	}
}

func (r *imageReader) typeAt(idx int32, ctx ResolveContext) (*TypeDescriptor, error) {
	if idx < 0 || int(idx) >= len(r.img.Types) {
		return nil, fmt.Errorf("%w: type index %d", ErrUnresolvedReference, idx)
	}
	row := r.img.Types[idx]
	if row.Primitive == PrimitiveGenericParam {
		if int(row.GenericParamIndex) < len(ctx.TypeArgs) {
			return ctx.TypeArgs[row.GenericParamIndex], nil
		}
		return nil, fmt.Errorf("%w: unresolved generic parameter %d (no context)",
			ErrUnresolvedReference, row.GenericParamIndex)
	}
	if r.types[idx] != nil {
		return r.types[idx], nil
	}
	td := &TypeDescriptor{
		Namespace:   row.Namespace,
		Name:        row.Name,
		Flags:       row.Flags,
		ElementType: nil,
		suppressed:  row.Suppressed,
	}
	r.types[idx] = td // register before recursing, so self/mutually-referential types terminate
	if row.ParentIndex >= 0 {
		parent, err := r.typeAt(row.ParentIndex, ctx)
		if err != nil {
			return nil, err
		}
		td.Parent = parent
	}
	if row.Flags.has(TypeArray) && row.ElementIndex >= 0 {
		elem, err := r.typeAt(row.ElementIndex, ctx)
		if err != nil {
			return nil, err
		}
		td.ElementType = elem
	}
	for _, gi := range row.GenericArgs {
		ga, err := r.typeAt(gi, ctx)
		if err != nil {
			return nil, err
		}
		td.GenericArgs = append(td.GenericArgs, ga)
	}
	for _, ii := range row.Interfaces {
		iface, err := r.typeAt(ii, ctx)
		if err != nil {
			return nil, err
		}
		td.InterfaceTypes = append(td.InterfaceTypes, iface)
	}
	for _, fi := range row.FieldIndices {
		fd, err := r.fieldAt(fi, ctx)
		if err != nil {
			return nil, err
		}
		td.Members = append(td.Members, Member{Kind: MemberField, Field: fd})
	}
	for _, mi := range row.MethodIndices {
		md, err := r.methodAt(mi, ctx)
		if err != nil {
			return nil, err
		}
		kind := MemberMethod
		if md.Flags.has(MethodCtor) {
			kind = MemberCtor
		}
		td.Members = append(td.Members, Member{Kind: kind, Method: md})
	}
	td.Kind, td.KindSize = classifyPrimitiveOrRow(row, td)
	return td, nil
}

// classifyPrimitiveOrRow handles the parts of classification that depend
// on information only the image reader has (the PrimitiveKind tag; the
// row's LayoutSize is not read); the general value-type summing rule
// lives in layout.go and is applied by the layout engine once all fields
// are resolved.
func classifyPrimitiveOrRow(row TypeRow, td *TypeDescriptor) (Kind, uint32) {
	switch row.Primitive {
	case PrimitiveInt8:
		return KindInt32, 1
	case PrimitiveUint8, PrimitiveBoolean:
		return KindUint32, 1
	case PrimitiveInt16:
		return KindInt32, 2
	case PrimitiveUint16, PrimitiveChar:
		return KindUint32, 2
	case PrimitiveInt32:
		return KindInt32, 4
	case PrimitiveUint32:
		return KindUint32, 4
	case PrimitiveInt64:
		return KindInt64, 8
	case PrimitiveUint64:
		return KindUint64, 8
	case PrimitiveSingle:
		return KindSingleFloat, 4
	case PrimitiveDouble:
		return KindDoubleFloat, 8
	case PrimitiveDateTime, PrimitiveTimeSpan:
		return KindUint64, 8
	case PrimitiveByReferenceWrapper:
		return KindReference, PointerWidth
	case PrimitiveSliceTemplate:
		return KindLargeValueType, PointerWidth + 4
	}
	if row.Flags.has(TypeArray) {
		if td.ElementType != nil && !td.ElementType.Flags.has(TypeValueType) {
			return KindReferenceArray, PointerWidth
		}
		return KindValueArray, 0 // finalized once the element's own size is known, see layout.go
	}
	if row.Flags.has(TypeEnum) {
		return KindUint32, 4
	}
	if !row.Flags.has(TypeValueType) {
		return KindObjectRef, PointerWidth
	}
	return 0, 0 // value type: resolved later by the Layout Engine once fields exist
}

func (r *imageReader) fieldAt(idx int32, ctx ResolveContext) (*FieldDescriptor, error) {
	if idx < 0 || int(idx) >= len(r.img.Fields) {
		return nil, fmt.Errorf("%w: field index %d", ErrUnresolvedReference, idx)
	}
	if r.fields[idx] != nil {
		return r.fields[idx], nil
	}
	row := r.img.Fields[idx]
	decl, err := r.typeAt(row.DeclaringType, ctx)
	if err != nil {
		return nil, err
	}
	ft, err := r.typeAt(row.FieldType, ctx)
	if err != nil {
		return nil, err
	}
	fd := &FieldDescriptor{
		DeclaringType: decl,
		Name:          row.Name,
		FieldType:     ft,
		Static:        row.Static,
		ConstantInit:  row.ConstantInit,
	}
	r.fields[idx] = fd
	return fd, nil
}

func variableFromRow(r *imageReader, row VariableRow, ctx ResolveContext) (Variable, error) {
	t, err := r.typeAt(row.TypeIndex, ctx)
	if err != nil {
		return Variable{}, err
	}
	return Variable{Type: t}, nil
}

func (r *imageReader) methodAt(idx int32, ctx ResolveContext) (*MethodDescriptor, error) {
	if idx < 0 || int(idx) >= len(r.img.Methods) {
		return nil, fmt.Errorf("%w: method index %d", ErrUnresolvedReference, idx)
	}
	if r.methods[idx] != nil {
		return r.methods[idx], nil
	}
	row := r.img.Methods[idx]
	decl, err := r.typeAt(row.DeclaringType, ctx)
	if err != nil {
		return nil, err
	}
	md := &MethodDescriptor{
		DeclaringType:  decl,
		Name:           row.Name,
		Flags:          row.Flags,
		NativeSelector: row.NativeSelector,
		MaxStack:       row.MaxStack,
		Body:           row.Body,
	}
	r.methods[idx] = md // register before recursing through params/generics
	methodCtx := ctx
	for _, gi := range row.GenericArgs {
		ga, err := r.typeAt(gi, methodCtx)
		if err != nil {
			return nil, err
		}
		md.GenericArgs = append(md.GenericArgs, ga)
	}
	if len(md.GenericArgs) > 0 {
		methodCtx.MethodArgs = md.GenericArgs
	}
	for _, p := range row.Params {
		t, err := r.typeAt(p.TypeIndex, methodCtx)
		if err != nil {
			return nil, err
		}
		md.ParamTypes = append(md.ParamTypes, t)
		md.ParamNames = append(md.ParamNames, p.Name)
		md.Args = append(md.Args, Variable{Type: t})
	}
	if row.ReturnType >= 0 {
		t, err := r.typeAt(row.ReturnType, methodCtx)
		if err != nil {
			return nil, err
		}
		md.ReturnType = t
	} else {
		md.Flags |= MethodVoidReturn
	}
	for _, l := range row.Locals {
		t, err := r.typeAt(l.TypeIndex, methodCtx)
		if err != nil {
			return nil, err
		}
		md.Locals = append(md.Locals, Variable{Type: t})
	}
	return md, nil
}

// ResolveToken implements ProgramImageReader.
func (r *imageReader) ResolveToken(m *MethodDescriptor, raw uint32, form OperandForm, ctx ResolveContext) (any, DescriptorKind, bool) {
	switch form {
	case OperandMethod:
		md, err := r.methodAt(int32(raw), ctx)
		if err != nil {
			return nil, DescNone, false
		}
		return md, DescMethod, true
	case OperandField:
		fd, err := r.fieldAt(int32(raw), ctx)
		if err != nil {
			return nil, DescNone, false
		}
		return fd, DescField, true
	case OperandType:
		td, err := r.typeAt(int32(raw), ctx)
		if err != nil {
			return nil, DescNone, false
		}
		return td, DescType, true
	case OperandString:
		if int(raw) >= len(r.img.Strings) {
			return nil, DescNone, false
		}
		return r.img.Strings[raw], DescString, true
	case OperandTokAny:
		tag, idx := decodeTokAny(raw)
		switch tag {
		case tokAnyType:
			td, err := r.typeAt(int32(idx), ctx)
			if err != nil {
				return nil, DescNone, false
			}
			return td, DescType, true
		case tokAnyMethod:
			md, err := r.methodAt(int32(idx), ctx)
			if err != nil {
				return nil, DescNone, false
			}
			return md, DescMethod, true
		case tokAnyField:
			fd, err := r.fieldAt(int32(idx), ctx)
			if err != nil {
				return nil, DescNone, false
			}
			return fd, DescField, true
		case tokAnyString:
			if int(idx) >= len(r.img.Strings) {
				return nil, DescNone, false
			}
			return r.img.Strings[idx], DescString, true
		}
		return nil, DescNone, false
	default:
		return nil, DescNone, false
	}
}

// MethodByIndex exposes a resolved descriptor for a row index without a
// generic context, used by the entry-point lookup and by tests building
// fixtures.
func (r *imageReader) MethodByIndex(idx int32) (*MethodDescriptor, error) {
	return r.methodAt(idx, ResolveContext{})
}

// TypeByIndex is MethodByIndex's counterpart for types.
func (r *imageReader) TypeByIndex(idx int32) (*TypeDescriptor, error) {
	return r.typeAt(idx, ResolveContext{})
}

// EntryMethod implements ProgramImageReader.
func (r *imageReader) EntryMethod() (*MethodDescriptor, error) {
	if r.img.EntryMethodIndex < 0 {
		return nil, fmt.Errorf("%w: no entry method set", ErrBadEntryPoint)
	}
	return r.MethodByIndex(r.img.EntryMethodIndex)
}

// AllTypeIndices returns every row index, for the dependency walker's
// "array element type appearing in the program" scan and similar
// whole-image passes.
func (r *imageReader) AllTypeIndices() []int32 {
	out := make([]int32, len(r.img.Types))
	for i := range out {
		out[i] = int32(i)
	}
	return out
}
