// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "strings"

// MethodFlags is the closed flag set a method descriptor carries.
type MethodFlags uint16

const (
	MethodStatic MethodFlags = 1 << iota
	MethodVirtual
	MethodAbstract
	MethodCtor
	MethodVoidReturn
	MethodSpecialNative
	// MethodNewSlot marks a method declared with the "new slot" modifier,
	// meaning it never overrides a base method even if names and
	// signatures coincide (see the virtual-dispatch resolver).
	MethodNewSlot
)

func (f MethodFlags) has(bit MethodFlags) bool { return f&bit != 0 }

// Variable is a single local variable or argument slot: a type plus its
// classified storage kind and size.
type Variable struct {
	Type *TypeDescriptor
	Kind Kind
	Size uint32
}

// MethodDescriptor is the method entity: the pair (declaring type,
// signature) plus flags, an assigned token, and - once rewritten -
// bytecode and per-slot kind/size metadata.
type MethodDescriptor struct {
	DeclaringType *TypeDescriptor
	Name          string
	ParamTypes    []*TypeDescriptor
	ParamNames    []string
	ReturnType    *TypeDescriptor // nil means void
	Flags         MethodFlags
	GenericArgs   []*TypeDescriptor

	// NativeSelector, when > 0, names a built-in device-side
	// implementation; such methods carry no uploaded body.
	NativeSelector int32

	Token Token

	Body     []byte
	Locals   []Variable
	Args     []Variable
	MaxStack uint16

	// Overrides lists the tokens of base/interface methods this method
	// overrides, populated by the virtual-dispatch resolver.
	Overrides []Token

	// substituteOf, when non-nil, points back at the original descriptor
	// this one replaces (populated by the replacement registry).
	substituteOf *MethodDescriptor

	refMethods map[*MethodDescriptor]struct{}
	refFields  map[*FieldDescriptor]struct{}
	refTypes   map[*TypeDescriptor]struct{}

	walked bool // true once the dependency walker has processed this method
}

func (m *MethodDescriptor) addRefMethod(o *MethodDescriptor) {
	if m.refMethods == nil {
		m.refMethods = make(map[*MethodDescriptor]struct{})
	}
	m.refMethods[o] = struct{}{}
}

func (m *MethodDescriptor) addRefField(o *FieldDescriptor) {
	if m.refFields == nil {
		m.refFields = make(map[*FieldDescriptor]struct{})
	}
	m.refFields[o] = struct{}{}
}

func (m *MethodDescriptor) addRefType(o *TypeDescriptor) {
	if m.refTypes == nil {
		m.refTypes = make(map[*TypeDescriptor]struct{})
	}
	m.refTypes[o] = struct{}{}
}

// operatorNamePrefix marks an operator overload; operator methods compare
// by name only.
const operatorNamePrefix = "op_"

func isOperatorMethodName(name string) bool {
	return strings.HasPrefix(name, operatorNamePrefix)
}

// SignatureEquals reports whether m and o are the same member signature,
// applying two escape hatches: operator methods compare by name only,
// and a parameter whose type was substituted falls
// back to comparing the declared parameter name.
func (m *MethodDescriptor) SignatureEquals(o *MethodDescriptor) bool {
	if m.Name != o.Name {
		return false
	}
	if isOperatorMethodName(m.Name) {
		return true
	}
	if len(m.ParamTypes) != len(o.ParamTypes) {
		return false
	}
	for i := range m.ParamTypes {
		mt, ot := m.ParamTypes[i], o.ParamTypes[i]
		if mt == ot {
			continue
		}
		if mt != nil && ot != nil && (mt.substitutedFrom != nil || ot.substitutedFrom != nil) {
			if i < len(m.ParamNames) && i < len(o.ParamNames) && m.ParamNames[i] == o.ParamNames[i] {
				continue
			}
		}
		return false
	}
	return true
}

// FullName renders "Namespace.Type::Method" for diagnostics.
func (m *MethodDescriptor) FullName() string {
	if m.DeclaringType == nil {
		return m.Name
	}
	return m.DeclaringType.FullName() + "::" + m.Name
}

// FieldDescriptor is the field entity.
type FieldDescriptor struct {
	DeclaringType *TypeDescriptor
	Name          string
	FieldType     *TypeDescriptor
	Token         Token
	Static        bool
	Kind          Kind
	Size          uint32

	// ConstantInit holds bytes for enum literals and for the compile-time
	// folded initializers of the private implementation-details type.
	ConstantInit []byte

	substituteOf *FieldDescriptor
}

func (f *FieldDescriptor) FullName() string {
	if f.DeclaringType == nil {
		return f.Name
	}
	return f.DeclaringType.FullName() + "::" + f.Name
}

// TypeFlags is the closed flag set for TypeDescriptor.Flags.
type TypeFlags uint8

const (
	TypeValueType TypeFlags = 1 << iota
	TypeEnum
	TypeArray
	// TypeDelegate marks an instantiated delegate type: its constructor and
	// Invoke method carry no declared bytecode in the program image, since
	// the dependency walker synthesizes both bodies on demand instead.
	TypeDelegate
)

func (f TypeFlags) has(bit TypeFlags) bool { return f&bit != 0 }

// MemberKind distinguishes the three kinds of entries a type's ordered
// member list can hold: fields, which come first, then constructors and
// methods that require a vtable slot, in declaration order.
type MemberKind uint8

const (
	MemberField MemberKind = iota
	MemberCtor
	MemberMethod
)

// Member is one entry of a TypeDescriptor's ordered member list.
type Member struct {
	Kind   MemberKind
	Field  *FieldDescriptor
	Method *MethodDescriptor
}

// TypeDescriptor is the type entity.
type TypeDescriptor struct {
	Namespace string
	Name      string
	Token     Token

	InstanceSize uint32
	StaticSize   uint32

	Members    []Member
	Interfaces []Token
	// InterfaceTypes mirrors Interfaces as resolved descriptor pointers,
	// populated at image-read time since the token form alone can't be
	// walked back to a descriptor without an allocator in hand (consulted
	// by the virtual-dispatch resolver).
	InterfaceTypes []*TypeDescriptor
	Parent         *TypeDescriptor
	Flags          TypeFlags

	// GenericArgs holds the instantiation's type arguments, used by the
	// metadata resolver to resolve references inside a generic
	// definition.
	GenericArgs []*TypeDescriptor

	// ElementType is set for TypeArray descriptors.
	ElementType *TypeDescriptor

	// Kind/KindSize are this type's own classification when it is used as
	// the type of a field, local, or argument elsewhere.
	Kind     Kind
	KindSize uint32

	// DelegateWraps names the concrete method this instantiated delegate
	// type was constructed to wrap, set only when Flags has TypeDelegate.
	// Each distinct (delegate template, wrapped method) pairing gets its
	// own TypeDescriptor, so this is always a single fixed target rather
	// than something resolved per call site.
	DelegateWraps *MethodDescriptor

	// Initializer, if non-nil, is this type's static constructor/type
	// initializer method.
	Initializer *MethodDescriptor
	// InitDependsOn lists types this type's initializer is known to
	// depend on (used by the initializer sequencer).
	InitDependsOn []*TypeDescriptor
	// InitSuppressed marks that, although the type is otherwise in the
	// set, its static initializer must not run.
	InitSuppressed bool

	// interfaceImpl is the authoritative interface method -> implementing
	// method map consulted by the virtual-dispatch resolver for explicit
	// interface implementations.
	interfaceImpl map[*MethodDescriptor]*MethodDescriptor

	substitutedFrom *TypeDescriptor // set on a replacement type

	// suppressed marks a type named in Settings.AdditionalSuppressions:
	// the dependency walker sets this the first time it encounters the
	// type, and it blocks the type's initializer from running the same
	// way InitSuppressed does, independent of whatever the sequencer
	// would otherwise have decided.
	suppressed bool
}

func (t *TypeDescriptor) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// SetInterfaceImplementation records that m implements the interface
// method iface for this type, authoritative for the virtual-dispatch
// resolver's explicit-interface resolution.
func (t *TypeDescriptor) SetInterfaceImplementation(iface, m *MethodDescriptor) {
	if t.interfaceImpl == nil {
		t.interfaceImpl = make(map[*MethodDescriptor]*MethodDescriptor)
	}
	t.interfaceImpl[iface] = m
}

// Fields returns this type's own (non-inherited) fields in member-list
// order.
func (t *TypeDescriptor) Fields() []*FieldDescriptor {
	var out []*FieldDescriptor
	for _, mem := range t.Members {
		if mem.Kind == MemberField {
			out = append(out, mem.Field)
		}
	}
	return out
}

// StringBlob is an interned string literal (load-string operands, the
// "#US"-style heap).
type StringBlob struct {
	Token Token
	Value string
}

// ConstantBlob is a content-addressed byte payload (embedded array
// initializers, etc).
type ConstantBlob struct {
	Token Token
	Data  []byte
}
