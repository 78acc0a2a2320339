// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

// Kind is the closed set of storage classifications a field, local
// variable, or argument can carry: a small typed iota block consulted
// everywhere a slot needs to know how many bytes it occupies and how the
// device should treat it.
type Kind uint8

const (
	KindUint32 Kind = iota
	KindInt32
	KindUint64
	KindInt64
	KindSingleFloat
	KindDoubleFloat
	KindBoolean
	KindObjectRef
	KindVariableRef
	KindValueArray
	KindReferenceArray
	KindReference
	KindFunctionPointer
	KindLargeValueType
	KindMethodSlot
)

func (k Kind) String() string {
	switch k {
	case KindUint32:
		return "UINT32"
	case KindInt32:
		return "INT32"
	case KindUint64:
		return "UINT64"
	case KindInt64:
		return "INT64"
	case KindSingleFloat:
		return "R4"
	case KindDoubleFloat:
		return "R8"
	case KindBoolean:
		return "BOOLEAN"
	case KindObjectRef:
		return "OBJECT"
	case KindVariableRef:
		return "BYREF"
	case KindValueArray:
		return "VALUE_ARRAY"
	case KindReferenceArray:
		return "REFERENCE_ARRAY"
	case KindReference:
		return "REFERENCE"
	case KindFunctionPointer:
		return "FNPTR"
	case KindLargeValueType:
		return "LARGE_VALUETYPE"
	case KindMethodSlot:
		return "METHOD_SLOT"
	default:
		return "UNKNOWN"
	}
}

// PointerWidth is fixed for every microcontroller target this compiler
// supports.
const PointerWidth = 4

// sizeForKind is the canonical storage size for kinds whose size doesn't
// vary with the originating type (primitives widen on the stack but keep
// their own declared storage width, handled separately in layout.go).
func sizeForKind(k Kind) uint32 {
	switch k {
	case KindUint32, KindInt32, KindSingleFloat:
		return 4
	case KindUint64, KindInt64, KindDoubleFloat:
		return 8
	case KindBoolean:
		return 1
	case KindObjectRef, KindVariableRef, KindReferenceArray, KindReference,
		KindFunctionPointer, KindMethodSlot:
		return PointerWidth
	default:
		return 0 // value-array / large-value-type sizes are computed, not fixed
	}
}
