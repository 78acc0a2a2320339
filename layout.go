// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

// LayoutEngine computes per-type instance size, static size, field
// ordering, and alignment, and classifies fields/variables into Kind.
type LayoutEngine struct {
	// stringCarrier and exceptionCarrier are the two well-known types with
	// hard-coded field-ordering contracts with the device runtime.
	stringCarrier    *TypeDescriptor
	exceptionCarrier *TypeDescriptor
}

// NewLayoutEngine constructs a layout engine. stringCarrier and
// exceptionCarrier may be nil if the corresponding platform type isn't
// part of this compile.
func NewLayoutEngine(stringCarrier, exceptionCarrier *TypeDescriptor) *LayoutEngine {
	return &LayoutEngine{stringCarrier: stringCarrier, exceptionCarrier: exceptionCarrier}
}

// structAlignment is the minimum field alignment inside a value type:
// 1 unless the type has a reference field or more than one instance field.
func structAlignment(t *TypeDescriptor) uint32 {
	fields := t.Fields()
	instanceFieldCount := 0
	hasRef := false
	for _, f := range fields {
		if f.Static {
			continue
		}
		instanceFieldCount++
		switch f.Kind {
		case KindObjectRef, KindReferenceArray, KindReference, KindFunctionPointer, KindVariableRef:
			hasRef = true
		}
	}
	if hasRef || instanceFieldCount > 1 {
		return 4
	}
	return 1
}

// roundUpFieldAlignment rounds a reference-valued field inside a
// non-value class up to 4 or 8 (<=4 -> 4; >4 -> aligned to 8); a
// value-typed field inside a class rounds up the same way.
func roundUpFieldAlignment(size uint32) uint32 {
	if size <= 4 {
		return 4
	}
	return roundUp(size, 8)
}

func roundUp(v, multiple uint32) uint32 {
	if multiple == 0 {
		return v
	}
	rem := v % multiple
	if rem == 0 {
		return v
	}
	return v + (multiple - rem)
}

// ClassifyField assigns a field its storage Kind+Size, applying the field
// kind it inherits from its declared type plus the class-field alignment
// rule. It must be called after the field's FieldType has itself been
// classified by ClassifyValueType.
func (le *LayoutEngine) ClassifyField(f *FieldDescriptor, declaringIsValueType bool) {
	ft := f.FieldType
	kind, size := ft.Kind, ft.KindSize
	if declaringIsValueType {
		// value-type field layout uses the field's own natural size; the
		// struct-wide alignment is applied once, over the whole type, in
		// ClassifyValueType.
		f.Kind, f.Size = kind, size
		return
	}
	switch kind {
	case KindObjectRef, KindReferenceArray, KindReference, KindFunctionPointer, KindVariableRef:
		f.Kind, f.Size = kind, roundUpFieldAlignment(size)
	case KindLargeValueType:
		f.Kind, f.Size = kind, roundUpFieldAlignment(size)
	default:
		f.Kind, f.Size = kind, size
	}
}

// ClassifyValueType handles the "all other value types" branch of the
// classification rules: sum non-static instance field sizes (respecting
// the declared layout-size attribute when larger), then bucket into
// unsigned-32 / unsigned-64 / large-value-type.
func (le *LayoutEngine) ClassifyValueType(t *TypeDescriptor, declaredLayoutSize int64) (Kind, uint32) {
	align := structAlignment(t)
	var total uint32
	for _, f := range t.Fields() {
		if f.Static {
			continue
		}
		total = roundUp(total, align) + f.Size
	}
	total = roundUp(total, align)
	if declaredLayoutSize > 0 && uint32(declaredLayoutSize) > total {
		total = uint32(declaredLayoutSize)
	}
	if total < 4 {
		total = 4
	}
	switch {
	case total <= 4:
		return KindUint32, 4
	case total <= 8:
		return KindUint64, 8
	default:
		return KindLargeValueType, roundUp(total, 4)
	}
}

// ClassifyValueArrayElement finalizes a value-array type's KindSize once
// its element type's own size is known (imageformat.go leaves this at 0
// because element classification may not have happened yet at type-row
// decode time).
func (le *LayoutEngine) ClassifyValueArrayElement(arrayType *TypeDescriptor) {
	if arrayType.ElementType == nil {
		return
	}
	arrayType.Kind = KindValueArray
	arrayType.KindSize = arrayType.ElementType.KindSize
}

// ComputeInstanceSize computes instance size: a derived type's instance
// size equals its own contribution plus the base type's instance size;
// static size is never inherited.
func (le *LayoutEngine) ComputeInstanceSize(t *TypeDescriptor) uint32 {
	var base uint32
	if t.Parent != nil {
		if t.Parent.InstanceSize == 0 && len(t.Parent.Fields()) > 0 {
			base = le.ComputeInstanceSize(t.Parent)
		} else {
			base = t.Parent.InstanceSize
		}
	}
	align := structAlignment(t)
	var own uint32
	for _, f := range t.Fields() {
		if f.Static {
			continue
		}
		own = roundUp(own, align) + f.Size
	}
	t.InstanceSize = base + own
	return t.InstanceSize
}

// ComputeStaticSize sums the sizes of t's own static fields; static size
// is never inherited.
func (le *LayoutEngine) ComputeStaticSize(t *TypeDescriptor) uint32 {
	var total uint32
	for _, f := range t.Fields() {
		if !f.Static {
			continue
		}
		total += f.Size
	}
	t.StaticSize = total
	return total
}

// StabilizeFieldOrder enforces two hard-coded field-ordering contracts:
// for the text-string carrier type, the length field must precede the
// first character payload field; for the exception carrier type, the
// message field must be at position zero.
func (le *LayoutEngine) StabilizeFieldOrder(t *TypeDescriptor) {
	switch t {
	case le.stringCarrier:
		moveFieldToFront(t, func(f *FieldDescriptor) bool { return isLengthFieldName(f.Name) })
	case le.exceptionCarrier:
		moveFieldToFront(t, func(f *FieldDescriptor) bool { return isMessageFieldName(f.Name) })
	}
}

func isLengthFieldName(name string) bool {
	return name == "_stringLength" || name == "Length" || name == "m_stringLength"
}

func isMessageFieldName(name string) bool {
	return name == "_message" || name == "Message" || name == "m_message"
}

// moveFieldToFront reorders t.Members so that the first field member
// matching pred becomes the first field in the member list, preserving
// the relative order of every other field.
func moveFieldToFront(t *TypeDescriptor, pred func(*FieldDescriptor) bool) {
	fieldIdx := -1
	for i, mem := range t.Members {
		if mem.Kind == MemberField && pred(mem.Field) {
			fieldIdx = i
			break
		}
	}
	if fieldIdx <= 0 {
		return
	}
	// find the index of the first field member overall.
	firstFieldIdx := -1
	for i, mem := range t.Members {
		if mem.Kind == MemberField {
			firstFieldIdx = i
			break
		}
	}
	if firstFieldIdx < 0 || firstFieldIdx == fieldIdx {
		return
	}
	target := t.Members[fieldIdx]
	copy(t.Members[firstFieldIdx+1:fieldIdx+1], t.Members[firstFieldIdx:fieldIdx])
	t.Members[firstFieldIdx] = target
}
