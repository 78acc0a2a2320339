// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "fmt"

// WalkResult is the transitive closure the dependency walker discovers
// starting from the entry method: every method, type, and field that the
// program can actually reach, plus the literal blobs those methods
// reference.
type WalkResult struct {
	Methods   []*MethodDescriptor
	Types     []*TypeDescriptor
	Fields    []*FieldDescriptor
	Strings   []Token
	Constants []Token

	methodSet map[*MethodDescriptor]struct{}
	typeSet   map[*TypeDescriptor]struct{}
	fieldSet  map[*FieldDescriptor]struct{}
}

func newWalkResult() *WalkResult {
	return &WalkResult{
		methodSet: make(map[*MethodDescriptor]struct{}),
		typeSet:   make(map[*TypeDescriptor]struct{}),
		fieldSet:  make(map[*FieldDescriptor]struct{}),
	}
}

func (w *WalkResult) addType(t *TypeDescriptor) bool {
	if t == nil {
		return false
	}
	if _, ok := w.typeSet[t]; ok {
		return false
	}
	w.typeSet[t] = struct{}{}
	w.Types = append(w.Types, t)
	w.addType(t.Parent)
	return true
}

func (w *WalkResult) addField(f *FieldDescriptor) bool {
	if f == nil {
		return false
	}
	if _, ok := w.fieldSet[f]; ok {
		return false
	}
	w.fieldSet[f] = struct{}{}
	w.Fields = append(w.Fields, f)
	w.addType(f.DeclaringType)
	w.addType(f.FieldType)
	return true
}

func (w *WalkResult) addMethod(m *MethodDescriptor) bool {
	if m == nil {
		return false
	}
	if _, ok := w.methodSet[m]; ok {
		return false
	}
	w.methodSet[m] = struct{}{}
	w.Methods = append(w.Methods, m)
	w.addType(m.DeclaringType)
	return true
}

// DependencyWalker computes the transitive closure of program entities
// reachable from the entry method: every call, field access, and type
// reference the rewriter discovers while patching bytecode feeds back
// into the walk's worklist, so rewriting and discovery are a single
// fixed-point pass.
type DependencyWalker struct {
	rewriter *BytecodeRewriter

	// arrayEnumeratorFor, when non-nil, is consulted for every array type
	// the walk discovers; a non-nil return is folded into the walk as
	// though the program had referenced that enumerator type/method
	// directly.
	arrayEnumeratorFor func(array *TypeDescriptor) (*TypeDescriptor, *MethodDescriptor)

	// synth, when non-nil, lets the walk fill in the body of a delegate
	// type's constructor and Invoke method instead of treating their
	// absent bytecode as a missing-implementation error.
	synth *SynthesizedMethodGenerator

	// suppressedNames holds the additional-suppressions setting as a
	// lookup set, keyed on the full type name the caller supplied; a type
	// discovered mid-walk whose name matches has its static initializer
	// skipped the same way an InitSuppressed type's is, without the
	// sequencer ever having reasoned about it.
	suppressedNames map[string]struct{}
}

// NewDependencyWalker constructs a walker over rewriter. arrayEnumeratorFor
// may be nil if the platform being targeted has no array-enumerator
// synthesis requirement; synth may be nil if the walk will never
// encounter a delegate type (e.g. in tests exercising unrelated walk
// behavior); suppressedNames may be nil if the compile settings name no
// additional suppressions.
func NewDependencyWalker(rewriter *BytecodeRewriter, arrayEnumeratorFor func(*TypeDescriptor) (*TypeDescriptor, *MethodDescriptor), synth *SynthesizedMethodGenerator, suppressedNames map[string]struct{}) *DependencyWalker {
	return &DependencyWalker{rewriter: rewriter, arrayEnumeratorFor: arrayEnumeratorFor, synth: synth, suppressedNames: suppressedNames}
}

// markSuppressed flags t as additionally-suppressed the first time the
// walk encounters it, if its full name appears in suppressedNames.
func (dw *DependencyWalker) markSuppressed(t *TypeDescriptor) {
	if t == nil || dw.suppressedNames == nil {
		return
	}
	if _, ok := dw.suppressedNames[t.FullName()]; ok {
		t.suppressed = true
	}
}

// Walk performs a single breadth-first walk from entry; array-enumerator
// methods it injects join the same worklist. It runs no completion pass
// after the worklist drains: an override or interface implementation that
// no walked bytecode names is not added (vtable.go populates Overrides
// only after the walk), and a static initializer is added only for a type
// reached through a field or type operand.
func (dw *DependencyWalker) Walk(entry *MethodDescriptor) (*WalkResult, error) {
	result := newWalkResult()
	queue := []*MethodDescriptor{entry}
	result.addMethod(entry)
	dw.markSuppressed(entry.DeclaringType)

	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		if m.walked {
			continue
		}
		m.walked = true

		if m.NativeSelector > 0 || m.Flags.has(MethodAbstract) {
			continue
		}
		if m.Body == nil {
			handled, err := dw.synthesizeDelegateMethod(m, result, &queue)
			if err != nil {
				return nil, err
			}
			if handled {
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrMissingImplementation, m.FullName())
		}
		if len(m.Body) > MaxWalkMethodBodyBytes {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrOversizedMethod, m.FullName(), len(m.Body))
		}

		rewritten, rr, err := dw.rewriter.RewriteMethodBody(m, m.Body)
		if err != nil {
			return nil, err
		}
		m.Body = rewritten

		for other := range rr.Methods {
			m.addRefMethod(other)
			if result.addMethod(other) {
				queue = append(queue, other)
			}
		}
		for f := range rr.Fields {
			m.addRefField(f)
			result.addField(f)
			if f.DeclaringType != nil {
				dw.markSuppressed(f.DeclaringType)
				if init := f.DeclaringType.Initializer; init != nil && !f.DeclaringType.InitSuppressed && !f.DeclaringType.suppressed {
					m.addRefMethod(init)
					if result.addMethod(init) {
						queue = append(queue, init)
					}
				}
			}
			if ft := f.FieldType; dw.arrayEnumeratorFor != nil && ft != nil && ft.Flags.has(TypeArray) {
				if enumType, enumMethod := dw.arrayEnumeratorFor(ft); enumType != nil {
					result.addType(enumType)
					if enumMethod != nil && result.addMethod(enumMethod) {
						queue = append(queue, enumMethod)
					}
				}
			}
		}
		for t := range rr.Types {
			m.addRefType(t)
			result.addType(t)
			dw.markSuppressed(t)
			if init := t.Initializer; init != nil && !t.InitSuppressed && !t.suppressed {
				m.addRefMethod(init)
				if result.addMethod(init) {
					queue = append(queue, init)
				}
			}
			if dw.arrayEnumeratorFor != nil && t.Flags.has(TypeArray) {
				if enumType, enumMethod := dw.arrayEnumeratorFor(t); enumType != nil {
					result.addType(enumType)
					if enumMethod != nil && result.addMethod(enumMethod) {
						queue = append(queue, enumMethod)
					}
				}
			}
		}
		result.Strings = append(result.Strings, rr.Strings...)
		result.Constants = append(result.Constants, rr.Constants...)
	}

	return result, nil
}

// synthesizeDelegateMethod fills in the body of a delegate type's
// constructor or Invoke method, the two members whose bytecode the
// program image never declares because the runtime synthesizes them. It
// reports handled=false (with no error) for any method that isn't one of
// these two cases, so the caller falls through to the ordinary
// missing-implementation error.
func (dw *DependencyWalker) synthesizeDelegateMethod(m *MethodDescriptor, result *WalkResult, queue *[]*MethodDescriptor) (handled bool, err error) {
	if dw.synth == nil || m.DeclaringType == nil || !m.DeclaringType.Flags.has(TypeDelegate) {
		return false, nil
	}
	dt := m.DeclaringType
	fields := dt.Fields()
	if len(fields) < 2 {
		return false, fmt.Errorf("%w: delegate type %s is missing its target/method fields", ErrMissingImplementation, dt.FullName())
	}
	targetField, methodField := fields[0], fields[1]

	switch {
	case m.Flags.has(MethodCtor):
		ctor := dw.synth.DelegateConstructor(dt)
		dw.synth.AssembleDelegateBody(ctor, targetField, methodField)
		m.Body = ctor.Body
		m.MaxStack = ctor.MaxStack
		m.addRefField(targetField)
		m.addRefField(methodField)
		result.addField(targetField)
		result.addField(methodField)
		return true, nil

	case m.Name == "Invoke":
		if dt.DelegateWraps == nil {
			return false, fmt.Errorf("%w: delegate type %s has no wrapped method to invoke", ErrMissingImplementation, dt.FullName())
		}
		thunk := dw.synth.InvokeThunk(dt, dt.DelegateWraps, targetField)
		m.Body = thunk.Body
		m.MaxStack = thunk.MaxStack
		m.addRefField(targetField)
		result.addField(targetField)
		m.addRefMethod(dt.DelegateWraps)
		if result.addMethod(dt.DelegateWraps) {
			*queue = append(*queue, dt.DelegateWraps)
		}
		return true, nil
	}
	return false, nil
}
