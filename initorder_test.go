// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "testing"

func typeWithInit(name string) *TypeDescriptor {
	t := &TypeDescriptor{Name: name}
	t.Initializer = &MethodDescriptor{Name: ".cctor", DeclaringType: t}
	return t
}

func indexOf(types []*TypeDescriptor, target *TypeDescriptor) int {
	for i, t := range types {
		if t == target {
			return i
		}
	}
	return -1
}

func TestInitializerSequencerDependencyOrder(t *testing.T) {
	a := typeWithInit("A")
	b := typeWithInit("B")
	b.InitDependsOn = []*TypeDescriptor{a}

	seq := NewInitializerSequencer(nil, nil)
	order, err := seq.Sequence([]*TypeDescriptor{b, a})
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	if indexOf(order, a) >= indexOf(order, b) {
		t.Errorf("Sequence() = %v, want A before B (B depends on A)", order)
	}
}

func TestInitializerSequencerFrontBackOverrides(t *testing.T) {
	runtime := typeWithInit("RuntimeBootstrap")
	a := typeWithInit("A")
	finalizer := typeWithInit("ShutdownHooks")

	seq := NewInitializerSequencer([]*TypeDescriptor{runtime}, []*TypeDescriptor{finalizer})
	order, err := seq.Sequence([]*TypeDescriptor{a, finalizer, runtime})
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("Sequence() = %v, want 3 entries", order)
	}
	if order[0] != runtime {
		t.Errorf("Sequence()[0] = %v, want the curated front override first", order[0].Name)
	}
	if order[len(order)-1] != finalizer {
		t.Errorf("Sequence() last = %v, want the curated back override last", order[len(order)-1].Name)
	}
}

func TestInitializerSequencerSkipsSuppressedAndUninitialized(t *testing.T) {
	a := typeWithInit("A")
	suppressed := typeWithInit("Suppressed")
	suppressed.InitSuppressed = true
	noInit := &TypeDescriptor{Name: "NoInit"}

	seq := NewInitializerSequencer(nil, nil)
	order, err := seq.Sequence([]*TypeDescriptor{a, suppressed, noInit})
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	if len(order) != 1 || order[0] != a {
		t.Errorf("Sequence() = %v, want only [A]", order)
	}
}

func TestInitializerSequencerCycleDetection(t *testing.T) {
	a := typeWithInit("A")
	b := typeWithInit("B")
	a.InitDependsOn = []*TypeDescriptor{b}
	b.InitDependsOn = []*TypeDescriptor{a}

	seq := NewInitializerSequencer(nil, nil)
	_, err := seq.Sequence([]*TypeDescriptor{a, b})
	if err == nil {
		t.Fatal("Sequence() should fail on a dependency cycle")
	}
}

func TestInitializerSequencerOrdersByCallGraphEdge(t *testing.T) {
	a := typeWithInit("A")
	helper := &MethodDescriptor{Name: "Helper", DeclaringType: a}
	b := typeWithInit("B")
	b.Initializer.addRefMethod(helper)

	seq := NewInitializerSequencer(nil, nil)
	order, err := seq.Sequence([]*TypeDescriptor{b, a})
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	if indexOf(order, a) >= indexOf(order, b) {
		t.Errorf("Sequence() = %v, want A before B (B's initializer calls a method declared on A)", order)
	}
}

func TestInitializerSequencerEqualityComparerPrecedesPlainType(t *testing.T) {
	comparer := typeWithInit("StringEqualityComparer")
	plain := typeWithInit("UserWidget")

	seq := NewInitializerSequencer(nil, nil)
	order, err := seq.Sequence([]*TypeDescriptor{plain, comparer})
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	if indexOf(order, comparer) >= indexOf(order, plain) {
		t.Errorf("Sequence() = %v, want the equality-comparer-named type first", order)
	}
}

func TestInitializerSequencerPlatformNamespacePrecedesUserNamespace(t *testing.T) {
	platform := typeWithInit("Console")
	platform.Namespace = "System"
	user := typeWithInit("Widget")
	user.Namespace = "App"

	seq := NewInitializerSequencer(nil, nil)
	order, err := seq.Sequence([]*TypeDescriptor{user, platform})
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	if indexOf(order, platform) >= indexOf(order, user) {
		t.Errorf("Sequence() = %v, want the platform-namespace type first", order)
	}
}

func TestInitializerSequencerStableOrderForIndependentTypes(t *testing.T) {
	a := typeWithInit("A")
	b := typeWithInit("B")
	c := typeWithInit("C")

	seq := NewInitializerSequencer(nil, nil)
	order, err := seq.Sequence([]*TypeDescriptor{a, b, c})
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	want := []*TypeDescriptor{a, b, c}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Sequence() = %v, want discovery order preserved for independent types", order)
			break
		}
	}
}
