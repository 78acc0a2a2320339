// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import (
	"sort"
	"strings"
)

// InitializerSequencer orders a program's static initializers for
// execution before the entry method runs. The base ordering is a
// stable topological sort over InitDependsOn; a curated list of
// well-known platform types must additionally run strictly before or
// after every other initializer regardless of what the dependency graph
// says, matching the fixed bring-up order the device's runtime support
// code expects.
type InitializerSequencer struct {
	// front lists types whose initializers must run before any other
	// initializer in the set (e.g. the runtime's internal bookkeeping
	// type). Order within front is preserved.
	front []*TypeDescriptor
	// back lists types whose initializers must run after every other
	// initializer in the set.
	back []*TypeDescriptor
}

// NewInitializerSequencer constructs a sequencer with the curated
// front/back override lists.
func NewInitializerSequencer(front, back []*TypeDescriptor) *InitializerSequencer {
	return &InitializerSequencer{front: front, back: back}
}

// Sequence returns types in the order their (non-suppressed) static
// initializers must run: front overrides first, then a dependency-stable
// topological sort of the remainder, then back overrides.
func (s *InitializerSequencer) Sequence(types []*TypeDescriptor) ([]*TypeDescriptor, error) {
	frontSet := toSet(s.front)
	backSet := toSet(s.back)

	var middle []*TypeDescriptor
	for _, t := range types {
		if t.Initializer == nil || t.InitSuppressed {
			continue
		}
		if _, ok := frontSet[t]; ok {
			continue
		}
		if _, ok := backSet[t]; ok {
			continue
		}
		middle = append(middle, t)
	}

	sorted, err := topoSortStable(tieBreakSort(middle), initDependencies)
	if err != nil {
		return nil, err
	}

	var out []*TypeDescriptor
	out = append(out, filterInitializable(s.front)...)
	out = append(out, sorted...)
	out = append(out, filterInitializable(s.back)...)
	return out, nil
}

func filterInitializable(types []*TypeDescriptor) []*TypeDescriptor {
	var out []*TypeDescriptor
	for _, t := range types {
		if t.Initializer != nil && !t.InitSuppressed {
			out = append(out, t)
		}
	}
	return out
}

func toSet(types []*TypeDescriptor) map[*TypeDescriptor]struct{} {
	set := make(map[*TypeDescriptor]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// initDependencies returns the types t's record must follow: the
// declared InitDependsOn list, plus one derived edge per method t's own
// initializer calls -- comparator rule 2 ("x calls any method declared
// on y" puts x after y), read off the refMethods the dependency walker
// already recorded while rewriting t.Initializer's body.
func initDependencies(t *TypeDescriptor) []*TypeDescriptor {
	deps := append([]*TypeDescriptor(nil), t.InitDependsOn...)
	if t.Initializer == nil {
		return deps
	}
	for callee := range t.Initializer.refMethods {
		if callee.DeclaringType != nil && callee.DeclaringType != t {
			deps = append(deps, callee.DeclaringType)
		}
	}
	return deps
}

// isEqualityComparerNamed implements comparator rule 4: equality-
// comparer-named types are commonly leaf dependencies and precede
// everything else when the dependency graph leaves the order otherwise
// unconstrained.
func isEqualityComparerNamed(t *TypeDescriptor) bool {
	return strings.Contains(t.Name, "EqualityComparer")
}

// isPlatformNamespace implements comparator rule 5: platform types
// precede user types when otherwise unconstrained.
func isPlatformNamespace(t *TypeDescriptor) bool {
	return strings.HasPrefix(t.Namespace, "System")
}

// tieBreakSort applies comparator rules 4 and 5 as a stable pre-sort
// ahead of the topological sort: types with no ordering constraint
// between them fall into a deterministic order instead of whatever
// slice order they happened to be discovered in, while the relative
// order of types the rules don't distinguish is left untouched.
func tieBreakSort(types []*TypeDescriptor) []*TypeDescriptor {
	out := append([]*TypeDescriptor(nil), types...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ae, be := isEqualityComparerNamed(a), isEqualityComparerNamed(b); ae != be {
			return ae
		}
		if ap, bp := isPlatformNamespace(a), isPlatformNamespace(b); ap != bp {
			return ap
		}
		return false
	})
	return out
}

// topoSortStable performs a depth-first topological sort over the edges
// depsOf reports, restricted to the given set, visiting nodes in their
// input slice order so that independent types keep that order (a stable
// sort, not an arbitrary one -- important because a nondeterministic
// initializer order would make two compiles of the same program produce
// different images).
func topoSortStable(types []*TypeDescriptor, depsOf func(*TypeDescriptor) []*TypeDescriptor) ([]*TypeDescriptor, error) {
	inSet := toSet(types)
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[*TypeDescriptor]int, len(types))
	var out []*TypeDescriptor

	var visit func(t *TypeDescriptor) error
	visit = func(t *TypeDescriptor) error {
		switch state[t] {
		case done:
			return nil
		case visiting:
			return errInitCycle(t)
		}
		state[t] = visiting
		for _, dep := range depsOf(t) {
			if _, ok := inSet[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[t] = done
		out = append(out, t)
		return nil
	}

	for _, t := range types {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func errInitCycle(t *TypeDescriptor) error {
	return &initCycleError{t: t}
}

type initCycleError struct{ t *TypeDescriptor }

func (e *initCycleError) Error() string {
	return "nanoimage: static initializer dependency cycle at " + e.t.FullName()
}
