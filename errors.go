// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import "errors"

// Sentinel errors for the fatal and non-fatal conditions this compiler can
// hit, wrapped with identifying context at the call site the same way the
// teacher's helper.go sentinels (ErrDOSMagicNotFound, ErrInvalidElfanewValue,
// ...) are returned bare and wrapped higher up in file.go's Parse.
var (
	// ErrUnresolvedReference is a bytecode operand that is neither a
	// valid token nor provably a non-token byte sequence. Non-fatal when
	// the resolver can't prove it's a token; fatal when a token-required
	// instruction returns nothing (that distinction is made by the
	// caller, not by this sentinel).
	ErrUnresolvedReference = errors.New("nanoimage: unresolved bytecode reference")

	// ErrMissingReplacementTarget is returned when a substitute names a
	// member that does not exist on its target type.
	ErrMissingReplacementTarget = errors.New("nanoimage: replacement target not found")

	// ErrMissingImplementation is returned for a concrete, non-abstract
	// method with no bytecode that is not a synthesized delegate method.
	ErrMissingImplementation = errors.New("nanoimage: method has no implementation")

	// ErrOversizedMethod is returned when bytecode exceeds the maximum
	// method body size.
	ErrOversizedMethod = errors.New("nanoimage: method body exceeds maximum size")

	// ErrBadEntryPoint is returned for a non-static, generic, or
	// (for flash launch) wrong-shaped entry method.
	ErrBadEntryPoint = errors.New("nanoimage: invalid entry point")

	// ErrUnsupportedOpcodeForm is returned for an instruction whose
	// operand form the rewriter does not handle.
	ErrUnsupportedOpcodeForm = errors.New("nanoimage: unsupported opcode form")

	// ErrDeviceUpload is returned when the transport fails during upload.
	ErrDeviceUpload = errors.New("nanoimage: device upload failed")

	// ErrCapacityExceeded is returned when a kernel or program does not
	// fit within the device's reported capabilities.
	ErrCapacityExceeded = errors.New("nanoimage: image exceeds device capacity")

	// ErrInvalidSignature is returned when a kernel signature fails
	// verification.
	ErrInvalidSignature = errors.New("nanoimage: kernel signature verification failed")
)

// MaxMethodBodyBytes rejects any method whose bytecode exceeds 2^14 - 1
// bytes, applied during rewriting.
const MaxMethodBodyBytes = 1<<14 - 1

// MaxWalkMethodBodyBytes is the looser limit applied during the initial
// dependency walk, before a method is confirmed reachable.
const MaxWalkMethodBodyBytes = 1<<16 - 1
