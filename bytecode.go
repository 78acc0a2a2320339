// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/matsujirushi/nanoimage/internal/log"
)

// RewriteResult is the per-method reference information the bytecode
// rewriter reports back to the dependency walker: every
// method/field/type/string the method's rewritten body now names.
type RewriteResult struct {
	Methods   map[*MethodDescriptor]struct{}
	Fields    map[*FieldDescriptor]struct{}
	Types     map[*TypeDescriptor]struct{}
	Strings   []Token
	Constants []Token
}

func newRewriteResult() *RewriteResult {
	return &RewriteResult{
		Methods: make(map[*MethodDescriptor]struct{}),
		Fields:  make(map[*FieldDescriptor]struct{}),
		Types:   make(map[*TypeDescriptor]struct{}),
	}
}

func (rr *RewriteResult) addMethod(m *MethodDescriptor) { rr.Methods[m] = struct{}{} }
func (rr *RewriteResult) addField(f *FieldDescriptor)   { rr.Fields[f] = struct{}{} }
func (rr *RewriteResult) addType(t *TypeDescriptor)     { rr.Types[t] = struct{}{} }

// BytecodeRewriter parses bytecode linearly, classifies each instruction
// by its immediate-operand form, rewrites token-bearing operands in place
// with allocated image tokens, and reports the set of methods/fields/types
// referenced.
type BytecodeRewriter struct {
	resolver *MetadataResolver
	registry *ReplacementRegistry
	tokens   *TokenAllocator
	logger   *log.Helper
}

// NewBytecodeRewriter constructs a rewriter over the given resolver,
// replacement registry, and token allocator.
func NewBytecodeRewriter(resolver *MetadataResolver, registry *ReplacementRegistry, tokens *TokenAllocator, logger *log.Helper) *BytecodeRewriter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &BytecodeRewriter{resolver: resolver, registry: registry, tokens: tokens, logger: logger}
}

// RewriteMethodBody rewrites raw in place (on a private copy) for m,
// returning the patched bytecode and the set of entities it references.
func (br *BytecodeRewriter) RewriteMethodBody(m *MethodDescriptor, raw []byte) ([]byte, *RewriteResult, error) {
	if len(raw) > MaxMethodBodyBytes {
		return nil, nil, fmt.Errorf("%w: %s is %d bytes", ErrOversizedMethod, m.FullName(), len(raw))
	}
	out := append([]byte(nil), raw...)
	result := newRewriteResult()

	ip := 0
	for ip < len(out) {
		op := out[ip]
		ip++

		var info opcodeInfo
		var ok bool
		if op == extendedOpcodePrefix {
			if ip >= len(out) {
				return nil, nil, fmt.Errorf("%w: truncated extended opcode in %s", ErrUnsupportedOpcodeForm, m.FullName())
			}
			op2 := out[ip]
			ip++
			if name, unsupported := unsupportedExtendedOpcodes[op2]; unsupported {
				return nil, nil, fmt.Errorf("%w: %s in %s", ErrUnsupportedOpcodeForm, name, m.FullName())
			}
			info, ok = extendedOpcodeTable[op2]
		} else {
			info, ok = opcodeTable[op]
		}
		if !ok {
			return nil, nil, fmt.Errorf("%w: opcode 0x%02x in %s", ErrUnsupportedOpcodeForm, op, m.FullName())
		}

		switch info.form {
		case OperandNone:
			// nothing to advance beyond the opcode byte(s) already consumed.
		case Operand1:
			ip += 1
		case Operand2:
			ip += 2
		case Operand4:
			ip += 4
		case Operand8:
			ip += 8
		case OperandSwitch:
			if ip+4 > len(out) {
				return nil, nil, fmt.Errorf("%w: truncated switch table in %s", ErrUnsupportedOpcodeForm, m.FullName())
			}
			count := binary.LittleEndian.Uint32(out[ip : ip+4])
			ip += 4 + int(count)*4
		default:
			if ip+4 > len(out) {
				return nil, nil, fmt.Errorf("%w: truncated operand in %s", ErrUnsupportedOpcodeForm, m.FullName())
			}
			raw32 := binary.LittleEndian.Uint32(out[ip : ip+4])
			tok, err := br.rewriteTokenOperand(m, info.form, raw32, result)
			if err != nil {
				return nil, nil, err
			}
			binary.LittleEndian.PutUint32(out[ip:ip+4], uint32(tok))
			ip += 4
		}
	}
	return out, result, nil
}

// rewriteTokenOperand implements a five-step sequence: decode (already
// done by the caller), resolve, consult the replacement registry,
// allocate the image token, and record the reference.
func (br *BytecodeRewriter) rewriteTokenOperand(m *MethodDescriptor, form OperandForm, raw32 uint32, result *RewriteResult) (Token, error) {
	desc, kind, ok := br.resolver.Resolve(m, raw32, form)
	if !ok {
		return 0, fmt.Errorf("%w: token-required instruction in %s", ErrUnresolvedReference, m.FullName())
	}

	switch kind {
	case DescString:
		s := desc.(string)
		blob, tok := br.tokens.InternString(s)
		result.Strings = append(result.Strings, tok)
		_ = blob
		return tok, nil

	case DescMethod:
		target := desc.(*MethodDescriptor)
		if declSub, replaced := br.registry.TypeReplacement(target.DeclaringType); replaced {
			target = resolveMethodOnReplacement(target, declSub)
		}
		if sub, replaced := br.registry.MethodReplacement(target); replaced {
			target = sub
		}
		result.addMethod(target)
		result.addType(target.DeclaringType)
		return br.tokens.TokenForMethod(target), nil

	case DescField:
		target := desc.(*FieldDescriptor)
		// The declaring type is always added to the type-reference list;
		// small types consisting only of fields would otherwise be missed.
		result.addType(target.DeclaringType)
		if declSub, replaced := br.registry.TypeReplacement(target.DeclaringType); replaced {
			renamed := findMatchingFieldByName(target.Name, declSub)
			if renamed == nil {
				br.logger.Warnf("field %s has no same-named counterpart on replacement %s; keeping original",
					target.FullName(), declSub.FullName())
			} else {
				target = renamed
			}
		}
		if sub, replaced := br.registry.FieldReplacement(target); replaced {
			target = sub
		}
		result.addField(target)
		if form == OperandTokAny {
			// ldtoken on a field: this is the embedded static-array
			// initializer special case -- hand back a constant blob
			// token instead of the field's own token.
			if _, tok, ok := br.ExtractLoadTokenFieldBlob(target); ok {
				result.Constants = append(result.Constants, tok)
				return tok, nil
			}
		}
		return br.tokens.TokenForField(target), nil

	case DescType:
		target := desc.(*TypeDescriptor)
		if sub, replaced := br.registry.TypeReplacement(target); replaced {
			target = sub
		}
		result.addType(target)
		if form == OperandType {
			// load-token on a field denoting an embedded static-array
			// initializer is handled in the DescField case above; plain
			// type tokens never need blob extraction.
		}
		return br.tokens.TokenForType(target), nil
	}
	return 0, fmt.Errorf("%w: unexpected descriptor kind in %s", ErrUnresolvedReference, m.FullName())
}

// resolveMethodOnReplacement finds the member of repl with the same
// signature as original -- used when the whole declaring type was
// replaced wholesale and a call site needs the equivalent method on the
// substitute.
func resolveMethodOnReplacement(original *MethodDescriptor, repl *TypeDescriptor) *MethodDescriptor {
	for _, mem := range repl.Members {
		if mem.Kind == MemberField {
			continue
		}
		if mem.Method != nil && mem.Method.SignatureEquals(original) {
			return mem.Method
		}
	}
	return original
}

func findMatchingFieldByName(name string, t *TypeDescriptor) *FieldDescriptor {
	for _, f := range t.Fields() {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ExtractLoadTokenFieldBlob implements the "load-token" special case: a
// field operand denotes an embedded static-array initializer whose length
// is encoded in the field-type's synthetic name (the well-known
// compiler-generated pattern is "...Size=<N>"); this extracts that payload
// via the field's already-attached constant bytes and registers it as the
// field's constant blob. Returns (blob, token, true) when the field really
// is a blob-init field.
func (br *BytecodeRewriter) ExtractLoadTokenFieldBlob(f *FieldDescriptor) (*ConstantBlob, Token, bool) {
	if f.ConstantInit == nil {
		return nil, 0, false
	}
	length := len(f.ConstantInit)
	if idx := strings.LastIndex(f.FieldType.Name, "Size="); idx >= 0 {
		if n, err := strconv.Atoi(f.FieldType.Name[idx+len("Size="):]); err == nil {
			length = n
		}
	}
	data := f.ConstantInit
	if length < len(data) {
		data = data[:length]
	}
	blob, tok := br.tokens.InternConstant(data)
	return blob, tok, true
}
