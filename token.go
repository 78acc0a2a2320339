// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

// TokenKind tags which sub-range of the flat 32-bit token space a Token
// belongs to, the same "encode the table index in the high bits" idea the
// teacher uses for metadata coded indices in dotnet_helper.go, just
// applied to our own single flat space instead of ECMA-335's per-table
// row indices.
type TokenKind uint8

const (
	TokenNone TokenKind = iota
	TokenMethod
	TokenField
	TokenType
	TokenString
	TokenConstant
)

func (k TokenKind) String() string {
	switch k {
	case TokenMethod:
		return "method"
	case TokenField:
		return "field"
	case TokenType:
		return "type"
	case TokenString:
		return "string"
	case TokenConstant:
		return "constant"
	default:
		return "none"
	}
}

// Token is a 32-bit integer identifying an image entity: the sole
// reference rewritten bytecode carries.
type Token uint32

const tokenKindShift = 28
const tokenIndexMask = (1 << tokenKindShift) - 1

func newToken(kind TokenKind, index uint32) Token {
	return Token(uint32(kind)<<tokenKindShift | (index & tokenIndexMask))
}

// Kind returns which sub-range this token was allocated from.
func (t Token) Kind() TokenKind { return TokenKind(uint32(t) >> tokenKindShift) }

func (t Token) index() uint32 { return uint32(t) & tokenIndexMask }

// TokenAllocator assigns each reachable entity a stable token on first
// request and supports inverse lookup. A single compile session is used
// from one goroutine; no internal locking is performed beyond whatever
// the caller imposes.
type TokenAllocator struct {
	methodTokens map[*MethodDescriptor]Token
	fieldTokens  map[*FieldDescriptor]Token
	typeTokens   map[*TypeDescriptor]Token
	stringTokens map[string]Token
	constTokens  map[string]Token

	methodsByToken map[Token]*MethodDescriptor
	fieldsByToken  map[Token]*FieldDescriptor
	typesByToken   map[Token]*TypeDescriptor
	stringsByToken map[Token]*StringBlob
	constsByToken  map[Token]*ConstantBlob

	nextMethod, nextField, nextType, nextString, nextConstant uint32
}

// NewTokenAllocator returns an empty allocator.
func NewTokenAllocator() *TokenAllocator {
	return &TokenAllocator{
		methodTokens:   make(map[*MethodDescriptor]Token),
		fieldTokens:    make(map[*FieldDescriptor]Token),
		typeTokens:     make(map[*TypeDescriptor]Token),
		stringTokens:   make(map[string]Token),
		constTokens:    make(map[string]Token),
		methodsByToken: make(map[Token]*MethodDescriptor),
		fieldsByToken:  make(map[Token]*FieldDescriptor),
		typesByToken:   make(map[Token]*TypeDescriptor),
		stringsByToken: make(map[Token]*StringBlob),
		constsByToken:  make(map[Token]*ConstantBlob),
	}
}

// TokenForMethod returns m's token, allocating one on first use.
func (a *TokenAllocator) TokenForMethod(m *MethodDescriptor) Token {
	if tok, ok := a.methodTokens[m]; ok {
		return tok
	}
	tok := newToken(TokenMethod, a.nextMethod)
	a.nextMethod++
	a.methodTokens[m] = tok
	a.methodsByToken[tok] = m
	m.Token = tok
	return tok
}

// TokenForField returns f's token, allocating one on first use.
func (a *TokenAllocator) TokenForField(f *FieldDescriptor) Token {
	if tok, ok := a.fieldTokens[f]; ok {
		return tok
	}
	tok := newToken(TokenField, a.nextField)
	a.nextField++
	a.fieldTokens[f] = tok
	a.fieldsByToken[tok] = f
	f.Token = tok
	return tok
}

// TokenForType returns t's token, allocating one on first use.
func (a *TokenAllocator) TokenForType(t *TypeDescriptor) Token {
	if tok, ok := a.typeTokens[t]; ok {
		return tok
	}
	tok := newToken(TokenType, a.nextType)
	a.nextType++
	a.typeTokens[t] = tok
	a.typesByToken[tok] = t
	t.Token = tok
	return tok
}

// InternString returns the token for value, interning it into the image
// string table on first use.
func (a *TokenAllocator) InternString(value string) (*StringBlob, Token) {
	if tok, ok := a.stringTokens[value]; ok {
		return a.stringsByToken[tok], tok
	}
	tok := newToken(TokenString, a.nextString)
	a.nextString++
	blob := &StringBlob{Token: tok, Value: value}
	a.stringTokens[value] = tok
	a.stringsByToken[tok] = blob
	return blob, tok
}

// InternConstant returns the token for data, interning it into the
// constant blob table on first use (content-addressed: identical bytes
// share a token).
func (a *TokenAllocator) InternConstant(data []byte) (*ConstantBlob, Token) {
	key := string(data)
	if tok, ok := a.constTokens[key]; ok {
		return a.constsByToken[tok], tok
	}
	tok := newToken(TokenConstant, a.nextConstant)
	a.nextConstant++
	blob := &ConstantBlob{Token: tok, Data: append([]byte(nil), data...)}
	a.constTokens[key] = tok
	a.constsByToken[tok] = blob
	return blob, tok
}

// ResolveMethod performs inverse lookup for a method token.
func (a *TokenAllocator) ResolveMethod(t Token) (*MethodDescriptor, bool) {
	m, ok := a.methodsByToken[t]
	return m, ok
}

// ResolveField performs inverse lookup for a field token.
func (a *TokenAllocator) ResolveField(t Token) (*FieldDescriptor, bool) {
	f, ok := a.fieldsByToken[t]
	return f, ok
}

// ResolveType performs inverse lookup for a type token.
func (a *TokenAllocator) ResolveType(t Token) (*TypeDescriptor, bool) {
	ty, ok := a.typesByToken[t]
	return ty, ok
}

// ResolveString performs inverse lookup for a string token.
func (a *TokenAllocator) ResolveString(t Token) (*StringBlob, bool) {
	s, ok := a.stringsByToken[t]
	return s, ok
}

// ResolveConstant performs inverse lookup for a constant blob token.
func (a *TokenAllocator) ResolveConstant(t Token) (*ConstantBlob, bool) {
	c, ok := a.constsByToken[t]
	return c, ok
}
