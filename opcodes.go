// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

// OperandForm classifies the immediate operand an opcode carries, the
// dispatch key the bytecode rewriter uses to decide how many bytes to
// skip and whether a token needs patching. This is the full operand-length
// table implemented completely rather than coercing unsupported forms.
type OperandForm uint8

const (
	OperandNone OperandForm = iota
	Operand1
	Operand2
	Operand4
	Operand8
	OperandString
	OperandMethod
	OperandField
	OperandType
	OperandTokAny
	OperandSignature
	OperandSwitch
)

// isTokenForm reports whether a form carries a 4-byte token that the
// rewriter must resolve, replace, and record.
func (f OperandForm) isTokenForm() bool {
	switch f {
	case OperandString, OperandMethod, OperandField, OperandType, OperandTokAny, OperandSignature:
		return true
	default:
		return false
	}
}

// opcodeInfo describes one single-byte opcode.
type opcodeInfo struct {
	name string
	form OperandForm
}

// extendedOpcodePrefix is the sentinel byte introducing the two-byte
// extended opcode space.
const extendedOpcodePrefix = 0xFE

// Single-byte opcodes, modeled on the standard stack-machine instruction
// set's short forms. Names follow CIL mnemonics for familiarity; the exact
// byte values are this compiler's own encoding, since no on-disk bytecode
// container is prescribed upstream and the module format -- opcodes
// included -- is ours to define.
var opcodeTable = map[byte]opcodeInfo{
	0x00: {"nop", OperandNone},
	0x01: {"break", OperandNone},
	0x02: {"ldarg.0", OperandNone},
	0x03: {"ldarg.1", OperandNone},
	0x04: {"ldarg.2", OperandNone},
	0x05: {"ldarg.3", OperandNone},
	0x06: {"ldloc.0", OperandNone},
	0x07: {"ldloc.1", OperandNone},
	0x08: {"ldloc.2", OperandNone},
	0x09: {"ldloc.3", OperandNone},
	0x0A: {"stloc.0", OperandNone},
	0x0B: {"stloc.1", OperandNone},
	0x0C: {"stloc.2", OperandNone},
	0x0D: {"stloc.3", OperandNone},
	0x0E: {"ldarg.s", Operand1},
	0x0F: {"ldarga.s", Operand1},
	0x10: {"starg.s", Operand1},
	0x11: {"ldloc.s", Operand1},
	0x12: {"ldloca.s", Operand1},
	0x13: {"stloc.s", Operand1},
	0x14: {"ldnull", OperandNone},
	0x15: {"ldc.i4.m1", OperandNone},
	0x16: {"ldc.i4.0", OperandNone},
	0x17: {"ldc.i4.1", OperandNone},
	0x18: {"ldc.i4.2", OperandNone},
	0x19: {"ldc.i4.3", OperandNone},
	0x1A: {"ldc.i4.4", OperandNone},
	0x1B: {"ldc.i4.5", OperandNone},
	0x1C: {"ldc.i4.6", OperandNone},
	0x1D: {"ldc.i4.7", OperandNone},
	0x1E: {"ldc.i4.8", OperandNone},
	0x1F: {"ldc.i4.s", Operand1},
	0x20: {"ldc.i4", Operand4},
	0x21: {"ldc.i8", Operand8},
	0x22: {"ldc.r4", Operand4},
	0x23: {"ldc.r8", Operand8},
	0x25: {"dup", OperandNone},
	0x26: {"pop", OperandNone},
	0x27: {"jmp", OperandMethod},
	0x28: {"call", OperandMethod},
	0x29: {"calli", OperandSignature},
	0x2A: {"ret", OperandNone},
	0x2B: {"br.s", Operand1},
	0x2C: {"brfalse.s", Operand1},
	0x2D: {"brtrue.s", Operand1},
	0x2E: {"beq.s", Operand1},
	0x2F: {"bge.s", Operand1},
	0x30: {"bgt.s", Operand1},
	0x31: {"ble.s", Operand1},
	0x32: {"blt.s", Operand1},
	0x38: {"br", Operand4},
	0x39: {"brfalse", Operand4},
	0x3A: {"brtrue", Operand4},
	0x3B: {"beq", Operand4},
	0x3C: {"bge", Operand4},
	0x3D: {"bgt", Operand4},
	0x3E: {"ble", Operand4},
	0x3F: {"blt", Operand4},
	0x45: {"switch", OperandSwitch},
	0x58: {"add", OperandNone},
	0x59: {"sub", OperandNone},
	0x5A: {"mul", OperandNone},
	0x5B: {"div", OperandNone},
	0x5C: {"div.un", OperandNone},
	0x5D: {"rem", OperandNone},
	0x5E: {"rem.un", OperandNone},
	0x5F: {"and", OperandNone},
	0x60: {"or", OperandNone},
	0x61: {"xor", OperandNone},
	0x62: {"shl", OperandNone},
	0x63: {"shr", OperandNone},
	0x64: {"shr.un", OperandNone},
	0x65: {"neg", OperandNone},
	0x66: {"not", OperandNone},
	0x6F: {"callvirt", OperandMethod},
	0x70: {"cpobj", OperandType},
	0x71: {"ldobj", OperandType},
	0x72: {"ldstr", OperandString},
	0x73: {"newobj", OperandMethod},
	0x74: {"castclass", OperandType},
	0x75: {"isinst", OperandType},
	0x79: {"unbox", OperandType},
	0x7B: {"ldfld", OperandField},
	0x7C: {"ldflda", OperandField},
	0x7D: {"stfld", OperandField},
	0x7E: {"ldsfld", OperandField},
	0x7F: {"ldsflda", OperandField},
	0x80: {"stsfld", OperandField},
	0x81: {"stobj", OperandType},
	0x8C: {"box", OperandType},
	0x8D: {"newarr", OperandType},
	0x8E: {"ldlen", OperandNone},
	0x8F: {"ldelema", OperandType},
	0x90: {"ldelem.i1", OperandNone},
	0x91: {"ldelem.u1", OperandNone},
	0x92: {"ldelem.i2", OperandNone},
	0x93: {"ldelem.u2", OperandNone},
	0x94: {"ldelem.i4", OperandNone},
	0x95: {"ldelem.u4", OperandNone},
	0x96: {"ldelem.i8", OperandNone},
	0x97: {"ldelem.i", OperandNone},
	0x98: {"ldelem.r4", OperandNone},
	0x99: {"ldelem.r8", OperandNone},
	0x9A: {"ldelem.ref", OperandNone},
	0x9B: {"stelem.i", OperandNone},
	0x9C: {"stelem.i1", OperandNone},
	0x9D: {"stelem.i2", OperandNone},
	0x9E: {"stelem.i4", OperandNone},
	0x9F: {"stelem.i8", OperandNone},
	0xA0: {"stelem.r4", OperandNone},
	0xA1: {"stelem.r8", OperandNone},
	0xA2: {"stelem.ref", OperandNone},
	0xA3: {"ldelem", OperandType},
	0xA4: {"stelem", OperandType},
	0xA5: {"unbox.any", OperandType},
	0xD0: {"ldtoken", OperandTokAny},
	0xFE: {"prefix", OperandNone}, // handled specially: introduces extendedOpcodeTable
}

// Extended (two-byte, 0xFE-prefixed) opcodes.
var extendedOpcodeTable = map[byte]opcodeInfo{
	0x00: {"arglist", OperandNone},
	0x01: {"ceq", OperandNone},
	0x02: {"cgt", OperandNone},
	0x03: {"cgt.un", OperandNone},
	0x04: {"clt", OperandNone},
	0x05: {"clt.un", OperandNone},
	0x06: {"ldftn", OperandMethod},
	0x07: {"ldvirtftn", OperandMethod},
	0x09: {"ldarg", Operand2},
	0x0A: {"ldarga", Operand2},
	0x0B: {"starg", Operand2},
	0x0C: {"ldloc", Operand2},
	0x0D: {"ldloca", Operand2},
	0x0E: {"stloc", Operand2},
	0x0F: {"localloc", OperandNone},
	0x15: {"initobj", OperandType},
	0x16: {"constrained.", OperandType},
	0x1A: {"initblk", OperandNone},
	0x1C: {"sizeof", OperandType},
}

// unsupportedExtendedOpcodes is the named subset rejected with a clear
// error instead of being coerced into some other form: tail-call and CIL
// filter/localloc-adjacent forms the synthesized-method generator never
// emits and the walker never expects to see in user code targeting a
// microcontroller.
var unsupportedExtendedOpcodes = map[byte]string{
	0x14: "tail.",
	0x17: "refanytype",
	0x18: "readonly.",
	0x19: "unaligned.",
}
