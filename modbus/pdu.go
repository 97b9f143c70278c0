// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus implements the Modbus PDU codec: the pure, I/O-free
// mapping between typed request/response records and the byte sequences
// carried inside a Modbus ADU (MBAP over TCP, or slaveId+PDU+CRC over RTU).
package modbus

import "fmt"

// ProtocolDataUnit is a function code followed by function-specific data.
// It is identical across TCP and RTU; the framers in transport/mbap and
// transport/rtu are responsible for wrapping/unwrapping it in an ADU.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// TargetType identifies which of the four Modbus data tables an operation
// addresses. It determines which function code is used and how values
// are packed on the wire.
type TargetType int

const (
	Coil TargetType = iota
	DiscreteInput
	HoldingRegister
	InputRegister
)

func (t TargetType) String() string {
	switch t {
	case Coil:
		return "coil"
	case DiscreteInput:
		return "discrete-input"
	case HoldingRegister:
		return "holding-register"
	case InputRegister:
		return "input-register"
	default:
		return fmt.Sprintf("TargetType(%d)", int(t))
	}
}

// Writable reports whether the target type may be written.
func (t TargetType) Writable() bool {
	return t == Coil || t == HoldingRegister
}

// bit reports whether the target type is bit-addressed (coil/discrete
// input) as opposed to word-addressed (holding/input register).
func (t TargetType) bit() bool {
	return t == Coil || t == DiscreteInput
}

// WriteValue is a tagged union over the shapes the original dynamically
// typed write APIs accepted: a single bit, a single word, a packed/unpacked bit sequence, a
// word sequence, or a raw byte sequence used verbatim. Exactly one field
// is meaningful, selected by Kind.
type WriteValue struct {
	Kind  WriteValueKind
	Bool  bool
	Word  uint16
	Bits  []bool
	Words []uint16
	Raw   []byte
}

// WriteValueKind discriminates the active field of a WriteValue.
type WriteValueKind int

const (
	WriteSingleBool WriteValueKind = iota
	WriteSingleWord
	WriteBits
	WriteWords
	WriteRaw
)

// SingleBool builds a WriteValue for a single-coil write.
func SingleBool(v bool) WriteValue { return WriteValue{Kind: WriteSingleBool, Bool: v} }

// SingleWord builds a WriteValue for a single-register (or single-coil,
// using the raw 0xFF00/0x0000 wire encoding) write.
func SingleWord(v uint16) WriteValue { return WriteValue{Kind: WriteSingleWord, Word: v} }

// Bits builds a WriteValue for a multiple-coil write from unpacked booleans.
func Bits(v []bool) WriteValue { return WriteValue{Kind: WriteBits, Bits: v} }

// Words builds a WriteValue for a multiple-register write.
func Words(v []uint16) WriteValue { return WriteValue{Kind: WriteWords, Words: v} }

// Raw builds a WriteValue from pre-packed wire bytes, used verbatim.
func Raw(v []byte) WriteValue { return WriteValue{Kind: WriteRaw, Raw: v} }
