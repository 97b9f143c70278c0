// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "fmt"

// ExceptionCode is a 1-byte Modbus exception code. Codes 1-8 are protocol
// exceptions reported by a remote peer; codes 80-89 are
// library-internal codes for transport failures and programmer errors that
// never appear on the wire but are surfaced through the same error path.
type ExceptionCode byte

const (
	ExceptionIllegalFunction    ExceptionCode = 0x01
	ExceptionIllegalDataAddress ExceptionCode = 0x02
	ExceptionIllegalDataValue   ExceptionCode = 0x03
	ExceptionSlaveDeviceFailure ExceptionCode = 0x04
	ExceptionAcknowledge        ExceptionCode = 0x05
	ExceptionSlaveDeviceBusy    ExceptionCode = 0x06
	ExceptionNegativeAck        ExceptionCode = 0x07
	ExceptionMemoryParityError  ExceptionCode = 0x08

	ExceptionResponseTimeout      ExceptionCode = 80
	ExceptionInvalidCRC           ExceptionCode = 81
	ExceptionInvalidArgLength     ExceptionCode = 82
	ExceptionInvalidDeviceAddress ExceptionCode = 83
	ExceptionInvalidAddress       ExceptionCode = 84
	ExceptionInvalidAddressRange  ExceptionCode = 85
	ExceptionInvalidAddressType   ExceptionCode = 86
	ExceptionInvalidTargetType    ExceptionCode = 87
	ExceptionInvalidValues        ExceptionCode = 88
	ExceptionInvalidQuantity      ExceptionCode = 89
)

// Error implements the error interface, returning a human-readable message
// in this package's "modbus: ..." prefix convention.
func (e ExceptionCode) Error() string {
	if msg, ok := exceptionMessages[e]; ok {
		return "modbus: " + msg
	}
	return fmt.Sprintf("modbus: unknown exception code (%d)", byte(e))
}

// IsProtocol reports whether e was received on the wire from a remote peer,
// as opposed to being raised locally by this library.
func (e ExceptionCode) IsProtocol() bool {
	return e >= 1 && e <= 8
}

var exceptionMessages = map[ExceptionCode]string{
	ExceptionIllegalFunction:      "illegal function",
	ExceptionIllegalDataAddress:   "illegal data address",
	ExceptionIllegalDataValue:     "illegal data value",
	ExceptionSlaveDeviceFailure:   "slave device failure",
	ExceptionAcknowledge:          "acknowledge",
	ExceptionSlaveDeviceBusy:      "slave device busy",
	ExceptionNegativeAck:          "negative acknowledge",
	ExceptionMemoryParityError:    "memory parity error",
	ExceptionResponseTimeout:      "response timeout",
	ExceptionInvalidCRC:           "invalid crc",
	ExceptionInvalidArgLength:     "invalid argument length",
	ExceptionInvalidDeviceAddress: "invalid device address",
	ExceptionInvalidAddress:       "invalid address",
	ExceptionInvalidAddressRange:  "invalid address range",
	ExceptionInvalidAddressType:   "invalid address type",
	ExceptionInvalidTargetType:    "invalid target type",
	ExceptionInvalidValues:        "invalid values",
	ExceptionInvalidQuantity:      "invalid quantity",
}

// Sentinel errors for programmer/codec-level failures, checkable with
// errors.Is at the API boundary the way other_examples/simonvetter-modbus
// exposes its ErrXxx values.
var (
	ErrInvalidTargetType = ExceptionInvalidTargetType
	ErrInvalidValues     = ExceptionInvalidValues
	ErrInvalidArgLength  = ExceptionInvalidArgLength
	ErrInvalidQuantity   = ExceptionInvalidQuantity
	ErrInvalidAddress    = ExceptionInvalidAddress
)

// ModbusException wraps an ExceptionCode decoded from a response PDU,
// distinguishing "the peer refused the request" from a local codec error
// even though both carry an ExceptionCode value.
type ModbusException struct {
	Code ExceptionCode
}

func (e *ModbusException) Error() string {
	return e.Code.Error()
}

func (e *ModbusException) Unwrap() error {
	return e.Code
}
