// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Function codes recognized by this engine. Any response whose high bit is
// set (code|0x80) is an exception response carrying a 1-byte exception code.
const (
	FuncCodeReadCoils                  byte = 0x01
	FuncCodeReadDiscreteInputs         byte = 0x02
	FuncCodeReadHoldingRegisters       byte = 0x03
	FuncCodeReadInputRegisters         byte = 0x04
	FuncCodeWriteSingleCoil            byte = 0x05
	FuncCodeWriteSingleRegister        byte = 0x06
	FuncCodeReadExceptionStatus        byte = 0x07
	FuncCodeDiagnostics                byte = 0x08
	FuncCodeWriteMultipleCoils         byte = 0x0F
	FuncCodeWriteMultipleRegisters     byte = 0x10
	FuncCodeReportSlaveID              byte = 0x11
	FuncCodeMaskWriteRegister          byte = 0x16
	FuncCodeReadWriteMultipleRegisters byte = 0x17
	FuncCodeReadDeviceIdentification   byte = 0x2B

	// meiTypeDeviceIdentification is the MODBUS Encapsulated Interface
	// sub-code carried as the first data byte of FuncCodeReadDeviceIdentification.
	meiTypeDeviceIdentification byte = 0x0E

	exceptionBit byte = 0x80
)

// IsException reports whether a response function code carries an exception.
func IsException(functionCode byte) bool {
	return functionCode&exceptionBit != 0
}

// ExceptionFunctionCode strips the exception bit, returning the function
// code the exception response was generated for.
func ExceptionFunctionCode(functionCode byte) byte {
	return functionCode &^ exceptionBit
}

// quantityRange bounds the target count accepted for a given function code,
// used by the slave dispatcher to reject out-of-range requests with
// ExceptionIllegalDataValue.
type quantityRange struct {
	min, max uint16
}

var quantityLimits = map[byte]quantityRange{
	FuncCodeReadCoils:                  {1, 2000},
	FuncCodeReadDiscreteInputs:         {1, 2000},
	FuncCodeReadHoldingRegisters:       {1, 125},
	FuncCodeReadInputRegisters:         {1, 125},
	FuncCodeWriteMultipleCoils:         {1, 1968},
	FuncCodeWriteMultipleRegisters:     {1, 123},
	FuncCodeReadWriteMultipleRegisters: {1, 125},
}

// ValidQuantity reports whether quantity lies within the allowed range for
// funcCode. Function codes with no range registered
// (fixed single-value operations) always report true.
func ValidQuantity(funcCode byte, quantity uint16) bool {
	r, ok := quantityLimits[funcCode]
	if !ok {
		return true
	}
	return quantity >= r.min && quantity <= r.max
}
