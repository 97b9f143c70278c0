// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "encoding/binary"

// ---- bit / register packing -------------------------------------------
//
// Grounded on internal/local-slave/model/model.go's ReadCoils/WriteMultipleCoils:
// coils are packed LSB-first within each byte, low-index bit at bit 0 of
// byte 0.

// PackCoils packs an ordered sequence of booleans into the wire's
// byte-count-prefixed-free coil encoding (the caller prepends any byte
// count). The returned slice has ceil(len(bits)/8) bytes.
func PackCoils(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// UnpackCoils unpacks quantity booleans from packed wire bytes, discarding
// unused high bits of the last byte.
func UnpackCoils(data []byte, quantity uint16) []bool {
	out := make([]bool, quantity)
	for i := range out {
		byteIdx, bitIdx := i/8, uint(i%8)
		if byteIdx < len(data) {
			out[i] = data[byteIdx]&(1<<bitIdx) != 0
		}
	}
	return out
}

// PackRegisters packs a sequence of 16-bit words as big-endian bytes.
func PackRegisters(words []uint16) []byte {
	out := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(out[i*2:], w)
	}
	return out
}

// UnpackRegisters unpacks quantity big-endian 16-bit words.
func UnpackRegisters(data []byte, quantity uint16) []uint16 {
	out := make([]uint16, quantity)
	for i := range out {
		if (i+1)*2 <= len(data) {
			out[i] = binary.BigEndian.Uint16(data[i*2:])
		}
	}
	return out
}

// coilByteCount returns ceil(quantity/8), the wire byte count for a coil
// or discrete-input read response.
func coilByteCount(quantity uint16) int {
	return (int(quantity) + 7) / 8
}

// readFuncCode maps a target type to its Read* function code.
func readFuncCode(target TargetType) (byte, error) {
	switch target {
	case Coil:
		return FuncCodeReadCoils, nil
	case DiscreteInput:
		return FuncCodeReadDiscreteInputs, nil
	case HoldingRegister:
		return FuncCodeReadHoldingRegisters, nil
	case InputRegister:
		return FuncCodeReadInputRegisters, nil
	default:
		return 0, ErrInvalidTargetType
	}
}

// EncodeReadRequest builds the PDU for a Read {Coils,DiscreteInputs,
// Holding,Input} request.
func EncodeReadRequest(target TargetType, startAddr, quantity uint16) (ProtocolDataUnit, error) {
	fc, err := readFuncCode(target)
	if err != nil {
		return ProtocolDataUnit{}, err
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], startAddr)
	binary.BigEndian.PutUint16(data[2:], quantity)
	return ProtocolDataUnit{FunctionCode: fc, Data: data}, nil
}

// EncodeWriteRequest builds the PDU for a write to target, dispatching to
// single/multiple coil/register encoding based on target and quantity, and
// on the dynamic shape of value.
func EncodeWriteRequest(target TargetType, startAddr, quantity uint16, value WriteValue) (ProtocolDataUnit, error) {
	if !target.Writable() {
		return ProtocolDataUnit{}, ErrInvalidTargetType
	}
	if target == Coil {
		return encodeCoilWrite(startAddr, quantity, value)
	}
	return encodeRegisterWrite(startAddr, quantity, value)
}

func encodeCoilWrite(startAddr, quantity uint16, value WriteValue) (ProtocolDataUnit, error) {
	if quantity == 1 {
		var wire uint16
		switch value.Kind {
		case WriteSingleBool:
			if value.Bool {
				wire = 0xFF00
			}
		case WriteSingleWord:
			wire = value.Word
		default:
			return ProtocolDataUnit{}, ErrInvalidValues
		}
		data := make([]byte, 4)
		binary.BigEndian.PutUint16(data[0:], startAddr)
		binary.BigEndian.PutUint16(data[2:], wire)
		return ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleCoil, Data: data}, nil
	}

	var packed []byte
	switch value.Kind {
	case WriteBits:
		if uint16(len(value.Bits)) != quantity {
			return ProtocolDataUnit{}, ErrInvalidArgLength
		}
		packed = PackCoils(value.Bits)
	case WriteRaw:
		if len(value.Raw) != coilByteCount(quantity) {
			return ProtocolDataUnit{}, ErrInvalidArgLength
		}
		packed = value.Raw
	default:
		return ProtocolDataUnit{}, ErrInvalidValues
	}

	data := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint16(data[0:], startAddr)
	binary.BigEndian.PutUint16(data[2:], quantity)
	data[4] = byte(len(packed))
	copy(data[5:], packed)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleCoils, Data: data}, nil
}

func encodeRegisterWrite(startAddr, quantity uint16, value WriteValue) (ProtocolDataUnit, error) {
	if quantity == 1 {
		var word uint16
		switch value.Kind {
		case WriteSingleWord:
			word = value.Word
		default:
			return ProtocolDataUnit{}, ErrInvalidValues
		}
		data := make([]byte, 4)
		binary.BigEndian.PutUint16(data[0:], startAddr)
		binary.BigEndian.PutUint16(data[2:], word)
		return ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleRegister, Data: data}, nil
	}

	var packed []byte
	switch value.Kind {
	case WriteWords:
		if uint16(len(value.Words)) != quantity {
			return ProtocolDataUnit{}, ErrInvalidArgLength
		}
		packed = PackRegisters(value.Words)
	case WriteRaw:
		if len(value.Raw) != int(quantity)*2 {
			return ProtocolDataUnit{}, ErrInvalidArgLength
		}
		packed = value.Raw
	default:
		return ProtocolDataUnit{}, ErrInvalidValues
	}

	data := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint16(data[0:], startAddr)
	binary.BigEndian.PutUint16(data[2:], quantity)
	data[4] = byte(len(packed))
	copy(data[5:], packed)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleRegisters, Data: data}, nil
}

// EncodeReadExceptionStatus builds the (empty-bodied) Read Exception Status request.
func EncodeReadExceptionStatus() ProtocolDataUnit {
	return ProtocolDataUnit{FunctionCode: FuncCodeReadExceptionStatus}
}

// EncodeDiagnostics builds a Diagnostics request for the given sub-function.
func EncodeDiagnostics(subFunc uint16, data []byte) ProtocolDataUnit {
	body := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(body[0:], subFunc)
	copy(body[2:], data)
	return ProtocolDataUnit{FunctionCode: FuncCodeDiagnostics, Data: body}
}

// EncodeReportSlaveID builds the (empty-bodied) Report Slave ID request.
func EncodeReportSlaveID() ProtocolDataUnit {
	return ProtocolDataUnit{FunctionCode: FuncCodeReportSlaveID}
}

// EncodeMaskWriteRegister builds a Mask Write Register request.
func EncodeMaskWriteRegister(refAddr, andMask, orMask uint16) ProtocolDataUnit {
	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data[0:], refAddr)
	binary.BigEndian.PutUint16(data[2:], andMask)
	binary.BigEndian.PutUint16(data[4:], orMask)
	return ProtocolDataUnit{FunctionCode: FuncCodeMaskWriteRegister, Data: data}
}

// EncodeReadWriteMultipleRegisters builds a combined read/write request.
func EncodeReadWriteMultipleRegisters(readAddr, readQty, writeAddr uint16, values []uint16) (ProtocolDataUnit, error) {
	if len(values) == 0 || len(values) > 0xFFFF {
		return ProtocolDataUnit{}, ErrInvalidArgLength
	}
	writeQty := uint16(len(values))
	packed := PackRegisters(values)

	data := make([]byte, 9+len(packed))
	binary.BigEndian.PutUint16(data[0:], readAddr)
	binary.BigEndian.PutUint16(data[2:], readQty)
	binary.BigEndian.PutUint16(data[4:], writeAddr)
	binary.BigEndian.PutUint16(data[6:], writeQty)
	data[8] = byte(len(packed))
	copy(data[9:], packed)
	return ProtocolDataUnit{FunctionCode: FuncCodeReadWriteMultipleRegisters, Data: data}, nil
}

// EncodeReadDeviceIdentification builds a Read Device Identification request
// (FC 43, MEI type 14).
func EncodeReadDeviceIdentification(readIDCode, objectID byte) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: FuncCodeReadDeviceIdentification,
		Data:         []byte{meiTypeDeviceIdentification, readIDCode, objectID},
	}
}

// ---- response decoding ---------------------------------------------------

// matchResponse checks the response function code against the expected
// code, returning a *ModbusException if the peer signalled an exception
//.
func matchResponse(resp ProtocolDataUnit, expectedFC byte) error {
	if IsException(resp.FunctionCode) {
		if ExceptionFunctionCode(resp.FunctionCode) != expectedFC {
			return ErrInvalidValues
		}
		if len(resp.Data) < 1 {
			return ErrInvalidArgLength
		}
		return &ModbusException{Code: ExceptionCode(resp.Data[0])}
	}
	if resp.FunctionCode != expectedFC {
		return ErrInvalidValues
	}
	return nil
}

// DecodeReadBitsResponse decodes a Read Coils/Read Discrete Inputs response
// into an ordered sequence of quantity booleans.
func DecodeReadBitsResponse(resp ProtocolDataUnit, expectedFC byte, quantity uint16) ([]bool, error) {
	if err := matchResponse(resp, expectedFC); err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 {
		return nil, ErrInvalidArgLength
	}
	byteCount := int(resp.Data[0])
	if len(resp.Data) != 1+byteCount || byteCount != coilByteCount(quantity) {
		return nil, ErrInvalidArgLength
	}
	return UnpackCoils(resp.Data[1:], quantity), nil
}

// DecodeReadRegistersResponse decodes a Read Holding/Input Registers (or
// Read/Write Multiple Registers) response into quantity 16-bit words.
func DecodeReadRegistersResponse(resp ProtocolDataUnit, expectedFC byte, quantity uint16) ([]uint16, error) {
	if err := matchResponse(resp, expectedFC); err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 {
		return nil, ErrInvalidArgLength
	}
	byteCount := int(resp.Data[0])
	if len(resp.Data) != 1+byteCount || byteCount != int(quantity)*2 {
		return nil, ErrInvalidArgLength
	}
	return UnpackRegisters(resp.Data[1:], quantity), nil
}

// DecodeWriteResponse checks a single/multiple write response's function
// code and decodes an exception response. The echoed address, quantity or
// value is neither compared against the request nor exposed to the caller.
func DecodeWriteResponse(resp ProtocolDataUnit, expectedFC byte) error {
	return matchResponse(resp, expectedFC)
}

// DecodeReadExceptionStatusResponse decodes the single status byte response
// to Read Exception Status.
func DecodeReadExceptionStatusResponse(resp ProtocolDataUnit) (byte, error) {
	if err := matchResponse(resp, FuncCodeReadExceptionStatus); err != nil {
		return 0, err
	}
	if len(resp.Data) != 1 {
		return 0, ErrInvalidArgLength
	}
	return resp.Data[0], nil
}

// DecodeDiagnosticsResponse decodes a Diagnostics response, returning the
// echoed sub-function and any associated data.
func DecodeDiagnosticsResponse(resp ProtocolDataUnit) (subFunc uint16, data []byte, err error) {
	if err = matchResponse(resp, FuncCodeDiagnostics); err != nil {
		return 0, nil, err
	}
	if len(resp.Data) < 2 {
		return 0, nil, ErrInvalidArgLength
	}
	return binary.BigEndian.Uint16(resp.Data[0:]), resp.Data[2:], nil
}

// ReportSlaveIDResult is the decoded Report Slave ID response: the payload
// preceding the trailing status byte, and the status byte's high bit as a
// run indicator.
type ReportSlaveIDResult struct {
	SlaveID      []byte
	RunIndicator bool
}

// DecodeReportSlaveIDResponse decodes a Report Slave ID response.
func DecodeReportSlaveIDResponse(resp ProtocolDataUnit) (ReportSlaveIDResult, error) {
	if err := matchResponse(resp, FuncCodeReportSlaveID); err != nil {
		return ReportSlaveIDResult{}, err
	}
	// byteCount, slaveID..., runIndicator
	if len(resp.Data) < 2 {
		return ReportSlaveIDResult{}, ErrInvalidArgLength
	}
	byteCount := int(resp.Data[0])
	if len(resp.Data) != 1+byteCount {
		return ReportSlaveIDResult{}, ErrInvalidArgLength
	}
	status := resp.Data[len(resp.Data)-1]
	return ReportSlaveIDResult{
		SlaveID:      resp.Data[1 : len(resp.Data)-1],
		RunIndicator: status&0x80 != 0,
	}, nil
}

// DeviceIdentificationResult is the decoded Read Device Identification
// response.
type DeviceIdentificationResult struct {
	ReadCode     byte
	Conformity   byte
	MoreFollows  byte
	NextObjectID byte
	Objects      map[byte][]byte
}

// DecodeReadDeviceIdentificationResponse decodes a Read Device
// Identification response's sub-header and object list.
func DecodeReadDeviceIdentificationResponse(resp ProtocolDataUnit) (DeviceIdentificationResult, error) {
	if err := matchResponse(resp, FuncCodeReadDeviceIdentification); err != nil {
		return DeviceIdentificationResult{}, err
	}
	// MEI type(1) + readCode(1) + conformity(1) + moreFollows(1) + nextObjectId(1) + numberOfObjects(1)
	if len(resp.Data) < 6 {
		return DeviceIdentificationResult{}, ErrInvalidArgLength
	}
	result := DeviceIdentificationResult{
		ReadCode:     resp.Data[1],
		Conformity:   resp.Data[2],
		MoreFollows:  resp.Data[3],
		NextObjectID: resp.Data[4],
		Objects:      make(map[byte][]byte),
	}
	numObjects := int(resp.Data[5])
	pos := 6
	for i := 0; i < numObjects; i++ {
		if pos+2 > len(resp.Data) {
			return DeviceIdentificationResult{}, ErrInvalidArgLength
		}
		id := resp.Data[pos]
		length := int(resp.Data[pos+1])
		pos += 2
		if pos+length > len(resp.Data) {
			return DeviceIdentificationResult{}, ErrInvalidArgLength
		}
		result.Objects[id] = resp.Data[pos : pos+length]
		pos += length
	}
	return result, nil
}
