// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave implements the Modbus slave request dispatcher: parsing an
// incoming PDU, validating address ranges and argument lengths, invoking
// host callbacks registered per function code, and assembling either a
// normal response PDU or a Modbus exception PDU.
package slave

import (
	"encoding/binary"

	"github.com/ironfield/modbus-engine/modbus"
)

// ReadHandler answers a read request for a range of the given target type.
// It returns either the values read or an ExceptionCode to reject the
// request.
type ReadHandler func(startAddr, quantity uint16) (modbus.WriteValue, modbus.ExceptionCode)

// WriteHandler applies a write request and reports success or an
// ExceptionCode to reject it.
type WriteHandler func(startAddr, quantity uint16, value modbus.WriteValue) modbus.ExceptionCode

// ReportSlaveIDHandler answers a Report Slave ID request.
type ReportSlaveIDHandler func() (modbus.ReportSlaveIDResult, modbus.ExceptionCode)

// ReadExceptionStatusHandler answers a Read Exception Status request with
// the slave's single status byte.
type ReadExceptionStatusHandler func() (byte, modbus.ExceptionCode)

// DeviceIdentificationHandler answers one page of a Read Device
// Identification request.
type DeviceIdentificationHandler func(readCode, objectID byte) (modbus.DeviceIdentificationResult, modbus.ExceptionCode)

// DiagnosticsHandler answers a Diagnostics request for the given
// sub-function.
type DiagnosticsHandler func(subFunc uint16, data []byte) ([]byte, modbus.ExceptionCode)

// MaskWriteRegisterHandler applies a Mask Write Register request.
type MaskWriteRegisterHandler func(refAddr, andMask, orMask uint16) modbus.ExceptionCode

// ErrorHandler receives framing-level errors that never reach dispatch
// (invalid CRC, unsupported function code, oversize request). Frames
// addressed to another slave are dropped without an error. It is
// informational only; no response is sent for these.
type ErrorHandler func(err error)

// Dispatcher routes incoming PDUs to host-registered callbacks and builds
// the matching response PDU. The zero value has no handlers registered;
// use New.
type Dispatcher struct {
	readHandlers  map[modbus.TargetType]ReadHandler
	writeHandlers map[modbus.TargetType]WriteHandler

	reportSlaveID       ReportSlaveIDHandler
	readExceptionStatus ReadExceptionStatusHandler
	deviceIdentification DeviceIdentificationHandler
	diagnostics         DiagnosticsHandler
	maskWriteRegister   MaskWriteRegisterHandler
	onError             ErrorHandler
}

// New builds an empty Dispatcher. Function codes with no registered
// handler are rejected with ExceptionIllegalFunction.
func New() *Dispatcher {
	return &Dispatcher{
		readHandlers:  make(map[modbus.TargetType]ReadHandler),
		writeHandlers: make(map[modbus.TargetType]WriteHandler),
	}
}

// OnRead registers the handler invoked for Read {Coils,DiscreteInputs,
// Holding,Input} requests against target.
func (d *Dispatcher) OnRead(target modbus.TargetType, h ReadHandler) { d.readHandlers[target] = h }

// OnWrite registers the handler invoked for single/multiple write requests
// against target.
func (d *Dispatcher) OnWrite(target modbus.TargetType, h WriteHandler) { d.writeHandlers[target] = h }

// OnReportSlaveID registers the Report Slave ID handler.
func (d *Dispatcher) OnReportSlaveID(h ReportSlaveIDHandler) { d.reportSlaveID = h }

// OnReadExceptionStatus registers the Read Exception Status handler.
func (d *Dispatcher) OnReadExceptionStatus(h ReadExceptionStatusHandler) { d.readExceptionStatus = h }

// OnReadDeviceIdentification registers the Read Device Identification handler.
func (d *Dispatcher) OnReadDeviceIdentification(h DeviceIdentificationHandler) {
	d.deviceIdentification = h
}

// OnDiagnostics registers the Diagnostics handler.
func (d *Dispatcher) OnDiagnostics(h DiagnosticsHandler) { d.diagnostics = h }

// OnMaskWriteRegister registers the Mask Write Register handler.
func (d *Dispatcher) OnMaskWriteRegister(h MaskWriteRegisterHandler) { d.maskWriteRegister = h }

// OnError registers the handler notified of framing-level failures.
func (d *Dispatcher) OnError(h ErrorHandler) { d.onError = h }

// ReportError notifies the registered ErrorHandler, if any, of a
// framing-level failure that occurred before dispatch was reached.
func (d *Dispatcher) ReportError(err error) {
	if d.onError != nil {
		d.onError(err)
	}
}

// Dispatch parses the request, validates it, invokes the registered
// handler, and assembles the response. It never returns an error itself —
// protocol-level failures are encoded into the returned response PDU as
// exception responses.
func (d *Dispatcher) Dispatch(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return d.dispatchRead(req, modbus.Coil)
	case modbus.FuncCodeReadDiscreteInputs:
		return d.dispatchRead(req, modbus.DiscreteInput)
	case modbus.FuncCodeReadHoldingRegisters:
		return d.dispatchRead(req, modbus.HoldingRegister)
	case modbus.FuncCodeReadInputRegisters:
		return d.dispatchRead(req, modbus.InputRegister)
	case modbus.FuncCodeWriteSingleCoil:
		return d.dispatchWriteSingle(req, modbus.Coil)
	case modbus.FuncCodeWriteSingleRegister:
		return d.dispatchWriteSingle(req, modbus.HoldingRegister)
	case modbus.FuncCodeWriteMultipleCoils:
		return d.dispatchWriteMultiple(req, modbus.Coil)
	case modbus.FuncCodeWriteMultipleRegisters:
		return d.dispatchWriteMultiple(req, modbus.HoldingRegister)
	case modbus.FuncCodeReadExceptionStatus:
		return d.dispatchReadExceptionStatus(req)
	case modbus.FuncCodeDiagnostics:
		return d.dispatchDiagnostics(req)
	case modbus.FuncCodeReportSlaveID:
		return d.dispatchReportSlaveID(req)
	case modbus.FuncCodeMaskWriteRegister:
		return d.dispatchMaskWriteRegister(req)
	case modbus.FuncCodeReadWriteMultipleRegisters:
		return d.dispatchReadWriteMultipleRegisters(req)
	case modbus.FuncCodeReadDeviceIdentification:
		return d.dispatchReadDeviceIdentification(req)
	default:
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}
}

func exceptionResponse(funcCode byte, code modbus.ExceptionCode) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | 0x80,
		Data:         []byte{byte(code)},
	}
}

// validateQuantity checks that quantity lies within the function-specific
// allowed range.
func validateQuantity(funcCode byte, quantity uint16) modbus.ExceptionCode {
	if !modbus.ValidQuantity(funcCode, quantity) {
		return modbus.ExceptionIllegalDataValue
	}
	return 0
}

func (d *Dispatcher) dispatchRead(req modbus.ProtocolDataUnit, target modbus.TargetType) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	startAddr := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if code := validateQuantity(req.FunctionCode, quantity); code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}

	handler, ok := d.readHandlers[target]
	if !ok {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}

	value, code := handler(startAddr, quantity)
	if code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}

	var packed []byte
	switch target {
	case modbus.Coil, modbus.DiscreteInput:
		packed = modbus.PackCoils(value.Bits)
	default:
		packed = modbus.PackRegisters(value.Words)
	}

	respData := make([]byte, 1+len(packed))
	respData[0] = byte(len(packed))
	copy(respData[1:], packed)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func (d *Dispatcher) dispatchWriteSingle(req modbus.ProtocolDataUnit, target modbus.TargetType) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(req.Data[0:2])
	wire := binary.BigEndian.Uint16(req.Data[2:4])

	handler, ok := d.writeHandlers[target]
	if !ok {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}

	var value modbus.WriteValue
	if target == modbus.Coil {
		if wire != 0x0000 && wire != 0xFF00 {
			return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
		}
		value = modbus.SingleBool(wire == 0xFF00)
	} else {
		value = modbus.SingleWord(wire)
	}

	if code := handler(addr, 1, value); code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}
	return req // echo request, per the Modbus spec
}

func (d *Dispatcher) dispatchWriteMultiple(req modbus.ProtocolDataUnit, target modbus.TargetType) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if code := validateQuantity(req.FunctionCode, quantity); code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}
	if byte(len(req.Data)-5) != byteCount {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}

	handler, ok := d.writeHandlers[target]
	if !ok {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}

	var value modbus.WriteValue
	if target == modbus.Coil {
		value = modbus.Bits(modbus.UnpackCoils(req.Data[5:], quantity))
	} else {
		value = modbus.Words(modbus.UnpackRegisters(req.Data[5:], quantity))
	}

	if code := handler(addr, quantity, value); code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], addr)
	binary.BigEndian.PutUint16(respData[2:4], quantity)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func (d *Dispatcher) dispatchReadExceptionStatus(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if d.readExceptionStatus == nil {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}
	status, code := d.readExceptionStatus()
	if code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: []byte{status}}
}

func (d *Dispatcher) dispatchDiagnostics(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 2 {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	subFunc := binary.BigEndian.Uint16(req.Data[0:2])
	reqData := req.Data[2:]

	if d.diagnostics == nil {
		if subFunc == 0x00 {
			// Return Query Data: universally-supported echo, even with no
			// handler registered (SPEC_FULL.md §4).
			resp := make([]byte, len(req.Data))
			copy(resp, req.Data)
			return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: resp}
		}
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}

	respData, code := d.diagnostics(subFunc, reqData)
	if code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}

	body := make([]byte, 2+len(respData))
	binary.BigEndian.PutUint16(body[0:2], subFunc)
	copy(body[2:], respData)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: body}
}

func (d *Dispatcher) dispatchReportSlaveID(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if d.reportSlaveID == nil {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}
	result, code := d.reportSlaveID()
	if code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}

	status := byte(0)
	if result.RunIndicator {
		status = 0xFF
	}
	respData := make([]byte, 1+len(result.SlaveID)+1)
	respData[0] = byte(len(result.SlaveID) + 1)
	copy(respData[1:], result.SlaveID)
	respData[len(respData)-1] = status
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func (d *Dispatcher) dispatchMaskWriteRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 6 {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	if d.maskWriteRegister == nil {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}
	refAddr := binary.BigEndian.Uint16(req.Data[0:2])
	andMask := binary.BigEndian.Uint16(req.Data[2:4])
	orMask := binary.BigEndian.Uint16(req.Data[4:6])

	if code := d.maskWriteRegister(refAddr, andMask, orMask); code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}
	return req // echo request
}

func (d *Dispatcher) dispatchReadWriteMultipleRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 9 {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	readAddr := binary.BigEndian.Uint16(req.Data[0:2])
	readQty := binary.BigEndian.Uint16(req.Data[2:4])
	writeAddr := binary.BigEndian.Uint16(req.Data[4:6])
	writeQty := binary.BigEndian.Uint16(req.Data[6:8])
	byteCount := req.Data[8]

	if code := validateQuantity(req.FunctionCode, readQty); code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}
	if byte(len(req.Data)-9) != byteCount {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}

	writeHandler, ok := d.writeHandlers[modbus.HoldingRegister]
	readHandler, okRead := d.readHandlers[modbus.HoldingRegister]
	if !ok || !okRead {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}

	writeValues := modbus.Words(modbus.UnpackRegisters(req.Data[9:], writeQty))
	if code := writeHandler(writeAddr, writeQty, writeValues); code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}

	readResult, code := readHandler(readAddr, readQty)
	if code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}

	packed := modbus.PackRegisters(readResult.Words)
	respData := make([]byte, 1+len(packed))
	respData[0] = byte(len(packed))
	copy(respData[1:], packed)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func (d *Dispatcher) dispatchReadDeviceIdentification(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 3 {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	if d.deviceIdentification == nil {
		return exceptionResponse(req.FunctionCode, modbus.ExceptionIllegalFunction)
	}
	readCode := req.Data[1]
	objectID := req.Data[2]

	result, code := d.deviceIdentification(readCode, objectID)
	if code != 0 {
		return exceptionResponse(req.FunctionCode, code)
	}

	body := []byte{0x0E, result.ReadCode, result.Conformity, result.MoreFollows, result.NextObjectID, byte(len(result.Objects))}
	for id, value := range result.Objects {
		body = append(body, id, byte(len(value)))
		body = append(body, value...)
	}
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: body}
}
