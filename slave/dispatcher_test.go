// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"reflect"
	"testing"

	"github.com/ironfield/modbus-engine/modbus"
)

func TestDispatchReadSingleCoil(t *testing.T) {
	d := New()
	d.OnRead(modbus.Coil, func(startAddr, quantity uint16) (modbus.WriteValue, modbus.ExceptionCode) {
		if startAddr != 1 || quantity != 1 {
			t.Fatalf("unexpected args: addr=%d qty=%d", startAddr, quantity)
		}
		return modbus.Bits([]bool{true}), 0
	})

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadCoils, Data: []byte{0x00, 0x01, 0x00, 0x01}}
	resp := d.Dispatch(req)

	want := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadCoils, Data: []byte{0x01, 0x01}}
	if !reflect.DeepEqual(resp, want) {
		t.Fatalf("got %+v, want %+v", resp, want)
	}
}

func TestDispatchWriteMultipleCoils(t *testing.T) {
	d := New()
	var gotBits []bool
	d.OnWrite(modbus.Coil, func(startAddr, quantity uint16, value modbus.WriteValue) modbus.ExceptionCode {
		gotBits = value.Bits
		return 0
	})

	req := modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleCoils,
		Data:         []byte{0x00, 0x10, 0x00, 0x04, 0x01, 0x0D},
	}
	resp := d.Dispatch(req)

	want := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteMultipleCoils, Data: []byte{0x00, 0x10, 0x00, 0x04}}
	if !reflect.DeepEqual(resp, want) {
		t.Fatalf("got %+v, want %+v", resp, want)
	}
	wantBits := []bool{true, false, true, true}
	if !reflect.DeepEqual(gotBits, wantBits) {
		t.Fatalf("got bits %v, want %v", gotBits, wantBits)
	}
}

func TestDispatchRejectsOutOfRangeQuantity(t *testing.T) {
	d := New()
	d.OnRead(modbus.HoldingRegister, func(uint16, uint16) (modbus.WriteValue, modbus.ExceptionCode) {
		t.Fatalf("handler should not be invoked for an out-of-range quantity")
		return modbus.WriteValue{}, 0
	})

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x00, 0x00, 0x00, 126}}
	resp := d.Dispatch(req)

	if !modbus.IsException(resp.FunctionCode) {
		t.Fatalf("expected an exception response, got %+v", resp)
	}
	if modbus.ExceptionCode(resp.Data[0]) != modbus.ExceptionIllegalDataValue {
		t.Fatalf("expected illegal data value, got %v", resp.Data[0])
	}
}

func TestDispatchUnregisteredFunctionCode(t *testing.T) {
	d := New()
	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadCoils, Data: []byte{0, 0, 0, 1}}
	resp := d.Dispatch(req)

	if resp.FunctionCode != modbus.FuncCodeReadCoils|0x80 {
		t.Fatalf("expected exception bit set, got 0x%02X", resp.FunctionCode)
	}
	if modbus.ExceptionCode(resp.Data[0]) != modbus.ExceptionIllegalFunction {
		t.Fatalf("expected illegal function, got %v", resp.Data[0])
	}
}

func TestDispatchWriteSingleRegisterEchoesRequest(t *testing.T) {
	d := New()
	var gotValue uint16
	d.OnWrite(modbus.HoldingRegister, func(startAddr, quantity uint16, value modbus.WriteValue) modbus.ExceptionCode {
		gotValue = value.Word
		return 0
	})

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteSingleRegister, Data: []byte{0x00, 0x01, 0x00, 0x03}}
	resp := d.Dispatch(req)

	if !reflect.DeepEqual(resp, req) {
		t.Fatalf("expected request echoed back, got %+v", resp)
	}
	if gotValue != 3 {
		t.Fatalf("unexpected value %d", gotValue)
	}
}

func TestDispatchDiagnosticsReturnQueryDataDefaultEcho(t *testing.T) {
	d := New()
	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeDiagnostics, Data: []byte{0x00, 0x00, 0xBE, 0xEF}}
	resp := d.Dispatch(req)

	if !reflect.DeepEqual(resp, req) {
		t.Fatalf("expected Return Query Data to echo the request, got %+v", resp)
	}
}

func TestDispatchBroadcastStillBuildsResponse(t *testing.T) {
	// The dispatcher itself is slave-id agnostic: broadcast suppression
	// is the server's
	// responsibility, not the dispatcher's.
	d := New()
	d.OnWrite(modbus.HoldingRegister, func(uint16, uint16, modbus.WriteValue) modbus.ExceptionCode { return 0 })

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteSingleRegister, Data: []byte{0, 0, 0, 1}}
	resp := d.Dispatch(req)
	if resp.FunctionCode != modbus.FuncCodeWriteSingleRegister {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatchMaskWriteRegister(t *testing.T) {
	d := New()
	var and, or uint16
	d.OnMaskWriteRegister(func(refAddr, andMask, orMask uint16) modbus.ExceptionCode {
		and, or = andMask, orMask
		return 0
	})

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeMaskWriteRegister, Data: []byte{0x00, 0x04, 0x00, 0xF2, 0x00, 0x25}}
	resp := d.Dispatch(req)

	if !reflect.DeepEqual(resp, req) {
		t.Fatalf("expected echo, got %+v", resp)
	}
	if and != 0x00F2 || or != 0x0025 {
		t.Fatalf("unexpected masks and=0x%04X or=0x%04X", and, or)
	}
}
