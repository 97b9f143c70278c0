// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"testing"

	"github.com/ironfield/modbus-engine/modbus"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	adu := &ApplicationDataUnit{
		SlaveID: 0x11,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadCoils, Data: []byte{0x00, 0x13, 0x00, 0x25}},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0x0013/0x0025: addr 19, qty 37 example from the Modbus spec.
	want := []byte{0x11, 0x01, 0x00, 0x13, 0x00, 0x25}
	if !bytes.Equal(raw[:len(raw)-2], want) {
		t.Fatalf("got %x, want %x (excluding crc)", raw[:len(raw)-2], want)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got.SlaveID != adu.SlaveID || got.Pdu.FunctionCode != adu.Pdu.FunctionCode {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	adu := &ApplicationDataUnit{SlaveID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadCoils, Data: []byte{0, 0, 0, 1}}}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF

	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected a crc error")
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected a length error")
	}
}

func TestVerifyRejectsSlaveIDMismatch(t *testing.T) {
	req := &ApplicationDataUnit{SlaveID: 1}
	resp := &ApplicationDataUnit{SlaveID: 2}
	if err := req.Verify(resp); err == nil {
		t.Fatalf("expected a slave id mismatch error")
	}
}
