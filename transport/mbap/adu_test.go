// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbap

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/ironfield/modbus-engine/modbus"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	adu := &ApplicationDataUnit{
		TransactionID: 7,
		ProtocolID:    0,
		UnitID:        1,
		Pdu:           modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x00, 0x00, 0x00, 0x02}},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TransactionID != adu.TransactionID || got.UnitID != adu.UnitID {
		t.Fatalf("roundtrip header mismatch: %+v", got)
	}
	if got.Pdu.FunctionCode != adu.Pdu.FunctionCode || !bytes.Equal(got.Pdu.Data, adu.Pdu.Data) {
		t.Fatalf("roundtrip PDU mismatch: %+v", got.Pdu)
	}
}

func TestReadADU(t *testing.T) {
	adu := &ApplicationDataUnit{
		TransactionID: 42,
		UnitID:        3,
		Pdu:           modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadCoils, Data: []byte{0x00, 0x00, 0x00, 0x08}},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := bufio.NewReader(bytes.NewReader(raw))
	got, err := ReadADU(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TransactionID != 42 || got.UnitID != 3 {
		t.Fatalf("unexpected header: %+v", got)
	}
}

func TestVerifyRejectsMismatch(t *testing.T) {
	req := &ApplicationDataUnit{TransactionID: 1, UnitID: 1}
	resp := &ApplicationDataUnit{TransactionID: 2, UnitID: 1}
	if err := req.Verify(resp); err == nil {
		t.Fatalf("expected transaction id mismatch error")
	}
}

func TestTableReserveAndDispatch(t *testing.T) {
	table := NewTable()
	id, ch, err := table.Reserve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatalf("transaction id must never be 0")
	}

	resp := &ApplicationDataUnit{TransactionID: id}
	if !table.Dispatch(resp) {
		t.Fatalf("expected dispatch to find the waiting caller")
	}

	select {
	case got := <-ch:
		if got.TransactionID != id {
			t.Fatalf("unexpected delivered transaction id %d", got.TransactionID)
		}
	default:
		t.Fatalf("expected response to be delivered")
	}
}

func TestTableDispatchUnknownID(t *testing.T) {
	table := NewTable()
	if table.Dispatch(&ApplicationDataUnit{TransactionID: 99}) {
		t.Fatalf("expected no waiter for an unknown transaction id")
	}
}

func TestTableDrainAll(t *testing.T) {
	table := NewTable()
	_, ch, err := table.Reserve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table.DrainAll()

	_, ok := <-ch
	if ok {
		t.Fatalf("expected channel to be closed after DrainAll")
	}
}
