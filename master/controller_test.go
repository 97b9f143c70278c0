// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/ironfield/modbus-engine/modbus"
	"github.com/ironfield/modbus-engine/transport/mbap"
)

// stubSlave accepts one connection and answers every request with the PDU
// returned by respond, echoing the request's transaction id and unit id.
func stubSlave(t *testing.T, ln net.Listener, respond func(req *mbap.ApplicationDataUnit) modbus.ProtocolDataUnit) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		req, err := mbap.ReadADU(r)
		if err != nil {
			return
		}
		resp := &mbap.ApplicationDataUnit{
			TransactionID: req.TransactionID,
			UnitID:        req.UnitID,
			Pdu:           respond(req),
		}
		raw, err := resp.Encode()
		if err != nil {
			t.Errorf("stub slave: encode failed: %v", err)
			return
		}
		if _, err := conn.Write(raw); err != nil {
			return
		}
	}
}

func TestControllerReadHoldingRegisters(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go stubSlave(t, ln, func(req *mbap.ApplicationDataUnit) modbus.ProtocolDataUnit {
		if req.Pdu.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
			t.Errorf("unexpected function code 0x%02X", req.Pdu.FunctionCode)
		}
		return modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadHoldingRegisters,
			Data:         []byte{0x04, 0x00, 0x0A, 0x00, 0x14},
		}
	})

	c := New(ln.Addr().String(), WithRequestTimeout(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	val, err := c.Read(ctx, modbus.HoldingRegister, 0, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []uint16{10, 20}
	if len(val.Words) != 2 || val.Words[0] != want[0] || val.Words[1] != want[1] {
		t.Fatalf("got %v, want %v", val.Words, want)
	}
}

func TestControllerWriteMultipleCoils(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go stubSlave(t, ln, func(req *mbap.ApplicationDataUnit) modbus.ProtocolDataUnit {
		return modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeWriteMultipleCoils,
			Data:         req.Pdu.Data[:4],
		}
	})

	c := New(ln.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	err = c.Write(ctx, modbus.Coil, 0x10, 4, modbus.Bits([]bool{true, false, true, true}))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestControllerDecodesExceptionResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go stubSlave(t, ln, func(req *mbap.ApplicationDataUnit) modbus.ProtocolDataUnit {
		return modbus.ProtocolDataUnit{
			FunctionCode: req.Pdu.FunctionCode | 0x80,
			Data:         []byte{byte(modbus.ExceptionIllegalDataAddress)},
		}
	})

	c := New(ln.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	_, err = c.Read(ctx, modbus.HoldingRegister, 0, 1)
	me, ok := err.(*modbus.ModbusException)
	if !ok {
		t.Fatalf("expected *modbus.ModbusException, got %T (%v)", err, err)
	}
	if me.Code != modbus.ExceptionIllegalDataAddress {
		t.Fatalf("got exception code %v", me.Code)
	}
}

func TestControllerRequestTimesOutWhenSlaveIsSilent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Never respond; hold the connection open past the request timeout.
		time.Sleep(500 * time.Millisecond)
	}()

	c := New(ln.Addr().String(), WithRequestTimeout(50*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	_, err = c.Read(ctx, modbus.HoldingRegister, 0, 1)
	me, ok := err.(*modbus.ModbusException)
	if !ok || me.Code != modbus.ExceptionResponseTimeout {
		t.Fatalf("expected ResponseTimeout exception, got %v", err)
	}
}

func TestControllerFailsInFlightRequestsOnDisconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	c := New(ln.Addr().String(), WithRequestTimeout(2*time.Second), WithAutoReconnect(false))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	conn := <-accepted
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Read(ctx, modbus.HoldingRegister, 0, 1)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-errCh:
		me, ok := err.(*modbus.ModbusException)
		if !ok || me.Code != modbus.ExceptionResponseTimeout {
			t.Fatalf("expected ResponseTimeout exception on disconnect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request did not fail after disconnect")
	}
}
