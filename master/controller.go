// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ironfield/modbus-engine/modbus"
	"github.com/ironfield/modbus-engine/transport/mbap"
)

// ErrNotConnected is returned by any operation attempted before Connect
// succeeds or after Disconnect.
var ErrNotConnected = errors.New("modbus: not connected")

// timeoutException builds the ModbusException code shared by both
// per-request timeouts and in-flight transactions abandoned by a
// disconnect.
func timeoutException() error {
	return &modbus.ModbusException{Code: modbus.ExceptionResponseTimeout}
}

// Controller is a Modbus TCP master: it owns one persistent connection,
// multiplexing concurrent requests over it via a transport/mbap
// transaction table, and transparently reconnects on unexpected
// disconnects unless Disconnect was called.
type Controller struct {
	address string
	opts    *controllerOptions

	mu          sync.Mutex
	conn        net.Conn
	table       *mbap.Table
	connected   bool
	shouldRetry bool
	generation  int
}

// New builds a Controller for the given "host:port" TCP address. Call
// Connect to actually open the connection.
func New(address string, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Controller{address: address, opts: o}
}

// Connect dials the configured address and starts the response-reading
// goroutine. It enables automatic reconnect (if configured) for the
// lifetime of the connection, until Disconnect is called.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.shouldRetry = true
	c.mu.Unlock()
	return c.dial(ctx)
}

func (c *Controller) dial(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("modbus: failed to connect to %s: %w", c.address, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.table = mbap.NewTable()
	c.connected = true
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	return nil
}

// readLoop decodes one MBAP ADU at a time and routes it to the waiting
// caller via the transaction table. On any read error (including a clean
// close) it drains the table and, if reconnection is still wanted, retries
// with backoff.
func (c *Controller) readLoop(conn net.Conn, generation int) {
	r := bufio.NewReader(conn)
	for {
		adu, err := mbap.ReadADU(r)
		if err != nil {
			c.handleDisconnect(conn, generation)
			return
		}
		c.mu.Lock()
		table := c.table
		current := c.generation == generation
		c.mu.Unlock()
		if current && table != nil {
			table.Dispatch(adu)
		}
	}
}

func (c *Controller) handleDisconnect(conn net.Conn, generation int) {
	c.mu.Lock()
	stale := c.generation != generation
	table := c.table
	retry := c.shouldRetry
	if !stale {
		c.connected = false
	}
	c.mu.Unlock()
	if stale {
		return
	}

	conn.Close()
	if table != nil {
		table.DrainAll()
	}

	if retry && c.opts.autoReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries Connect with exponential backoff until it
// succeeds or Disconnect clears shouldRetry.
func (c *Controller) reconnectLoop() {
	backoff := c.opts.reconnectBackoff
	for {
		c.mu.Lock()
		retry := c.shouldRetry
		c.mu.Unlock()
		if !retry {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			return
		}

		c.opts.logger.Warn("modbus: reconnect attempt failed", "address", c.address, "err", err, "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > c.opts.maxReconnectTime {
			backoff = c.opts.maxReconnectTime
		}
	}
}

// Disconnect clears the retry flag, closes the connection, and fails all
// outstanding transactions with ResponseTimeout.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	c.shouldRetry = false
	conn := c.conn
	table := c.table
	c.conn = nil
	c.connected = false
	c.generation++
	c.mu.Unlock()

	if table != nil {
		table.DrainAll()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// send transmits pdu under a fresh transaction id and blocks for the
// matching response, a per-request timeout, or ctx cancellation —
// whichever comes first.
func (c *Controller) send(ctx context.Context, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	c.mu.Lock()
	conn := c.conn
	table := c.table
	connected := c.connected
	unitID := c.opts.unitID
	timeout := c.opts.requestTimeout
	c.mu.Unlock()

	if !connected || conn == nil || table == nil {
		return modbus.ProtocolDataUnit{}, ErrNotConnected
	}

	txnID, ch, err := table.Reserve()
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	req := &mbap.ApplicationDataUnit{TransactionID: txnID, UnitID: unitID, Pdu: pdu}
	raw, err := req.Encode()
	if err != nil {
		table.Release(txnID)
		return modbus.ProtocolDataUnit{}, err
	}

	if _, err := conn.Write(raw); err != nil {
		table.Release(txnID)
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: write failed: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return modbus.ProtocolDataUnit{}, timeoutException()
		}
		if err := req.Verify(resp); err != nil {
			return modbus.ProtocolDataUnit{}, err
		}
		return resp.Pdu, nil
	case <-timer.C:
		table.Release(txnID)
		return modbus.ProtocolDataUnit{}, timeoutException()
	case <-ctx.Done():
		table.Release(txnID)
		return modbus.ProtocolDataUnit{}, ctx.Err()
	}
}

// Read encodes and sends a Read {Coils,DiscreteInputs,Holding,Input}
// request and decodes the matching response.
func (c *Controller) Read(ctx context.Context, target modbus.TargetType, startAddr, quantity uint16) (modbus.WriteValue, error) {
	req, err := modbus.EncodeReadRequest(target, startAddr, quantity)
	if err != nil {
		return modbus.WriteValue{}, err
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return modbus.WriteValue{}, err
	}
	if target == modbus.Coil || target == modbus.DiscreteInput {
		bits, err := modbus.DecodeReadBitsResponse(resp, req.FunctionCode, quantity)
		if err != nil {
			return modbus.WriteValue{}, err
		}
		return modbus.Bits(bits), nil
	}
	words, err := modbus.DecodeReadRegistersResponse(resp, req.FunctionCode, quantity)
	if err != nil {
		return modbus.WriteValue{}, err
	}
	return modbus.Words(words), nil
}

// Write encodes and sends a write request for target, dispatching to
// single/multiple coil/register encoding based on quantity and value's kind.
func (c *Controller) Write(ctx context.Context, target modbus.TargetType, startAddr, quantity uint16, value modbus.WriteValue) error {
	req, err := modbus.EncodeWriteRequest(target, startAddr, quantity, value)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	return modbus.DecodeWriteResponse(resp, req.FunctionCode)
}

// ReadExceptionStatus sends a Read Exception Status request.
func (c *Controller) ReadExceptionStatus(ctx context.Context) (byte, error) {
	resp, err := c.send(ctx, modbus.EncodeReadExceptionStatus())
	if err != nil {
		return 0, err
	}
	return modbus.DecodeReadExceptionStatusResponse(resp)
}

// Diagnostics sends a Diagnostics request for the given sub-function.
func (c *Controller) Diagnostics(ctx context.Context, subFunc uint16, data []byte) (uint16, []byte, error) {
	resp, err := c.send(ctx, modbus.EncodeDiagnostics(subFunc, data))
	if err != nil {
		return 0, nil, err
	}
	return modbus.DecodeDiagnosticsResponse(resp)
}

// MaskWriteRegister sends a Mask Write Register request.
func (c *Controller) MaskWriteRegister(ctx context.Context, refAddr, andMask, orMask uint16) error {
	resp, err := c.send(ctx, modbus.EncodeMaskWriteRegister(refAddr, andMask, orMask))
	if err != nil {
		return err
	}
	return modbus.DecodeWriteResponse(resp, modbus.FuncCodeMaskWriteRegister)
}

// ReadWriteMultipleRegisters sends a combined read/write request.
func (c *Controller) ReadWriteMultipleRegisters(ctx context.Context, readAddr, readQty, writeAddr uint16, values []uint16) ([]uint16, error) {
	req, err := modbus.EncodeReadWriteMultipleRegisters(readAddr, readQty, writeAddr, values)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeReadRegistersResponse(resp, modbus.FuncCodeReadWriteMultipleRegisters, readQty)
}

// ReportSlaveID sends a Report Slave ID request.
func (c *Controller) ReportSlaveID(ctx context.Context) (modbus.ReportSlaveIDResult, error) {
	resp, err := c.send(ctx, modbus.EncodeReportSlaveID())
	if err != nil {
		return modbus.ReportSlaveIDResult{}, err
	}
	return modbus.DecodeReportSlaveIDResponse(resp)
}

// ReadDeviceIdentification issues a Read Device Identification request and
// transparently follows the "more follows"/nextObjectId paging chain until
// the slave reports moreFollows == 0, merging every page's objects into
// one map (SPEC_FULL.md §4).
func (c *Controller) ReadDeviceIdentification(ctx context.Context, readCode byte) (map[byte][]byte, error) {
	objects := make(map[byte][]byte)
	objectID := byte(0)

	for {
		resp, err := c.send(ctx, modbus.EncodeReadDeviceIdentification(readCode, objectID))
		if err != nil {
			return nil, err
		}
		page, err := modbus.DecodeReadDeviceIdentificationResponse(resp)
		if err != nil {
			return nil, err
		}
		for id, value := range page.Objects {
			objects[id] = value
		}
		if page.MoreFollows == 0 {
			return objects, nil
		}
		objectID = page.NextObjectID
	}
}
