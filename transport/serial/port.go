// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial wraps the grid-x/serial UART driver behind the narrow
// Port and RTSPin interfaces the RTU transport needs, so the framer and
// slave controller can be tested against fakes instead of real hardware.
package serial

import (
	"fmt"
	"io"
	"time"

	gridserial "github.com/grid-x/serial"
)

// Port is the UART abstraction consumed by transport/rtu: byte-stream I/O
// plus an explicit Flush, since the half-duplex transmit sequence must block until the last byte has actually left the wire before
// deasserting RTS.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// RTSPin is the GPIO line driving an RS-485 transceiver's direction. It is
// consumed, not implemented, by this engine — the concrete GPIO chip
// driver is wired in by the host application. When the UART itself manages
// RTS timing (RS485Config.Enabled below), no RTSPin is needed.
type RTSPin interface {
	Assert() error
	Deassert() error
}

// RS485Config mirrors the RTS-timing knobs carried by
// internal/config.SerialConfig, here scoped to the transport layer that
// actually consumes them.
type RS485Config struct {
	Enabled            bool
	DelayRtsBeforeSend time.Duration
	DelayRtsAfterSend  time.Duration
	RtsHighDuringSend  bool
	RtsHighAfterSend   bool
	RxDuringTx         bool
}

// Config describes how to open a serial port.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration
	RS485    RS485Config
}

// Open opens the named serial device via grid-x/serial, translating
// RS485Config into the driver's own RS485 struct so the kernel (on
// platforms that support termios RS485) handles RTS timing without a
// separate RTSPin.
func Open(cfg Config) (Port, error) {
	gc := &gridserial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
		RS485: gridserial.RS485Config{
			Enabled:            cfg.RS485.Enabled,
			DelayRtsBeforeSend: cfg.RS485.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.RS485.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RS485.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RS485.RtsHighAfterSend,
			RxDuringTx:         cfg.RS485.RxDuringTx,
		},
	}

	port, err := gridserial.Open(gc)
	if err != nil {
		return nil, fmt.Errorf("serial: could not open %s: %w", cfg.Device, err)
	}
	return &adapter{port: port}, nil
}

// adapter satisfies Port on top of the grid-x/serial ReadWriteCloser, which
// has no explicit Flush: the driver's Write already blocks until the bytes
// are queued to the OS, so Flush is a no-op kept for interface symmetry.
type adapter struct {
	port io.ReadWriteCloser
}

func (a *adapter) Read(p []byte) (int, error)  { return a.port.Read(p) }
func (a *adapter) Write(p []byte) (int, error) { return a.port.Write(p) }
func (a *adapter) Close() error                { return a.port.Close() }
func (a *adapter) Flush() error                { return nil }
