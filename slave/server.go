// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"context"
	"log/slog"
	"time"

	"github.com/ironfield/modbus-engine/transport/rtu"
	serialport "github.com/ironfield/modbus-engine/transport/serial"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default slog.Logger used for framing and
// dispatch errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGapCharTimes overrides the inter-character gap threshold, in
// character times.
func WithGapCharTimes(charTimes float64) Option {
	return func(s *Server) { s.gapCharTimes = charTimes }
}

// Server runs the Modbus RTU slave state machine: read timed bytes off the
// wire, assemble frames via transport/rtu's gap-detection framer, dispatch
// matched PDUs, and transmit responses under RTS-gated half-duplex control.
type Server struct {
	slaveID byte
	port    serialport.Port
	rts     serialport.RTSPin

	baudRate     int
	gapCharTimes float64

	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewServer builds a Server. rts may be nil when the port itself manages
// RTS timing (transport/serial's hardware RS485 support).
func NewServer(slaveID byte, port serialport.Port, rts serialport.RTSPin, baudRate int, dispatcher *Dispatcher, opts ...Option) *Server {
	s := &Server{
		slaveID:    slaveID,
		port:       port,
		rts:        rts,
		baudRate:   baudRate,
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve reads bytes from the serial port and dispatches complete frames
// until ctx is canceled, then returns nil. Read errors from the port are
// skipped and reading continues.
func (s *Server) Serve(ctx context.Context) error {
	framer := rtu.NewFramer(s.slaveID, s.baudRate, s.gapCharTimes)
	buf := make([]byte, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if n == 0 {
			continue
		}

		frame, err := framer.Push(buf[0], time.Now())
		if err != nil {
			// Modbus-RTU is silent on corrupt frames: log and wait for
			// the next gap to resynchronize.
			s.logger.Debug("rtu: discarding invalid frame", "err", err)
			s.dispatcher.ReportError(err)
			continue
		}
		if frame == nil {
			continue
		}

		resp := s.dispatcher.Dispatch(frame.ADU.Pdu)
		if frame.IsBroadcast {
			continue
		}

		respADU := &rtu.ApplicationDataUnit{SlaveID: s.slaveID, Pdu: resp}
		raw, err := respADU.Encode()
		if err != nil {
			s.logger.Error("rtu: failed to encode response", "err", err)
			continue
		}
		if err := rtu.Transmit(s.port, s.rts, raw); err != nil {
			s.logger.Error("rtu: failed to transmit response", "err", err)
		}
	}
}

// Close releases the underlying serial port.
func (s *Server) Close() error {
	return s.port.Close()
}
