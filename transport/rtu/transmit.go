// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	serialport "github.com/ironfield/modbus-engine/transport/serial"
)

// Transmit writes frame to port under the RTS-gated half-duplex sequence:
// assert RTS, write, flush, deassert RTS. rts may be nil when the port
// itself manages RTS timing (grid-x/serial's hardware RS485 support), in
// which case only the write+flush happen.
func Transmit(port serialport.Port, rts serialport.RTSPin, frame []byte) error {
	if rts != nil {
		if err := rts.Assert(); err != nil {
			return err
		}
	}

	_, writeErr := port.Write(frame)
	flushErr := port.Flush()

	if rts != nil {
		if deassertErr := rts.Deassert(); deassertErr != nil && writeErr == nil && flushErr == nil {
			return deassertErr
		}
	}
	if writeErr != nil {
		return writeErr
	}
	return flushErr
}
