// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"time"

	"github.com/ironfield/modbus-engine/modbus"
)

// DefaultGapCharTimes is the inter-frame silence threshold, expressed in
// character times, used to detect frame boundaries on the wire. Some
// deployed stacks use 4.5; this engine defaults to the standard 3.5 and
// exposes the conservative 4.5 as an explicit opt-in.
const DefaultGapCharTimes = 3.5

// ConservativeGapCharTimes is the 4.5 character-time variant some stacks
// use in practice.
const ConservativeGapCharTimes = 4.5

// bitsPerCharacter assumes 1 start bit + 8 data bits + 1 stop bit, no
// parity bit modeled.
const bitsPerCharacter = 10

// gapThreshold returns the silence duration equal to charTimes character
// times at baudRate, above which a byte is treated as the start of a new
// frame.
func gapThreshold(baudRate int, charTimes float64) time.Duration {
	if baudRate <= 0 {
		baudRate = 19200
	}
	microseconds := charTimes * bitsPerCharacter * 1_000_000 / float64(baudRate)
	return time.Duration(microseconds * float64(time.Microsecond))
}

var errNeedMoreHeader = errors.New("rtu: need more header bytes to determine frame length")

// fixedBodyLen gives the PDU body length (bytes after the function code)
// for every function code whose request shape doesn't depend on a
// byte-count field.
var fixedBodyLen = map[byte]int{
	modbus.FuncCodeReadCoils:                0x04,
	modbus.FuncCodeReadDiscreteInputs:       0x04,
	modbus.FuncCodeReadHoldingRegisters:     0x04,
	modbus.FuncCodeReadInputRegisters:       0x04,
	modbus.FuncCodeWriteSingleCoil:          0x04,
	modbus.FuncCodeWriteSingleRegister:      0x04,
	modbus.FuncCodeReadExceptionStatus:      0x00,
	modbus.FuncCodeReportSlaveID:            0x00,
	modbus.FuncCodeMaskWriteRegister:        0x06,
	modbus.FuncCodeDiagnostics:              0x04,
	modbus.FuncCodeReadDeviceIdentification: 0x03,
}

// requestLength returns the expected total frame length (slaveId + PDU +
// crc16) for a request whose header bytes (possibly partial) are given.
// It returns errNeedMoreHeader when funcCode needs a byte-count field not
// yet received.
func requestLength(funcCode byte, header []byte) (int, error) {
	if n, ok := fixedBodyLen[funcCode]; ok {
		return 2 + n + 2, nil
	}
	switch funcCode {
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		if len(header) < 7 {
			return 0, errNeedMoreHeader
		}
		byteCount := int(header[6])
		return 7 + byteCount + 2, nil
	case modbus.FuncCodeReadWriteMultipleRegisters:
		if len(header) < 11 {
			return 0, errNeedMoreHeader
		}
		byteCount := int(header[10])
		return 11 + byteCount + 2, nil
	default:
		return 0, fmt.Errorf("rtu: unsupported function code 0x%02X", funcCode)
	}
}

// Frame is a complete, address-matched RTU request ready for dispatch.
type Frame struct {
	ADU         *ApplicationDataUnit
	IsBroadcast bool
}

// Framer assembles a stream of individually timed bytes into discrete RTU
// frames. It is not safe for concurrent use; one Framer per
// serial line.
type Framer struct {
	ownID     byte
	threshold time.Duration

	buf      []byte
	lastByte time.Time
	haveLast bool
	dropping bool // current frame's slave id doesn't match ours; consume silently
}

// NewFramer builds a Framer for a slave listening as ownID at baudRate,
// using charTimes character-times of silence as the inter-frame gap
// threshold (pass DefaultGapCharTimes unless the deployment needs the
// conservative variant).
func NewFramer(ownID byte, baudRate int, charTimes float64) *Framer {
	if charTimes <= 0 {
		charTimes = DefaultGapCharTimes
	}
	return &Framer{
		ownID:     ownID,
		threshold: gapThreshold(baudRate, charTimes),
	}
}

// Push feeds one received byte, timestamped at now, into the state
// machine. It returns a non-nil Frame once a complete frame addressed to
// this slave (or broadcast) has been assembled, and a non-nil error if the
// frame that just completed failed CRC validation — per Modbus-RTU, a
// corrupt frame is discarded without a response, so callers should log the
// error and continue rather than treat it as fatal.
func (f *Framer) Push(b byte, now time.Time) (*Frame, error) {
	gap := f.threshold + 1
	if f.haveLast {
		gap = now.Sub(f.lastByte)
	}
	f.haveLast = true
	f.lastByte = now

	newFrame := gap > f.threshold
	if newFrame {
		f.buf = f.buf[:0]
		f.dropping = false
	}

	// A 0x00 that opens a frame after a gap is the broadcast address; any
	// other 0x00 arriving on an empty buffer is idle-line noise.
	if len(f.buf) == 0 && b == 0x00 && !newFrame {
		return nil, nil
	}
	if f.dropping {
		return nil, nil
	}

	f.buf = append(f.buf, b)

	if len(f.buf) == 1 {
		slaveID := f.buf[0]
		if slaveID != f.ownID && slaveID != 0 {
			f.dropping = true
			f.buf = f.buf[:0]
		}
		return nil, nil
	}
	if len(f.buf) < 2 {
		return nil, nil
	}

	funcCode := f.buf[1]
	want, err := requestLength(funcCode, f.buf)
	if err != nil {
		if errors.Is(err, errNeedMoreHeader) {
			return nil, nil
		}
		f.buf = f.buf[:0]
		return nil, err
	}
	if want > maxSize {
		f.buf = f.buf[:0]
		return nil, fmt.Errorf("rtu: request length %d exceeds maximum %d", want, maxSize)
	}
	if len(f.buf) < want {
		return nil, nil
	}

	frameBytes := f.buf[:want]
	f.buf = f.buf[:0]

	adu, err := Decode(frameBytes)
	if err != nil {
		return nil, err
	}
	return &Frame{ADU: adu, IsBroadcast: adu.SlaveID == 0}, nil
}
