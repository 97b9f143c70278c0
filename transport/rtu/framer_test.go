// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"testing"
	"time"

	"github.com/ironfield/modbus-engine/modbus/crc"
)

func TestRequestLength(t *testing.T) {
	tests := []struct {
		name     string
		funcCode byte
		header   []byte
		want     int
		wantErr  bool
	}{
		{"ReadHoldingRegisters", 0x03, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 8, false},
		{"WriteSingleRegister", 0x06, []byte{0x01, 0x06, 0x00, 0x00, 0xAA, 0xBB}, 8, false},
		{"WriteMultipleRegisters_ShortHeader", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01}, 0, true},
		{"WriteMultipleRegisters_Valid", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02}, 7 + 2 + 2, false},
		{"UnknownFunction", 0x99, []byte{0x01, 0x99}, 0, true},
		{"ReadExceptionStatus", 0x07, []byte{0x01, 0x07}, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := requestLength(tt.funcCode, tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("requestLength() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("requestLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func buildFrame(slaveID, funcCode byte, data []byte) []byte {
	raw := append([]byte{slaveID, funcCode}, data...)
	var c crc.CRC
	c.Reset().PushBytes(raw)
	sum := c.Value()
	return append(raw, byte(sum), byte(sum>>8))
}

func TestFramerAssemblesSingleFrame(t *testing.T) {
	f := NewFramer(0x01, 19200, DefaultGapCharTimes)
	frame := buildFrame(0x01, 0x03, []byte{0x00, 0x00, 0x00, 0x01})

	now := time.Now()
	var got *Frame
	for i, b := range frame {
		got2, err := f.Push(b, now.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
		if got2 != nil {
			got = got2
		}
	}
	if got == nil {
		t.Fatalf("expected a complete frame")
	}
	if got.ADU.SlaveID != 0x01 || got.ADU.Pdu.FunctionCode != 0x03 {
		t.Fatalf("unexpected frame: %+v", got.ADU)
	}
	if got.IsBroadcast {
		t.Fatalf("expected non-broadcast frame")
	}
}

func TestFramerDropsMismatchedSlaveID(t *testing.T) {
	f := NewFramer(0x02, 19200, DefaultGapCharTimes)
	frame := buildFrame(0x01, 0x03, []byte{0x00, 0x00, 0x00, 0x01})

	now := time.Now()
	for i, b := range frame {
		got, err := f.Push(b, now.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Fatalf("frame addressed to another slave must not be delivered")
		}
	}
}

func TestFramerAcceptsBroadcast(t *testing.T) {
	f := NewFramer(0x02, 19200, DefaultGapCharTimes)
	frame := buildFrame(0x00, 0x10, []byte{0x00, 0x00, 0x00, 0x01, 0x02, 0xAA, 0xBB})

	now := time.Now()
	var got *Frame
	for i, b := range frame {
		g, err := f.Push(b, now.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if g != nil {
			got = g
		}
	}
	if got == nil || !got.IsBroadcast {
		t.Fatalf("expected a broadcast frame")
	}
}

func TestFramerGapResetsBufferMidFrame(t *testing.T) {
	f := NewFramer(0x01, 19200, DefaultGapCharTimes)
	frame := buildFrame(0x01, 0x03, []byte{0x00, 0x00, 0x00, 0x01})

	now := time.Now()
	// Feed only the first three bytes, then let an inter-character gap
	// far exceeding the threshold elapse before resuming.
	for i := 0; i < 3; i++ {
		if _, err := f.Push(frame[i], now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	later := now.Add(time.Second)
	var got *Frame
	for i, b := range frame {
		// Resend the whole frame as if it were a fresh one following the gap.
		g, err := f.Push(b, later.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if g != nil {
			got = g
		}
	}
	if got == nil {
		t.Fatalf("expected the post-gap frame to parse cleanly, old partial bytes must be discarded")
	}
}

func TestFramerDetectsCRCFailure(t *testing.T) {
	f := NewFramer(0x01, 19200, DefaultGapCharTimes)
	frame := buildFrame(0x01, 0x03, []byte{0x00, 0x00, 0x00, 0x01})
	frame[len(frame)-1] ^= 0xFF // corrupt the CRC trailer

	now := time.Now()
	var lastErr error
	for i, b := range frame {
		_, err := f.Push(b, now.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		t.Fatalf("expected a CRC error")
	}
}
