// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the Modbus RTU serial framing layer: the
// inter-character gap state machine that turns a timed byte stream into
// discrete frames, the CRC-16 trailer, and the RTS-gated half-duplex
// transmit sequence.
package rtu

import (
	"fmt"

	"github.com/ironfield/modbus-engine/modbus"
	"github.com/ironfield/modbus-engine/modbus/crc"
)

const (
	minSize = 4
	maxSize = 256
)

// ApplicationDataUnit is a decoded RTU frame: slave id, PDU, and the CRC
// computed over everything preceding the trailer.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
	crc     crc.CRC
}

// Decode parses a complete RTU frame (slaveId + PDU + crc16) and verifies
// its checksum.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	length := len(raw)
	if length < minSize {
		return nil, fmt.Errorf("rtu: frame length %d below minimum %d", length, minSize)
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[:length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		return nil, &InvalidCRCError{Want: c.Value(), Got: checksum}
	}

	adu := &ApplicationDataUnit{SlaveID: raw[0], crc: c}
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return adu, nil
}

// Encode serializes the ADU, appending the CRC-16 trailer little-endian.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 4
	if length > maxSize {
		return nil, fmt.Errorf("rtu: encoded length %d exceeds maximum %d", length, maxSize)
	}
	raw := make([]byte, length)
	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	copy(raw[2:], adu.Pdu.Data)

	var c crc.CRC
	c.Reset().PushBytes(raw[:length-2])
	sum := c.Value()
	raw[length-2] = byte(sum)
	raw[length-1] = byte(sum >> 8)
	return raw, nil
}

// Verify checks a response ADU against the request that solicited it: the
// slave id must match.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if req.SlaveID != resp.SlaveID {
		return fmt.Errorf("rtu: response slave id %d does not match request %d", resp.SlaveID, req.SlaveID)
	}
	return nil
}

// InvalidCRCError reports a checksum mismatch on a received frame.
type InvalidCRCError struct {
	Want, Got uint16
}

func (e *InvalidCRCError) Error() string {
	return fmt.Sprintf("rtu: crc mismatch: computed 0x%04X, received 0x%04X", e.Want, e.Got)
}
