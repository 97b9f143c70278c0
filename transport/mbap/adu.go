// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mbap implements the Modbus Application Protocol header used to
// frame a PDU on a TCP connection, and the transaction-id bookkeeping a
// master needs to multiplex concurrent requests over one connection.
package mbap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ironfield/modbus-engine/modbus"
)

const (
	// HeaderSize is the 7-byte MBAP header: transaction id, protocol id,
	// length, unit id.
	HeaderSize = 7
	// ProtocolID is always 0 for Modbus.
	ProtocolID = 0
	// MaxADUSize bounds a full MBAP ADU (header + PDU).
	MaxADUSize = 260
)

// ApplicationDataUnit is a decoded MBAP frame: header fields plus the PDU
// they wrap.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // unit id + PDU, per the wire definition
	UnitID        byte
	Pdu           modbus.ProtocolDataUnit
}

// Encode serializes the ADU to its wire representation.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	total := HeaderSize + len(adu.Pdu.Data) + 1
	if total > MaxADUSize {
		return nil, fmt.Errorf("mbap: encoded length %d exceeds maximum %d", total, MaxADUSize)
	}
	length := uint16(1 + 1 + len(adu.Pdu.Data)) // unit id + function code + data

	raw := make([]byte, HeaderSize+1+len(adu.Pdu.Data))
	binary.BigEndian.PutUint16(raw[0:], adu.TransactionID)
	binary.BigEndian.PutUint16(raw[2:], ProtocolID)
	binary.BigEndian.PutUint16(raw[4:], length)
	raw[6] = adu.UnitID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)
	return raw, nil
}

// Decode parses a full MBAP frame (header and trailing PDU bytes already
// concatenated) into an ApplicationDataUnit.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	if len(raw) < HeaderSize+1 {
		return nil, fmt.Errorf("mbap: frame length %d below minimum %d", len(raw), HeaderSize+1)
	}
	adu := &ApplicationDataUnit{
		TransactionID: binary.BigEndian.Uint16(raw[0:]),
		ProtocolID:    binary.BigEndian.Uint16(raw[2:]),
		Length:        binary.BigEndian.Uint16(raw[4:]),
		UnitID:        raw[6],
	}
	adu.Pdu.FunctionCode = raw[7]
	adu.Pdu.Data = raw[8:]
	return adu, nil
}

// ReadADU reads one complete MBAP frame from r: the fixed 7-byte header,
// then Length-1 bytes of PDU (the -1 accounts for the unit id already
// consumed as part of the header read).
func ReadADU(r *bufio.Reader) (*ApplicationDataUnit, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[4:])
	if length == 0 || int(length) > MaxADUSize-HeaderSize+1 {
		return nil, fmt.Errorf("mbap: invalid length field %d", length)
	}
	// length counts unit id + PDU; unit id is header[6], so length-1 more bytes follow.
	body := make([]byte, length-1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	full := make([]byte, HeaderSize+len(body))
	copy(full, header)
	copy(full[HeaderSize:], body)
	return Decode(full)
}

// Verify checks that a response ADU matches the request that solicited it:
// same transaction id and unit id.
func (adu *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if resp.TransactionID != adu.TransactionID {
		return fmt.Errorf("mbap: response transaction id %d does not match request %d", resp.TransactionID, adu.TransactionID)
	}
	if resp.UnitID != adu.UnitID {
		return fmt.Errorf("mbap: response unit id %d does not match request %d", resp.UnitID, adu.UnitID)
	}
	return nil
}
