// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package wire implements the kdb update daemon's connection framing:
// a fixed-size little-endian header followed by a variable-length
// payload (spec §4.4, §6.3).
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dunn0052/kdb/key"
)

// Field widths within the header, per spec §4.4.
const (
	AddressSize = 46
	PortSize    = 6
	HeaderSize  = AddressSize + PortSize + 4 + 4

	// OFRISize is the wire encoding of an OFRI: object_number, field,
	// record, and index, each a little-endian uint32 (spec §8 S5).
	// The object is carried by its manifest ordinal, not its padded
	// name, since a connection's peer already negotiated which
	// registry it is speaking against.
	OFRISize = 4 + 4 + 4 + 4
)

// Type enumerates the kinds of frame that can cross the wire.
type Type uint32

const (
	None Type = iota
	Text
	Ack
	DBRead
	DBWrite
)

func (t Type) String() string {
	switch t {
	case None:
		return "NONE"
	case Text:
		return "TEXT"
	case Ack:
		return "ACK"
	case DBRead:
		return "DB_READ"
	case DBWrite:
		return "DB_WRITE"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

// Header is the fixed-size prefix of every frame.
type Header struct {
	Address string // peer address, ASCII, NUL-padded to AddressSize
	Port    string // peer port, ASCII, NUL-padded to PortSize
	Type    Type
	Size    uint32 // payload length in bytes
}

// Frame is a decoded header plus its payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// marshalHeader encodes h into dst, which must be HeaderSize bytes.
func marshalHeader(h Header, dst []byte) {
	copy(dst[0:AddressSize], h.Address)
	copy(dst[AddressSize:AddressSize+PortSize], h.Port)
	binary.LittleEndian.PutUint32(dst[AddressSize+PortSize:], uint32(h.Type))
	binary.LittleEndian.PutUint32(dst[AddressSize+PortSize+4:], h.Size)
}

func unmarshalHeader(src []byte) Header {
	return Header{
		Address: string(trimNUL(src[0:AddressSize])),
		Port:    string(trimNUL(src[AddressSize : AddressSize+PortSize])),
		Type:    Type(binary.LittleEndian.Uint32(src[AddressSize+PortSize:])),
		Size:    binary.LittleEndian.Uint32(src[AddressSize+PortSize+4:]),
	}
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// Encode serializes f into a single buffer: [header][payload].
func Encode(f Frame) []byte {
	out := make([]byte, HeaderSize+len(f.Payload))
	h := f.Header
	h.Size = uint32(len(f.Payload))
	marshalHeader(h, out[:HeaderSize])
	copy(out[HeaderSize:], f.Payload)
	return out
}

// Decode parses a single frame out of buf, which must contain exactly
// one frame's worth of bytes (HeaderSize + header.Size).
func Decode(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, fmt.Errorf("wire: short buffer: %d bytes, need at least %d", len(buf), HeaderSize)
	}
	h := unmarshalHeader(buf[:HeaderSize])
	if len(buf) != HeaderSize+int(h.Size) {
		return Frame{}, fmt.Errorf("wire: buffer is %d bytes, header declares %d", len(buf), HeaderSize+int(h.Size))
	}
	payload := make([]byte, h.Size)
	copy(payload, buf[HeaderSize:])
	return Frame{Header: h, Payload: payload}, nil
}

// ObjectKey is the wire form of an OFRI: the object's manifest ordinal
// in place of its name, plus field, record, and index.
type ObjectKey struct {
	ObjectNumber uint32
	Field        key.Field
	Record       key.Record
	Index        key.Index
}

// EncodeOFRI serializes k as object_number, field, record, index, all
// little-endian uint32s.
func EncodeOFRI(k ObjectKey) []byte {
	out := make([]byte, OFRISize)
	binary.LittleEndian.PutUint32(out[0:], k.ObjectNumber)
	binary.LittleEndian.PutUint32(out[4:], uint32(k.Field))
	binary.LittleEndian.PutUint32(out[8:], uint32(k.Record))
	binary.LittleEndian.PutUint32(out[12:], uint32(k.Index))
	return out
}

// DecodeOFRI parses the fixed OFRI layout out of the front of buf.
func DecodeOFRI(buf []byte) (ObjectKey, error) {
	if len(buf) < OFRISize {
		return ObjectKey{}, fmt.Errorf("wire: OFRI payload is %d bytes, need %d", len(buf), OFRISize)
	}
	return ObjectKey{
		ObjectNumber: binary.LittleEndian.Uint32(buf[0:]),
		Field:        key.Field(binary.LittleEndian.Uint32(buf[4:])),
		Record:       key.Record(binary.LittleEndian.Uint32(buf[8:])),
		Index:        key.Index(binary.LittleEndian.Uint32(buf[12:])),
	}, nil
}

// EncodeDBWrite builds a DB_WRITE payload: the target OFRI followed by
// the raw value bytes (spec §4.4).
func EncodeDBWrite(k ObjectKey, value []byte) []byte {
	out := make([]byte, OFRISize+len(value))
	copy(out, EncodeOFRI(k))
	copy(out[OFRISize:], value)
	return out
}

// DecodeDBWrite splits a DB_WRITE payload into its OFRI and value bytes.
func DecodeDBWrite(payload []byte) (ObjectKey, []byte, error) {
	k, err := DecodeOFRI(payload)
	if err != nil {
		return ObjectKey{}, nil, err
	}
	return k, payload[OFRISize:], nil
}
