// decode.go - X11 request body decoding for recognized opcodes.
// Copyright (C) 2016, 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package wire

import (
	"encoding/binary"
	"strings"
)

// Decoded is implemented by every structured request variant, including
// Opaque. Engines dispatch policy on the concrete type.
type Decoded interface {
	// Request returns the underlying framed request the variant was
	// decoded from.
	Request() Request
}

// Opaque is the catch-all variant for opcodes this package doesn't have a
// structured decoder for, and the fallback when a recognized opcode's body
// doesn't match its expected schema.
type Opaque struct {
	Req Request
}

func (o Opaque) Request() Request { return o.Req }

// InternAtom decodes opcode 0x10.
type InternAtom struct {
	Req          Request
	OnlyIfExists bool
	NameLen      uint16
	Name         []byte
}

func (r InternAtom) Request() Request { return r.Req }

// NameString returns a best-effort UTF-8 decoding of Name, for logging
// only; filtering decisions must use the raw bytes.
func (r InternAtom) NameString() string { return sanitizeUTF8(r.Name) }

// ChangeWindowAttributes decodes opcode 0x02. Only the fields needed for
// policy inspection are extracted; the value-list itself is left in the
// raw request body.
type ChangeWindowAttributes struct {
	Req       Request
	Window    uint32
	ValueMask uint32
}

func (r ChangeWindowAttributes) Request() Request { return r.Req }

// ChangeProperty decodes opcode 0x12.
type ChangeProperty struct {
	Req      Request
	Mode     uint8
	Window   uint32
	Property uint32
	Type     uint32
	Format   uint8
	DataLen  uint32
	Data     []byte
}

func (r ChangeProperty) Request() Request { return r.Req }

// GetProperty decodes opcode 0x14.
type GetProperty struct {
	Req        Request
	Delete     bool
	Window     uint32
	Property   uint32
	Type       uint32
	LongOffset uint32
	LongLength uint32
}

func (r GetProperty) Request() Request { return r.Req }

// GrabButton decodes opcode 0x1C. Only the fields useful for policy are
// extracted; the rest of the request is ignored.
type GrabButton struct {
	Req         Request
	OwnerEvents bool
	Window      uint32
}

func (r GrabButton) Request() Request { return r.Req }

// QueryExtension decodes opcode 0x62.
type QueryExtension struct {
	Req     Request
	NameLen uint16
	Name    []byte
}

func (r QueryExtension) Request() Request { return r.Req }

// NameString returns a best-effort UTF-8 decoding of Name, for logging
// only; filtering decisions must use the raw bytes.
func (r QueryExtension) NameString() string { return sanitizeUTF8(r.Name) }

// Decode parses req's body according to its opcode. Unrecognized opcodes,
// and recognized opcodes whose body doesn't fit the expected schema (too
// short to hold the fixed fields, or a declared length that runs past the
// body), both decode to Opaque. A decode failure is never itself a policy
// denial: callers must still allow the request through.
func Decode(req Request) Decoded {
	body := req.Body()

	switch req.Opcode {
	case OpChangeWindowAttributes:
		if len(body) < 8 {
			return Opaque{req}
		}
		return ChangeWindowAttributes{
			Req:       req,
			Window:    binary.LittleEndian.Uint32(body[0:4]),
			ValueMask: binary.LittleEndian.Uint32(body[4:8]),
		}

	case OpInternAtom:
		if len(body) < 4 {
			return Opaque{req}
		}
		nameLen := binary.LittleEndian.Uint16(body[0:2])
		start := 4
		end := start + int(nameLen)
		if end > len(body) {
			return Opaque{req}
		}
		return InternAtom{
			Req:          req,
			OnlyIfExists: req.DataByte == 1,
			NameLen:      nameLen,
			Name:         body[start:end],
		}

	case OpChangeProperty:
		if len(body) < 20 {
			return Opaque{req}
		}
		dataLen := binary.LittleEndian.Uint32(body[16:20])
		format := body[12]
		unitSize := formatUnitSize(format)
		dataBytes := int(dataLen) * unitSize
		start := 20
		end := start + dataBytes
		if dataBytes < 0 || end > len(body) {
			return Opaque{req}
		}
		return ChangeProperty{
			Req:      req,
			Mode:     req.DataByte,
			Window:   binary.LittleEndian.Uint32(body[0:4]),
			Property: binary.LittleEndian.Uint32(body[4:8]),
			Type:     binary.LittleEndian.Uint32(body[8:12]),
			Format:   format,
			DataLen:  dataLen,
			Data:     body[start:end],
		}

	case OpGetProperty:
		if len(body) < 20 {
			return Opaque{req}
		}
		return GetProperty{
			Req:        req,
			Delete:     req.DataByte != 0,
			Window:     binary.LittleEndian.Uint32(body[0:4]),
			Property:   binary.LittleEndian.Uint32(body[4:8]),
			Type:       binary.LittleEndian.Uint32(body[8:12]),
			LongOffset: binary.LittleEndian.Uint32(body[12:16]),
			LongLength: binary.LittleEndian.Uint32(body[16:20]),
		}

	case OpGrabButton:
		if len(body) < 4 {
			return Opaque{req}
		}
		return GrabButton{
			Req:         req,
			OwnerEvents: req.DataByte != 0,
			Window:      binary.LittleEndian.Uint32(body[0:4]),
		}

	case OpQueryExtension:
		if len(body) < 4 {
			return Opaque{req}
		}
		nameLen := binary.LittleEndian.Uint16(body[0:2])
		start := 4
		end := start + int(nameLen)
		if end > len(body) {
			return Opaque{req}
		}
		return QueryExtension{
			Req:     req,
			NameLen: nameLen,
			Name:    body[start:end],
		}

	default:
		return Opaque{req}
	}
}

// formatUnitSize returns the byte width of one ChangeProperty data unit
// for a given format field (8, 16, or 32 bits). An unrecognized format is
// treated as byte-sized, matching the core protocol's only legal values.
func formatUnitSize(format uint8) int {
	switch format {
	case 16:
		return 2
	case 32:
		return 4
	default:
		return 1
	}
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with U+FFFD. Used for
// logging only; filtering decisions must use the raw bytes.
func sanitizeUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
