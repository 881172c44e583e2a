// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package wire implements the fixed-size header and single-byte control
// frame that every publisher/subscriber connection speaks. It is a pure
// framing concern: it never touches a socket and never compresses a
// payload.
package wire

import "encoding/binary"

// HeaderSize is the on-wire size of a Header in bytes: a 4-byte type id
// followed by a 4-byte payload size, both little-endian.
const HeaderSize = 8

// Ack is the single control byte a subscriber sends after a fully received
// body. Any other byte is a fatal protocol violation on the publisher side.
const Ack byte = 0x01

// Header is the framing record that precedes every message body.
type Header struct {
	TypeID uint32
	Size   uint32
}

// EncodeHeader serializes typeID and size into the fixed 8-byte layout.
func EncodeHeader(typeID, size uint32) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], typeID)
	binary.LittleEndian.PutUint32(buf[4:8], size)
	return buf
}

// DecodeHeader parses a HeaderSize-length buffer produced by EncodeHeader.
// The caller must supply exactly HeaderSize bytes; DecodeHeader never
// truncates or errors since the read length is fixed by the caller.
func DecodeHeader(buf []byte) Header {
	return Header{
		TypeID: binary.LittleEndian.Uint32(buf[0:4]),
		Size:   binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// EncodeAck returns the single control byte meaning "body fully received".
func EncodeAck() byte {
	return Ack
}

// IsAck reports whether b is the ACK control byte. Any other value is
// treated as a fatal protocol violation by the publisher.
func IsAck(b byte) bool {
	return b == Ack
}
