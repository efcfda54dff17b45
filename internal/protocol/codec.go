package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Field encoding: integers are big-endian, strings are NUL-terminated.
// The Next* accessors are lenient: reading past the end yields zero values
// and leaves the cursor at the end, so a truncated packet never panics.

// grow appends b and rewrites the declared size.
func (p *Packet) grow(b ...byte) {
	p.data = append(p.data, b...)
	binary.BigEndian.PutUint32(p.data[0:4], uint32(len(p.data)))
}

// AddUChar appends one byte.
func (p *Packet) AddUChar(v uint8) {
	p.grow(v)
}

// AddUShort appends a uint16.
func (p *Packet) AddUShort(v uint16) {
	p.grow(byte(v>>8), byte(v))
}

// AddUInt appends a uint32.
func (p *Packet) AddUInt(v uint32) {
	p.grow(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// AddFloat appends a float64 as its IEEE-754 bit pattern.
func (p *Packet) AddFloat(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	p.grow(b[:]...)
}

// AddString appends s followed by a NUL terminator. Embedded NULs truncate
// the string on the reading side.
func (p *Packet) AddString(s string) {
	p.grow(append([]byte(s), 0)...)
}

// AddData appends raw bytes.
func (p *Packet) AddData(b []byte) {
	p.grow(b...)
}

// NextUChar reads one byte.
func (p *Packet) NextUChar() uint8 {
	if p.Remaining() < 1 {
		p.Offset = len(p.data)
		return 0
	}
	v := p.data[p.Offset]
	p.Offset++
	return v
}

// NextUShort reads a uint16.
func (p *Packet) NextUShort() uint16 {
	if p.Remaining() < 2 {
		p.Offset = len(p.data)
		return 0
	}
	v := binary.BigEndian.Uint16(p.data[p.Offset:])
	p.Offset += 2
	return v
}

// NextUInt reads a uint32.
func (p *Packet) NextUInt() uint32 {
	if p.Remaining() < 4 {
		p.Offset = len(p.data)
		return 0
	}
	v := binary.BigEndian.Uint32(p.data[p.Offset:])
	p.Offset += 4
	return v
}

// NextFloat reads a float64.
func (p *Packet) NextFloat() float64 {
	if p.Remaining() < 8 {
		p.Offset = len(p.data)
		return 0
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(p.data[p.Offset:]))
	p.Offset += 8
	return v
}

// NextString reads up to the next NUL. A missing terminator consumes the
// rest of the packet.
func (p *Packet) NextString() string {
	if p.Remaining() == 0 {
		return ""
	}
	rest := p.data[p.Offset:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		p.Offset = len(p.data)
		return string(rest)
	}
	p.Offset += i + 1
	return string(rest[:i])
}

// NextData reads n raw bytes, or fewer if the packet ends first. The result
// is a copy.
func (p *Packet) NextData(n int) []byte {
	if n > p.Remaining() {
		n = p.Remaining()
	}
	out := make([]byte, n)
	copy(out, p.data[p.Offset:p.Offset+n])
	p.Offset += n
	return out
}
