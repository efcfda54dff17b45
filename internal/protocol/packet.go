// Package protocol defines the game packet format and the stream framer that
// cuts a continuous byte stream back into packets.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Type identifies the kind of packet. Values are four-character codes so
// that captures stay readable in a hex dump.
type Type uint32

// Transport-level packet types. Game code is free to define its own types;
// anything not listed here is offered to the server first.
const (
	TypeLogin      Type = 'L'<<24 | 'G'<<16 | 'I'<<8 | 'N' // LGIN
	TypeDisconnect Type = 'D'<<24 | 'I'<<16 | 'S'<<8 | 'C' // DISC
	TypePing       Type = 'P'<<24 | 'I'<<16 | 'N'<<8 | 'G' // PING
	TypePong       Type = 'P'<<24 | 'O'<<16 | 'N'<<8 | 'G' // PONG
	TypePadding    Type = 'P'<<24 | 'A'<<16 | 'D'<<8 | 'D' // PADD
)

// HeaderSize is the fixed header size: Size(4) + Type(4).
const HeaderSize = 8

// DefaultMaxPacketSize caps the declared length accepted off the wire.
const DefaultMaxPacketSize = 1 << 20 // 1 MiB

// String renders the type as its four-character code when printable.
func (t Type) String() string {
	b := [4]byte{byte(t >> 24), byte(t >> 16), byte(t >> 8), byte(t)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(t))
		}
	}
	return string(b[:])
}

// Packet is a single message: header followed by payload. Data always holds
// the complete wire image, so sending never re-encodes.
//
// Offset is the read cursor used by the Next* accessors. It starts at the
// first payload byte.
type Packet struct {
	data   []byte
	Offset int
}

// New creates an empty packet of the given type, ready for Add* calls.
func New(t Type) *Packet {
	p := &Packet{data: make([]byte, HeaderSize, 64), Offset: HeaderSize}
	binary.BigEndian.PutUint32(p.data[0:4], HeaderSize)
	binary.BigEndian.PutUint32(p.data[4:8], uint32(t))
	return p
}

// FromBytes wraps a complete wire image. The slice is copied.
func FromBytes(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	if size := FirstPacketSize(data); size != len(data) {
		return nil, fmt.Errorf("declared size %d does not match %d bytes", size, len(data))
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Packet{data: buf, Offset: HeaderSize}, nil
}

// FirstPacketSize reads the declared total length from a header. The slice
// must hold at least HeaderSize bytes.
func FirstPacketSize(header []byte) int {
	return int(binary.BigEndian.Uint32(header[0:4]))
}

// Type returns the packet type.
func (p *Packet) Type() Type {
	return Type(binary.BigEndian.Uint32(p.data[4:8]))
}

// Size returns the declared total length, header included.
func (p *Packet) Size() int {
	return FirstPacketSize(p.data)
}

// Bytes returns the wire image. Do not modify it.
func (p *Packet) Bytes() []byte {
	return p.data
}

// Payload returns the bytes after the header. Do not modify it.
func (p *Packet) Payload() []byte {
	return p.data[HeaderSize:]
}

// Clone returns an independent copy with its cursor rewound.
func (p *Packet) Clone() *Packet {
	buf := make([]byte, len(p.data))
	copy(buf, p.data)
	return &Packet{data: buf, Offset: HeaderSize}
}

// Rewind moves the cursor back to the first payload byte.
func (p *Packet) Rewind() {
	p.Offset = HeaderSize
}

// Remaining returns the number of unread payload bytes.
func (p *Packet) Remaining() int {
	if p.Offset >= len(p.data) {
		return 0
	}
	return len(p.data) - p.Offset
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s(%d bytes)", p.Type(), p.Size())
}
