package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidLength is returned when a header declares a length smaller than
// the header itself or larger than the framer's limit.
var ErrInvalidLength = errors.New("protocol: invalid declared packet length")

// Framer rebuilds packets from a byte stream delivered in arbitrary chunks.
// It is goroutine-local (owned by one receive loop) and needs no locking.
//
// At most one packet is unfinished at a time. Until its header is complete
// the framer only knows it needs the rest of the header; once the header is
// in, the shortfall becomes the exact number of payload bytes missing.
type Framer struct {
	complete []*Packet

	partial    []byte
	need       int
	headerDone bool

	maxSize int
}

// NewFramer creates a framer that rejects packets larger than maxSize.
// A non-positive maxSize selects DefaultMaxPacketSize.
func NewFramer(maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = DefaultMaxPacketSize
	}
	return &Framer{maxSize: maxSize}
}

// Ingest consumes data. Every complete packet it finishes is appended to the
// completed queue in arrival order. The framer copies what it keeps, so the
// caller may reuse data afterwards.
//
// After an error the framer discards its partial state; the stream it was
// reading is no longer in sync and should be closed.
func (f *Framer) Ingest(data []byte) error {
	if f.partial != nil {
		var err error
		if data, err = f.fill(data); err != nil {
			return err
		}
		if f.partial != nil {
			return nil
		}
	}

	for len(data) > 0 {
		if len(data) < HeaderSize {
			f.startPartial(data, HeaderSize, false)
			return nil
		}

		size, err := f.declared(data)
		if err != nil {
			return err
		}

		if len(data) >= size {
			f.complete = append(f.complete, packetOf(data[:size]))
			data = data[size:]
			continue
		}

		f.startPartial(data, size, true)
		return nil
	}
	return nil
}

// TakeNext removes and returns the oldest completed packet.
func (f *Framer) TakeNext() (*Packet, bool) {
	if len(f.complete) == 0 {
		return nil, false
	}
	p := f.complete[0]
	f.complete[0] = nil
	f.complete = f.complete[1:]
	if len(f.complete) == 0 {
		f.complete = nil
	}
	return p, true
}

// Buffered returns the number of completed packets waiting in the queue.
func (f *Framer) Buffered() int {
	return len(f.complete)
}

// Pending returns how many more bytes the unfinished packet needs before
// anything new can complete. While the header is still incomplete this is
// the number of header bytes missing.
func (f *Framer) Pending() int {
	return f.need
}

// startPartial stores data as the unfinished packet. total is the full size
// the buffer is growing toward: HeaderSize while the header is incomplete,
// the declared size afterwards.
func (f *Framer) startPartial(data []byte, total int, headerDone bool) {
	f.partial = make([]byte, len(data), total)
	copy(f.partial, data)
	f.need = total - len(data)
	f.headerDone = headerDone
}

// fill feeds the unfinished packet and returns the unconsumed rest of data.
func (f *Framer) fill(data []byte) ([]byte, error) {
	for f.partial != nil && len(data) > 0 {
		take := min(f.need, len(data))
		f.partial = append(f.partial, data[:take]...)
		data = data[take:]
		f.need -= take

		if f.need > 0 {
			return data, nil
		}

		if !f.headerDone {
			size, err := f.declared(f.partial)
			if err != nil {
				return nil, err
			}
			f.headerDone = true
			if size > HeaderSize {
				grown := make([]byte, len(f.partial), size)
				copy(grown, f.partial)
				f.partial = grown
				f.need = size - HeaderSize
				continue
			}
		}

		f.complete = append(f.complete, &Packet{data: f.partial, Offset: HeaderSize})
		f.partial = nil
		f.headerDone = false
	}
	return data, nil
}

// declared validates and returns the size in the header at the start of b.
func (f *Framer) declared(b []byte) (int, error) {
	size := FirstPacketSize(b)
	if size < HeaderSize || size > f.maxSize {
		f.reset()
		return 0, fmt.Errorf("%w: %d (allowed %d..%d)", ErrInvalidLength, size, HeaderSize, f.maxSize)
	}
	return size, nil
}

func (f *Framer) reset() {
	f.partial = nil
	f.need = 0
	f.headerDone = false
}

// packetOf copies one complete wire image into a new packet.
func packetOf(b []byte) *Packet {
	buf := make([]byte, len(b))
	copy(buf, b)
	return &Packet{data: buf, Offset: HeaderSize}
}
