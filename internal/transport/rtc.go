package transport

import (
	"errors"
	"io"
	"net"
	"sync"
)

const (
	highWaterMark = 256 * 1024 // pause writing when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume writing when bufferedAmount drops below this
	rtcChunkSize  = 16 * 1024  // largest message written to the data channel
)

// RTCStream is a detached, ordered DataChannel seen as a byte stream.
// Writes are cut into messages of at most rtcChunkSize; the framer on the
// other side does not care where the cuts fall.
type RTCStream struct {
	raw    io.ReadWriteCloser
	peer   *Peer
	remote net.Addr

	// Read side, used by one goroutine.
	buf     []byte
	pending []byte

	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newRTCStream(raw io.ReadWriteCloser, peer *Peer, remote net.Addr) *RTCStream {
	return &RTCStream{
		raw:    raw,
		peer:   peer,
		remote: remote,
		buf:    make([]byte, rtcChunkSize),
	}
}

// Read returns bytes from the current message, fetching the next one when
// it is used up.
func (s *RTCStream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		n, err := s.raw.Read(s.buf)
		if err != nil {
			return 0, err
		}
		s.pending = s.buf[:n]
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write sends p as one or more messages, pausing while the channel's send
// buffer is above the high-water mark.
func (s *RTCStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	written := 0
	for written < len(p) {
		if err := s.waitDrain(); err != nil {
			return written, err
		}

		end := min(written+rtcChunkSize, len(p))
		n, err := s.raw.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (s *RTCStream) waitDrain() error {
	if s.peer.dc.BufferedAmount() <= highWaterMark {
		return nil
	}
	select {
	case <-s.peer.drainSignal:
		return nil
	case <-s.peer.Done():
		return io.ErrClosedPipe
	}
}

// Close closes the channel and its PeerConnection.
func (s *RTCStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.raw.Close(), s.peer.Close())
	})
	return s.closeErr
}

// RemoteAddr returns the address the peer signaled from.
func (s *RTCStream) RemoteAddr() net.Addr { return s.remote }
