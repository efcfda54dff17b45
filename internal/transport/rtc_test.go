package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeChannel stands in for a detached data channel. Reads return the
// queued messages one at a time; writes are recorded per call.
type fakeChannel struct {
	mu     sync.Mutex
	msgs   [][]byte
	writes [][]byte
	closed bool
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return 0, io.EOF
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	if len(m) > len(p) {
		return 0, io.ErrShortBuffer
	}
	return copy(p, m), nil
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestStream(t *testing.T, raw *fakeChannel) *RTCStream {
	t.Helper()
	peer, err := NewPeer(context.Background(), RTCConfig{ICEServers: []string{}})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	remote := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 50000}
	s := newRTCStream(raw, peer, remote)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRTCStreamWriteChunks(t *testing.T) {
	raw := &fakeChannel{}
	s := newTestStream(t, raw)

	payload := bytes.Repeat([]byte{7}, 2*rtcChunkSize+100)
	n, err := s.Write(payload)
	if err != nil || n != len(payload) {
		t.Fatalf("Write: %d, %v", n, err)
	}

	var sizes []int
	for _, w := range raw.writes {
		sizes = append(sizes, len(w))
	}
	want := []int{rtcChunkSize, rtcChunkSize, 100}
	if len(sizes) != len(want) {
		t.Fatalf("message sizes: got %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("message %d: got %d bytes, want %d", i, sizes[i], want[i])
		}
	}
}

func TestRTCStreamReadSmallBuffer(t *testing.T) {
	raw := &fakeChannel{msgs: [][]byte{[]byte("abcdef"), []byte("gh")}}
	s := newTestStream(t, raw)

	var got []byte
	buf := make([]byte, 4)
	for {
		n, err := s.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if string(got) != "abcdefgh" {
		t.Errorf("got %q", got)
	}
}

func TestRTCStreamCloseClosesPeer(t *testing.T) {
	raw := &fakeChannel{}
	s := newTestStream(t, raw)

	_ = s.Close()
	_ = s.Close()

	if !raw.closed {
		t.Error("channel not closed")
	}
	select {
	case <-s.peer.Done():
	case <-time.After(time.Second):
		t.Error("peer not shut down")
	}
	if s.RemoteAddr().String() != "192.0.2.1:50000" {
		t.Errorf("RemoteAddr: %v", s.RemoteAddr())
	}
}
