package transport

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

// WSStream adapts a WebSocket connection to a byte stream. Each binary
// message is one chunk of the packet stream; text messages are ignored.
type WSStream struct {
	conn *websocket.Conn

	// Read side, used by one goroutine.
	r io.Reader

	wmu sync.Mutex
}

// NewWSStream wraps an established connection. The stream owns conn.
func NewWSStream(conn *websocket.Conn) *WSStream {
	return &WSStream{conn: conn}
}

func (s *WSStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			typ, r, err := s.conn.NextReader()
			if err != nil {
				return 0, wsReadErr(err)
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			s.r = r
		}

		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write sends p as a single binary message.
func (s *WSStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame, best effort, and closes the connection.
func (s *WSStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return s.conn.Close()
}

func (s *WSStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *WSStream) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }

func (s *WSStream) SetWriteDeadline(t time.Time) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.SetWriteDeadline(t)
}

// wsReadErr maps an orderly close to io.EOF.
func wsReadErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return err
}
