package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsPair returns the server and client ends of a WebSocket over httptest.
func wsPair(t *testing.T) (*WSStream, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, _, err := websocket.DefaultDialer.DialContext(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-accepted:
		s := NewWSStream(conn)
		t.Cleanup(func() { s.Close() })
		return s, client
	case <-ctx.Done():
		t.Fatal("upgrade timed out")
		return nil, nil
	}
}

func TestWSStreamReadSpansMessages(t *testing.T) {
	s, client := wsPair(t)

	if err := client.WriteMessage(websocket.BinaryMessage, []byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte("ignored")); err != nil {
		t.Fatal(err)
	}
	if err := client.WriteMessage(websocket.BinaryMessage, []byte("world")); err != nil {
		t.Fatal(err)
	}

	_ = s.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, 0, 11)
	buf := make([]byte, 4)
	for len(got) < 11 {
		n, err := s.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestWSStreamWriteIsOneBinaryMessage(t *testing.T) {
	s, client := wsPair(t)

	payload := bytes.Repeat([]byte{0xab}, 300)
	if n, err := s.Write(payload); err != nil || n != len(payload) {
		t.Fatalf("Write: %d, %v", n, err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.BinaryMessage || !bytes.Equal(msg, payload) {
		t.Errorf("got type %d, %d bytes", typ, len(msg))
	}
}

func TestWSStreamNormalCloseIsEOF(t *testing.T) {
	s, client := wsPair(t)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	_ = s.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.Read(make([]byte, 8)); !errors.Is(err, io.EOF) {
		t.Errorf("got %v, want io.EOF", err)
	}
}

func TestWSStreamRemoteAddr(t *testing.T) {
	s, _ := wsPair(t)
	if s.RemoteAddr() == nil || !strings.HasPrefix(s.RemoteAddr().String(), "127.0.0.1:") {
		t.Errorf("RemoteAddr: %v", s.RemoteAddr())
	}
}
