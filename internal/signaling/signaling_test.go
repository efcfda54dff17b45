package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/gamenet/internal/transport"
	"github.com/1ureka/gamenet/internal/util"
)

func init() { util.Quiet() }

var hostOnly = transport.RTCConfig{ICEServers: []string{}}

var upgrader websocket.Upgrader

// acceptServer runs Accept for every upgraded request and reports its
// error on the returned channel.
func acceptServer(t *testing.T, timeout time.Duration) (string, <-chan error) {
	t.Helper()
	results := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		stream, err := Accept(ctx, ws, hostOnly)
		if stream != nil {
			stream.Close()
		}
		results <- err
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), results
}

func dialRaw(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// awaitOffer reads until the offer arrives; candidates may come first.
func awaitOffer(t *testing.T, ws *websocket.Conn) message {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg message
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == msgTypeOffer {
			return msg
		}
	}
}

func waitResult(t *testing.T, results <-chan error) error {
	t.Helper()
	select {
	case err := <-results:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not return")
		return nil
	}
}

func TestAcceptSendsOffer(t *testing.T) {
	url, results := acceptServer(t, 200*time.Millisecond)
	ws := dialRaw(t, url)

	offer := awaitOffer(t, ws)
	if !strings.Contains(offer.SDP, "m=application") {
		t.Errorf("offer has no data channel section:\n%s", offer.SDP)
	}

	// No answer ever comes.
	if err := waitResult(t, results); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestAcceptRejectsBadMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  message
		want string
	}{
		{"malformed candidate", message{Type: msgTypeCandidate, Candidate: "{not json"}, "parse ICE candidate"},
		{"unknown type", message{Type: "bye"}, "unknown signaling message"},
		{"bad answer", message{Type: msgTypeAnswer, SDP: "garbage"}, "apply answer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, results := acceptServer(t, 5*time.Second)
			ws := dialRaw(t, url)
			awaitOffer(t, ws)

			if err := ws.WriteJSON(tt.msg); err != nil {
				t.Fatal(err)
			}
			err := waitResult(t, results)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestDialUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/rtc", hostOnly); err == nil {
		t.Error("Dial to a closed port succeeded")
	}
}
