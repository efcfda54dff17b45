package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/connection"
	"github.com/1ureka/gamenet/internal/metrics"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/store"
	"github.com/1ureka/gamenet/internal/util"
)

func init() { util.Quiet() }

const typeChat = protocol.Type('C'<<24 | 'H'<<16 | 'A'<<8 | 'T')

type running struct {
	srv      *Server
	gameAddr string
	adminURL string
	stop     func()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.NetRate = 200
	cfg.PingInterval = 50 * time.Millisecond
	cfg.JoinTimeout = 200 * time.Millisecond
	cfg.StatsInterval = 0
	return cfg
}

func startServer(t *testing.T, cfg *config.Config, accounts *store.Store) *running {
	t.Helper()

	game, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	admin, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := New(cfg, accounts, metrics.New("gamenet"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, game, admin) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Serve: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Error("Serve did not return")
			}
		})
	}
	t.Cleanup(stop)

	return &running{
		srv:      srv,
		gameAddr: game.Addr().String(),
		adminURL: "http://" + admin.Addr().String(),
		stop:     stop,
	}
}

// gameClient speaks the packet protocol over any stream.
type gameClient struct {
	rw     io.ReadWriter
	framer *protocol.Framer
	buf    []byte
	conn   interface{ SetReadDeadline(time.Time) error }
}

func dialTCP(t *testing.T, addr string) *gameClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &gameClient{rw: conn, conn: conn, framer: protocol.NewFramer(protocol.DefaultMaxPacketSize), buf: make([]byte, 4096)}
}

func (g *gameClient) send(t *testing.T, p *protocol.Packet) {
	t.Helper()
	if _, err := g.rw.Write(p.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next returns the next packet, or the read error.
func (g *gameClient) next() (*protocol.Packet, error) {
	for {
		if p, ok := g.framer.TakeNext(); ok {
			return p, nil
		}
		_ = g.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := g.rw.Read(g.buf)
		if n > 0 {
			if err := g.framer.Ingest(g.buf[:n]); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// expect skips to the next packet of type want, answering pings.
func (g *gameClient) expect(t *testing.T, want protocol.Type) *protocol.Packet {
	t.Helper()
	for {
		p, err := g.next()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if p.Type() == want {
			return p
		}
		if p.Type() == protocol.TypePing {
			pong := protocol.New(protocol.TypePong)
			pong.AddUChar(p.NextUChar())
			g.send(t, pong)
		}
	}
}

func (g *gameClient) login(t *testing.T, name, password string) uint16 {
	t.Helper()
	p := protocol.New(protocol.TypeLogin)
	p.AddString("Raptor")
	p.AddString("0.1")
	p.AddString(name)
	p.AddString(password)
	g.send(t, p)
	return g.expect(t, protocol.TypeLogin).NextUShort()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTCPLoginAndKeepalive(t *testing.T) {
	r := startServer(t, testConfig(), nil)
	g := dialTCP(t, r.gameAddr)

	if id := g.login(t, "bob", "pw"); id != 1 {
		t.Errorf("player id: got %d, want 1", id)
	}

	// The tick loop pings every PingInterval; expect answers them.
	ping := g.expect(t, protocol.TypePing)
	pong := protocol.New(protocol.TypePong)
	pong.AddUChar(ping.NextUChar())
	g.send(t, pong)

	waitFor(t, "an RTT sample", func() bool {
		snap := r.srv.Snapshot()
		return len(snap) == 1 && snap[0].LatestPing > 0
	})
	if snap := r.srv.Snapshot(); snap[0].PlayerID != 1 || snap[0].State != "connected" {
		t.Errorf("snapshot: %+v", snap[0])
	}
}

func TestDropReleasesPlayer(t *testing.T) {
	r := startServer(t, testConfig(), nil)
	g := dialTCP(t, r.gameAddr)
	g.login(t, "bob", "pw")

	bye := protocol.New(protocol.TypeDisconnect)
	bye.AddString("gone")
	g.send(t, bye)

	waitFor(t, "client removal", func() bool { return r.srv.Len() == 0 })
	waitFor(t, "player removal", func() bool { return r.srv.players.Len() == 0 })

	// The freed id is issued again.
	g2 := dialTCP(t, r.gameAddr)
	if id := g2.login(t, "carol", "pw"); id != 1 {
		t.Errorf("reissued id: got %d, want 1", id)
	}
}

func TestSecondLoginKeepsOneRecord(t *testing.T) {
	r := startServer(t, testConfig(), nil)
	g := dialTCP(t, r.gameAddr)
	g.login(t, "bob", "pw")

	again := protocol.New(protocol.TypeLogin)
	again.AddString("Raptor")
	again.AddString("0.1")
	again.AddString("eve")
	again.AddString("pw")
	marker := protocol.New(protocol.TypePing)
	marker.AddUChar(9)
	g.send(t, again)
	g.send(t, marker)

	// Packets are handled in order, so the PONG arrives after any reply to
	// the second LOGIN.
	for {
		p, err := g.next()
		if err != nil {
			t.Fatalf("waiting for PONG: %v", err)
		}
		if p.Type() == protocol.TypeLogin {
			t.Fatal("second login was acknowledged")
		}
		if p.Type() == protocol.TypePong && p.NextUChar() == 9 {
			break
		}
		if p.Type() == protocol.TypePing {
			pong := protocol.New(protocol.TypePong)
			pong.AddUChar(p.NextUChar())
			g.send(t, pong)
		}
	}
	if n := r.srv.players.Len(); n != 1 {
		t.Fatalf("%d player records, want 1", n)
	}

	bye := protocol.New(protocol.TypeDisconnect)
	g.send(t, bye)
	waitFor(t, "player removal", func() bool { return r.srv.players.Len() == 0 })
}

func TestHandlerAndBroadcast(t *testing.T) {
	r := startServer(t, testConfig(), nil)
	r.srv.Handle(typeChat, func(p *protocol.Packet, c *connection.Client) bool {
		r.srv.SendAllExcept(p, c)
		return true
	})

	a := dialTCP(t, r.gameAddr)
	b := dialTCP(t, r.gameAddr)
	a.login(t, "a", "pw")
	b.login(t, "b", "pw")

	msg := protocol.New(typeChat)
	msg.AddString("hello")
	a.send(t, msg)

	got := b.expect(t, typeChat)
	if s := got.NextString(); s != "hello" {
		t.Errorf("chat: got %q", s)
	}
}

func TestAccountRejection(t *testing.T) {
	accounts, err := store.Open(filepath.Join(t.TempDir(), "accounts.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	defer accounts.Close()
	if err := accounts.Add(context.Background(), "bob", "right"); err != nil {
		t.Fatal(err)
	}

	r := startServer(t, testConfig(), accounts)
	g := dialTCP(t, r.gameAddr)

	p := protocol.New(protocol.TypeLogin)
	p.AddString("Raptor")
	p.AddString("0.1")
	p.AddString("bob")
	p.AddString("wrong")
	g.send(t, p)

	for {
		pkt, err := g.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Logf("read ended with %v", err)
			}
			break
		}
		if pkt.Type() == protocol.TypeLogin {
			t.Fatal("rejected login was acknowledged")
		}
	}
	if n := r.srv.players.Len(); n != 0 {
		t.Errorf("%d players after rejection", n)
	}
}

func TestShutdownTellsClients(t *testing.T) {
	r := startServer(t, testConfig(), nil)
	g := dialTCP(t, r.gameAddr)
	g.login(t, "bob", "pw")

	stopped := make(chan struct{})
	go func() {
		r.stop()
		close(stopped)
	}()

	bye := g.expect(t, protocol.TypeDisconnect)
	if reason := bye.NextString(); reason != shutdownReason {
		t.Errorf("reason: got %q", reason)
	}
	<-stopped
	if n := r.srv.Len(); n != 0 {
		t.Errorf("%d clients after shutdown", n)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	r := startServer(t, testConfig(), nil)
	g := dialTCP(t, r.gameAddr)
	g.login(t, "bob", "pw")

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(r.adminURL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, body := get("/healthz"); code != http.StatusOK || body != "ok" {
		t.Errorf("/healthz: %d %q", code, body)
	}

	code, body := get("/clients")
	var clients []ClientInfo
	if code != http.StatusOK || json.Unmarshal([]byte(body), &clients) != nil {
		t.Fatalf("/clients: %d %q", code, body)
	}
	if len(clients) != 1 || clients[0].PlayerID != 1 {
		t.Errorf("/clients: %+v", clients)
	}

	if _, body := get("/metrics"); !strings.Contains(body, "gamenet_connections_active") {
		t.Error("/metrics has no connection gauge")
	}
}

func TestWebSocketClient(t *testing.T) {
	r := startServer(t, testConfig(), nil)

	url := "ws" + strings.TrimPrefix(r.adminURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	login := protocol.New(protocol.TypeLogin)
	login.AddString("Raptor")
	login.AddString("0.1")
	login.AddString("ws")
	login.AddString("pw")
	if err := conn.WriteMessage(websocket.BinaryMessage, login.Bytes()); err != nil {
		t.Fatal(err)
	}

	f := protocol.NewFramer(protocol.DefaultMaxPacketSize)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := f.Ingest(msg); err != nil {
			t.Fatal(err)
		}
		for p, ok := f.TakeNext(); ok; p, ok = f.TakeNext() {
			if p.Type() == protocol.TypeLogin {
				if id := p.NextUShort(); id != 1 {
					t.Errorf("player id: got %d", id)
				}
				return
			}
		}
	}
}
