package connection

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/1ureka/gamenet/internal/player"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

// VersionMismatchReason is sent to a client whose LOGIN names the right game
// but another build.
const VersionMismatchReason = "Version mismatch.  Make sure all players have the latest build."

var tracer trace.Tracer = otel.Tracer("github.com/1ureka/gamenet/internal/connection")

// ---------------------------------------------------------------------------
// Consumer side
// ---------------------------------------------------------------------------

// DrainAll dispatches every queued inbound packet and returns how many it
// took. The queue is swapped out in one lock hold so the receive worker is
// never blocked behind dispatch. Processing stops early once the client has
// disconnected; the rest is discarded.
func (c *Client) DrainAll() int {
	c.inMu.Lock()
	pending := c.in
	c.in = nil
	c.inMu.Unlock()

	for _, pkt := range pending {
		if !c.Connected() {
			break
		}
		c.ProcessPacket(pkt)
	}
	return len(pending)
}

// DrainOne dispatches only the oldest queued packet. It reports false when
// the queue was empty or the client has disconnected.
func (c *Client) DrainOne() bool {
	if !c.Connected() {
		return false
	}

	c.inMu.Lock()
	if len(c.in) == 0 {
		c.inMu.Unlock()
		return false
	}
	pkt := c.in[0]
	c.in[0] = nil
	c.in = c.in[1:]
	c.inMu.Unlock()

	c.ProcessPacket(pkt)
	return true
}

// queuedIn returns the number of packets waiting for the consumer.
func (c *Client) queuedIn() int {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	return len(c.in)
}

// ProcessPacket offers p to the server and falls back to the transport
// types. It reports whether anyone handled the packet.
func (c *Client) ProcessPacket(p *protocol.Packet) bool {
	p.Rewind()
	if c.srv.ProcessPacket(p, c) {
		return true
	}
	p.Rewind()

	switch p.Type() {
	case protocol.TypePing:
		c.handlePing(p)
	case protocol.TypePong:
		c.recordPong(p.NextUChar())
	case protocol.TypePadding:
		p.Offset = p.Size()
	case protocol.TypeLogin:
		c.handleLogin(p)
	case protocol.TypeDisconnect:
		if reason := p.NextString(); reason != "" {
			util.LogInfo("[%08x] peer disconnected: %s", c.tag, reason)
		}
		c.Disconnect()
	default:
		util.LogDebug("[%08x] unhandled packet %s", c.tag, p)
		return false
	}
	return true
}

func (c *Client) handlePing(p *protocol.Packet) {
	reply := protocol.New(protocol.TypePong)
	reply.AddUChar(p.NextUChar())
	if err := c.Send(reply); err != nil {
		util.LogDebug("[%08x] pong not sent: %v", c.tag, err)
	}
}

// ---------------------------------------------------------------------------
// Handshake
// ---------------------------------------------------------------------------

func (c *Client) handleLogin(p *protocol.Packet) {
	game := p.NextString()
	version := p.NextString()
	name := p.NextString()
	password := p.NextString()

	if game != c.opts.Game {
		util.LogWarning("[%08x] login for unknown game %q", c.tag, game)
		c.Disconnect()
		return
	}
	if version != c.opts.Version {
		util.LogWarning("[%08x] login from version %q, want %q", c.tag, version, c.opts.Version)
		c.DisconnectNice(VersionMismatchReason)
		return
	}

	if err := c.Login(c.ctx, name, password); err != nil {
		util.LogWarning("[%08x] login failed: %v", c.tag, err)
	}
}

// Login authenticates name, binds a new player record and sends the
// acceptance packet. On any failure the client is disconnected, nothing is
// sent and no player record is left behind. A client that already holds a
// player gets ErrLoggedIn and stays connected.
func (c *Client) Login(ctx context.Context, name, password string) (err error) {
	if id := c.PlayerID(); id != 0 {
		return fmt.Errorf("%w as player %d", ErrLoggedIn, id)
	}

	_, span := tracer.Start(ctx, "connection.Login", trace.WithAttributes(
		attribute.String("client.id", c.id),
		attribute.String("client.addr", c.RemoteAddr()),
		attribute.String("player.name", name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.Disconnect()
		}
		span.End()
	}()

	if !c.srv.ValidateLogin(name, password) {
		return fmt.Errorf("%w for %q", ErrBadCredentials, name)
	}

	rec := &player.Player{Name: name}
	id, err := c.srv.AddPlayer(rec)
	if err != nil {
		return fmt.Errorf("add player %q: %w", name, err)
	}
	c.playerID.Store(uint32(id))
	defer func() {
		if err != nil {
			c.unbindPlayer(id)
		}
	}()
	span.SetAttributes(attribute.Int("player.id", int(id)))

	// A drop that raced the bind saw no player to remove.
	if !c.Connected() {
		return fmt.Errorf("bind player %d: %w", id, ErrNotConnected)
	}

	ack := protocol.New(protocol.TypeLogin)
	ack.AddUShort(id)
	if err := c.Send(ack); err != nil {
		return fmt.Errorf("send login ack: %w", err)
	}

	util.LogSuccess("[%08x] %s logged in as player %d", c.tag, name, id)
	c.srv.AcceptedClient(c)
	return nil
}

// unbindPlayer removes record id unless DroppedClient already released it.
func (c *Client) unbindPlayer(id uint16) {
	if c.playerID.CompareAndSwap(uint32(id), 0) {
		c.srv.RemovePlayer(id)
	}
}
