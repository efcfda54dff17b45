package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/connection"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/signaling"
	"github.com/1ureka/gamenet/internal/transport"
	"github.com/1ureka/gamenet/internal/util"
)

const probeBye = "Probe finished."

// RejectedError is returned when the server ends the session with a reason.
type RejectedError struct{ Reason string }

func (e *RejectedError) Error() string { return "server disconnected: " + e.Reason }

// ProbeResult is what one probe run measured.
type ProbeResult struct {
	PlayerID uint16
	RTTs     []time.Duration
}

// Average returns the mean RTT, or 0 without samples.
func (r *ProbeResult) Average() time.Duration {
	if len(r.RTTs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range r.RTTs {
		sum += d
	}
	return sum / time.Duration(len(r.RTTs))
}

// Probe logs in to a server, measures cfg.Pings round trips, answers the
// server's own pings meanwhile, and leaves with a DISCONNECT.
func Probe(ctx context.Context, cfg *config.Probe) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	stream, err := dialProbe(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	// Unblock the reader when the deadline passes.
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	p := &probe{stream: stream, pkts: make(chan *protocol.Packet, 64), done: ctx.Done()}
	go p.readLoop()

	login := protocol.New(protocol.TypeLogin)
	login.AddString(cfg.Game)
	login.AddString(cfg.Version)
	login.AddString(cfg.Name)
	login.AddString(cfg.Password)
	if err := p.send(login); err != nil {
		return nil, err
	}

	ack, err := p.await(ctx, protocol.TypeLogin)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	res := &ProbeResult{PlayerID: ack.NextUShort()}
	util.LogSuccess("logged in as player %d over %s", res.PlayerID, cfg.Transport)

	for i := 0; i < cfg.Pings; i++ {
		id := uint8(i)
		ping := protocol.New(protocol.TypePing)
		ping.AddUChar(id)

		start := time.Now()
		if err := p.send(ping); err != nil {
			return res, err
		}
		for {
			pong, err := p.await(ctx, protocol.TypePong)
			if err != nil {
				return res, fmt.Errorf("ping %d: %w", i, err)
			}
			if pong.NextUChar() == id {
				break
			}
		}
		rtt := time.Since(start)
		res.RTTs = append(res.RTTs, rtt)
		util.LogInfo("ping %d: %v", i, rtt.Round(time.Microsecond))

		if i < cfg.Pings-1 && cfg.Interval > 0 {
			select {
			case <-time.After(cfg.Interval):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
	}

	bye := protocol.New(protocol.TypeDisconnect)
	bye.AddString(probeBye)
	_ = p.send(bye)
	return res, nil
}

// probe is the client half of a session. Only the caller's goroutine writes.
type probe struct {
	stream connection.Stream
	pkts   chan *protocol.Packet
	done   <-chan struct{}
	err    error // set by readLoop before pkts is closed
}

func (p *probe) readLoop() {
	defer close(p.pkts)

	f := protocol.NewFramer(protocol.DefaultMaxPacketSize)
	buf := make([]byte, 16*1024)
	for {
		n, err := p.stream.Read(buf)
		if n > 0 {
			if ferr := f.Ingest(buf[:n]); ferr != nil {
				p.err = ferr
				return
			}
			for pkt, ok := f.TakeNext(); ok; pkt, ok = f.TakeNext() {
				select {
				case p.pkts <- pkt:
				case <-p.done:
					return
				}
			}
		}
		if err != nil {
			p.err = err
			return
		}
	}
}

func (p *probe) send(pkt *protocol.Packet) error {
	if _, err := p.stream.Write(pkt.Bytes()); err != nil {
		return fmt.Errorf("send %s: %w", pkt.Type(), err)
	}
	return nil
}

// await returns the next packet of type want. Server pings are answered on
// the way; a DISCONNECT becomes a RejectedError.
func (p *probe) await(ctx context.Context, want protocol.Type) (*protocol.Packet, error) {
	for {
		select {
		case pkt, ok := <-p.pkts:
			if !ok {
				err := p.err
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if errors.Is(err, io.EOF) {
					return nil, &RejectedError{Reason: "connection closed"}
				}
				return nil, err
			}

			switch pkt.Type() {
			case want:
				return pkt, nil
			case protocol.TypePing:
				pong := protocol.New(protocol.TypePong)
				pong.AddUChar(pkt.NextUChar())
				if err := p.send(pong); err != nil {
					return nil, err
				}
			case protocol.TypeDisconnect:
				return nil, &RejectedError{Reason: pkt.NextString()}
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// dialProbe opens the stream cfg.Transport names.
func dialProbe(ctx context.Context, cfg *config.Probe) (connection.Stream, error) {
	switch cfg.Transport {
	case config.TransportTCP, "":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
		}
		return conn, nil

	case config.TransportWS:
		u, err := normalizeURL(cfg.Addr, "/ws")
		if err != nil {
			return nil, err
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u, err)
		}
		return transport.NewWSStream(conn), nil

	case config.TransportRTC:
		u, err := normalizeURL(cfg.Addr, "/rtc")
		if err != nil {
			return nil, err
		}
		stream, err := signaling.Dial(ctx, u, transport.RTCConfig{ICEServers: cfg.ICEServers})
		if err != nil {
			return nil, err
		}
		return stream, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// normalizeURL turns "host:port", http(s):// or ws(s):// input into a
// WebSocket URL ending in path.
func normalizeURL(raw, path string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid address: %s", raw)
	}

	scheme := "ws"
	switch u.Scheme {
	case "wss", "https":
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, path), nil
}
