// Package signaling negotiates a WebRTC data channel over a WebSocket and
// hands back a ready stream. The server side offers; the dialing client
// answers.
package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/1ureka/gamenet/internal/transport"
	"github.com/1ureka/gamenet/internal/util"
)

// Accept runs the offering side over an already upgraded WebSocket. The
// WebSocket is only needed until the data channel opens; the caller closes
// it afterwards.
func Accept(ctx context.Context, ws *websocket.Conn, cfg transport.RTCConfig) (*transport.RTCStream, error) {
	return negotiate(ctx, ws, cfg, true)
}

// Dial connects to a signaling endpoint and runs the answering side.
func Dial(ctx context.Context, url string, cfg transport.RTCConfig) (*transport.RTCStream, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to signaling server: %w", err)
	}
	defer ws.Close()
	util.LogDebug("signaling connected: %s", url)

	return negotiate(ctx, ws, cfg, false)
}

func negotiate(ctx context.Context, ws *websocket.Conn, cfg transport.RTCConfig, offerer bool) (*transport.RTCStream, error) {
	peer, err := transport.NewPeer(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	s := &sender{peer: peer, conn: ws}
	r := &receiver{peer: peer, conn: ws, sender: s}

	peer.OnICECandidate(s.sendCandidate)

	// Exits when ws is closed by the caller.
	errCh := make(chan error, 1)
	go func() { errCh <- r.watch() }()

	if offerer {
		if err := s.sendOffer(); err != nil {
			peer.Close()
			return nil, fmt.Errorf("send offer: %w", err)
		}
	}

	select {
	case <-peer.Ready():
	case err := <-errCh:
		// The far end may drop the WebSocket as soon as its channel is up.
		select {
		case <-peer.Ready():
		default:
			peer.Close()
			return nil, fmt.Errorf("signaling failed: %w", err)
		}
	case <-ctx.Done():
		peer.Close()
		return nil, ctx.Err()
	}

	stream, err := peer.Stream(ctx, ws.RemoteAddr())
	if err != nil {
		peer.Close()
		return nil, err
	}
	util.LogDebug("data channel established with %s", ws.RemoteAddr())
	return stream, nil
}
