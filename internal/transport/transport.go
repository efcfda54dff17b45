// Package transport provides the byte streams a connection.Client can run
// over besides plain TCP: a WebSocket stream and a WebRTC data-channel
// stream. Both carry the same framed packets.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/gamenet/internal/util"
)

// Peer wraps a single PeerConnection and its game DataChannel. Signaling
// drives it through the offer/answer methods; Stream turns the open channel
// into a connection.Stream.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time.
type Peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	openSignal  chan struct{}
	drainSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewPeer creates a Peer backed by a new PeerConnection and a pre-negotiated
// DataChannel.
func NewPeer(ctx context.Context, cfg RTCConfig) (*Peer, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("new data channel: %w", err)
	}

	pCtx, pCancel := context.WithCancel(ctx)

	p := &Peer{
		pc:          pc,
		dc:          dc,
		openSignal:  make(chan struct{}),
		drainSignal: make(chan struct{}, 1),
		ctx:         pCtx,
		cancel:      pCancel,
		pcState:     webrtc.PeerConnectionStateNew,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(p.openSignal) })
	})

	dc.OnClose(func() {
		util.LogDebug("data channel closed")
		pCancel()
	})

	dc.SetBufferedAmountLowThreshold(lowWaterMark)
	dc.OnBufferedAmountLow(func() {
		select {
		case p.drainSignal <- struct{}{}:
		default:
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("peer connection state: %s", state)
		p.mu.Lock()
		p.pcState = state
		p.mu.Unlock()

		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			pCancel()
		}
	})

	return p, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed once the DataChannel is open.
func (p *Peer) Ready() <-chan struct{} { return p.openSignal }

// Done returns a channel that is closed when the Peer shuts down.
func (p *Peer) Done() <-chan struct{} { return p.ctx.Done() }

// Close shuts down the DataChannel and PeerConnection.
func (p *Peer) Close() error {
	p.cancel()
	return errors.Join(p.dc.Close(), p.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pcState
}

// Stream waits for the DataChannel to open and detaches it into a byte
// stream. remote is reported as the stream's RemoteAddr. On success the
// stream owns the Peer.
func (p *Peer) Stream(ctx context.Context, remote net.Addr) (*RTCStream, error) {
	select {
	case <-p.openSignal:
	case <-p.ctx.Done():
		return nil, errors.New("transport: peer closed before data channel opened")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	raw, err := p.dc.Detach()
	if err != nil {
		return nil, fmt.Errorf("detach data channel: %w", err)
	}
	return newRTCStream(raw, p, remote), nil
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}
