package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultSTUN is used when RTCConfig names no ICE servers.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// RTCConfig configures the WebRTC peer behind an RTC stream.
type RTCConfig struct {
	// ICEServers lists STUN/TURN URLs. Nil means DefaultSTUN; an empty,
	// non-nil slice gathers host candidates only.
	ICEServers []string
}

// newPeerConnection creates a PeerConnection whose data channels can be
// detached into plain byte streams.
func newPeerConnection(cfg RTCConfig) (*webrtc.PeerConnection, error) {
	urls := cfg.ICEServers
	if urls == nil {
		urls = DefaultSTUN
	}

	var config webrtc.Configuration
	if len(urls) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: urls}}
	}

	var se webrtc.SettingEngine
	se.DetachDataChannels()

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(config)
}

// newDataChannel creates the pre-negotiated game channel (ID 0). It is
// ordered and reliable: the framer needs every byte, in order.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("game", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
