package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/1ureka/gamenet/internal/signaling"
	"github.com/1ureka/gamenet/internal/transport"
	"github.com/1ureka/gamenet/internal/util"
)

const signalTimeout = 15 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientInfo is one row of the /clients listing.
type ClientInfo struct {
	ID           string  `json:"id"`
	Tag          string  `json:"tag"`
	Addr         string  `json:"addr"`
	State        string  `json:"state"`
	PlayerID     uint16  `json:"player_id,omitempty"`
	Synchronized bool    `json:"synchronized"`
	LatestPing   float64 `json:"latest_ping_ms"`
	AveragePing  float64 `json:"average_ping_ms"`
	MedianPing   float64 `json:"median_ping_ms"`
	BytesSent    uint64  `json:"bytes_sent"`
	BytesRecv    uint64  `json:"bytes_received"`
}

// Router returns the admin HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/clients", s.handleClients)
	r.Get("/ws", s.handleWS)
	r.Get("/rtc", s.handleRTC)
	return r
}

// Snapshot describes every live client, ordered by player id then address.
func (s *Server) Snapshot() []ClientInfo {
	clients := s.Clients()
	out := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, ClientInfo{
			ID:           c.ID(),
			Tag:          fmt.Sprintf("%08x", c.Tag()),
			Addr:         c.RemoteAddr(),
			State:        c.State().String(),
			PlayerID:     c.PlayerID(),
			Synchronized: c.Synchronized(),
			LatestPing:   c.LatestPing(),
			AveragePing:  c.AveragePing(),
			MedianPing:   c.MedianPing(),
			BytesSent:    c.BytesSent(),
			BytesRecv:    c.BytesReceived(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayerID != out[j].PlayerID {
			return out[i].PlayerID < out[j].PlayerID
		}
		return out[i].Addr < out[j].Addr
	})
	return out
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		util.LogDebug("encode /clients: %v", err)
	}
}

// handleWS upgrades to a WebSocket that carries the packet stream directly.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if _, err := s.Adopt(transport.NewWSStream(conn)); err != nil {
		util.LogWarning("adopt ws %s: %v", r.RemoteAddr, err)
	}
}

// handleRTC upgrades to a signaling WebSocket, negotiates a data channel
// and adopts it. The WebSocket is closed once the channel is up.
func (s *Server) handleRTC(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	stream, err := signaling.Accept(ctx, ws, transport.RTCConfig{ICEServers: s.cfg.ICEServers})
	if err != nil {
		util.LogWarning("rtc signaling with %s: %v", r.RemoteAddr, err)
		return
	}
	if _, err := s.Adopt(stream); err != nil {
		util.LogWarning("adopt rtc %s: %v", r.RemoteAddr, err)
	}
}
