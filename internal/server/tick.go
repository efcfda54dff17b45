package server

import (
	"context"
	"time"
)

// tickLoop is the single consumer of every client's inbound queue. Each
// tick it drains all clients and pings those that are due.
func (s *Server) tickLoop(ctx context.Context) {
	period := time.Duration(float64(time.Second) / s.cfg.NetRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	lastPing := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now, lastPing)
		}
	}
}

func (s *Server) tick(now time.Time, lastPing map[string]time.Time) {
	clients := s.Clients()
	live := make(map[string]struct{}, len(clients))

	for _, c := range clients {
		live[c.ID()] = struct{}{}
		c.DrainAll()

		if !c.Connected() {
			continue
		}
		if last, ok := lastPing[c.ID()]; !ok || now.Sub(last) >= c.PingInterval() {
			c.SendPing()
			lastPing[c.ID()] = now
		}
	}

	for id := range lastPing {
		if _, ok := live[id]; !ok {
			delete(lastPing, id)
		}
	}
}
