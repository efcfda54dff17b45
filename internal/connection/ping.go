package connection

import (
	"slices"
	"time"

	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

const (
	maxPingIDs     = 256
	maxPingSamples = 120
	pingReclaimAge = 3 * time.Second
)

// SendPing sends a PING with the lowest free id. When all 256 ids are
// outstanding the oldest one older than three seconds is reused; if none is
// that old no ping goes out and SendPing reports false.
func (c *Client) SendPing() bool {
	if !c.Connected() {
		return false
	}

	now := c.now()

	c.pingMu.Lock()
	id, ok := c.pickPingID(now)
	if ok {
		c.sentPings[id] = now
	}
	c.pingMu.Unlock()

	if !ok {
		util.LogDebug("[%08x] ping skipped, all ids outstanding", c.tag)
		return false
	}

	p := protocol.New(protocol.TypePing)
	p.AddUChar(id)
	if err := c.Send(p); err != nil {
		c.pingMu.Lock()
		delete(c.sentPings, id)
		c.pingMu.Unlock()
		return false
	}
	return true
}

// pickPingID must be called with pingMu held.
func (c *Client) pickPingID(now time.Time) (uint8, bool) {
	if len(c.sentPings) < maxPingIDs {
		for id := 0; id < maxPingIDs; id++ {
			if _, used := c.sentPings[uint8(id)]; !used {
				return uint8(id), true
			}
		}
	}

	var (
		oldest   uint8
		oldestAt time.Time
		found    bool
	)
	for id, at := range c.sentPings {
		if now.Sub(at) <= pingReclaimAge {
			continue
		}
		if !found || at.Before(oldestAt) {
			oldest, oldestAt, found = id, at, true
		}
	}
	return oldest, found
}

// recordPong turns the outstanding ping with this id into an RTT sample.
// Unknown ids are ignored.
func (c *Client) recordPong(id uint8) {
	now := c.now()

	c.pingMu.Lock()
	sentAt, ok := c.sentPings[id]
	if !ok {
		c.pingMu.Unlock()
		return
	}
	delete(c.sentPings, id)

	rtt := now.Sub(sentAt)
	c.pingTimes = append(c.pingTimes, float64(rtt)/float64(time.Millisecond))
	if over := len(c.pingTimes) - maxPingSamples; over > 0 {
		c.pingTimes = append(c.pingTimes[:0], c.pingTimes[over:]...)
	}
	c.pingMu.Unlock()

	if obs, ok := c.srv.(LatencyObserver); ok {
		obs.ObserveLatency(c, rtt)
	}
}

// OutstandingPings returns the number of pings awaiting a PONG.
func (c *Client) OutstandingPings() int {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return len(c.sentPings)
}

// PingSamples returns a copy of the retained RTT samples in milliseconds,
// oldest first.
func (c *Client) PingSamples() []float64 {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return slices.Clone(c.pingTimes)
}

// LatestPing returns the newest RTT sample in milliseconds, or 0.
func (c *Client) LatestPing() float64 {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	if len(c.pingTimes) == 0 {
		return 0
	}
	return c.pingTimes[len(c.pingTimes)-1]
}

// AveragePing returns the mean RTT in milliseconds, or 0.
func (c *Client) AveragePing() float64 {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	if len(c.pingTimes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c.pingTimes {
		sum += v
	}
	return sum / float64(len(c.pingTimes))
}

// MedianPing returns the median RTT in milliseconds, or 0. An even sample
// count averages the two middle values.
func (c *Client) MedianPing() float64 {
	s := c.PingSamples()
	if len(s) == 0 {
		return 0
	}
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}
