package connection

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

// ---------------------------------------------------------------------------
// Stream → inbound queue
// ---------------------------------------------------------------------------

// receiveLoop reads the stream, frames it, and queues each complete packet.
// EOF or any read error disconnects. It closes inDone on exit so Close can
// tell it has stopped.
func (c *Client) receiveLoop() {
	defer close(c.inDone)

	framer := protocol.NewFramer(c.opts.MaxPacketSize)
	buf := make([]byte, readBufferSize)

	for c.Connected() {
		n, err := c.stream.Read(buf)

		if n > 0 {
			// Dropped by another goroutine while we were blocked.
			if !c.Connected() {
				return
			}

			c.bytesRecv.Add(uint64(n))
			util.Stats.AddRecv(n)

			if ferr := framer.Ingest(buf[:n]); ferr != nil {
				util.LogWarning("[%08x] %v", c.tag, ferr)
				c.Disconnect()
				return
			}

			for pkt, ok := framer.TakeNext(); ok; pkt, ok = framer.TakeNext() {
				util.Stats.AddPacketsRecv()

				if c.limiter != nil && !c.limiter.Allow() {
					util.LogWarning("[%08x] rate limit exceeded", c.tag)
					c.DisconnectNice("Rate limit exceeded.")
					return
				}

				c.inMu.Lock()
				c.in = append(c.in, pkt)
				c.inMu.Unlock()
			}
		}

		if err != nil {
			if c.Connected() && !isClosedErr(err) {
				util.LogDebug("[%08x] read error: %v", c.tag, err)
			}
			c.Disconnect()
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Outbound queue → stream
// ---------------------------------------------------------------------------

// sendLoop is the single writer in asynchronous mode. Each round it takes
// the whole outbound queue in one lock hold and writes it outside the lock.
// After Disconnect it makes one bounded attempt to flush what is left, which
// is how a DisconnectNice reason gets out.
func (c *Client) sendLoop() {
	defer close(c.outDone)

	ticker := time.NewTicker(sendPollInterval)
	defer ticker.Stop()

	for {
		for _, pkt := range c.takeOut() {
			if err := c.transmit(pkt); err != nil {
				break
			}
		}

		select {
		case <-c.ctx.Done():
			c.flushOnExit()
			return
		case <-ticker.C:
		}
	}
}

// takeOut swaps the outbound queue for an empty one.
func (c *Client) takeOut() []*protocol.Packet {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	pending := c.out
	c.out = nil
	return pending
}

func (c *Client) flushOnExit() {
	pending := c.takeOut()
	if len(pending) == 0 {
		return
	}
	if d, ok := c.stream.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(exitFlushTimeout))
	}
	for _, pkt := range pending {
		if err := c.write(pkt); err != nil {
			return
		}
	}
}

// isClosedErr reports errors that just mean the stream went away.
func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
