package connection

import (
	"fmt"
	"io"

	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

// Send transmits p. With a send worker it queues a copy and returns at
// once, so the caller keeps ownership of p. Without one it writes on the
// calling goroutine and blocks until the stream accepts the bytes. Safe for
// any goroutine.
func (c *Client) Send(p *protocol.Packet) error {
	if c.opts.AsyncSend {
		return c.enqueue(p)
	}
	return c.sendNow(p)
}

// SendOthers broadcasts p through the server to every other live client.
func (c *Client) SendOthers(p *protocol.Packet) {
	c.srv.SendAllExcept(p, c)
}

// enqueue appends a copy of p to the outbound queue.
func (c *Client) enqueue(p *protocol.Packet) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	cp := p.Clone()

	c.outMu.Lock()
	c.out = append(c.out, cp)
	c.outMu.Unlock()
	return nil
}

// sendNow writes p if still connected.
func (c *Client) sendNow(p *protocol.Packet) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.transmit(p)
}

// transmit writes p and disconnects on failure. The send worker calls it
// directly: anything it took off the queue was accepted while connected and
// still goes out.
func (c *Client) transmit(p *protocol.Packet) error {
	if err := c.write(p); err != nil {
		if c.Connected() && !isClosedErr(err) {
			util.LogDebug("[%08x] write error: %v", c.tag, err)
		}
		c.Disconnect()
		return err
	}
	return nil
}

// write puts the wire image on the stream. Writes are serialised so that
// packets from different goroutines never interleave.
func (c *Client) write(p *protocol.Packet) error {
	data := p.Bytes()

	c.writeMu.Lock()
	n, err := c.stream.Write(data)
	c.writeMu.Unlock()

	if n > 0 {
		c.bytesSent.Add(uint64(n))
		util.Stats.AddSent(n)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", p.Type(), err)
	}
	if n < len(data) {
		return fmt.Errorf("write %s: %w", p.Type(), io.ErrShortWrite)
	}
	return nil
}

// queuedOut returns the number of packets waiting for the send worker.
func (c *Client) queuedOut() int {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return len(c.out)
}
