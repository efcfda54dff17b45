// Package connection manages one connected game client: a receive worker
// that frames the inbound stream, an optional send worker, the inbound and
// outbound packet queues, and the login, keepalive and disconnect protocol.
//
// Three goroutines touch a Client. The receive worker and the send worker
// are owned by the Client; every other method is meant for a single consumer
// goroutine (the server tick loop), except where noted as safe for any
// goroutine.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/1ureka/gamenet/internal/player"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

// Tuning constants.
const (
	readBufferSize   = 16 * 1024             // bytes per stream Read
	sendPollInterval = time.Millisecond      // send worker rest between queue swaps
	exitFlushTimeout = 500 * time.Millisecond // write deadline for the send worker's last flush
)

var (
	ErrNilStream    = errors.New("connection: nil stream")
	ErrNilServer    = errors.New("connection: nil server")
	ErrNotConnected = errors.New("connection: not connected")

	ErrBadCredentials = errors.New("connection: bad credentials")
	ErrLoggedIn       = errors.New("connection: already logged in")
)

// Stream is the byte pipe a Client owns. net.Conn satisfies it, as do the
// WebSocket and WebRTC streams in internal/transport.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// readDeadliner is implemented by streams that can interrupt a blocked Read.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// writeDeadliner is implemented by streams that can bound a blocked Write.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Server is what a Client needs from the game server.
type Server interface {
	// ProcessPacket offers a packet to game code before the transport looks
	// at it. Returning true claims it.
	ProcessPacket(p *protocol.Packet, c *Client) bool

	// ValidateLogin checks credentials.
	ValidateLogin(name, password string) bool

	// AddPlayer stores a new record and returns its id. On error nothing
	// may remain stored.
	AddPlayer(p *player.Player) (uint16, error)

	// RemovePlayer deletes the record issued as id.
	RemovePlayer(id uint16)

	// AcceptedClient is called once a login completed.
	AcceptedClient(c *Client)

	// DroppedClient is called exactly once per Client, from whichever
	// goroutine noticed the disconnect first.
	DroppedClient(c *Client)

	// Clients enumerates the live connections.
	Clients() []*Client

	// SendAllExcept sends p to every live client but except.
	SendAllExcept(p *protocol.Packet, except *Client)
}

// LatencyObserver is optionally implemented by a Server that wants every
// round-trip sample.
type LatencyObserver interface {
	ObserveLatency(c *Client, rtt time.Duration)
}

// State is the lifecycle position of a Client.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a Client.
type Options struct {
	Game    string // a LOGIN for any other game is dropped without a word
	Version string // a LOGIN for another version is told why before the drop

	AsyncSend    bool // run a send worker; otherwise Send writes on the caller's goroutine
	NetRate      float64
	PingInterval time.Duration
	Precision    int8

	JoinTimeout   time.Duration // Close waits this long for the workers before closing the stream
	MaxPacketSize int

	RateLimit rate.Limit // inbound packets per second; 0 disables
	RateBurst int
}

// DefaultOptions mirrors config.Default().
func DefaultOptions() Options {
	return Options{
		AsyncSend:     true,
		NetRate:       30,
		PingInterval:  4 * time.Second,
		JoinTimeout:   2 * time.Second,
		MaxPacketSize: protocol.DefaultMaxPacketSize,
	}
}

// Client is one connected game client.
type Client struct {
	// Identity
	id   string
	tag  uint32
	addr net.Addr

	// Collaborators
	stream Stream
	srv    Server
	opts   Options

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	state     atomic.Int32
	connected atomic.Bool
	inDone    chan struct{}
	outDone   chan struct{}
	closeOnce sync.Once
	closeErr  error

	synchronized atomic.Bool
	playerID     atomic.Uint32
	netRate      atomic.Uint64 // float64 bits

	bytesSent atomic.Uint64
	bytesRecv atomic.Uint64

	// Queues. Each is guarded by its own lock and holds packets owned by
	// whichever side removes them next.
	inMu  sync.Mutex
	in    []*protocol.Packet
	outMu sync.Mutex
	out   []*protocol.Packet

	writeMu sync.Mutex

	// Keepalive state.
	pingMu    sync.Mutex
	sentPings map[uint8]time.Time
	pingTimes []float64 // milliseconds, oldest first

	limiter *rate.Limiter
	now     func() time.Time
}

// New wraps an accepted stream and starts its workers. On error the stream
// is left open and no goroutine was started.
func New(stream Stream, srv Server, opts Options) (*Client, error) {
	c, err := newClient(stream, srv, opts)
	if err != nil {
		return nil, err
	}
	c.start()
	return c, nil
}

// newClient builds a Client in the Connecting state without starting
// workers.
func newClient(stream Stream, srv Server, opts Options) (*Client, error) {
	if stream == nil {
		return nil, ErrNilStream
	}
	if srv == nil {
		return nil, ErrNilServer
	}

	def := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = def.JoinTimeout
	}
	if opts.MaxPacketSize <= 0 {
		opts.MaxPacketSize = def.MaxPacketSize
	}
	if opts.NetRate <= 0 {
		opts.NetRate = def.NetRate
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	c := &Client{
		id:        id,
		tag:       util.TagFor(stream.RemoteAddr(), id),
		addr:      stream.RemoteAddr(),
		stream:    stream,
		srv:       srv,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		inDone:    make(chan struct{}),
		outDone:   make(chan struct{}),
		sentPings: make(map[uint8]time.Time),
		now:       time.Now,
	}
	c.SetNetRate(opts.NetRate)

	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(opts.RateLimit, max(opts.RateBurst, 1))
	}
	return c, nil
}

// start launches the workers and moves the Client to Connected.
func (c *Client) start() {
	c.state.Store(int32(StateConnected))
	c.connected.Store(true)
	util.Stats.AddConn()

	go c.receiveLoop()
	if c.opts.AsyncSend {
		go c.sendLoop()
	} else {
		close(c.outDone)
	}

	util.LogDebug("[%08x] client connected from %s", c.tag, c.RemoteAddr())
}

// ---------------------------------------------------------------------------
// Accessors (safe for any goroutine)
// ---------------------------------------------------------------------------

// ID returns the session id, unique for the lifetime of the process.
func (c *Client) ID() string { return c.id }

// Tag returns the short tag prefixed to this client's log lines.
func (c *Client) Tag() uint32 { return c.tag }

// RemoteAddr returns the peer address as "ip:port".
func (c *Client) RemoteAddr() string {
	if c.addr == nil {
		return "unknown"
	}
	return c.addr.String()
}

// RemoteIP returns the peer IP, or nil if the stream has no IP address.
func (c *Client) RemoteIP() net.IP {
	if a, ok := c.addr.(*net.TCPAddr); ok {
		return a.IP
	}
	if c.addr == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(c.addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// RemotePort returns the peer port, or 0 if unknown.
func (c *Client) RemotePort() int {
	if a, ok := c.addr.(*net.TCPAddr); ok {
		return a.Port
	}
	if c.addr == nil {
		return 0
	}
	_, port, err := net.SplitHostPort(c.addr.String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// Connected reports whether the Client still accepts traffic.
func (c *Client) Connected() bool { return c.connected.Load() }

// State returns the lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Synchronized reports whether game code finished the initial state sync.
func (c *Client) Synchronized() bool { return c.synchronized.Load() }

// SetSynchronized is called by game code once the client holds the full
// game state. Disconnect clears it.
func (c *Client) SetSynchronized(v bool) { c.synchronized.Store(v) }

// PlayerID returns the id bound at login, or 0 before login.
func (c *Client) PlayerID() uint16 { return uint16(c.playerID.Load()) }

// ReleasePlayer unbinds the player id and returns it, or 0 when none was
// bound. Only one caller ever gets a given id back, so the record is
// removed exactly once.
func (c *Client) ReleasePlayer() uint16 { return uint16(c.playerID.Swap(0)) }

// NetRate returns how many state updates per second this client wants.
func (c *Client) NetRate() float64 {
	return math.Float64frombits(c.netRate.Load())
}

// SetNetRate changes the update rate.
func (c *Client) SetNetRate(r float64) {
	c.netRate.Store(math.Float64bits(r))
}

// PingInterval returns how often the server should ping this client.
func (c *Client) PingInterval() time.Duration { return c.opts.PingInterval }

// Precision returns the numeric precision hint for game encoders.
func (c *Client) Precision() int8 { return c.opts.Precision }

// AsyncSend reports whether this client runs a send worker.
func (c *Client) AsyncSend() bool { return c.opts.AsyncSend }

// BytesSent returns the cumulative bytes written to the stream.
func (c *Client) BytesSent() uint64 { return c.bytesSent.Load() }

// BytesReceived returns the cumulative bytes read from the stream.
func (c *Client) BytesReceived() uint64 { return c.bytesRecv.Load() }

// Done returns a channel closed when Disconnect has been called.
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Client) String() string {
	return fmt.Sprintf("client[%08x %s]", c.tag, c.RemoteAddr())
}

// ---------------------------------------------------------------------------
// Disconnect and teardown
// ---------------------------------------------------------------------------

// Disconnect marks the client gone and notifies the server exactly once,
// however many goroutines call it. Resources are released later by Close,
// after the workers have stopped. Safe for any goroutine.
func (c *Client) Disconnect() {
	c.synchronized.Store(false)

	if !c.connected.CompareAndSwap(true, false) {
		return
	}

	c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting))
	c.cancel()

	util.LogInfo("[%08x] client dropped: %s", c.tag, c.RemoteAddr())
	c.srv.DroppedClient(c)
}

// DisconnectNice tells the peer why before disconnecting. Delivery is best
// effort; a broken link just drops the message.
func (c *Client) DisconnectNice(reason string) {
	if c.Connected() {
		p := protocol.New(protocol.TypeDisconnect)
		p.AddString(reason)
		if err := c.Send(p); err != nil {
			util.LogDebug("[%08x] disconnect reason not sent: %v", c.tag, err)
		}
	}
	c.Disconnect()
}

// Close disconnects, waits up to JoinTimeout for both workers to exit, then
// closes the stream and discards whatever is still queued. A worker that
// has not exited in time is parked in a stream call; closing the stream is
// what unblocks it. Close blocks and is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.Disconnect()

		if d, ok := c.stream.(readDeadliner); ok {
			_ = d.SetReadDeadline(time.Now())
		}

		if !c.waitWorkers(c.opts.JoinTimeout) {
			util.LogWarning("[%08x] workers still running after %v, closing stream", c.tag, c.opts.JoinTimeout)
		}

		c.closeErr = c.stream.Close()

		if !c.waitWorkers(c.opts.JoinTimeout) {
			util.LogError("[%08x] workers did not exit after stream close", c.tag)
		}

		c.cleanup()
		c.state.Store(int32(StateClosed))
		util.Stats.RemoveConn()
	})
	return c.closeErr
}

// waitWorkers reports whether both workers exited within d.
func (c *Client) waitWorkers(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for _, done := range []chan struct{}{c.inDone, c.outDone} {
		select {
		case <-done:
		case <-timer.C:
			return false
		}
	}
	return true
}

// cleanup discards both queues.
func (c *Client) cleanup() {
	c.inMu.Lock()
	dropped := len(c.in)
	c.in = nil
	c.inMu.Unlock()

	c.outMu.Lock()
	dropped += len(c.out)
	c.out = nil
	c.outMu.Unlock()

	if dropped > 0 {
		util.LogDebug("[%08x] discarded %d queued packets", c.tag, dropped)
	}
}
