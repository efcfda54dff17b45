// Package server runs the game server around connection.Client: accept
// loops for TCP, WebSocket and WebRTC streams, the live-client registry, the
// single-threaded tick loop and the admin HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/connection"
	"github.com/1ureka/gamenet/internal/metrics"
	"github.com/1ureka/gamenet/internal/player"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/store"
	"github.com/1ureka/gamenet/internal/util"
)

const (
	loginTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
	acceptBackoff   = 50 * time.Millisecond

	shutdownReason = "Server shutting down."
)

// HandlerFunc handles one game packet type. Returning false hands the
// packet on to the transport defaults.
type HandlerFunc func(p *protocol.Packet, c *connection.Client) bool

// Compile-time interface checks.
var (
	_ connection.Server          = (*Server)(nil)
	_ connection.LatencyObserver = (*Server)(nil)
)

// Server owns every live Client. Handlers run on the tick goroutine.
type Server struct {
	cfg      *config.Config
	opts     connection.Options
	accounts *store.Store
	players  *player.Registry
	metrics  *metrics.Metrics

	hmu      sync.RWMutex
	handlers map[protocol.Type]HandlerFunc

	mu      sync.RWMutex
	clients map[string]*connection.Client

	reapers sync.WaitGroup
}

// New creates a Server. accounts may be nil, in which case every login is
// accepted.
func New(cfg *config.Config, accounts *store.Store, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		opts:     clientOptions(cfg),
		accounts: accounts,
		players:  player.NewRegistry(cfg.MaxPlayers),
		metrics:  m,
		handlers: make(map[protocol.Type]HandlerFunc),
		clients:  make(map[string]*connection.Client),
	}
}

func clientOptions(cfg *config.Config) connection.Options {
	return connection.Options{
		Game:          cfg.Game,
		Version:       cfg.Version,
		AsyncSend:     cfg.AsyncSend,
		NetRate:       cfg.NetRate,
		PingInterval:  cfg.PingInterval,
		Precision:     cfg.Precision,
		JoinTimeout:   cfg.JoinTimeout,
		MaxPacketSize: cfg.MaxPacketSize,
		RateLimit:     rate.Limit(cfg.RateLimit),
		RateBurst:     cfg.RateBurst,
	}
}

// Handle registers fn for packets of type t, replacing any earlier one.
func (s *Server) Handle(t protocol.Type, fn HandlerFunc) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.handlers[t] = fn
}

// Adopt wraps an accepted stream in a Client and registers it. On error
// the stream is closed.
func (s *Server) Adopt(stream connection.Stream) (*connection.Client, error) {
	c, err := connection.New(stream, s, s.opts)
	if err != nil {
		stream.Close()
		return nil, err
	}

	s.mu.Lock()
	if c.Connected() {
		s.clients[c.ID()] = c
	}
	s.mu.Unlock()
	return c, nil
}

// Len returns the number of live clients.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// SendAllExcept broadcasts p to every live client but except, which may be
// nil. Each recipient gets its own copy; a failure on one does not stop
// the others.
func (s *Server) SendAllExcept(p *protocol.Packet, except *connection.Client) {
	for _, c := range s.Clients() {
		if c == except || !c.Connected() {
			continue
		}
		if err := c.Send(p); err != nil {
			util.LogDebug("[%08x] broadcast skipped: %v", c.Tag(), err)
		}
	}
}

// ---------------------------------------------------------------------------
// connection.Server
// ---------------------------------------------------------------------------

func (s *Server) ProcessPacket(p *protocol.Packet, c *connection.Client) bool {
	s.hmu.RLock()
	fn, ok := s.handlers[p.Type()]
	s.hmu.RUnlock()
	if !ok {
		return false
	}
	return fn(p, c)
}

func (s *Server) ValidateLogin(name, password string) bool {
	if s.accounts == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	ok, err := s.accounts.Verify(ctx, name, password)
	if err != nil {
		util.LogWarning("account check for %q: %v", name, err)
	}
	if !ok && s.metrics != nil {
		s.metrics.Login(metrics.LoginRejected)
	}
	return ok
}

func (s *Server) AddPlayer(p *player.Player) (uint16, error) {
	id, err := s.players.Add(p)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Login(metrics.LoginRejected)
		}
		return 0, err
	}
	s.observePlayers()
	return id, nil
}

func (s *Server) RemovePlayer(id uint16) {
	s.players.Remove(id)
	s.observePlayers()
}

func (s *Server) AcceptedClient(c *connection.Client) {
	if s.metrics != nil {
		s.metrics.Login(metrics.LoginAccepted)
	}
	util.LogInfo("[%08x] player %d joined (%d online)", c.Tag(), c.PlayerID(), s.players.Len())
}

// DroppedClient unregisters c and closes it on its own goroutine: the
// caller may be one of c's workers, which Close waits for.
func (s *Server) DroppedClient(c *connection.Client) {
	s.mu.Lock()
	delete(s.clients, c.ID())
	s.mu.Unlock()

	if id := c.ReleasePlayer(); id != 0 {
		s.RemovePlayer(id)
	}
	if s.metrics != nil {
		s.metrics.Disconnect()
	}

	s.reapers.Add(1)
	go func() {
		defer s.reapers.Done()
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			util.LogDebug("[%08x] close: %v", c.Tag(), err)
		}
	}()
}

func (s *Server) Clients() []*connection.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*connection.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Server) ObserveLatency(c *connection.Client, rtt time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveRTT(rtt)
	}
}

func (s *Server) observePlayers() {
	if s.metrics != nil {
		s.metrics.SetPlayers(s.players.Len())
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Run listens on the configured addresses and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var game, admin net.Listener
	var err error

	if s.cfg.GameAddr != "" {
		if game, err = net.Listen("tcp", s.cfg.GameAddr); err != nil {
			return fmt.Errorf("listen game %s: %w", s.cfg.GameAddr, err)
		}
	}
	if s.cfg.AdminAddr != "" {
		if admin, err = net.Listen("tcp", s.cfg.AdminAddr); err != nil {
			if game != nil {
				game.Close()
			}
			return fmt.Errorf("listen admin %s: %w", s.cfg.AdminAddr, err)
		}
	}
	return s.Serve(ctx, game, admin)
}

// Serve runs the accept loops on the given listeners (either may be nil),
// the tick loop and the stats reporter. It returns when ctx is done or a
// listener fails, after every client has been closed.
func (s *Server) Serve(ctx context.Context, game, admin net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var loops sync.WaitGroup

	if game != nil {
		util.LogInfo("game listening on %s", game.Addr())
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := s.acceptLoop(game); err != nil {
				errCh <- err
			}
		}()
	}

	var httpSrv *http.Server
	if admin != nil {
		util.LogInfo("admin listening on http://%s", admin.Addr())
		httpSrv = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := httpSrv.Serve(admin); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin http: %w", err)
			}
		}()
	}

	loops.Add(1)
	go func() {
		defer loops.Done()
		s.tickLoop(ctx)
	}()

	if s.cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, s.cfg.StatsInterval)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	// Shutdown: stop accepting, then drop every client.
	if game != nil {
		game.Close()
	}
	if httpSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = httpSrv.Shutdown(sctx)
		scancel()
	}
	loops.Wait()

	// A synchronous send could stall here on a peer that stopped reading.
	for _, c := range s.Clients() {
		if s.opts.AsyncSend {
			c.DisconnectNice(shutdownReason)
		} else {
			c.Disconnect()
		}
	}
	s.reapers.Wait()

	util.LogInfo("server stopped")
	return runErr
}

// acceptLoop adopts every TCP connection until ln is closed.
func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(acceptBackoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		if _, err := s.Adopt(conn); err != nil {
			util.LogWarning("adopt %s: %v", conn.RemoteAddr(), err)
		}
	}
}
