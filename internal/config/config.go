// Package config holds the server and probe configuration types.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/gamenet/internal/protocol"
)

// Transport selects how a probe reaches the server.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportWS  Transport = "ws"
	TransportRTC Transport = "rtc"
)

// Config stores every server parameter, normally filled from CLI flags.
type Config struct {
	GameAddr  string // TCP listen address for game clients
	AdminAddr string // HTTP listen address for /metrics, /clients, /ws and /rtc; empty disables

	Game    string // game name a LOGIN must carry
	Version string // protocol version a LOGIN must carry

	AsyncSend    bool          // give every connection a dedicated send worker
	NetRate      float64       // ticks per second of the consumer loop
	PingInterval time.Duration // how often each connection is pinged
	Precision    int8          // numeric precision hint handed to game code
	JoinTimeout  time.Duration // how long teardown waits for workers before closing the stream

	MaxPacketSize int     // largest declared packet length accepted off the wire
	RateLimit     float64 // inbound packets per second per connection; 0 disables
	RateBurst     int     // token bucket capacity for RateLimit

	MaxPlayers   int    // player record capacity
	AccountsDB   string // SQLite path for accounts; empty accepts every login
	AutoRegister bool   // create unknown accounts on first login

	ICEServers []string // STUN/TURN URLs for /rtc peers; nil uses public STUN

	StatsInterval time.Duration // traffic summary period; 0 disables
}

// Default returns a configuration that runs out of the box.
func Default() *Config {
	return &Config{
		GameAddr:      ":7000",
		AdminAddr:     "127.0.0.1:7001",
		Game:          "Raptor",
		Version:       "0.1",
		AsyncSend:     true,
		NetRate:       30,
		PingInterval:  4 * time.Second,
		Precision:     0,
		JoinTimeout:   2 * time.Second,
		MaxPacketSize: protocol.DefaultMaxPacketSize,
		RateLimit:     200,
		RateBurst:     400,
		MaxPlayers:    255,
		AutoRegister:  true,
		StatsInterval: 10 * time.Second,
	}
}

// Validate reports the first unusable value.
func (c *Config) Validate() error {
	var errs []error
	if c.GameAddr == "" && c.AdminAddr == "" {
		errs = append(errs, errors.New("at least one of the game or admin address is required"))
	}
	if c.Game == "" {
		errs = append(errs, errors.New("game name must not be empty"))
	}
	if c.NetRate <= 0 {
		errs = append(errs, fmt.Errorf("net rate must be positive, got %v", c.NetRate))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("ping interval must be positive, got %v", c.PingInterval))
	}
	if c.JoinTimeout <= 0 {
		errs = append(errs, fmt.Errorf("join timeout must be positive, got %v", c.JoinTimeout))
	}
	if c.MaxPacketSize < protocol.HeaderSize {
		errs = append(errs, fmt.Errorf("max packet size must be at least %d, got %d", protocol.HeaderSize, c.MaxPacketSize))
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst < 1) {
		errs = append(errs, fmt.Errorf("invalid rate limit %v/s burst %d", c.RateLimit, c.RateBurst))
	}
	if c.MaxPlayers < 1 || c.MaxPlayers > 65535 {
		errs = append(errs, fmt.Errorf("max players must be 1~65535, got %d", c.MaxPlayers))
	}
	return errors.Join(errs...)
}

// Probe stores the parameters of a probe run.
type Probe struct {
	Transport Transport
	Addr      string // host:port for tcp, ws:// or http:// URL for ws and rtc
	Game      string
	Version   string
	Name      string
	Password  string
	Pings     int
	Interval  time.Duration
	Timeout   time.Duration

	ICEServers []string
}

// DefaultProbe returns probe defaults that match Default().
func DefaultProbe() *Probe {
	return &Probe{
		Transport: TransportTCP,
		Addr:      "127.0.0.1:7000",
		Game:      "Raptor",
		Version:   "0.1",
		Name:      "probe",
		Pings:     5,
		Interval:  500 * time.Millisecond,
		Timeout:   10 * time.Second,
	}
}
