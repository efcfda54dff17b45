package main

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/gamenet/internal/app"
	"github.com/1ureka/gamenet/internal/config"
)

func serveCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Long: `Run the game server.

Game clients connect over raw TCP on --listen. The admin address serves
/healthz, /metrics and /clients, and also accepts clients over WebSocket
(/ws) and WebRTC data channels (/rtc).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Serve(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.GameAddr, "listen", cfg.GameAddr, "TCP address for game clients; empty disables")
	f.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "HTTP address for admin, WebSocket and WebRTC; empty disables")
	f.StringVar(&cfg.Game, "game", cfg.Game, "Game name a LOGIN must carry")
	f.StringVar(&cfg.Version, "game-version", cfg.Version, "Version a LOGIN must carry")
	f.BoolVar(&cfg.AsyncSend, "async-send", cfg.AsyncSend, "Give every connection a dedicated send worker")
	f.Float64Var(&cfg.NetRate, "net-rate", cfg.NetRate, "Server ticks per second")
	f.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "How often each connection is pinged")
	f.Int8Var(&cfg.Precision, "precision", cfg.Precision, "Numeric precision hint for game code")
	f.DurationVar(&cfg.JoinTimeout, "join-timeout", cfg.JoinTimeout, "How long teardown waits for a connection's workers")
	f.IntVar(&cfg.MaxPacketSize, "max-packet", cfg.MaxPacketSize, "Largest packet accepted, in bytes")
	f.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Inbound packets per second per connection; 0 disables")
	f.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "Burst allowance for --rate-limit")
	f.IntVar(&cfg.MaxPlayers, "max-players", cfg.MaxPlayers, "Player capacity (1~65535)")
	f.StringVar(&cfg.AccountsDB, "accounts", cfg.AccountsDB, "SQLite account database; empty accepts every login")
	f.BoolVar(&cfg.AutoRegister, "auto-register", cfg.AutoRegister, "Create unknown accounts on first login")
	f.StringSliceVar(&cfg.ICEServers, "ice", nil, "STUN/TURN URLs for WebRTC peers (default public STUN)")
	f.DurationVar(&cfg.StatsInterval, "stats", cfg.StatsInterval, "Traffic summary period; 0 disables")

	return cmd
}
