package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/gamenet/internal/app"
	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/util"
)

func probeCmd() *cobra.Command {
	cfg := config.DefaultProbe()
	transport := string(cfg.Transport)

	cmd := &cobra.Command{
		Use:   "probe [addr]",
		Short: "Log in to a server and measure round trips",
		Example: `  gamenet probe 127.0.0.1:7000
  gamenet probe --transport ws localhost:7001
  gamenet probe --transport rtc https://game.example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.Addr = args[0]
			}
			cfg.Transport = config.Transport(transport)
			if cfg.Pings < 0 {
				return fmt.Errorf("--pings must not be negative")
			}

			res, err := app.Probe(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if len(res.RTTs) > 0 {
				util.LogSuccess("%d pings, average %v", len(res.RTTs), res.Average().Round(time.Microsecond))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&transport, "transport", "t", transport, "tcp, ws or rtc")
	f.StringVar(&cfg.Game, "game", cfg.Game, "Game name sent in LOGIN")
	f.StringVar(&cfg.Version, "game-version", cfg.Version, "Version sent in LOGIN")
	f.StringVarP(&cfg.Name, "name", "n", cfg.Name, "Account name")
	f.StringVarP(&cfg.Password, "password", "p", cfg.Password, "Account password")
	f.IntVarP(&cfg.Pings, "pings", "c", cfg.Pings, "Number of round trips to measure")
	f.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Pause between pings")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Give up after this long")
	f.StringSliceVar(&cfg.ICEServers, "ice", nil, "STUN/TURN URLs for --transport rtc (default public STUN)")

	return cmd
}
