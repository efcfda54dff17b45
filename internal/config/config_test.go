package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listeners", func(c *Config) { c.GameAddr, c.AdminAddr = "", "" }},
		{"empty game", func(c *Config) { c.Game = "" }},
		{"zero net rate", func(c *Config) { c.NetRate = 0 }},
		{"zero ping interval", func(c *Config) { c.PingInterval = 0 }},
		{"negative join timeout", func(c *Config) { c.JoinTimeout = -time.Second }},
		{"packet smaller than header", func(c *Config) { c.MaxPacketSize = 4 }},
		{"rate without burst", func(c *Config) { c.RateLimit, c.RateBurst = 10, 0 }},
		{"too many players", func(c *Config) { c.MaxPlayers = 70000 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected an error, got nil")
			}
		})
	}
}

func TestRateLimitDisabledNeedsNoBurst(t *testing.T) {
	c := Default()
	c.RateLimit, c.RateBurst = 0, 0
	if err := c.Validate(); err != nil {
		t.Fatalf("disabled rate limit should validate, got %v", err)
	}
}
