// Package app contains the top-level orchestration behind the CLI commands.
package app

import (
	"context"
	"fmt"

	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/metrics"
	"github.com/1ureka/gamenet/internal/server"
	"github.com/1ureka/gamenet/internal/store"
	"github.com/1ureka/gamenet/internal/util"
)

// Serve opens the account store, if one is configured, and runs a server
// until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var accounts *store.Store
	if cfg.AccountsDB != "" {
		var err error
		if accounts, err = store.Open(cfg.AccountsDB, cfg.AutoRegister); err != nil {
			return err
		}
		defer accounts.Close()
		util.LogInfo("accounts: %s (auto-register %v)", cfg.AccountsDB, cfg.AutoRegister)
	} else {
		util.LogWarning("no accounts database, every login is accepted")
	}

	srv := server.New(cfg, accounts, metrics.New("gamenet"))
	return srv.Run(ctx)
}

// AddAccount creates one account in the database at path.
func AddAccount(ctx context.Context, path, name, password string) error {
	accounts, err := store.Open(path, false)
	if err != nil {
		return err
	}
	defer accounts.Close()
	return accounts.Add(ctx, name, password)
}
