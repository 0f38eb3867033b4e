package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/packrelay/packrelay/internal/config"
	"github.com/packrelay/packrelay/internal/engine"
	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/payment"
	"github.com/packrelay/packrelay/internal/relay"
	"github.com/packrelay/packrelay/internal/store"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "packrelay.yaml"
	}
	return filepath.Join(home, ".packrelay", "config.yaml")
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func setupLogging(opts *RootOptions, cfg config.Config) *slog.Logger {
	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// clientContext bundles everything a connected command needs.
type clientContext struct {
	cfg     config.Config
	log     *slog.Logger
	pool    *relay.Pool
	session *engine.Session
	archive *store.Archive
}

func (c *clientContext) close() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.archive != nil {
		_ = c.archive.Close()
	}
}

// loadClient loads config and builds the session. With connect=false no
// relay is dialed; only archive-backed commands do that.
func loadClient(ctx context.Context, opts *RootOptions, connect bool) (*clientContext, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}
	log := setupLogging(opts, cfg)

	c := &clientContext{cfg: cfg, log: log}
	if cfg.Archive != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Archive), 0o700); err != nil {
			return nil, WrapExitError(ExitCommandError, "creating archive directory", err)
		}
		archive, err := store.Open(cfg.Archive)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "opening fact archive", err)
		}
		c.archive = archive
	}

	c.pool = relay.NewPool(
		relay.WithLogger(log),
		relay.WithConnectTimeout(cfg.Timeouts.Connect.Std()),
		relay.WithQueryTimeout(cfg.Timeouts.Query.Std()),
		relay.WithSettleWait(cfg.Timeouts.Settle.Std()),
	)
	if connect {
		if !c.pool.Connect(ctx, cfg.Relays) {
			c.close()
			return nil, WrapExitError(ExitCommandError, "no relay reachable", nil)
		}
		log.Debug("relay mesh connected", "live", c.pool.Connected(), "configured", len(cfg.Relays))
	}

	sessionOpts := []engine.SessionOption{
		engine.WithSessionLogger(log),
		engine.WithWallet(walletFor(cfg, log)),
		engine.WithPolicy(cfg.PolicyConfig()),
	}
	if c.archive != nil {
		sessionOpts = append(sessionOpts, engine.WithArchive(c.archive))
	}
	c.session = engine.NewSession(c.pool, fact.HashSigner{Actor: cfg.Actor}, sessionOpts...)
	return c, nil
}

// walletFor validates the configured wallet connect string. This build
// ships no payment bridge, so even a valid URL leaves payments
// unavailable; saying so up front beats a bare unavailable error deep in
// a confirm or cancel.
func walletFor(cfg config.Config, log *slog.Logger) payment.Bridge {
	if cfg.WalletURL == "" {
		return payment.Unconfigured{}
	}
	wu, err := payment.ParseWalletURL(cfg.WalletURL)
	if err != nil {
		log.Warn("ignoring invalid wallet url", "error", err)
		return payment.Unconfigured{}
	}
	log.Warn("wallet url is valid but no payment bridge is built in, payment actions stay unavailable",
		"wallet_pubkey", wu.WalletPubkey)
	return payment.Unconfigured{}
}

// refreshView connects, refreshes once, and returns the client.
func refreshView(ctx context.Context, opts *RootOptions) (*clientContext, error) {
	c, err := loadClient(ctx, opts, true)
	if err != nil {
		return nil, err
	}
	if _, err := c.session.Refresh(ctx); err != nil {
		c.close()
		return nil, WrapExitError(ExitCommandError, "refreshing order view", err)
	}
	return c, nil
}
