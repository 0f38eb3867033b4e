package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/packrelay/packrelay/internal/aggregate"
	"github.com/packrelay/packrelay/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh continuously and run the automatic rules",
		Long: `Refresh the order view on an interval until interrupted. Each cycle
re-queries the relay mesh, archives new facts, and runs the configured
automatic rules (auto-approve, auto-invoice, auto-confirm, auto-expire),
so leaving watch running turns the client into an unattended agent.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 30*time.Second, "refresh interval")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := loadClient(ctx, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer c.close()

	formatter := newFormatter(opts.RootOptions, cmd)
	seen := make(map[string]aggregate.OrderStatus)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	c.log.Info("watching", "interval", opts.Interval, "relays", c.pool.Connected())
	for {
		orders, err := c.session.Refresh(ctx)
		switch {
		case errors.Is(err, engine.ErrRefreshBusy):
			// Previous cycle still querying; skip this tick.
		case err != nil:
			c.log.Warn("refresh failed", "error", err)
		default:
			reportTransitions(formatter, cmd, orders, seen)
		}

		select {
		case <-ctx.Done():
			c.log.Info("watch stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// reportTransitions prints one line per order whose status changed since
// the last cycle.
func reportTransitions(f *OutputFormatter, cmd *cobra.Command, orders []aggregate.Order, seen map[string]aggregate.OrderStatus) {
	for _, o := range orders {
		prev, known := seen[o.ID]
		seen[o.ID] = o.Status
		if known && prev == o.Status {
			continue
		}
		if f.Format == "json" {
			_ = f.Success(map[string]any{"order_id": o.ID, "status": o.Status, "bids": len(o.Bids)})
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s %s (%d bids)\n",
			time.Now().Format(time.TimeOnly), shortID(o.ID), o.Status, len(o.Bids))
	}
}
