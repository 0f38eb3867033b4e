package cli

import (
	"github.com/spf13/cobra"
)

// BidOptions holds flags for the bid command.
type BidOptions struct {
	*RootOptions
	Amount  int64
	Message string
}

// NewBidCommand creates the bid command.
func NewBidCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BidOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "bid <order-id>",
		Short:         "Bid on an open order as a courier",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts.RootOptions, cmd, func(c *clientContext) (any, error) {
				bidID, err := c.session.PlaceBid(cmd.Context(), args[0], opts.Amount, opts.Message)
				if err != nil {
					return nil, err
				}
				return map[string]any{"bid_id": bidID}, nil
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Amount, "amount", 0, "bid amount in sats (required)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "message to the sender")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

// NewAcceptCommand creates the accept command.
func NewAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "accept <order-id> <bid-id>",
		Short:         "Accept a courier's bid on your order",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(c *clientContext) (any, error) {
				if err := c.session.AcceptBid(cmd.Context(), args[0], args[1]); err != nil {
					return nil, err
				}
				return map[string]any{"order_id": args[0], "accepted_bid": args[1]}, nil
			})
		},
	}
}

// NewDeclineCommand creates the decline command.
func NewDeclineCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "decline <order-id> <bid-id>",
		Short:         "Decline a courier's bid on your order",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(c *clientContext) (any, error) {
				if err := c.session.DeclineBid(cmd.Context(), args[0], args[1]); err != nil {
					return nil, err
				}
				return map[string]any{"order_id": args[0], "declined_bid": args[1]}, nil
			})
		},
	}
}

// NewWithdrawCommand creates the withdraw command.
func NewWithdrawCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "withdraw <order-id>",
		Short:         "Withdraw your own bid from an order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(c *clientContext) (any, error) {
				if err := c.session.WithdrawBid(cmd.Context(), args[0]); err != nil {
					return nil, err
				}
				return map[string]any{"order_id": args[0]}, nil
			})
		},
	}
}

// withSession runs fn against a freshly refreshed session and renders the
// result. Action refusals exit with ExitFailure, connection problems with
// ExitCommandError.
func withSession(rootOpts *RootOptions, cmd *cobra.Command, fn func(*clientContext) (any, error)) error {
	c, err := refreshView(cmd.Context(), rootOpts)
	if err != nil {
		return err
	}
	defer c.close()

	data, err := fn(c)
	if err != nil {
		return WrapExitError(ExitFailure, "action refused", err)
	}
	return newFormatter(rootOpts, cmd).Success(data)
}
