package cli

import (
	"github.com/spf13/cobra"

	"github.com/packrelay/packrelay/internal/fact"
)

// NewTransitCommand creates the transit command.
func NewTransitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "transit <order-id>",
		Short:         "Mark an accepted job as picked up and in transit",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(c *clientContext) (any, error) {
				if err := c.session.MarkInTransit(cmd.Context(), args[0]); err != nil {
					return nil, err
				}
				return map[string]any{"order_id": args[0], "status": "intransit"}, nil
			})
		},
	}
}

// CompleteOptions holds flags for the complete command.
type CompleteOptions struct {
	*RootOptions
	Images        []string
	SignatureName string
	Comments      string
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "complete <order-id>",
		Short: "Publish delivery completion with proof",
		Long: `Publish the completion of a delivery as the accepted courier.

Proof images are given as references the sender can resolve (URLs or
content hashes). When a package requires a signature, --signature-name
must carry the recipient's name.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			proof := fact.Proof{
				Images:        opts.Images,
				SignatureName: opts.SignatureName,
				Comments:      opts.Comments,
			}
			return withSession(rootOpts, cmd, func(c *clientContext) (any, error) {
				if err := c.session.Complete(cmd.Context(), args[0], proof); err != nil {
					return nil, err
				}
				return map[string]any{"order_id": args[0], "status": "completed"}, nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&opts.Images, "image", nil, "proof image reference (repeatable)")
	cmd.Flags().StringVar(&opts.SignatureName, "signature-name", "", "recipient signature name")
	cmd.Flags().StringVar(&opts.Comments, "comment", "", "delivery comments")

	return cmd
}

// ConfirmOptions holds flags for the confirm command.
type ConfirmOptions struct {
	*RootOptions
	Rating   float64
	Feedback string
}

// NewConfirmCommand creates the confirm command.
func NewConfirmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfirmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "confirm <order-id>",
		Short:         "Confirm a completed delivery, pay, and rate the courier",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(c *clientContext) (any, error) {
				if err := c.session.Confirm(cmd.Context(), args[0], opts.Rating, opts.Feedback); err != nil {
					return nil, err
				}
				return map[string]any{"order_id": args[0], "status": "confirmed", "rating": opts.Rating}, nil
			})
		},
	}

	cmd.Flags().Float64Var(&opts.Rating, "rating", 0, "courier rating from 1 to 5 (required)")
	cmd.Flags().StringVar(&opts.Feedback, "feedback", "", "feedback for the courier")
	_ = cmd.MarkFlagRequired("rating")

	return cmd
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel your order, forfeiting any outstanding invoice",
		Long: `Cancel an in-progress order as the sender. When the courier has already
published an invoice it is paid in full before the order is expired, so
cancelling never strands completed work unpaid.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(c *clientContext) (any, error) {
				if err := c.session.CancelWithForfeit(cmd.Context(), args[0]); err != nil {
					return nil, err
				}
				return map[string]any{"order_id": args[0], "status": "expired"}, nil
			})
		},
	}
}

// NewExpireCommand creates the expire command.
func NewExpireCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "expire <order-id>",
		Short:         "Publish the expiry of your own lapsed order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(c *clientContext) (any, error) {
				if err := c.session.Expire(cmd.Context(), args[0]); err != nil {
					return nil, err
				}
				return map[string]any{"order_id": args[0], "status": "expired"}, nil
			})
		},
	}
}
