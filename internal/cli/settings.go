package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packrelay/packrelay/internal/payment"
)

// SettingsOptions holds flags for the settings command.
type SettingsOptions struct {
	*RootOptions
	DarkMode  bool
	WalletURL string
}

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SettingsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change your published preferences",
		Long: `Read the actor's encrypted settings fact from the relays, or publish a
new one when a flag is set. Settings follow the actor across devices;
only the owning actor can decrypt them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettings(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DarkMode, "dark-mode", false, "prefer the dark theme")
	cmd.Flags().StringVar(&opts.WalletURL, "wallet-url", "", "wallet connect pairing string (empty clears it)")

	return cmd
}

func runSettings(opts *SettingsOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	c, err := loadClient(ctx, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer c.close()

	actor := c.session.Actor()
	// The hash signer carries no key material, so the actor id doubles as
	// the sealing secret.
	secret := actor
	profiles := c.session.Profiles()

	current, _, err := profiles.LoadSettings(ctx, actor, secret)
	if err != nil {
		return WrapExitError(ExitFailure, "load settings", err)
	}

	if cmd.Flags().Changed("dark-mode") || cmd.Flags().Changed("wallet-url") {
		if cmd.Flags().Changed("dark-mode") {
			current.DarkMode = opts.DarkMode
		}
		if cmd.Flags().Changed("wallet-url") {
			if opts.WalletURL != "" {
				if _, err := payment.ParseWalletURL(opts.WalletURL); err != nil {
					return WrapExitError(ExitCommandError, "invalid wallet url", err)
				}
			}
			current.WalletURL = opts.WalletURL
		}
		if err := profiles.PublishSettings(ctx, actor, secret, current); err != nil {
			return WrapExitError(ExitFailure, "publish settings", err)
		}
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(current)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "dark mode:  %v\n", current.DarkMode)
	wallet := current.WalletURL
	if wallet == "" {
		wallet = "(not set)"
	}
	fmt.Fprintf(out, "wallet url: %s\n", wallet)
	return nil
}
