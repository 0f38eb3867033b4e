package cli

import (
	"errors"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/packrelay/packrelay/internal/payment"
)

// WalletOptions holds flags for the wallet command.
type WalletOptions struct {
	*RootOptions
	Limit int
}

// NewWalletCommand creates the wallet command.
func NewWalletCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WalletOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "wallet",
		Short:         "Show wallet balance and recent transactions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWallet(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "transactions to list")

	return cmd
}

func runWallet(opts *WalletOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	c, err := loadClient(ctx, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer c.close()

	w, ok := c.session.Wallet().(payment.Wallet)
	if !ok {
		return WrapExitError(ExitFailure, "wallet has no balance surface", payment.ErrUnavailable)
	}
	balance, err := w.Balance(ctx)
	if err != nil {
		if errors.Is(err, payment.ErrUnavailable) {
			return WrapExitError(ExitFailure, "no wallet configured for this session", err)
		}
		return WrapExitError(ExitFailure, "wallet balance", err)
	}
	txs, err := w.ListTransactions(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "wallet transactions", err)
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(map[string]any{
			"balance_sats": balance,
			"transactions": txs,
		})
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(cmd.OutOrStdout(), "balance: %d sats\n", balance)
	renderTransactions(cmd.OutOrStdout(), txs)
	return nil
}

func renderTransactions(w io.Writer, txs []payment.Transaction) {
	if len(txs) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"when", "type", "sats", "description"})
	p := message.NewPrinter(language.English)
	for _, tx := range txs {
		t.AppendRow(table.Row{
			time.Unix(tx.CreatedAt, 0).UTC().Format("2006-01-02 15:04"),
			tx.Type,
			p.Sprintf("%d", tx.AmountMsats/1000),
			tx.Description,
		})
	}
	t.Render()
}
