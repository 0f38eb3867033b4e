package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/packrelay/packrelay/internal/aggregate"
)

// OrdersOptions holds flags for the orders command.
type OrdersOptions struct {
	*RootOptions
	Role    string
	Offline bool
}

// NewOrdersCommand creates the orders command.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrdersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List the current order view",
		Long: `List all orders folded from the relay mesh, or from the local fact
archive with --offline when no relay is reachable.

The --role flag narrows the listing to one side of the marketplace:
sender shows your own orders bucketed by what they wait on, courier
shows jobs and biddable orders from a courier's perspective.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrders(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Role, "role", "all", "view role (all|sender|courier)")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "fold from the local archive instead of relays")

	return cmd
}

func runOrders(opts *OrdersOptions, cmd *cobra.Command) error {
	if opts.Role != "all" && opts.Role != string(aggregate.RoleSender) && opts.Role != string(aggregate.RoleCourier) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid role %q", opts.Role), nil)
	}

	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)

	var orders []aggregate.Order
	var actor string
	if opts.Offline {
		c, err := loadClient(ctx, opts.RootOptions, false)
		if err != nil {
			return err
		}
		defer c.close()
		actor = c.cfg.Actor
		orders, err = c.session.OfflineView(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "folding archive", err)
		}
		formatter.VerboseLog("folded %d orders from archive %s", len(orders), c.cfg.Archive)
	} else {
		c, err := refreshView(ctx, opts.RootOptions)
		if err != nil {
			return err
		}
		defer c.close()
		actor = c.cfg.Actor
		orders = c.session.View()
	}

	if opts.Format == "json" {
		return formatter.Success(ordersPayload(orders, actor, opts.Role))
	}
	renderOrders(cmd.OutOrStdout(), orders, actor, opts.Role)
	return nil
}

func ordersPayload(orders []aggregate.Order, actor, role string) any {
	switch role {
	case string(aggregate.RoleSender):
		return aggregate.ViewFor(orders, actor)
	case string(aggregate.RoleCourier):
		return aggregate.CourierViewFor(orders, actor)
	default:
		return orders
	}
}

// renderOrders writes the text table for the selected role.
func renderOrders(w io.Writer, orders []aggregate.Order, actor, role string) {
	switch role {
	case string(aggregate.RoleSender):
		v := aggregate.ViewFor(orders, actor)
		renderBuckets(w, []bucket{
			{"awaiting bids", v.AwaitingBids},
			{"bids pending", v.BidsPending},
			{"in transport", v.InTransport},
			{"pending confirmation", v.PendingCompletion},
			{"completed", v.Completed},
		}, actor)
	case string(aggregate.RoleCourier):
		v := aggregate.CourierViewFor(orders, actor)
		renderBuckets(w, []bucket{
			{"browse", v.Browse},
			{"awaiting approval", v.AwaitingApproval},
			{"active", v.Active},
			{"awaiting confirmation", v.AwaitingConfirmation},
			{"completed", v.Completed},
		}, actor)
	default:
		renderOrderTable(w, orders, actor)
	}
}

type bucket struct {
	label  string
	orders []aggregate.Order
}

func renderBuckets(w io.Writer, buckets []bucket, actor string) {
	empty := true
	for _, b := range buckets {
		if len(b.orders) == 0 {
			continue
		}
		empty = false
		fmt.Fprintf(w, "%s (%d)\n", b.label, len(b.orders))
		renderOrderTable(w, b.orders, actor)
	}
	if empty {
		fmt.Fprintln(w, "no orders")
	}
}

func renderOrderTable(w io.Writer, orders []aggregate.Order, actor string) {
	if len(orders) == 0 {
		fmt.Fprintln(w, "no orders")
		return
	}
	p := message.NewPrinter(language.English)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"order", "status", "route", "offer (sats)", "bids", "courier"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "offer (sats)", Align: text.AlignRight},
		{Name: "bids", Align: text.AlignRight},
	})

	for _, o := range orders {
		status := string(o.Status)
		if o.ExpiredDerived {
			status += " (local)"
		}
		courier := ""
		if b, ok := o.AcceptedBidInfo(); ok {
			courier = b.Courier
		}
		t.AppendRow(table.Row{
			shortID(o.ID),
			status,
			o.Pickup.Address + " -> " + o.Dropoff.Address,
			p.Sprintf("%d", o.OfferAmount),
			len(o.Bids),
			courier,
		})
		if o.Sender == actor {
			for _, b := range o.Bids {
				t.AppendRow(table.Row{
					"  bid " + shortID(b.ID),
					"",
					b.Courier,
					p.Sprintf("%d", b.Amount),
					"",
					p.Sprintf("rep %.1f / %d done", b.Reputation, b.CompletedDeliveries),
				})
			}
		}
	}
	t.Render()
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
