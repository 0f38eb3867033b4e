package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/packrelay/packrelay/internal/engine"
	"github.com/packrelay/packrelay/internal/fact"
)

// PostOptions holds flags for the post command.
type PostOptions struct {
	*RootOptions
	From        string
	To          string
	Offer       int64
	Insurance   int64
	Window      string
	ExpiresIn   time.Duration
	Packages    []string
	PickupNote  string
	DropoffNote string
}

// NewPostCommand creates the post command.
func NewPostCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PostOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a new delivery order",
		Long: `Post a new delivery order to the relay mesh.

Packages are given as --package size:description[:flags], where size is
one of envelope, small, medium, large, extra_large, and flags may include
"fragile" and "signature". Example:

  packrelay post --from "1 Origin St" --to "9 Target Ave" \
    --offer 2500 --package small:documents:signature --window "today 14-18"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "pickup address (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "dropoff address (required)")
	cmd.Flags().Int64Var(&opts.Offer, "offer", 0, "offer amount in sats (required)")
	cmd.Flags().Int64Var(&opts.Insurance, "insurance", 0, "insurance amount in sats")
	cmd.Flags().StringVar(&opts.Window, "window", "", "delivery time window")
	cmd.Flags().DurationVar(&opts.ExpiresIn, "expires-in", 0, "how long the posting stays open (default 7 days)")
	cmd.Flags().StringArrayVar(&opts.Packages, "package", nil, "package as size:description[:flags] (repeatable)")
	cmd.Flags().StringVar(&opts.PickupNote, "pickup-note", "", "pickup instructions")
	cmd.Flags().StringVar(&opts.DropoffNote, "dropoff-note", "", "dropoff instructions")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("offer")

	return cmd
}

func runPost(opts *PostOptions, cmd *cobra.Command) error {
	draft, err := draftFromFlags(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid order", err)
	}

	ctx := cmd.Context()
	c, err := refreshView(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer c.close()

	orderID, err := c.session.CreateOrder(ctx, draft)
	if err != nil {
		return WrapExitError(ExitFailure, "posting order", err)
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	return formatter.Success(map[string]any{"order_id": orderID})
}

// draftFromFlags builds the order draft, with deadline flags resolved at
// call time so the engine receives absolute timestamps.
func draftFromFlags(opts *PostOptions) (engine.OrderDraft, error) {
	draft := engine.OrderDraft{
		Pickup:          fact.Location{Address: opts.From, Instructions: opts.PickupNote},
		Dropoff:         fact.Location{Address: opts.To, Instructions: opts.DropoffNote},
		OfferAmount:     opts.Offer,
		InsuranceAmount: opts.Insurance,
		TimeWindow:      opts.Window,
	}
	if opts.ExpiresIn > 0 {
		draft.ExpiresAt = time.Now().Add(opts.ExpiresIn).Unix()
	}
	for _, spec := range opts.Packages {
		pkg, err := parsePackage(spec)
		if err != nil {
			return engine.OrderDraft{}, err
		}
		draft.Packages = append(draft.Packages, pkg)
	}
	return draft, nil
}

var packageSizes = map[string]fact.PackageSize{
	"envelope":    fact.SizeEnvelope,
	"small":       fact.SizeSmall,
	"medium":      fact.SizeMedium,
	"large":       fact.SizeLarge,
	"extra_large": fact.SizeExtraLarge,
}

func parsePackage(spec string) (fact.Package, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 {
		return fact.Package{}, fmt.Errorf("package %q: want size:description[:flags]", spec)
	}
	size, ok := packageSizes[parts[0]]
	if !ok {
		return fact.Package{}, fmt.Errorf("package %q: unknown size %q", spec, parts[0])
	}
	pkg := fact.Package{Size: size, Description: parts[1]}
	for _, flag := range parts[2:] {
		switch flag {
		case "fragile":
			pkg.Fragile = true
		case "signature":
			pkg.RequiresSignature = true
		default:
			return fact.Package{}, fmt.Errorf("package %q: unknown flag %q", spec, flag)
		}
	}
	return pkg, nil
}
