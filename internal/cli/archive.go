package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/packrelay/packrelay/internal/fact"
)

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	var factID string

	cmd := &cobra.Command{
		Use:           "archive",
		Short:         "Show the local fact archive",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(rootOpts, cmd, factID)
		},
	}

	cmd.Flags().StringVar(&factID, "fact", "", "print one archived fact by id")

	return cmd
}

func runArchive(rootOpts *RootOptions, cmd *cobra.Command, factID string) error {
	ctx := cmd.Context()
	c, err := loadClient(ctx, rootOpts, false)
	if err != nil {
		return err
	}
	defer c.close()

	if c.archive == nil {
		return WrapExitError(ExitCommandError, "no archive path configured", nil)
	}

	if factID != "" {
		f, err := c.archive.FactByID(ctx, factID)
		if err != nil {
			return WrapExitError(ExitFailure, "archived fact", err)
		}
		if rootOpts.Format == "json" {
			return newFormatter(rootOpts, cmd).Success(f)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	}

	counts, err := c.archive.CountByKind(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "archive counts", err)
	}
	if rootOpts.Format == "json" {
		byName := make(map[string]int, len(counts))
		for kind, n := range counts {
			byName[kindLabel(kind)] = n
		}
		return newFormatter(rootOpts, cmd).Success(byName)
	}
	renderArchiveCounts(cmd.OutOrStdout(), counts)
	return nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history <order-id>",
		Short:         "Show the archived fact timeline for an order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := loadClient(ctx, rootOpts, false)
			if err != nil {
				return err
			}
			defer c.close()

			if c.archive == nil {
				return WrapExitError(ExitCommandError, "no archive path configured", nil)
			}
			facts, err := c.archive.FactsForOrder(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "order history", err)
			}
			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd).Success(facts)
			}
			renderHistory(cmd.OutOrStdout(), facts)
			return nil
		},
	}
}

func renderArchiveCounts(w io.Writer, counts map[fact.Kind]int) {
	kinds := make([]fact.Kind, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"kind", "facts"})
	total := 0
	for _, kind := range kinds {
		t.AppendRow(table.Row{kindLabel(kind), counts[kind]})
		total += counts[kind]
	}
	t.AppendFooter(table.Row{"total", total})
	t.Render()
}

func renderHistory(w io.Writer, facts []fact.Fact) {
	if len(facts) == 0 {
		fmt.Fprintln(w, "no archived facts for this order")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"when", "kind", "author", "fact"})
	for _, f := range facts {
		t.AppendRow(table.Row{
			time.Unix(f.CreatedAt, 0).UTC().Format("2006-01-02 15:04"),
			kindLabel(f.Kind),
			f.Author,
			shortID(f.ID),
		})
	}
	t.Render()
}

func kindLabel(k fact.Kind) string {
	switch k {
	case fact.KindPosting:
		return "posting"
	case fact.KindBid:
		return "bid"
	case fact.KindStatus:
		return "status"
	case fact.KindProfile:
		return "profile"
	case fact.KindSettings:
		return "settings"
	default:
		return fmt.Sprintf("kind-%d", int(k))
	}
}
