package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewRelaysCommand creates the relays command.
func NewRelaysCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "relays",
		Short:         "Show configured relays and their connection state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := loadClient(ctx, rootOpts, false)
			if err != nil {
				return err
			}
			defer c.close()

			// Best effort: a dead mesh is a valid answer here, not an error.
			c.pool.Connect(ctx, c.cfg.Relays)
			live := make(map[string]bool)
			for _, ep := range c.pool.Endpoints() {
				live[ep] = true
			}

			formatter := newFormatter(rootOpts, cmd)
			if rootOpts.Format == "json" {
				type relayState struct {
					Endpoint  string `json:"endpoint"`
					Connected bool   `json:"connected"`
				}
				states := make([]relayState, 0, len(c.cfg.Relays))
				for _, ep := range c.cfg.Relays {
					states = append(states, relayState{Endpoint: ep, Connected: live[ep]})
				}
				return formatter.Success(states)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"endpoint", "state"})
			for _, ep := range c.cfg.Relays {
				state := "unreachable"
				if live[ep] {
					state = "connected"
				}
				t.AppendRow(table.Row{ep, state})
			}
			t.Render()
			return nil
		},
	}
}
