package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewEventsCommand exposes EventLog's tail/query surface (spec.md §3.1, C9)
// for operators inspecting what an engine run actually did.
func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the append-only event stream",
	}
	cmd.AddCommand(newEventsTailCommand())
	cmd.AddCommand(newEventsForLoopCommand())
	return cmd
}

func newEventsTailCommand() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent events across every loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			events, err := app.Events.Tail(n)
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%v\n", e.CreatedAt, e.LoopID, e.Type, e.Data)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events to show")
	return cmd
}

func newEventsForLoopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "for-loop <loop-id>",
		Short: "Print every event recorded against one loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			events, err := app.Events.ForLoop(args[0])
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%v\n", e.CreatedAt, e.Type, e.Data)
			}
			return nil
		},
	}
}
