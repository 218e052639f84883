package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand starts LoopManager's scheduler tick loop (spec.md §4.7, C7)
// and runs until interrupted, using the standard signal.NotifyContext
// graceful-shutdown pattern.
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler, driving all runnable loops to completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Fprintln(cmd.OutOrStdout(), "loopr: scheduler running, ctrl-c to stop")
			return app.Manager.Run(ctx)
		},
	}
}
