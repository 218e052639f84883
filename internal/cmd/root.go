package cmd

import (
	"github.com/spf13/cobra"
)

// Version is set by main before the root command is built; it defaults to
// "dev".
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for loopr.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loopr",
		Short: "Hierarchical, self-correcting LLM work-loop engine",
		Long: `loopr drives the Ralph-Wiggum pattern: a hierarchy of Plan, Spec,
Phase, and Code loops, each re-submitting a fresh stateless prompt to an LLM
gateway and re-running its validation command until the artifact passes or
the loop's iteration budget is spent.

It owns one git worktree per loop, a shared fast-forward-only merge lock,
and the append-only record log every loop, signal, tool job, and merge is
recorded to.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("repo", ".", "path to the git repository loopr drives loops against")
	cmd.PersistentFlags().String("config", "", "path to a loopr config YAML file (defaults unless given)")

	cmd.AddCommand(NewLoopCommand())
	cmd.AddCommand(NewPlanCommand())
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewEventsCommand())

	return cmd
}
