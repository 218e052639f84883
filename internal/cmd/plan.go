package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPlanCommand groups PlanApprovalGate's three controller operations
// (spec.md §4.8, §6.2: plan.approve/reject/iterate).
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Approve, reject, or iterate on a plan awaiting approval",
	}
	cmd.AddCommand(newPlanApproveCommand())
	cmd.AddCommand(newPlanRejectCommand())
	cmd.AddCommand(newPlanIterateCommand())
	return cmd
}

func newPlanApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <plan-id>",
		Short: "Approve a plan, spawning its Spec children (plan.approve)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Gate.Approve(args[0])
		},
	}
}

func newPlanRejectCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <plan-id>",
		Short: "Reject a plan, marking it Failed (plan.reject)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Gate.Reject(args[0], reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the plan was rejected")
	return cmd
}

func newPlanIterateCommand() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "iterate <plan-id>",
		Short: "Send a plan back for another iteration with feedback (plan.iterate); if already approved, cascade-invalidates its running descendants first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if feedback == "" {
				return fmt.Errorf("--feedback is required")
			}
			return app.Gate.Iterate(cmd.Context(), args[0], feedback)
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "controller feedback to append to the plan's progress")
	return cmd
}
