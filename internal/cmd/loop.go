package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/scottidler/loopr/internal/models"
)

// NewLoopCommand groups every operation the control interface exposes over
// the Loop entity (spec.md §6.2: loop.create_plan, loop.list/get/start/
// pause/resume/cancel/delete).
func NewLoopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Create, inspect, and control loops",
	}
	cmd.AddCommand(newLoopCreatePlanCommand())
	cmd.AddCommand(newLoopListCommand())
	cmd.AddCommand(newLoopGetCommand())
	cmd.AddCommand(newLoopStartCommand())
	cmd.AddCommand(newLoopPauseCommand())
	cmd.AddCommand(newLoopResumeCommand())
	cmd.AddCommand(newLoopCancelCommand())
	cmd.AddCommand(newLoopDeleteCommand())
	return cmd
}

func newLoopCreatePlanCommand() *cobra.Command {
	var promptPath, validationCmd string
	var maxIterations int

	cmd := &cobra.Command{
		Use:   "create-plan",
		Short: "Create a new root Plan loop (loop.create_plan)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if promptPath == "" {
				return fmt.Errorf("--prompt is required")
			}
			now := time.Now().UnixMilli()
			l := models.Loop{
				ID:                uuid.NewString(),
				Kind:              models.KindPlan,
				PromptPath:        promptPath,
				ValidationCommand: validationCmd,
				MaxIterations:     maxIterations,
				Status:            models.StatusPending,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := l.Validate(); err != nil {
				return err
			}
			if err := app.Store.Loops().Create(l); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), l.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&promptPath, "prompt", "", "path to the plan's prompt template")
	cmd.Flags().StringVar(&validationCmd, "validation-command", "true", "shell command that must exit 0 for the plan to be accepted")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 10, "maximum iterations before the plan fails")
	return cmd
}

func newLoopListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loops, optionally filtered by status (loop.list)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			var loops []models.Loop
			if status != "" {
				loops, err = app.Store.Loops().ByStatus(models.Status(status))
			} else {
				loops, err = app.Store.Loops().Query()
			}
			if err != nil {
				return err
			}
			for _, l := range loops {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\titer=%d/%d\n", l.ID, l.Kind, l.Status, l.Iteration, l.MaxIterations)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func newLoopGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <loop-id>",
		Short: "Show one loop's full record (loop.get)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			l, found, err := app.Store.Loops().Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("loop %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", l)
			return nil
		},
	}
}

// newLoopStartCommand implements loop.start: a Pending loop is already
// schedule-eligible the moment it's created, so "starting" it means asking
// the scheduler to run one tick right away rather than wait for the next
// poll interval — a single Tick picks up every runnable loop, not just the
// one named, matching the scheduler's batch-selection contract.
func newLoopStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <loop-id>",
		Short: "Ask the scheduler to pick up a pending loop now (loop.start)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			l, found, err := app.Store.Loops().Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("loop %s not found", args[0])
			}
			if l.Status != models.StatusPending {
				return fmt.Errorf("loop %s is %s, not pending", args[0], l.Status)
			}
			return app.Manager.Tick(cmd.Context())
		},
	}
}

func newLoopPauseCommand() *cobra.Command {
	return signalCommand("pause", models.SignalPause, "Pause a running loop (loop.pause)")
}

func newLoopResumeCommand() *cobra.Command {
	return signalCommand("resume", models.SignalResume, "Resume a paused loop (loop.resume)")
}

func newLoopCancelCommand() *cobra.Command {
	return signalCommand("cancel", models.SignalStop, "Stop a loop and mark it invalidated (loop.cancel)")
}

// signalCommand builds a one-shot "loop <use> <loop-id>" command that emits
// a signal targeted at a single loop, the common shape of pause/resume/
// cancel (spec.md §4.5's "explicit target" delivery mode).
func signalCommand(use string, kind models.SignalKind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <loop-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			sig := models.Signal{
				Kind:       kind,
				TargetLoop: args[0],
				CreatedAt:  time.Now().UnixMilli(),
			}
			emitted, err := app.Bus.Emit(sig)
			if err != nil {
				return err
			}
			return app.Events.SignalEmitted(emitted)
		},
	}
}

func newLoopDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <loop-id>",
		Short: "Delete a terminal loop's record (loop.delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			l, found, err := app.Store.Loops().Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("loop %s not found", args[0])
			}
			if !l.Status.Terminal() {
				return fmt.Errorf("loop %s is %s, not terminal; cancel it first", args[0], l.Status)
			}
			return app.Store.Delete("loops", args[0])
		},
	}
}
