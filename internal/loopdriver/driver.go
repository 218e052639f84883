package loopdriver

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/scottidler/loopr/internal/config"
	"github.com/scottidler/loopr/internal/engineerr"
	"github.com/scottidler/loopr/internal/llm"
	"github.com/scottidler/loopr/internal/logger"
	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/signalbus"
	"github.com/scottidler/loopr/internal/store"
	"github.com/scottidler/loopr/internal/tools"
)

// ToolDispatcher is the subset of tools.Router's surface LoopDriver needs,
// kept as an interface so tests can substitute a FakeToolWorker instead of
// spawning real subprocesses (spec.md's Non-goals exclude sandboxed runner
// internals from this engine's concern, but its call contract is in scope).
type ToolDispatcher interface {
	Dispatch(ctx context.Context, toolName string, input map[string]any, execCtx tools.ExecutionContext) (models.ToolJob, tools.Result, error)
	RunCommand(ctx context.Context, lane models.Lane, cwd string, args []string) (tools.Result, error)
}

// WorktreeManager is the subset of worktree.WorktreeOps LoopDriver needs.
type WorktreeManager interface {
	Path(loopID string) string
	AutoCommit(ctx context.Context, loopID, message string) error
	Rebase(ctx context.Context, loopID, newMainHead string) error
	Cleanup(ctx context.Context, loopID string) error
}

// ToolCatalogForKind returns the ordered tool schemas visible to a loop of
// the given kind (spec.md §4.6 step 3 "tool schema set is determined by
// kind per a static catalog").
type ToolCatalogForKind func(kind models.Kind) []llm.ToolSchema

// Driver is LoopDriver (C6).
type Driver struct {
	Store  *store.Store
	Bus    *signalbus.Bus
	Gw     llm.Gateway
	Tools  ToolDispatcher
	Wt     WorktreeManager
	Log    logger.Logger
	Cfg    config.LlmConfig
	Budget budgetPolicy

	// ToolsForKind resolves the tool schema catalog per loop kind.
	ToolsForKind ToolCatalogForKind
	// ValidateExtra runs format checks beyond the external validation
	// command (spec.md §4.6 step 5 "additional format checks"), returning a
	// failure message or "" if the artifact passes.
	ValidateExtra func(l models.Loop) string
}

// NewDriver builds a Driver with default context-budget thresholds
// (spec.md §4.6) layered on cfg.
func NewDriver(s *store.Store, bus *signalbus.Bus, gw llm.Gateway, td ToolDispatcher, wt WorktreeManager, log logger.Logger, cfg config.LlmConfig) *Driver {
	return &Driver{
		Store: s, Bus: bus, Gw: gw, Tools: td, Wt: wt, Log: log, Cfg: cfg,
		Budget: budgetPolicy{
			ModelContextTokens:   cfg.ContextWindow,
			ReservedOutputTokens: cfg.MaxOutputTokens,
			ArtifactThreshold:    4000,
			ToolOutputThreshold:  8000,
		},
		ToolsForKind: func(models.Kind) []llm.ToolSchema { return nil },
	}
}

// signalOutcome is returned internally by handleSignals to tell Drive
// whether to keep iterating, or stop with a terminal Outcome.
type signalOutcome struct {
	stop    bool
	outcome Outcome
}

// Drive runs loopID to a terminal Outcome (spec.md §4.6 "drive(loop) →
// Outcome").
func (d *Driver) Drive(ctx context.Context, loopID string) (Outcome, error) {
	for {
		l, found, err := d.Store.Loops().Get(loopID)
		if err != nil {
			return OutcomeFailed, err
		}
		if !found {
			return OutcomeFailed, fmt.Errorf("drive: loop %s not found", loopID)
		}

		so, err := d.handleSignals(ctx, &l)
		if err != nil {
			return OutcomeFailed, err
		}
		if so.stop {
			return so.outcome, nil
		}

		outcome, done, err := d.iterate(ctx, &l)
		if err != nil {
			return OutcomeFailed, err
		}
		if done {
			return outcome, nil
		}
		// Not done: loop back to step 1 for the next iteration.
	}
}

// handleSignals is step 1 of spec.md §4.6's algorithm.
func (d *Driver) handleSignals(ctx context.Context, l *models.Loop) (signalOutcome, error) {
	for {
		sig, err := d.Bus.Check(l.ID)
		if err != nil {
			return signalOutcome{}, err
		}
		if sig == nil {
			return signalOutcome{}, nil
		}

		switch sig.Kind {
		case models.SignalStop, models.SignalInvalidate:
			l.Status = models.StatusInvalidated
			l.Touch(time.Now().UnixMilli())
			if err := d.Store.Loops().Update(*l); err != nil {
				return signalOutcome{}, err
			}
			if err := d.Bus.Acknowledge(sig.ID); err != nil {
				return signalOutcome{}, err
			}
			_ = d.Wt.Cleanup(ctx, l.ID)
			return signalOutcome{stop: true, outcome: OutcomeInvalidated}, nil

		case models.SignalPause:
			l.Status = models.StatusPaused
			l.Touch(time.Now().UnixMilli())
			if err := d.Store.Loops().Update(*l); err != nil {
				return signalOutcome{}, err
			}
			if err := d.Bus.Acknowledge(sig.ID); err != nil {
				return signalOutcome{}, err
			}
			if err := d.waitForResume(ctx, l.ID); err != nil {
				return signalOutcome{}, err
			}
			l.Status = models.StatusRunning
			l.Touch(time.Now().UnixMilli())
			if err := d.Store.Loops().Update(*l); err != nil {
				return signalOutcome{}, err
			}

		case models.SignalRebase:
			var payload models.RebasePayload
			if v, ok := sig.Payload["new_main_head"].(string); ok {
				payload.NewMainHead = v
			}
			if err := d.Wt.Rebase(ctx, l.ID, payload.NewMainHead); err != nil {
				l.Status = models.StatusFailed
				l.FailureReason = models.FailureRebaseConflict
				l.AppendFailure(l.Iteration, "rebase: "+err.Error())
				l.Touch(time.Now().UnixMilli())
				if uerr := d.Store.Loops().Update(*l); uerr != nil {
					return signalOutcome{}, uerr
				}
				if err := d.Bus.Acknowledge(sig.ID); err != nil {
					return signalOutcome{}, err
				}
				return signalOutcome{}, err
			}
			if err := d.Bus.Acknowledge(sig.ID); err != nil {
				return signalOutcome{}, err
			}

		case models.SignalError:
			l.AppendFailure(l.Iteration, "signal: "+sig.Reason)
			l.Touch(time.Now().UnixMilli())
			if err := d.Store.Loops().Update(*l); err != nil {
				return signalOutcome{}, err
			}
			if err := d.Bus.Acknowledge(sig.ID); err != nil {
				return signalOutcome{}, err
			}

		default:
			if err := d.Bus.Acknowledge(sig.ID); err != nil {
				return signalOutcome{}, err
			}
		}
	}
}

func (d *Driver) waitForResume(ctx context.Context, loopID string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		sig, err := d.Bus.Check(loopID)
		if err != nil {
			return err
		}
		if sig != nil && sig.Kind == models.SignalResume {
			return d.Bus.Acknowledge(sig.ID)
		}
	}
}

// iterate runs steps 2-7 of spec.md §4.6's algorithm for one iteration,
// returning (outcome, done). done is false when the loop should continue
// iterating (a failed attempt under the iteration cap).
func (d *Driver) iterate(ctx context.Context, l *models.Loop) (Outcome, bool, error) {
	userMessage, systemPrompt, err := d.buildPrompt(*l)
	if err != nil {
		if engineerr.IsContextOverflow(err) {
			l.Status = models.StatusFailed
			l.FailureReason = models.FailureContextOverflow
			l.Touch(time.Now().UnixMilli())
			_ = d.Store.Loops().Update(*l)
		}
		return OutcomeFailed, true, err
	}

	resp, err := d.runTurn(ctx, *l, systemPrompt, userMessage)
	if err != nil {
		return OutcomeFailed, true, err
	}

	passed, output := d.validate(ctx, *l)

	if passed {
		l.Status = models.StatusComplete
		l.Touch(time.Now().UnixMilli())
		if err := d.Store.Loops().Update(*l); err != nil {
			return OutcomeFailed, true, err
		}
		d.event(l.ID, models.EventLoopComplete, map[string]any{"iteration": l.Iteration})
		return OutcomeComplete, true, nil
	}

	if l.Iteration+1 >= l.MaxIterations {
		l.AppendFailure(l.Iteration, output)
		l.Iteration++
		l.Status = models.StatusFailed
		l.FailureReason = models.FailureMaxIterations
		l.Touch(time.Now().UnixMilli())
		if err := d.Store.Loops().Update(*l); err != nil {
			return OutcomeFailed, true, err
		}
		d.event(l.ID, models.EventLoopFailed, map[string]any{"reason": string(models.FailureMaxIterations)})
		return OutcomeFailed, true, &engineerr.MaxIterationsError{LoopID: l.ID, MaxIterations: l.MaxIterations}
	}

	l.AppendFailure(l.Iteration, output)
	l.Iteration++
	l.Touch(time.Now().UnixMilli())
	if err := d.Store.Loops().Update(*l); err != nil {
		return OutcomeFailed, true, err
	}
	d.event(l.ID, models.EventLoopIteration, map[string]any{"iteration": l.Iteration, "passed": false})
	_ = resp
	return "", false, nil
}

func (d *Driver) buildPrompt(l models.Loop) (userMessage, systemPrompt string, err error) {
	body, err := os.ReadFile(l.PromptPath)
	if err != nil {
		return "", "", fmt.Errorf("read prompt %s: %w", l.PromptPath, err)
	}
	task, err := renderPrompt(l.ID, string(body), l.Context)
	if err != nil {
		return "", "", err
	}
	task = withFeedback(task, l.Progress)
	sysPrompt := systemPromptFor(l.Kind)

	truncated, err := d.Budget.truncateToBudget(sysPrompt, l.Progress, task)
	if err != nil {
		return "", "", err
	}
	return truncated, sysPrompt, nil
}

func systemPromptFor(kind models.Kind) string {
	return fmt.Sprintf("You are driving a %s loop. Follow the task instructions exactly and emit only the requested artifacts.", kind)
}

// runTurn performs spec.md §4.6 steps 3-4: the LLM call, followed by tool
// dispatch and follow-up completions until the model emits EndTurn or
// MaxTokens. The whole turn counts as a single loop iteration.
func (d *Driver) runTurn(ctx context.Context, l models.Loop, systemPrompt, userMessage string) (llm.Response, error) {
	maxTokens := d.Cfg.MaxOutputTokens
	req := llm.Request{
		SystemPrompt: systemPrompt,
		UserMessage:  userMessage,
		Tools:        d.ToolsForKind(l.Kind),
		MaxTokens:    maxTokens,
	}

	for {
		// Safe-point: re-check signals between LLM calls within a turn so a
		// Stop mid-tool-use-loop is still observed promptly (spec.md §4.6
		// "Safe-point discipline").
		if sig, err := d.Bus.Check(l.ID); err == nil && sig != nil && (sig.Kind == models.SignalStop || sig.Kind == models.SignalInvalidate) {
			return llm.Response{}, fmt.Errorf("loop %s: signal %s pending mid-turn", l.ID, sig.Kind)
		}

		resp, err := d.Gw.Complete(ctx, req)
		if err != nil {
			return llm.Response{}, err
		}

		if resp.StopReason != llm.StopToolUse || len(resp.ToolCalls) == 0 {
			return resp, nil
		}

		results := make([]llm.ToolResultInput, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			job, result, err := d.Tools.Dispatch(ctx, call.Name, call.Input, tools.ExecutionContext{
				Worktree: d.Wt.Path(l.ID), LoopID: l.ID, Iteration: l.Iteration,
			})
			if err != nil {
				results = append(results, llm.ToolResultInput{ToolCallID: call.ID, Content: err.Error(), IsError: true})
				continue
			}
			if d.Store != nil {
				_ = d.Store.ToolJobs().Create(job)
			}
			if d.Log != nil {
				d.Log.ToolDispatched(l.ID, call.Name, string(job.Lane), time.Duration(result.DurationMs)*time.Millisecond)
			}
			results = append(results, llm.ToolResultInput{
				ToolCallID: call.ID,
				Content:    result.Output,
				IsError:    result.Status != models.ToolJobSuccess,
			})
		}

		req.ToolResults = results
		req.UserMessage = userMessage
	}
}

// validate performs spec.md §4.6 step 5: run validation_command in the
// loop's worktree via the Heavy lane, plus any additional format checks.
func (d *Driver) validate(ctx context.Context, l models.Loop) (bool, string) {
	if d.ValidateExtra != nil {
		if msg := d.ValidateExtra(l); msg != "" {
			return false, msg
		}
	}
	if l.ValidationCommand == "" {
		return true, ""
	}
	result, err := d.Tools.RunCommand(ctx, models.LaneHeavy, d.Wt.Path(l.ID), []string{"sh", "-c", l.ValidationCommand})
	if err != nil {
		return false, err.Error()
	}
	if result.Status == models.ToolJobSuccess {
		d.event(l.ID, models.EventValidation, map[string]any{"passed": true})
		return true, ""
	}
	d.event(l.ID, models.EventValidation, map[string]any{"passed": false})
	return false, result.Output
}

func (d *Driver) event(loopID string, t models.EventType, data map[string]any) {
	if d.Store == nil {
		return
	}
	_ = d.Store.Events().Append(models.Event{
		ID: uuid.NewString(), Type: t, LoopID: loopID, Data: data, CreatedAt: time.Now().UnixMilli(),
	})
}
