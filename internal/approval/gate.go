// Package approval implements PlanApprovalGate (spec.md §4.8, C8): the
// three external-controller operations — approve, reject, iterate — that
// move a Plan loop out of AwaitingApproval. Shaped after a human-in-the-loop
// gate pattern (QC-verdict-style acceptance), generalized from an automatic
// verdict to an explicit external decision with first-decision-wins
// concurrency semantics.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/scottidler/loopr/internal/engineerr"
	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/store"
)

// ChildSpawner is the subset of loopmanager.Manager the gate needs to
// materialize a plan's approved specs.
type ChildSpawner interface {
	ApprovePlan(plan models.Loop) error
}

// Reiterator is the subset of loopmanager.Manager the gate needs to
// cascade-invalidate a plan's running descendants when an already-approved
// plan is reopened for another iteration (spec.md §4.7 "Cascade
// invalidation", §8.2 Scenario D).
type Reiterator interface {
	InvalidateAndReiterate(ctx context.Context, ancestorID, reason string) (int, error)
}

// Gate is the PlanApprovalGate (C8).
type Gate struct {
	Store       *store.Store
	Spawner     ChildSpawner
	Invalidator Reiterator
}

// New builds a Gate. spawner also serving as a Reiterator (as
// loopmanager.Manager does) enables Iterate to reopen an already-approved
// plan; a spawner that isn't one still supports approve/reject/iterate on a
// plan still AwaitingApproval.
func New(s *store.Store, spawner ChildSpawner) *Gate {
	invalidator, _ := spawner.(Reiterator)
	return &Gate{Store: s, Spawner: spawner, Invalidator: invalidator}
}

func (g *Gate) loadAwaitingApproval(planID string) (models.Loop, error) {
	l, found, err := g.Store.Loops().Get(planID)
	if err != nil {
		return models.Loop{}, err
	}
	if !found {
		return models.Loop{}, fmt.Errorf("plan %s not found", planID)
	}
	if l.Status != models.StatusAwaitingApproval {
		return models.Loop{}, &engineerr.InvalidStateError{
			EntityID: planID, Current: string(l.Status), Attempted: "approve/reject/iterate",
		}
	}
	return l, nil
}

// Approve parses the plan's descriptor, spawns one Spec child per entry,
// and transitions the plan to Complete (spec.md §4.8 "approve").
func (g *Gate) Approve(planID string) error {
	plan, err := g.loadAwaitingApproval(planID)
	if err != nil {
		return err
	}
	if err := g.Spawner.ApprovePlan(plan); err != nil {
		return err
	}
	current, found, err := g.Store.Loops().Get(planID)
	if err != nil || !found || current.Status != models.StatusAwaitingApproval {
		return err
	}
	current.Status = models.StatusComplete
	current.Touch(time.Now().UnixMilli())
	return g.Store.Loops().Update(current)
}

// Reject marks the plan Failed, recording reason in progress (spec.md §4.8
// "reject").
func (g *Gate) Reject(planID, reason string) error {
	plan, err := g.loadAwaitingApproval(planID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "rejected by controller"
	}
	plan.Status = models.StatusFailed
	plan.FailureReason = models.FailureRejected
	plan.AppendFailure(plan.Iteration, "rejected: "+reason)
	plan.Touch(time.Now().UnixMilli())
	return g.Store.Loops().Update(plan)
}

// loadReiterable loads a plan that may still be reopened: either
// AwaitingApproval (never approved yet), or Complete (already approved, with
// descendants possibly still Running — spec.md §8.2 Scenario D). Any other
// status, including the other terminal statuses Failed/Invalidated, is
// rejected.
func (g *Gate) loadReiterable(planID string) (models.Loop, error) {
	l, found, err := g.Store.Loops().Get(planID)
	if err != nil {
		return models.Loop{}, err
	}
	if !found {
		return models.Loop{}, fmt.Errorf("plan %s not found", planID)
	}
	if l.Status != models.StatusAwaitingApproval && l.Status != models.StatusComplete {
		return models.Loop{}, &engineerr.InvalidStateError{
			EntityID: planID, Current: string(l.Status), Attempted: "iterate",
		}
	}
	return l, nil
}

// Iterate appends structured feedback to progress, increments iteration, and
// re-drives the plan (spec.md §4.8 "iterate"). If the plan was already
// approved (Complete, with Spec/Phase/Code descendants potentially still
// Running), it first cascade-invalidates every descendant via Invalidator
// before reopening the plan itself.
func (g *Gate) Iterate(ctx context.Context, planID, feedback string) error {
	plan, err := g.loadReiterable(planID)
	if err != nil {
		return err
	}
	if plan.Status == models.StatusComplete {
		if g.Invalidator == nil {
			return fmt.Errorf("plan %s: already approved, but gate has no Reiterator to cascade-invalidate its descendants", planID)
		}
		if _, err := g.Invalidator.InvalidateAndReiterate(ctx, planID, "plan "+planID+" reopened for iteration"); err != nil {
			return fmt.Errorf("cascade-invalidate descendants of %s: %w", planID, err)
		}
	}
	plan.Iteration++
	section := fmt.Sprintf("--- User Feedback (Iteration %d) ---\n%s", plan.Iteration, feedback)
	if plan.Progress == "" {
		plan.Progress = section
	} else {
		plan.Progress = plan.Progress + "\n" + section
	}
	plan.Status = models.StatusRunning
	plan.Touch(time.Now().UnixMilli())
	return g.Store.Loops().Update(plan)
}
