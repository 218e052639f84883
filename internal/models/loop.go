// Package models defines the persistent entities the engine schedules,
// coordinates, and records: Loop, Signal, ToolJob, Event, and MergeRecord.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the category of work a Loop performs. Kind determines the
// default child kind, prompt template binding, validation command, iteration
// cap, and whether children spawn on completion.
type Kind string

const (
	KindPlan  Kind = "plan"
	KindSpec  Kind = "spec"
	KindPhase Kind = "phase"
	KindCode  Kind = "code"
)

// Valid reports whether k is one of the four recognized loop kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPlan, KindSpec, KindPhase, KindCode:
		return true
	}
	return false
}

// ChildKind returns the kind a spawned child of this kind should carry.
// Code loops never spawn children.
func (k Kind) ChildKind() (Kind, bool) {
	switch k {
	case KindPlan:
		return KindSpec, true
	case KindSpec:
		return KindPhase, true
	case KindPhase:
		return KindCode, true
	default:
		return "", false
	}
}

// Status is the lifecycle state of a Loop.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusPaused           Status = "paused"
	StatusRebasing         Status = "rebasing"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusComplete         Status = "complete"
	StatusFailed           Status = "failed"
	StatusInvalidated      Status = "invalidated"
)

// Terminal reports whether the status is one from which no further
// transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusInvalidated:
		return true
	}
	return false
}

// FailureReason classifies why a Loop transitioned to Failed.
type FailureReason string

const (
	FailureMaxIterations   FailureReason = "max_iterations"
	FailureWorktreeLost    FailureReason = "worktree_lost"
	FailureRebaseConflict  FailureReason = "rebase_conflict"
	FailureContextOverflow FailureReason = "context_overflow"
	FailureSandbox         FailureReason = "sandbox_violation"
	FailureInsufficient    FailureReason = "insufficient_space"
	FailureRejected        FailureReason = "rejected"
)

// Loop represents one unit of iterative work, the engine's primary entity.
type Loop struct {
	ID                string            `json:"id"`
	Kind              Kind              `json:"kind"`
	ParentID          string            `json:"parent_id,omitempty"`
	InputArtifact     string            `json:"input_artifact,omitempty"`
	OutputArtifacts   []string          `json:"output_artifacts,omitempty"`
	PromptPath        string            `json:"prompt_path"`
	ValidationCommand string            `json:"validation_command"`
	MaxIterations     int               `json:"max_iterations"`
	Worktree          string            `json:"worktree,omitempty"`
	Iteration         int               `json:"iteration"`
	Status            Status            `json:"status"`
	FailureReason     FailureReason     `json:"failure_reason,omitempty"`
	Progress          string            `json:"progress,omitempty"`
	Context           map[string]any    `json:"context,omitempty"`
	CreatedAt         int64             `json:"created_at"`
	UpdatedAt         int64             `json:"updated_at"`
}

// Validate checks the invariants from spec.md §3.1 that are checkable
// independent of the Store (the parent-existence and input-artifact-exists
// invariants require Store/filesystem access and are enforced by the
// LoopManager instead).
func (l *Loop) Validate() error {
	if l.ID == "" {
		return errors.New("loop id is required")
	}
	if !l.Kind.Valid() {
		return fmt.Errorf("invalid loop kind %q", l.Kind)
	}
	if (l.ParentID == "") != (l.Kind == KindPlan) {
		return errors.New("parent_id must be absent iff kind is plan")
	}
	if l.Iteration > l.MaxIterations {
		return fmt.Errorf("iteration %d exceeds max_iterations %d", l.Iteration, l.MaxIterations)
	}
	if l.Status == StatusRunning && l.Worktree == "" {
		return errors.New("running loop requires a worktree")
	}
	return nil
}

// IsRoot reports whether this loop is a root plan (no parent).
func (l *Loop) IsRoot() bool {
	return l.ParentID == ""
}

// CanTransitionTo reports whether moving from l.Status to next is legal.
// Terminal statuses never transition further.
func (l *Loop) CanTransitionTo(next Status) bool {
	if l.Status.Terminal() {
		return false
	}
	return true
}

// AppendFailure appends a structured "Iteration N Failed" section to
// Progress, the engine-managed prose that carries cross-iteration learning
// (spec.md §4.6/§9 — never cached message history).
func (l *Loop) AppendFailure(iteration int, output string) {
	section := fmt.Sprintf("--- Iteration %d Failed: %s", iteration, output)
	if l.Progress == "" {
		l.Progress = section
		return
	}
	l.Progress = l.Progress + "\n" + section
}

// Touch sets UpdatedAt to now, in milliseconds, enforcing the monotonic
// updated_at invariant (spec.md §8.1 #1) as long as callers only call Touch
// going forward in wall-clock time.
func (l *Loop) Touch(nowMillis int64) {
	l.UpdatedAt = nowMillis
}

// ChildID synthesizes a deterministic hierarchical child id "PPP-CCC" from
// this loop's id and the child's 1-based index among its siblings.
func (l *Loop) ChildID(index int) string {
	return fmt.Sprintf("%s-%03d", l.ID, index)
}

// DepthFromRoot walks the parent-chain resolver until it hits a loop with no
// parent, returning the number of hops. resolve returns (parentLoop, true)
// when found, (zero, false) when there is no such id.
func DepthFromRoot(id string, resolve func(id string) (Loop, bool)) int {
	depth := 0
	current := id
	for {
		loop, ok := resolve(current)
		if !ok || loop.ParentID == "" {
			return depth
		}
		current = loop.ParentID
		depth++
	}
}

// NowMillis returns the current time as Unix milliseconds. Callers that need
// deterministic timestamps in tests should construct them directly instead.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
