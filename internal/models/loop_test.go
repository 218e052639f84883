package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopValidate_ParentIDMatchesKind(t *testing.T) {
	plan := &Loop{ID: "001", Kind: KindPlan, Status: StatusPending}
	require.NoError(t, plan.Validate())

	badPlan := &Loop{ID: "001", Kind: KindPlan, ParentID: "000", Status: StatusPending}
	assert.Error(t, badPlan.Validate())

	spec := &Loop{ID: "001-001", Kind: KindSpec, ParentID: "001", Status: StatusPending}
	require.NoError(t, spec.Validate())

	badSpec := &Loop{ID: "001-001", Kind: KindSpec, Status: StatusPending}
	assert.Error(t, badSpec.Validate())
}

func TestLoopValidate_IterationBound(t *testing.T) {
	l := &Loop{ID: "001", Kind: KindPlan, MaxIterations: 3, Iteration: 4, Status: StatusPending}
	assert.Error(t, l.Validate())
}

func TestLoopValidate_RunningRequiresWorktree(t *testing.T) {
	l := &Loop{ID: "001", Kind: KindPlan, Status: StatusRunning}
	assert.Error(t, l.Validate())

	l.Worktree = "/data/worktrees/001"
	assert.NoError(t, l.Validate())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusInvalidated.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusAwaitingApproval.Terminal())
}

func TestAppendFailure_Accumulates(t *testing.T) {
	l := &Loop{ID: "001", Kind: KindCode, ParentID: "x"}
	l.AppendFailure(0, "compile error")
	l.AppendFailure(1, "test failure")

	assert.Contains(t, l.Progress, "--- Iteration 0 Failed: compile error")
	assert.Contains(t, l.Progress, "--- Iteration 1 Failed: test failure")

	lines := 0
	for _, r := range l.Progress {
		if r == '\n' {
			lines++
		}
	}
	assert.Equal(t, 1, lines)
}

func TestChildKind(t *testing.T) {
	k, ok := KindPlan.ChildKind()
	assert.True(t, ok)
	assert.Equal(t, KindSpec, k)

	k, ok = KindCode.ChildKind()
	assert.False(t, ok)
	assert.Empty(t, k)
}

func TestChildID(t *testing.T) {
	l := &Loop{ID: "001"}
	assert.Equal(t, "001-001", l.ChildID(1))
	assert.Equal(t, "001-012", l.ChildID(12))
}

func TestDepthFromRoot(t *testing.T) {
	loops := map[string]Loop{
		"001":     {ID: "001"},
		"001-001": {ID: "001-001", ParentID: "001"},
		"001-001-001": {ID: "001-001-001", ParentID: "001-001"},
	}
	resolve := func(id string) (Loop, bool) {
		l, ok := loops[id]
		return l, ok
	}
	assert.Equal(t, 0, DepthFromRoot("001", resolve))
	assert.Equal(t, 1, DepthFromRoot("001-001", resolve))
	assert.Equal(t, 2, DepthFromRoot("001-001-001", resolve))
}
