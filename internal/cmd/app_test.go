package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottidler/loopr/internal/models"
)

func TestLoopLifecycle_CreateListGetCancelDelete(t *testing.T) {
	t.Setenv("LOOPR_HOME", t.TempDir())
	repoRoot := t.TempDir()

	app, err := NewApp(repoRoot, "")
	require.NoError(t, err)
	defer app.Close()

	now := time.Now().UnixMilli()
	plan := models.Loop{
		ID: "001", Kind: models.KindPlan, PromptPath: "p.md", ValidationCommand: "true",
		MaxIterations: 3, Status: models.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, app.Store.Loops().Create(plan))

	listed, err := app.Store.Loops().Query()
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	got, found, err := app.Store.Loops().Get("001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusPending, got.Status)

	sig, err := app.Bus.Emit(models.Signal{Kind: models.SignalStop, TargetLoop: "001", CreatedAt: now})
	require.NoError(t, err)
	require.NoError(t, app.Events.SignalEmitted(sig))

	pending, err := app.Bus.Check("001")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, models.SignalStop, pending.Kind)

	got.Status = models.StatusInvalidated
	got.Touch(time.Now().UnixMilli())
	require.NoError(t, app.Store.Loops().Update(got))

	require.NoError(t, app.Store.Delete("loops", "001"))
	_, found, err = app.Store.Loops().Get("001")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPlanGate_RejectThroughApp(t *testing.T) {
	t.Setenv("LOOPR_HOME", t.TempDir())
	repoRoot := t.TempDir()

	app, err := NewApp(repoRoot, "")
	require.NoError(t, err)
	defer app.Close()

	now := time.Now().UnixMilli()
	plan := models.Loop{
		ID: "002", Kind: models.KindPlan, PromptPath: "p.md", ValidationCommand: "true",
		MaxIterations: 3, Status: models.StatusAwaitingApproval, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, app.Store.Loops().Create(plan))

	require.NoError(t, app.Gate.Reject("002", "not good enough"))

	final, _, err := app.Store.Loops().Get("002")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, models.FailureRejected, final.FailureReason)
}
