package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottidler/loopr/internal/engineerr"
	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/store"
)

type fakeSpawner struct {
	approved    []string
	err         error
	invalidated []string
}

func (f *fakeSpawner) ApprovePlan(plan models.Loop) error {
	f.approved = append(f.approved, plan.ID)
	return f.err
}

func (f *fakeSpawner) InvalidateAndReiterate(ctx context.Context, ancestorID, reason string) (int, error) {
	f.invalidated = append(f.invalidated, ancestorID)
	return 2, nil
}

func newTestGate(t *testing.T) (*Gate, *store.Store, *fakeSpawner) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	spawner := &fakeSpawner{}
	return New(s, spawner), s, spawner
}

func mkAwaitingPlan(id string) models.Loop {
	now := time.Now().UnixMilli()
	return models.Loop{
		ID: id, Kind: models.KindPlan, PromptPath: "p.md", MaxIterations: 3,
		Status: models.StatusAwaitingApproval, CreatedAt: now, UpdatedAt: now,
	}
}

func mkApprovedPlan(id string) models.Loop {
	now := time.Now().UnixMilli()
	return models.Loop{
		ID: id, Kind: models.KindPlan, PromptPath: "p.md", MaxIterations: 3,
		Status: models.StatusComplete, CreatedAt: now, UpdatedAt: now,
	}
}

func TestGate_ApproveCallsSpawnerAndPassesTheLoop(t *testing.T) {
	g, s, spawner := newTestGate(t)
	require.NoError(t, s.Loops().Create(mkAwaitingPlan("001")))

	require.NoError(t, g.Approve("001"))
	assert.Equal(t, []string{"001"}, spawner.approved)
}

func TestGate_RejectMarksFailedWithReason(t *testing.T) {
	g, s, _ := newTestGate(t)
	require.NoError(t, s.Loops().Create(mkAwaitingPlan("002")))

	require.NoError(t, g.Reject("002", "doesn't meet the bar"))

	final, _, err := s.Loops().Get("002")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, models.FailureRejected, final.FailureReason)
	assert.Contains(t, final.Progress, "doesn't meet the bar")
}

func TestGate_IterateAppendsFeedbackAndResumesRunning(t *testing.T) {
	g, s, _ := newTestGate(t)
	require.NoError(t, s.Loops().Create(mkAwaitingPlan("003")))

	require.NoError(t, g.Iterate(context.Background(), "003", "add a rollback section"))

	final, _, err := s.Loops().Get("003")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, final.Status)
	assert.Equal(t, 1, final.Iteration)
	assert.Contains(t, final.Progress, "User Feedback (Iteration 1)")
	assert.Contains(t, final.Progress, "add a rollback section")
}

func TestGate_IterateOnApprovedPlanCascadeInvalidatesDescendants(t *testing.T) {
	g, s, spawner := newTestGate(t)
	require.NoError(t, s.Loops().Create(mkApprovedPlan("005")))

	require.NoError(t, g.Iterate(context.Background(), "005", "missing auth"))

	assert.Equal(t, []string{"005"}, spawner.invalidated)
	final, _, err := s.Loops().Get("005")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, final.Status)
	assert.Equal(t, 1, final.Iteration)
	assert.Contains(t, final.Progress, "missing auth")
}

func TestGate_IterateOnFailedPlanReturnsInvalidState(t *testing.T) {
	g, s, _ := newTestGate(t)
	plan := mkAwaitingPlan("006")
	plan.Status = models.StatusFailed
	require.NoError(t, s.Loops().Create(plan))

	err := g.Iterate(context.Background(), "006", "retry")
	require.Error(t, err)
	var invalidState *engineerr.InvalidStateError
	assert.True(t, errors.As(err, &invalidState))
}

func TestGate_SecondDecisionOnNonAwaitingPlanReturnsInvalidState(t *testing.T) {
	g, s, _ := newTestGate(t)
	require.NoError(t, s.Loops().Create(mkAwaitingPlan("004")))
	require.NoError(t, g.Approve("004"))

	err := g.Reject("004", "too late")
	require.Error(t, err)
	var invalidState *engineerr.InvalidStateError
	assert.True(t, errors.As(err, &invalidState))
}
