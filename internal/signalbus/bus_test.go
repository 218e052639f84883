package signalbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/store"
)

func newTestBus(t *testing.T) (*Bus, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, 200*time.Millisecond), s
}

func mkLoop(id, parent string, status models.Status) models.Loop {
	kind := models.KindSpec
	if parent == "" {
		kind = models.KindPlan
	}
	return models.Loop{
		ID: id, Kind: kind, ParentID: parent, PromptPath: "p.md", ValidationCommand: "true",
		MaxIterations: 3, Status: status, Worktree: "/tmp/w/" + id, CreatedAt: 1, UpdatedAt: 1,
	}
}

func TestBus_CheckPrefersExplicitTargetOverSelector(t *testing.T) {
	b, _ := newTestBus(t)

	_, err := b.Emit(models.Signal{Kind: models.SignalInvalidate, TargetSelector: "kind:spec"})
	require.NoError(t, err)
	_, err = b.Emit(models.Signal{Kind: models.SignalStop, TargetLoop: "001-001"})
	require.NoError(t, err)

	require.NoError(t, b.loops.Create(mkLoop("001-001", "001", models.StatusRunning)))

	sig, err := b.Check("001-001")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalStop, sig.Kind)
}

func TestBus_AcknowledgeIsIdempotentAndStopsRedelivery(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.Emit(models.Signal{Kind: models.SignalPause, TargetLoop: "001"})
	require.NoError(t, err)

	sig, err := b.Check("001")
	require.NoError(t, err)
	require.NotNil(t, sig)

	require.NoError(t, b.Acknowledge(sig.ID))
	require.NoError(t, b.Acknowledge(sig.ID))

	again, err := b.Check("001")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestBus_InvalidateDescendantsMarksWholeSubtree(t *testing.T) {
	b, _ := newTestBus(t)

	require.NoError(t, b.loops.Create(mkLoop("001", "", models.StatusRunning)))
	require.NoError(t, b.loops.Create(mkLoop("001-001", "001", models.StatusPending)))
	require.NoError(t, b.loops.Create(mkLoop("001-001-001", "001-001", models.StatusComplete)))

	count, err := b.InvalidateDescendants(context.Background(), "001", "plan re-ran")
	require.NoError(t, err)
	assert.Equal(t, 1, count) // only 001-001 was non-terminal; 001-001-001 was already Complete

	spec, _, err := b.loops.Get("001-001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvalidated, spec.Status)

	code, _, err := b.loops.Get("001-001-001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, code.Status)
}

func TestResolveSelector_Children(t *testing.T) {
	b, _ := newTestBus(t)
	require.NoError(t, b.loops.Create(mkLoop("001", "", models.StatusRunning)))
	require.NoError(t, b.loops.Create(mkLoop("001-001", "001", models.StatusPending)))

	sel, err := models.ParseSelector("children:001")
	require.NoError(t, err)
	got, err := resolveSelector(b.loops, sel)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "001-001", got[0].ID)
}
