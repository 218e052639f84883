package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottidler/loopr/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleLoop(id string) models.Loop {
	return models.Loop{
		ID:                id,
		Kind:              models.KindPlan,
		PromptPath:        "prompts/plan.md",
		ValidationCommand: "true",
		MaxIterations:     5,
		Status:            models.StatusPending,
		CreatedAt:         1,
		UpdatedAt:         1,
	}
}

func TestLoopStore_CreateGetUpdate(t *testing.T) {
	s := newTestStore(t)
	loops := s.Loops()

	l := sampleLoop("001")
	require.NoError(t, loops.Create(l))

	got, found, err := loops.Get("001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.KindPlan, got.Kind)

	l.Status = models.StatusRunning
	l.Worktree = "/tmp/wt/001"
	l.UpdatedAt = 2
	require.NoError(t, loops.Update(l))

	got, _, err = loops.Get("001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
}

func TestLoopStore_CreateDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	loops := s.Loops()
	require.NoError(t, loops.Create(sampleLoop("001")))

	err := loops.Create(sampleLoop("001"))
	require.Error(t, err)
}

func TestLoopStore_UpdateMissingFails(t *testing.T) {
	s := newTestStore(t)
	err := s.Loops().Update(sampleLoop("ghost"))
	require.Error(t, err)
}

func TestLoopStore_QueryByStatusAndParent(t *testing.T) {
	s := newTestStore(t)
	loops := s.Loops()

	plan := sampleLoop("001")
	require.NoError(t, loops.Create(plan))

	child := sampleLoop("001-001")
	child.Kind = models.KindSpec
	child.ParentID = "001"
	child.Status = models.StatusRunning
	child.Worktree = "/tmp/wt/001-001"
	require.NoError(t, loops.Create(child))

	running, err := loops.ByStatus(models.StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "001-001", running[0].ID)

	children, err := loops.Children("001")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "001-001", children[0].ID)
}

func TestSignalStore_AcknowledgeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	signals := s.Signals()

	sig := models.Signal{ID: "sig-1", Kind: models.SignalStop, TargetLoop: "001", CreatedAt: 1}
	require.NoError(t, signals.Create(sig))

	require.NoError(t, signals.Acknowledge("sig-1", 10))
	require.NoError(t, signals.Acknowledge("sig-1", 20))

	got, _, err := signals.Get("sig-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.AcknowledgedAt)
}

func TestSignalStore_PendingForTargetExcludesAcknowledged(t *testing.T) {
	s := newTestStore(t)
	signals := s.Signals()

	require.NoError(t, signals.Create(models.Signal{ID: "s1", Kind: models.SignalStop, TargetLoop: "001", CreatedAt: 1}))
	require.NoError(t, signals.Create(models.Signal{ID: "s2", Kind: models.SignalPause, TargetLoop: "001", CreatedAt: 1}))
	require.NoError(t, signals.Acknowledge("s2", 5))

	pending, err := signals.PendingForTarget("001")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].ID)
}

func TestSignalStore_PendingWithSelectors(t *testing.T) {
	s := newTestStore(t)
	signals := s.Signals()

	require.NoError(t, signals.Create(models.Signal{
		ID: "sel-1", Kind: models.SignalInvalidate, TargetSelector: "descendants:001", CreatedAt: 1,
	}))
	require.NoError(t, signals.Create(models.Signal{ID: "s1", Kind: models.SignalStop, TargetLoop: "001", CreatedAt: 1}))

	pending, err := signals.PendingWithSelectors()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "sel-1", pending[0].ID)
}

func TestToolJobStore_ForLoop(t *testing.T) {
	s := newTestStore(t)
	tj := s.ToolJobs()

	require.NoError(t, tj.Create(models.ToolJob{ID: "tj1", LoopID: "001", Lane: models.LaneNoNet, ToolName: "read_file", CreatedAt: 1}))
	require.NoError(t, tj.Create(models.ToolJob{ID: "tj2", LoopID: "002", Lane: models.LaneNet, ToolName: "web_fetch", CreatedAt: 1}))

	jobs, err := tj.ForLoop("001")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "tj1", jobs[0].ID)
}

func TestEventStore_AppendAndQuery(t *testing.T) {
	s := newTestStore(t)
	events := s.Events()

	require.NoError(t, events.Append(models.Event{ID: "e1", Type: models.EventLoopStarted, LoopID: "001", CreatedAt: 1}))
	require.NoError(t, events.Append(models.Event{ID: "e2", Type: models.EventLoopComplete, LoopID: "001", CreatedAt: 2}))

	got, err := events.ForLoop("001")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMergeStore_AppendAndForLoop(t *testing.T) {
	s := newTestStore(t)
	merges := s.Merges()

	require.NoError(t, merges.Append(models.MergeRecord{
		ID: "m1", LoopID: "001", PreMergeHead: "aaa", PostMergeHead: "bbb", FilesChanged: 3, CreatedAt: 1,
	}))

	got, err := merges.ForLoop("001")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].FilesChanged)
}

func TestStore_RebuildIndexFromLog(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.Loops().Create(sampleLoop("001")))
	require.NoError(t, s.Close())

	// Simulate a lost/corrupt index.db: reopening must rebuild from the log.
	require.NoError(t, os.Remove(filepath.Join(dir, "index.db")))

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, found, err := s2.Loops().Get("001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "001", got.ID)
}

func TestStore_DeleteRemovesFromIndexNotFromLog(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Loops().Create(sampleLoop("001")))
	require.NoError(t, s.Delete(collectionLoops, "001"))

	_, found, err := s.Loops().Get("001")
	require.NoError(t, err)
	assert.False(t, found)
}
