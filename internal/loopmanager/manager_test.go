package loopmanager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottidler/loopr/internal/config"
	"github.com/scottidler/loopr/internal/loopdriver"
	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/signalbus"
	"github.com/scottidler/loopr/internal/store"
)

type fakeWorktrees struct {
	mu      chan struct{}
	cleaned map[string]bool
}

func newFakeWorktrees() *fakeWorktrees {
	return &fakeWorktrees{mu: make(chan struct{}, 1), cleaned: map[string]bool{}}
}

func (f *fakeWorktrees) Create(ctx context.Context, loopID, baseRef string) (string, error) {
	return "/tmp/wt/" + loopID, nil
}
func (f *fakeWorktrees) Cleanup(ctx context.Context, loopID string) error {
	f.cleaned[loopID] = true
	return nil
}
func (f *fakeWorktrees) IsClean(ctx context.Context, loopID string) (bool, error) { return true, nil }
func (f *fakeWorktrees) AutoCommit(ctx context.Context, loopID, message string) error {
	return nil
}
func (f *fakeWorktrees) MainHead(ctx context.Context) (string, error) { return "deadbeef", nil }
func (f *fakeWorktrees) RequestMerge(ctx context.Context, loopID string) (models.MergeRecord, error) {
	return models.MergeRecord{ID: "m1", LoopID: loopID, PreMergeHead: "aaa", PostMergeHead: "bbb", FilesChanged: 2}, nil
}
func (f *fakeWorktrees) Sweep(ctx context.Context, liveIDs map[string]bool) error { return nil }

// scriptedDriver returns a fixed outcome for whatever loop it drives.
type scriptedDriver struct {
	outcome loopdriver.Outcome
	err     error
}

func (d scriptedDriver) Drive(ctx context.Context, loopID string) (loopdriver.Outcome, error) {
	return d.outcome, d.err
}

func newTestManager(t *testing.T, newDriver func(string) Driver) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := signalbus.New(s, 200*time.Millisecond)
	wt := newFakeWorktrees()
	cfg := config.Default()
	mgr := New(s, bus, wt, nil, cfg.Scheduler, cfg.Worktree, newDriver)
	return mgr, s
}

func TestTick_SpawnsRunnableLoopAndRespectsMaxConcurrent(t *testing.T) {
	started := make(chan struct{}, 10)
	mgr, s := newTestManager(t, func(id string) Driver {
		started <- struct{}{}
		return scriptedDriver{outcome: loopdriver.OutcomeComplete}
	})
	mgr.Cfg.MaxConcurrent = 1

	require.NoError(t, s.Loops().Create(models.Loop{
		ID: "001", Kind: models.KindPlan, PromptPath: "p.md", MaxIterations: 3,
		Status: models.StatusPending, CreatedAt: time.Now().UnixMilli(), UpdatedAt: time.Now().UnixMilli(),
	}))
	require.NoError(t, s.Loops().Create(models.Loop{
		ID: "002", Kind: models.KindPlan, PromptPath: "p.md", MaxIterations: 3,
		Status: models.StatusPending, CreatedAt: time.Now().UnixMilli(), UpdatedAt: time.Now().UnixMilli(),
	}))

	require.NoError(t, mgr.Tick(context.Background()))
	assert.Len(t, started, 1)

	l1, _, _ := s.Loops().Get("001")
	l2, _, _ := s.Loops().Get("002")
	running := (l1.Status == models.StatusRunning) || (l2.Status == models.StatusRunning)
	assert.True(t, running)
}

func TestTick_SkipsLoopWithIncompleteParent(t *testing.T) {
	mgr, s := newTestManager(t, func(id string) Driver {
		t.Fatalf("should not spawn %s: parent not complete", id)
		return nil
	})

	require.NoError(t, s.Loops().Create(models.Loop{
		ID: "001", Kind: models.KindPlan, PromptPath: "p.md", MaxIterations: 3,
		Status: models.StatusRunning, Worktree: "/tmp/w", CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, s.Loops().Create(models.Loop{
		ID: "001-001", Kind: models.KindSpec, ParentID: "001", PromptPath: "p.md", MaxIterations: 3,
		Status: models.StatusPending, CreatedAt: 1, UpdatedAt: 1,
	}))

	require.NoError(t, mgr.Tick(context.Background()))
}

func TestFinalize_SpecCompleteSpawnsPhaseChildren(t *testing.T) {
	mgr, s := newTestManager(t, nil)

	dir := t.TempDir()
	descPath := filepath.Join(dir, "spec.json")
	desc := models.SpecDescriptor{
		Name: "auth", Title: "Auth", Overview: "auth spec",
		Phases: []models.PhaseRef{
			{Name: "phase-1", Title: "P1", Description: "first", Validation: "true"},
			{Name: "phase-2", Title: "P2", Description: "second", Validation: "true"},
			{Name: "phase-3", Title: "P3", Description: "third", Validation: "true"},
		},
	}
	data, err := json.Marshal(desc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(descPath, data, 0o644))

	specLoop := models.Loop{
		ID: "001-001", Kind: models.KindSpec, ParentID: "001", PromptPath: "p.md", MaxIterations: 3,
		Status: models.StatusRunning, OutputArtifacts: []string{descPath}, Worktree: "/tmp/w",
		CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, s.Loops().Create(specLoop))

	mgr.finalize(context.Background(), "001-001", taskResult{outcome: loopdriver.OutcomeComplete})

	children, err := s.Loops().Children("001-001")
	require.NoError(t, err)
	assert.Len(t, children, 3)
	for _, c := range children {
		assert.Equal(t, models.KindPhase, c.Kind)
		assert.Equal(t, models.StatusPending, c.Status)
	}
}

func TestFinalize_PlanCompleteEntersAwaitingApproval(t *testing.T) {
	mgr, s := newTestManager(t, nil)

	planLoop := models.Loop{
		ID: "001", Kind: models.KindPlan, PromptPath: "p.md", MaxIterations: 3,
		Status: models.StatusRunning, Worktree: "/tmp/w", CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, s.Loops().Create(planLoop))

	mgr.finalize(context.Background(), "001", taskResult{outcome: loopdriver.OutcomeComplete})

	final, _, err := s.Loops().Get("001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingApproval, final.Status)
}

func TestRecoverCrashed_RunningLoopsRevertToPending(t *testing.T) {
	mgr, s := newTestManager(t, nil)

	require.NoError(t, s.Loops().Create(models.Loop{
		ID: "001", Kind: models.KindPlan, PromptPath: "p.md", MaxIterations: 3,
		Status: models.StatusRunning, Worktree: "/tmp/w", Iteration: 2, Progress: "prior work",
		CreatedAt: 1, UpdatedAt: 1,
	}))

	require.NoError(t, mgr.RecoverCrashed(context.Background()))

	final, _, err := s.Loops().Get("001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, final.Status)
	assert.Equal(t, 2, final.Iteration)
	assert.Equal(t, "prior work", final.Progress)
}

func TestPriority_OrdersCodeAboveSpecAndBoostsAge(t *testing.T) {
	now := time.Now()
	old := now.Add(-20 * time.Minute)
	spec := models.Loop{ID: "s", Kind: models.KindSpec, CreatedAt: now.UnixMilli()}
	code := models.Loop{ID: "c", Kind: models.KindCode, CreatedAt: now.UnixMilli()}
	agedSpec := models.Loop{ID: "s-old", Kind: models.KindSpec, CreatedAt: old.UnixMilli()}

	assert.Greater(t, priority(code, 0, now), priority(spec, 0, now))
	assert.Greater(t, priority(agedSpec, 0, now), priority(spec, 0, now))
}
