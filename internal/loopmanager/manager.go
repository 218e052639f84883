// Package loopmanager implements LoopManager (spec.md §4.7, C7): the
// concurrent scheduler and lifecycle owner — tick loop, selection, spawn,
// reap, cascade invalidation, crash recovery, child-spawning on completion,
// and rebase-on-merge coordination. Shaped after a single coordinator
// driving many concurrent task executions, reaping results, and
// aggregating, generalized from a one-shot DAG-of-waves run into a
// long-lived polling scheduler over independently-iterating loops.
package loopmanager

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/scottidler/loopr/internal/artifact"
	"github.com/scottidler/loopr/internal/config"
	"github.com/scottidler/loopr/internal/logger"
	"github.com/scottidler/loopr/internal/loopdriver"
	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/signalbus"
	"github.com/scottidler/loopr/internal/store"
)

// Driver is the subset of loopdriver.Driver the Manager needs, kept as an
// interface so tests can substitute a scripted fake.
type Driver interface {
	Drive(ctx context.Context, loopID string) (loopdriver.Outcome, error)
}

// Worktrees is the subset of worktree.WorktreeOps the Manager needs.
type Worktrees interface {
	Create(ctx context.Context, loopID, baseRef string) (string, error)
	Cleanup(ctx context.Context, loopID string) error
	IsClean(ctx context.Context, loopID string) (bool, error)
	AutoCommit(ctx context.Context, loopID, message string) error
	MainHead(ctx context.Context) (string, error)
	RequestMerge(ctx context.Context, loopID string) (models.MergeRecord, error)
	Sweep(ctx context.Context, liveIDs map[string]bool) error
}

// task tracks one in-flight LoopDriver run.
type task struct {
	loopID string
	done   chan taskResult
}

type taskResult struct {
	outcome loopdriver.Outcome
	err     error
}

// Manager is the LoopManager (C7).
type Manager struct {
	Store  *store.Store
	Bus    *signalbus.Bus
	Wt     Worktrees
	Log    logger.Logger
	Cfg    config.SchedulerConfig
	Worktx config.WorktreeConfig

	// NewDriver builds a Driver bound to loopID for one drive call.
	NewDriver func(loopID string) Driver

	mu      sync.Mutex
	running map[string]*task
}

// New builds a Manager.
func New(s *store.Store, bus *signalbus.Bus, wt Worktrees, log logger.Logger, cfg config.SchedulerConfig, wtx config.WorktreeConfig, newDriver func(string) Driver) *Manager {
	return &Manager{
		Store: s, Bus: bus, Wt: wt, Log: log, Cfg: cfg, Worktx: wtx,
		NewDriver: newDriver,
		running:   make(map[string]*task),
	}
}

// Run ticks every Cfg.PollInterval until ctx is cancelled, and separately
// sweeps abandoned worktree directories every Worktx.SweepInterval.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.RecoverCrashed(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(m.Cfg.PollInterval)
	defer ticker.Stop()

	sweepInterval := m.Worktx.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	sweeper := time.NewTicker(sweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil && m.Log != nil {
				m.Log.Error("tick failed: %v", err)
			}
		case <-sweeper.C:
			if err := m.sweepWorktrees(ctx); err != nil && m.Log != nil {
				m.Log.Error("sweep worktrees failed: %v", err)
			}
		}
	}
}

// sweepWorktrees removes worktree directories left behind by loops that are
// no longer live (spec.md §4.7 housekeeping; config.WorktreeConfig's
// SweepInterval exists specifically to drive this).
func (m *Manager) sweepWorktrees(ctx context.Context) error {
	all, err := m.Store.Loops().Query()
	if err != nil {
		return fmt.Errorf("query loops for sweep: %w", err)
	}
	liveIDs := make(map[string]bool, len(all))
	for _, l := range all {
		if !l.Status.Terminal() {
			liveIDs[l.ID] = true
		}
	}
	return m.Wt.Sweep(ctx, liveIDs)
}

// Tick performs one iteration of spec.md §4.7's tick loop: reap, scan,
// rank, spawn.
func (m *Manager) Tick(ctx context.Context) error {
	m.reap(ctx)

	runningCount := m.runningCount()
	budget := m.Cfg.MaxConcurrent - runningCount
	if budget <= 0 {
		return nil
	}

	runnable, err := m.scanRunnable()
	if err != nil {
		return fmt.Errorf("scan runnable: %w", err)
	}
	if len(runnable) == 0 {
		return nil
	}

	ranked := rank(runnable, m.depthOf, time.Now())

	perKindRunning := m.runningCountByKind()
	started := 0
	for _, l := range ranked {
		if started >= budget {
			break
		}
		if cap, ok := m.Cfg.PerKindCaps[string(l.Kind)]; ok && perKindRunning[l.Kind] >= cap {
			continue
		}
		if err := m.spawn(ctx, l); err != nil {
			if m.Log != nil {
				m.Log.Error("spawn loop %s failed: %v", l.ID, err)
			}
			continue
		}
		perKindRunning[l.Kind]++
		started++
	}
	return nil
}

func (m *Manager) runningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) runningCountByKind() map[models.Kind]int {
	counts := make(map[models.Kind]int)
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		l, found, err := m.Store.Loops().Get(id)
		if err == nil && found {
			counts[l.Kind]++
		}
	}
	return counts
}

// scanRunnable returns Pending loops whose parent (if any) is Complete and
// whose input_artifact (if any) exists on disk (spec.md §4.7 step 3). The
// global-rate-limit filter is left to the LlmGateway's own retry/backoff —
// this engine has no separate scheduler-level rate tracker to consult.
func (m *Manager) scanRunnable() ([]models.Loop, error) {
	pending, err := m.Store.Loops().ByStatus(models.StatusPending)
	if err != nil {
		return nil, err
	}
	var runnable []models.Loop
	for _, l := range pending {
		if l.ParentID != "" {
			parent, found, err := m.Store.Loops().Get(l.ParentID)
			if err != nil {
				return nil, err
			}
			if !found || parent.Status != models.StatusComplete {
				continue
			}
		}
		if l.InputArtifact != "" {
			if _, err := os.Stat(l.InputArtifact); err != nil {
				continue
			}
		}
		runnable = append(runnable, l)
	}
	return runnable, nil
}

func (m *Manager) depthOf(id string) int {
	return models.DepthFromRoot(id, func(id string) (models.Loop, bool) {
		l, found, err := m.Store.Loops().Get(id)
		if err != nil {
			return models.Loop{}, false
		}
		return l, found
	})
}

// spawn creates the worktree, transitions Pending -> Running, and launches a
// cooperative drive task (spec.md §4.7 "Spawning a loop").
func (m *Manager) spawn(ctx context.Context, l models.Loop) error {
	wtPath, err := m.Wt.Create(ctx, l.ID, m.Worktx.MainRef)
	if err != nil {
		return fmt.Errorf("create worktree for %s: %w", l.ID, err)
	}
	l.Worktree = wtPath
	l.Status = models.StatusRunning
	l.Touch(time.Now().UnixMilli())
	if err := m.Store.Loops().Update(l); err != nil {
		return err
	}
	if m.Log != nil {
		m.Log.LoopStarted(l.ID, string(l.Kind))
	}

	drv := m.NewDriver(l.ID)
	t := &task{loopID: l.ID, done: make(chan taskResult, 1)}
	m.mu.Lock()
	m.running[l.ID] = t
	m.mu.Unlock()

	go func() {
		outcome, err := drv.Drive(ctx, l.ID)
		t.done <- taskResult{outcome: outcome, err: err}
	}()
	return nil
}

// reap collects any finished drive tasks and finalizes their outcome
// (spec.md §4.7 step 1).
func (m *Manager) reap(ctx context.Context) {
	m.mu.Lock()
	var toFinalize []taskResult
	var loopIDs []string
	for id, t := range m.running {
		select {
		case res := <-t.done:
			delete(m.running, id)
			toFinalize = append(toFinalize, res)
			loopIDs = append(loopIDs, t.loopID)
		default:
		}
	}
	m.mu.Unlock()

	for i, res := range toFinalize {
		m.finalize(ctx, loopIDs[i], res)
	}
}

// finalize applies spec.md §4.7's "Child spawning on Complete" and cleanup
// rules once a LoopDriver task returns.
func (m *Manager) finalize(ctx context.Context, loopID string, res taskResult) {
	l, found, err := m.Store.Loops().Get(loopID)
	if err != nil || !found {
		return
	}

	switch res.outcome {
	case loopdriver.OutcomeComplete:
		if l.Kind == models.KindPlan {
			l.Status = models.StatusAwaitingApproval
			l.Touch(time.Now().UnixMilli())
			_ = m.Store.Loops().Update(l)
			return
		}
		if err := m.spawnChildren(l); err != nil && m.Log != nil {
			m.Log.Error("spawn children for %s failed: %v", l.ID, err)
		}
		_ = m.Wt.Cleanup(ctx, l.ID)

	case loopdriver.OutcomeFailed:
		if l.ParentID != "" {
			if _, err := m.Bus.Emit(models.Signal{
				Kind:       models.SignalError,
				SourceLoop: l.ID,
				TargetLoop: l.ParentID,
				Reason:     fmt.Sprintf("child %s failed: %s", l.ID, l.FailureReason),
			}); err != nil && m.Log != nil {
				m.Log.Error("emit error signal for %s to parent %s failed: %v", l.ID, l.ParentID, err)
			} else if m.Log != nil {
				m.Log.SignalEmitted(l.ID, string(models.SignalError), l.ParentID)
			}
		}
		_ = m.Wt.Cleanup(ctx, l.ID)

	case loopdriver.OutcomeInvalidated:
		_ = m.Wt.Cleanup(ctx, l.ID)
	}
}

// spawnChildren reads the loop's structured output descriptor and
// synthesizes one Pending child per entry (spec.md §4.7, §6.4).
func (m *Manager) spawnChildren(l models.Loop) error {
	if len(l.OutputArtifacts) == 0 {
		return nil
	}
	descriptorPath := l.OutputArtifacts[0]

	switch l.Kind {
	case models.KindSpec:
		d, err := artifact.LoadSpecDescriptor(descriptorPath)
		if err != nil {
			return err
		}
		for i, phase := range d.Phases {
			if err := m.createChild(l, i+1, models.KindPhase, phase.Name, phase.Validation); err != nil {
				return err
			}
		}
	case models.KindPhase:
		d, err := artifact.LoadPhaseDescriptor(descriptorPath)
		if err != nil {
			return err
		}
		for i := range d.Tasks {
			if err := m.createChild(l, i+1, models.KindCode, d.Name, d.ValidationCommand); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) createChild(parent models.Loop, index int, kind models.Kind, name, validation string) error {
	child := models.Loop{
		ID:                parent.ChildID(index),
		Kind:              kind,
		ParentID:          parent.ID,
		InputArtifact:     firstOrEmpty(parent.OutputArtifacts),
		PromptPath:        parent.PromptPath,
		ValidationCommand: validation,
		MaxIterations:     parent.MaxIterations,
		Status:            models.StatusPending,
		Context:           map[string]any{"name": name, "parent": parent.ID},
		CreatedAt:         time.Now().UnixMilli(),
		UpdatedAt:         time.Now().UnixMilli(),
	}
	return m.Store.Loops().Create(child)
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// ApprovePlan spawns one Spec child per entry in the plan's PlanDescriptor
// and transitions the plan to Complete (spec.md §4.8 "approve").
func (m *Manager) ApprovePlan(plan models.Loop) error {
	if len(plan.OutputArtifacts) == 0 {
		return fmt.Errorf("plan %s has no output artifact to approve", plan.ID)
	}
	d, err := artifact.LoadPlanDescriptor(plan.OutputArtifacts[0])
	if err != nil {
		return err
	}
	for i, spec := range d.Specs {
		if err := m.createChild(plan, i+1, models.KindSpec, spec.Name, ""); err != nil {
			return err
		}
	}
	plan.Status = models.StatusComplete
	plan.Touch(time.Now().UnixMilli())
	return m.Store.Loops().Update(plan)
}

// InvalidateAndReiterate implements the "approved plan sent back for
// iteration" cascade of spec.md §4.7's "Cascade invalidation": invalidate
// every running descendant, then hand control back to the caller
// (approval.Gate.Iterate, when it reopens a plan already Complete) to mutate
// and re-run the ancestor itself.
func (m *Manager) InvalidateAndReiterate(ctx context.Context, ancestorID, reason string) (int, error) {
	return m.Bus.InvalidateDescendants(ctx, ancestorID, reason)
}

// RecoverCrashed implements spec.md §4.7's crash-recovery pass: every loop
// persisted as Running when the manager starts either resumes from Pending
// (worktree intact, auto-committed if dirty) or fails with WorktreeLost.
func (m *Manager) RecoverCrashed(ctx context.Context) error {
	running, err := m.Store.Loops().ByStatus(models.StatusRunning)
	if err != nil {
		return err
	}
	for _, l := range running {
		clean, err := m.Wt.IsClean(ctx, l.ID)
		if err != nil {
			l.Status = models.StatusFailed
			l.FailureReason = models.FailureWorktreeLost
			l.Touch(time.Now().UnixMilli())
			if uerr := m.Store.Loops().Update(l); uerr != nil {
				return uerr
			}
			continue
		}
		if !clean {
			_ = m.Wt.AutoCommit(ctx, l.ID, "WIP: pre-recovery")
		}
		l.Status = models.StatusPending
		l.Touch(time.Now().UnixMilli())
		if err := m.Store.Loops().Update(l); err != nil {
			return err
		}
	}
	return nil
}

// RequestMerge implements spec.md §4.9's rebase-on-merge protocol: acquire
// the merge lock (via Wt.RequestMerge, which serializes internally),
// broadcast Rebase to every other Running loop, wait for acknowledgment up
// to Worktx.MergeAckDeadline, then let the caller's merge proceed.
func (m *Manager) RequestMerge(ctx context.Context, loopID string) (models.MergeRecord, error) {
	others, err := m.otherRunningLoops(loopID)
	if err != nil {
		return models.MergeRecord{}, err
	}

	newHead, err := m.Wt.MainHead(ctx)
	if err != nil {
		return models.MergeRecord{}, err
	}

	for _, o := range others {
		if _, err := m.Bus.Emit(models.Signal{
			Kind:       models.SignalRebase,
			SourceLoop: loopID,
			TargetLoop: o.ID,
			Payload:    map[string]any{"new_main_head": newHead},
		}); err != nil {
			return models.MergeRecord{}, err
		}
	}

	m.waitForRebaseAcks(ctx, others)

	record, err := m.Wt.RequestMerge(ctx, loopID)
	if err != nil {
		return models.MergeRecord{}, err
	}
	if err := m.Store.Merges().Append(record); err != nil {
		return record, err
	}
	if m.Log != nil {
		m.Log.MergeCompleted(loopID, record.PreMergeHead, record.PostMergeHead, record.FilesChanged)
	}
	return record, nil
}

func (m *Manager) otherRunningLoops(exceptID string) ([]models.Loop, error) {
	running, err := m.Store.Loops().ByStatus(models.StatusRunning)
	if err != nil {
		return nil, err
	}
	out := running[:0:0]
	for _, l := range running {
		if l.ID != exceptID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Manager) waitForRebaseAcks(ctx context.Context, targets []models.Loop) {
	deadline := time.Now().Add(m.Worktx.MergeAckDeadline)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pending := 0
		for _, l := range targets {
			sig, err := m.Bus.Check(l.ID)
			if err == nil && sig != nil && sig.Kind == models.SignalRebase {
				pending++
			}
		}
		if pending == 0 {
			return
		}
	}
}
