package tools

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottidler/loopr/internal/engineerr"
	"github.com/scottidler/loopr/internal/models"
)

func testCatalog() *ToolCatalog {
	c := NewToolCatalog()
	c.Register(ToolDef{
		Name: "echo_tool",
		Lane: models.LaneNoNet,
		Command: func(input map[string]any) ([]string, error) {
			msg, _ := input["message"].(string)
			return []string{"echo", msg}, nil
		},
	})
	c.Register(ToolDef{
		Name: "sleep_tool",
		Lane: models.LaneHeavy,
		Command: func(input map[string]any) ([]string, error) {
			return []string{"sleep", "5"}, nil
		},
	})
	c.Register(ToolDef{
		Name: "big_output_tool",
		Lane: models.LaneNoNet,
		Command: func(input map[string]any) ([]string, error) {
			return []string{"yes"}, nil
		},
	})
	c.Register(ToolDef{
		Name:     "read_path_tool",
		Lane:     models.LaneNoNet,
		PathKeys: []string{"path"},
		Command: func(input map[string]any) ([]string, error) {
			path, _ := input["path"].(string)
			return []string{"cat", path}, nil
		},
	})
	return c
}

func testProfiles() map[models.Lane]LaneProfile {
	return map[models.Lane]LaneProfile{
		models.LaneNoNet: {Lane: models.LaneNoNet, Concurrency: 2, DefaultTimeout: 5 * time.Second},
		models.LaneNet:   {Lane: models.LaneNet, Concurrency: 2, DefaultTimeout: 5 * time.Second},
		models.LaneHeavy: {Lane: models.LaneHeavy, Concurrency: 1, DefaultTimeout: 1 * time.Second},
	}
}

func TestRouter_DispatchSuccess(t *testing.T) {
	worktree := t.TempDir()
	r := NewRouter(testCatalog(), testProfiles(), 1<<20)

	job, result, err := r.Dispatch(context.Background(), "echo_tool", map[string]any{"message": "hello"}, ExecutionContext{
		Worktree: worktree, LoopID: "001", Iteration: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ToolJobSuccess, result.Status)
	assert.Contains(t, result.Output, "hello")
	assert.Equal(t, models.LaneNoNet, job.Lane)
}

func TestRouter_DispatchTimeout(t *testing.T) {
	worktree := t.TempDir()
	r := NewRouter(testCatalog(), testProfiles(), 1<<20)

	_, result, err := r.Dispatch(context.Background(), "sleep_tool", nil, ExecutionContext{
		Worktree: worktree, LoopID: "001",
	})
	require.NoError(t, err)
	assert.True(t, result.WasTimeout)
	assert.Equal(t, models.ToolJobTimeout, result.Status)
}

func TestRouter_OutputCapTruncates(t *testing.T) {
	worktree := t.TempDir()
	r := NewRouter(testCatalog(), testProfiles(), 64)

	_, result, err := r.Dispatch(context.Background(), "big_output_tool", nil, ExecutionContext{
		Worktree: worktree, LoopID: "001",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "truncated")
	assert.LessOrEqual(t, len(result.Output), 64+len("\n...[output truncated]...\n"))
}

func TestRouter_UnknownTool(t *testing.T) {
	r := NewRouter(testCatalog(), testProfiles(), 1<<20)
	_, _, err := r.Dispatch(context.Background(), "nonexistent", nil, ExecutionContext{Worktree: t.TempDir()})
	require.Error(t, err)
}

func TestRouter_DispatchRejectsPathEscape(t *testing.T) {
	worktree := t.TempDir()
	r := NewRouter(testCatalog(), testProfiles(), 1<<20)

	_, _, err := r.Dispatch(context.Background(), "read_path_tool", map[string]any{"path": "../../etc/passwd"}, ExecutionContext{
		Worktree: worktree, LoopID: "001",
	})
	require.Error(t, err)
	assert.True(t, engineerr.IsSandboxViolation(err))
}

func TestRouter_DispatchAllowsPathWithinWorktree(t *testing.T) {
	worktree := t.TempDir()
	r := NewRouter(testCatalog(), testProfiles(), 1<<20)

	_, result, err := r.Dispatch(context.Background(), "read_path_tool", map[string]any{"path": "sub/file.txt"}, ExecutionContext{
		Worktree: worktree, LoopID: "001",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ToolJobFailed, result.Status)
}

func TestValidateSandbox_RejectsEscape(t *testing.T) {
	worktree := t.TempDir()
	err := validateSandbox(worktree, worktree, []string{filepath.Join(worktree, "..", "etc", "passwd")})
	require.Error(t, err)
	assert.True(t, engineerr.IsSandboxViolation(err))
}

func TestValidateSandbox_AllowsWithinWorktree(t *testing.T) {
	worktree := t.TempDir()
	err := validateSandbox(worktree, worktree, []string{filepath.Join(worktree, "sub", "file.go")})
	require.NoError(t, err)
}

func TestRouter_CancelKillsJob(t *testing.T) {
	worktree := t.TempDir()
	r := NewRouter(testCatalog(), testProfiles(), 1<<20)

	done := make(chan struct{})
	var cancelled bool
	go func() {
		_, result, _ := r.Dispatch(context.Background(), "sleep_tool", nil, ExecutionContext{
			Worktree: worktree, LoopID: "001",
		})
		cancelled = result.WasCancelled
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	r.mu.Lock()
	var jobID string
	for id := range r.cancelled {
		jobID = id
	}
	r.mu.Unlock()
	require.NotEmpty(t, jobID)
	require.True(t, r.Cancel(jobID))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after cancel")
	}
	assert.True(t, cancelled)
}
