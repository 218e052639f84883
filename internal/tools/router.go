package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/scottidler/loopr/internal/engineerr"
	"github.com/scottidler/loopr/internal/models"
)

// ExecutionContext is the per-call context a ToolCall runs under (spec.md
// §4.4).
type ExecutionContext struct {
	Worktree  string
	LoopID    string
	Iteration int
}

// Result is what one dispatch returns to the caller (spec.md §4.4's
// ToolResult).
type Result struct {
	Status       models.ToolJobStatus
	Output       string
	ExitCode     int
	WasTimeout   bool
	WasCancelled bool
	DurationMs   int64
}

// pool is one lane's bounded worker slots, the semaphore half of the
// teacher's wave.go pattern (acquire a channel slot before launching,
// release on completion) held open for the router's lifetime instead of
// being rebuilt per wave.
type pool struct {
	slots chan struct{}
}

func newPool(concurrency int) *pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &pool{slots: make(chan struct{}, concurrency)}
}

// Router is the ToolRouter (spec.md §4.4, C4).
type Router struct {
	catalog      *ToolCatalog
	laneProfiles map[models.Lane]LaneProfile
	pools        map[models.Lane]*pool
	outputCap    int

	mu        sync.Mutex
	cancelled map[string]context.CancelFunc
}

// NewRouter builds a Router over catalog using profiles (typically
// DefaultCatalog with config overrides applied), capping captured tool
// output at outputCapBytes.
func NewRouter(catalog *ToolCatalog, profiles map[models.Lane]LaneProfile, outputCapBytes int) *Router {
	pools := make(map[models.Lane]*pool, len(profiles))
	for lane, profile := range profiles {
		pools[lane] = newPool(profile.Concurrency)
	}
	return &Router{
		catalog:      catalog,
		laneProfiles: profiles,
		pools:        pools,
		outputCap:    outputCapBytes,
		cancelled:    make(map[string]context.CancelFunc),
	}
}

// Dispatch resolves toolName's lane, validates every path-shaped input
// against the sandbox before the tool's command is even built, then builds
// the ToolJob and runs it through that lane's worker pool (spec.md §4.4
// steps 1-4 — "Any escape returns SandboxViolation without executing"). The
// returned models.ToolJob is a complete audit record the caller persists via
// store.ToolJobStore.
func (r *Router) Dispatch(ctx context.Context, toolName string, input map[string]any, execCtx ExecutionContext) (models.ToolJob, Result, error) {
	def, ok := r.catalog.Lookup(toolName)
	if !ok {
		return models.ToolJob{}, Result{}, fmt.Errorf("unknown tool %q", toolName)
	}

	job := models.ToolJob{
		ID:        uuid.NewString(),
		LoopID:    execCtx.LoopID,
		Iteration: execCtx.Iteration,
		Lane:      def.Lane,
		ToolName:  toolName,
		CreatedAt: time.Now().UnixMilli(),
	}

	if err := validateSandbox(execCtx.Worktree, execCtx.Worktree, pathValues(input, def.PathKeys)); err != nil {
		return job, Result{}, err
	}

	args, err := def.Command(input)
	if err != nil {
		return job, Result{}, fmt.Errorf("build command for %q: %w", toolName, err)
	}

	result, err := r.run(ctx, def.Lane, job.ID, execCtx.Worktree, args)
	job.Status = result.Status
	job.ExitCode = result.ExitCode
	job.DurationMs = result.DurationMs
	job.OutputSummary = summarize(result.Output, 256)
	return job, result, err
}

// RunCommand executes an ad-hoc command (not a catalog tool) through lane's
// worker pool — the path LoopDriver uses for a loop's free-form
// validation_command, which has no ToolDef of its own (spec.md §4.6 step 5).
func (r *Router) RunCommand(ctx context.Context, lane models.Lane, cwd string, args []string) (Result, error) {
	if err := validateSandbox(cwd, cwd, nil); err != nil {
		return Result{}, err
	}
	return r.run(ctx, lane, uuid.NewString(), cwd, args)
}

func (r *Router) run(ctx context.Context, lane models.Lane, jobID, cwd string, args []string) (Result, error) {
	p, ok := r.pools[lane]
	if !ok {
		return Result{}, fmt.Errorf("no worker pool registered for lane %q", lane)
	}
	profile := r.laneProfiles[lane]

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-p.slots }()

	runCtx := ctx
	var cancel context.CancelFunc
	if profile.DefaultTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, profile.DefaultTimeout)
		defer cancel()
	}

	cmdCtx, cmdCancel := context.WithCancel(runCtx)
	r.registerCancel(jobID, cmdCancel)
	defer r.unregisterCancel(jobID)

	if len(args) == 0 {
		return Result{Status: models.ToolJobError}, fmt.Errorf("empty command for job %s", jobID)
	}

	start := time.Now()
	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = cwd
	cmd.SysProcAttr = setpgidAttr()

	var out bytes.Buffer
	capped := &cappingWriter{limit: r.outputCap, buf: &out}
	cmd.Stdout = capped
	cmd.Stderr = capped

	err := cmd.Run()
	duration := time.Since(start).Milliseconds()

	result := Result{
		Output:     out.String(),
		DurationMs: duration,
	}

	switch {
	case cmdCtx.Err() == context.Canceled && runCtx.Err() != context.DeadlineExceeded:
		result.Status = models.ToolJobCancelled
		result.WasCancelled = true
	case runCtx.Err() == context.DeadlineExceeded:
		result.Status = models.ToolJobTimeout
		result.WasTimeout = true
		killProcessGroup(cmd)
	case err != nil:
		result.Status = models.ToolJobFailed
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		}
	default:
		result.Status = models.ToolJobSuccess
	}

	return result, nil
}

// pathValues extracts the string value of each of keys present in input,
// skipping any that are absent or not strings — a missing required path
// still surfaces as an error once def.Command validates its own inputs.
func pathValues(input map[string]any, keys []string) []string {
	var paths []string
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			paths = append(paths, v)
		}
	}
	return paths
}

func (r *Router) registerCancel(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled[jobID] = cancel
}

func (r *Router) unregisterCancel(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancelled, jobID)
}

// Cancel cancels an in-flight job by id. The spawned process group is
// killed so transitive children die with it (spec.md §4.4 "Cancellation").
func (r *Router) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancelled[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func setpgidAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// cappingWriter discards output past limit and appends a truncation marker
// exactly once (spec.md §4.4 "Output capping").
type cappingWriter struct {
	limit     int
	buf       *bytes.Buffer
	truncated bool
}

func (c *cappingWriter) Write(p []byte) (int, error) {
	if c.limit <= 0 {
		return c.buf.Write(p)
	}
	remaining := c.limit - c.buf.Len()
	if remaining <= 0 {
		if !c.truncated {
			c.buf.WriteString("\n...[output truncated]...\n")
			c.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.buf.WriteString("\n...[output truncated]...\n")
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func summarize(output string, max int) string {
	if len(output) <= max {
		return output
	}
	return output[:max] + "..."
}

// SandboxCheck validates that cwd and filePaths all resolve beneath
// worktree, exported so LoopDriver can pre-check tool-call inputs before
// ever constructing a ToolJob.
func SandboxCheck(worktree, cwd string, filePaths []string) error {
	return validateSandbox(worktree, cwd, filePaths)
}
