// Package worktree implements WorktreeOps (spec.md §4.2, C2): one git
// worktree per loop, a global fast-forward-only merge lock, and the
// rebase-on-merge cascade that keeps sibling loops building on a current
// main. Git itself is invoked through the same subprocess pattern used for
// the model CLI — exec.CommandContext, combined output captured and
// wrapped on failure — generalized from one fixed binary (claude) to
// arbitrary git subcommands.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/scottidler/loopr/internal/engineerr"
	"github.com/scottidler/loopr/internal/filelock"
	"github.com/scottidler/loopr/internal/models"
)

// WorktreeOps manages one git worktree per loop under a shared worktrees
// directory, plus the single global merge lock every fast-forward into main
// must hold (spec.md §4.2 invariant: "at most one merge proceeds at a
// time").
type WorktreeOps struct {
	repoRoot     string
	worktreesDir string
	gitPath      string
	mainRef      string

	// freeSpaceFloorBytes is the minimum free space Create requires on the
	// worktrees directory's filesystem before provisioning a new worktree.
	// Zero disables the check.
	freeSpaceFloorBytes int64

	mergeMu   sync.Mutex
	mergeLock *filelock.FileLock
}

// New builds a WorktreeOps rooted at repoRoot (the shared git repository
// every loop's worktree branches from), keeping per-loop worktrees under
// worktreesDir. Call Configure to enable the free-disk-space floor.
func New(repoRoot, worktreesDir string) *WorktreeOps {
	return &WorktreeOps{
		repoRoot:     repoRoot,
		worktreesDir: worktreesDir,
		gitPath:      "git",
		mainRef:      "main",
		mergeLock:    filelock.New(filepath.Join(worktreesDir, ".merge.lock")),
	}
}

// Configure sets the branch Create's disk-space cleanup treats as "already
// merged" and the free-space floor it enforces (config.WorktreeConfig's
// MainRef and FreeSpaceFloorBytes). An empty mainRef or non-positive floor
// leaves the corresponding default/disabled behavior in place.
func (w *WorktreeOps) Configure(mainRef string, freeSpaceFloorBytes int64) {
	if mainRef != "" {
		w.mainRef = mainRef
	}
	w.freeSpaceFloorBytes = freeSpaceFloorBytes
}

// Path returns the worktree directory a loop's worktree would live at,
// whether or not it has been created yet.
func (w *WorktreeOps) Path(loopID string) string {
	return filepath.Join(w.worktreesDir, loopID)
}

func (w *WorktreeOps) branchName(loopID string) string {
	return "loop/" + loopID
}

// runGit executes git with args against cwd, returning combined output on
// error for diagnostics the way invoker.invoke() embeds Claude CLI output in
// its error.
func (w *WorktreeOps) runGit(ctx context.Context, cwd string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, w.gitPath, args...)
	cmd.Dir = cwd
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s failed: %w (output: %s)", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

// Create adds a new worktree for loopID, branching from baseRef (spec.md
// §4.2: each loop owns exactly one worktree). The loop manager passes the
// configured main ref as baseRef for every loop.
func (w *WorktreeOps) Create(ctx context.Context, loopID, baseRef string) (string, error) {
	path := w.Path(loopID)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(w.worktreesDir, 0o755); err != nil {
		return "", fmt.Errorf("create worktrees directory: %w", err)
	}

	if w.freeSpaceFloorBytes > 0 {
		if err := w.ensureFreeSpace(ctx, loopID); err != nil {
			return "", err
		}
	}

	branch := w.branchName(loopID)
	_, err := w.runGit(ctx, w.repoRoot, "worktree", "add", "-b", branch, path, baseRef)
	if err != nil {
		return "", err
	}
	return path, nil
}

// ensureFreeSpace checks worktreesDir's filesystem against
// freeSpaceFloorBytes, making one aggressive cleanup attempt — pruning
// worktrees whose branch is already merged into mainRef, since their
// commits survive on main regardless — before giving up with
// *engineerr.InsufficientSpaceError (spec.md §4.2, §8.3).
func (w *WorktreeOps) ensureFreeSpace(ctx context.Context, loopID string) error {
	free, err := freeBytes(w.worktreesDir)
	if err != nil {
		return fmt.Errorf("stat free space: %w", err)
	}
	if free >= w.freeSpaceFloorBytes {
		return nil
	}

	w.pruneMerged(ctx)

	free, err = freeBytes(w.worktreesDir)
	if err != nil {
		return fmt.Errorf("stat free space: %w", err)
	}
	if free < w.freeSpaceFloorBytes {
		return &engineerr.InsufficientSpaceError{LoopID: loopID, FreeBytes: free, RequiredFloor: w.freeSpaceFloorBytes}
	}
	return nil
}

// pruneMerged removes worktree directories for loop branches already merged
// into mainRef, then prunes git's own stale administrative entries. It is
// the one cleanup attempt ensureFreeSpace makes before failing.
func (w *WorktreeOps) pruneMerged(ctx context.Context) {
	mergedOut, err := w.runGit(ctx, w.repoRoot, "branch", "--merged", w.mainRef, "--list", "loop/*")
	if err == nil {
		merged := make(map[string]bool)
		for _, line := range nonEmptyLines(mergedOut) {
			merged[strings.TrimSpace(strings.TrimPrefix(line, "*"))] = true
		}
		if entries, err := os.ReadDir(w.worktreesDir); err == nil {
			for _, entry := range entries {
				if entry.IsDir() && merged[w.branchName(entry.Name())] {
					_ = w.Cleanup(ctx, entry.Name())
				}
			}
		}
	}
	_, _ = w.runGit(ctx, w.repoRoot, "worktree", "prune")
}

// freeBytes reports the bytes available to an unprivileged process on the
// filesystem containing path.
func freeBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// Cleanup removes loopID's worktree directory and its branch. It is called
// after a loop reaches a terminal status and its artifacts have been
// persisted elsewhere (spec.md §4.2 background sweep).
func (w *WorktreeOps) Cleanup(ctx context.Context, loopID string) error {
	path := w.Path(loopID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if _, err := w.runGit(ctx, w.repoRoot, "worktree", "remove", "--force", path); err != nil {
		return err
	}
	// Branch deletion is best-effort: a branch already merged and pruned by
	// an earlier cleanup pass is not an error.
	_, _ = w.runGit(ctx, w.repoRoot, "branch", "-D", w.branchName(loopID))
	return nil
}

// IsClean reports whether a loop's worktree has no uncommitted changes.
func (w *WorktreeOps) IsClean(ctx context.Context, loopID string) (bool, error) {
	out, err := w.runGit(ctx, w.Path(loopID), "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// AutoCommit stages and commits every change in a loop's worktree with
// message, a no-op if the worktree is already clean. Used both at the end of
// a successful iteration and during crash recovery to preserve partial work
// before a Running loop reverts to Pending (spec.md §4.7).
func (w *WorktreeOps) AutoCommit(ctx context.Context, loopID, message string) error {
	clean, err := w.IsClean(ctx, loopID)
	if err != nil {
		return err
	}
	if clean {
		return nil
	}

	path := w.Path(loopID)
	if _, err := w.runGit(ctx, path, "add", "-A"); err != nil {
		return err
	}
	if _, err := w.runGit(ctx, path, "commit", "-m", message); err != nil {
		return err
	}
	return nil
}

// Head returns the current commit hash checked out in a loop's worktree.
func (w *WorktreeOps) Head(ctx context.Context, loopID string) (string, error) {
	out, err := w.runGit(ctx, w.Path(loopID), "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// MainHead returns the current commit hash of main in the shared repo.
func (w *WorktreeOps) MainHead(ctx context.Context) (string, error) {
	out, err := w.runGit(ctx, w.repoRoot, "rev-parse", "main")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RequestMerge fast-forwards main onto a loop's worktree branch under the
// global merge lock, failing rather than creating a merge commit if main has
// moved in a way that breaks the fast-forward (spec.md §4.2 invariant:
// "merges are fast-forward only; a non-fast-forward merge is rejected, not
// resolved").
//
// The merge lock is acquired twice over: an in-process mutex for goroutines
// sharing this WorktreeOps, and a flock file lock so a second loopr process
// sharing the same repo (e.g. after a crash and restart) still serializes
// correctly.
func (w *WorktreeOps) RequestMerge(ctx context.Context, loopID string) (models.MergeRecord, error) {
	w.mergeMu.Lock()
	defer w.mergeMu.Unlock()
	if err := w.mergeLock.Lock(); err != nil {
		return models.MergeRecord{}, err
	}
	defer w.mergeLock.Unlock()

	preHead, err := w.MainHead(ctx)
	if err != nil {
		return models.MergeRecord{}, err
	}

	branch := w.branchName(loopID)

	ancestorOut, ancestorErr := w.runGit(ctx, w.repoRoot, "merge-base", "--is-ancestor", preHead, branch)
	_ = ancestorOut
	if ancestorErr != nil {
		return models.MergeRecord{}, &engineerr.RebaseConflictError{LoopID: loopID}
	}

	statOut, err := w.runGit(ctx, w.repoRoot, "diff", "--name-only", preHead, branch)
	if err != nil {
		return models.MergeRecord{}, err
	}
	changed := nonEmptyLines(statOut)

	if _, err := w.runGit(ctx, w.repoRoot, "merge", "--ff-only", branch); err != nil {
		return models.MergeRecord{}, &engineerr.RebaseConflictError{LoopID: loopID}
	}

	postHead, err := w.MainHead(ctx)
	if err != nil {
		return models.MergeRecord{}, err
	}

	return models.MergeRecord{
		LoopID:        loopID,
		PreMergeHead:  preHead,
		PostMergeHead: postHead,
		FilesChanged:  len(changed),
		CreatedAt:     time.Now().UnixMilli(),
	}, nil
}

// Rebase replays a loop's worktree commits onto newMainHead, the cascade
// spec.md §4.9 triggers on every sibling loop after one of them merges.
// A conflict aborts the rebase and returns *engineerr.RebaseConflictError
// rather than leaving the worktree mid-rebase, so the caller (the loop
// driver, which then fails the loop with FailureRebaseConflict) always
// starts from a clean worktree.
func (w *WorktreeOps) Rebase(ctx context.Context, loopID, newMainHead string) error {
	path := w.Path(loopID)
	if _, err := w.runGit(ctx, path, "rebase", newMainHead); err != nil {
		conflictFiles, _ := w.runGit(ctx, path, "diff", "--name-only", "--diff-filter=U")
		_, _ = w.runGit(ctx, path, "rebase", "--abort")
		return &engineerr.RebaseConflictError{LoopID: loopID, Files: nonEmptyLines(conflictFiles)}
	}
	return nil
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// Sweep removes worktree directories that no longer correspond to a live
// (non-terminal) loop, per liveIDs. It is run periodically in the
// background by LoopManager rather than synchronously on every completion,
// a dedicated background goroutine for housekeeping kept separate from the
// request-serving path.
func (w *WorktreeOps) Sweep(ctx context.Context, liveIDs map[string]bool) error {
	entries, err := os.ReadDir(w.worktreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list worktrees directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || liveIDs[entry.Name()] {
			continue
		}
		if err := w.Cleanup(ctx, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}
