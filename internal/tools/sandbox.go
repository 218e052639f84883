package tools

import (
	"path/filepath"
	"strings"

	"github.com/scottidler/loopr/internal/engineerr"
)

// validateSandbox canonically resolves cwd and every entry of filePaths and
// confirms each resolves beneath worktree, returning *engineerr.SandboxViolationError
// for the first path that escapes (spec.md §4.4 step 3, §8.1 #8). Canonical
// resolution (Abs + Clean) catches ".." traversal and absolute-path escapes
// alike; it does not resolve symlinks, since a worktree's own symlinks
// pointing outside it are a filesystem-layout concern the sandbox check
// cannot fix by itself and the loop's worktree is assumed not to contain
// attacker-controlled symlinks planted outside of tool execution.
func validateSandbox(worktree, cwd string, filePaths []string) error {
	root, err := canonical(worktree)
	if err != nil {
		return err
	}

	if err := requireBeneath(root, cwd); err != nil {
		return err
	}
	for _, p := range filePaths {
		// A tool-supplied path is relative to the worktree, not to this
		// process's own working directory, so join it against root before
		// resolving — otherwise a relative path would canonicalize against
		// the wrong base and the containment check would be meaningless.
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		if err := requireBeneath(root, p); err != nil {
			return err
		}
	}
	return nil
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func requireBeneath(root, candidate string) error {
	resolved, err := canonical(candidate)
	if err != nil {
		return err
	}
	if resolved == root {
		return nil
	}
	if !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return &engineerr.SandboxViolationError{Path: candidate, Worktree: root}
	}
	return nil
}
