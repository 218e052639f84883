package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

// DataHome returns the engine's data root directory (spec.md §6.1
// "<data-root>"). Priority order:
//  1. LOOPR_HOME environment variable, if set.
//  2. $HOME/.loopr; an error is returned if the user's home directory
//     cannot be resolved.
// The directory is created if it doesn't exist.
func DataHome() (string, error) {
	if home := os.Getenv("LOOPR_HOME"); home != "" {
		if err := os.MkdirAll(home, 0o755); err != nil {
			return "", fmt.Errorf("create data home %s: %w", home, err)
		}
		return home, nil
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	dataHome := filepath.Join(userHome, ".loopr")
	if err := os.MkdirAll(dataHome, 0o755); err != nil {
		return "", fmt.Errorf("create data home %s: %w", dataHome, err)
	}
	return dataHome, nil
}

// ProjectHash derives a stable, filesystem-safe directory name for a
// repository root path (spec.md §6.1 "keyed by a stable hash of repository
// root path"). FNV-1a is used rather than a cryptographic hash since the
// requirement is determinism and collision-avoidance within one machine's
// data home, not tamper-resistance; no third-party library in the corpus
// targets this non-cryptographic keying use case.
func ProjectHash(repoRoot string) string {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		abs = repoRoot
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(abs))
	return fmt.Sprintf("%016x", h.Sum64())
}

// ProjectRoot returns <data-root>/<project-hash> for the given repository
// root path, creating it if necessary.
func ProjectRoot(repoRoot string) (string, error) {
	home, err := DataHome()
	if err != nil {
		return "", err
	}
	root := filepath.Join(home, ProjectHash(repoRoot))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create project root %s: %w", root, err)
	}
	return root, nil
}
