package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"
)

// openApp builds an App from a command's persistent --repo/--config flags,
// resolving --repo to an absolute path so the project-hash keying in
// config.ProjectRoot is stable regardless of the caller's cwd.
func openApp(cmd *cobra.Command) (*App, error) {
	repo, err := cmd.Flags().GetString("repo")
	if err != nil {
		return nil, err
	}
	repoAbs, err := filepath.Abs(repo)
	if err != nil {
		return nil, err
	}
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return NewApp(repoAbs, configPath)
}
