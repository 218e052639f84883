// Package main provides the CLI entry point for the loopr engine.
package main

import (
	"fmt"
	"os"

	"github.com/scottidler/loopr/internal/cmd"
)

// Version is the current version of the loopr application.
const Version = "0.1.0"

func main() {
	cmd.Version = Version
	rootCmd := cmd.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
