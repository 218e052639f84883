// Package tools implements ToolRouter (spec.md §4.4, C4): lane-scoped tool
// dispatch with sandbox validation, output capping, and cancellation.
// Concurrency is bounded per lane by a buffered-channel semaphore (a slot
// is acquired before each job runs and released when it returns),
// generalized from one pool per wave to one persistent pool per lane.
package tools

import (
	"time"

	"github.com/scottidler/loopr/internal/models"
)

// LaneProfile is the static catalog entry for one execution lane (spec.md
// §4.4's per-lane properties table).
type LaneProfile struct {
	Lane           models.Lane
	NetworkAllowed bool
	Concurrency    int
	DefaultTimeout time.Duration
}

// DefaultCatalog returns the default lane properties (spec.md §4.4). A
// caller may override Concurrency/DefaultTimeout per deployment via
// ToolRouterConfig without changing the lane identities themselves.
func DefaultCatalog() map[models.Lane]LaneProfile {
	return map[models.Lane]LaneProfile{
		models.LaneNoNet: {Lane: models.LaneNoNet, NetworkAllowed: false, Concurrency: 10, DefaultTimeout: 30 * time.Second},
		models.LaneNet:   {Lane: models.LaneNet, NetworkAllowed: true, Concurrency: 5, DefaultTimeout: 60 * time.Second},
		models.LaneHeavy: {Lane: models.LaneHeavy, NetworkAllowed: true, Concurrency: 1, DefaultTimeout: 600 * time.Second},
	}
}

// ToolCatalog maps a tool name to the lane it runs in and the shell command
// template used to construct its ToolJob. Real tool definitions (read_file,
// web_fetch, grep, ...) are registered by the caller; the router itself
// is agnostic to what a tool does, only to which lane and sandbox rules
// govern it.
type ToolCatalog struct {
	entries map[string]ToolDef
}

// ToolDef is one catalog entry.
type ToolDef struct {
	Name string
	Lane models.Lane
	// PathKeys names the input fields that carry filesystem paths. The
	// router resolves and sandbox-checks every one of them before Command
	// ever builds an argv, so a tool never gets to splice an escaping path
	// into a command (spec.md §4.4 step 3, §8.1 #8).
	PathKeys []string
	Command  func(input map[string]any) ([]string, error)
}

// NewToolCatalog builds an empty catalog; callers register tools with Register.
func NewToolCatalog() *ToolCatalog {
	return &ToolCatalog{entries: make(map[string]ToolDef)}
}

// Register adds or replaces a tool definition.
func (c *ToolCatalog) Register(def ToolDef) {
	c.entries[def.Name] = def
}

// Lookup returns the definition for name.
func (c *ToolCatalog) Lookup(name string) (ToolDef, bool) {
	def, ok := c.entries[name]
	return def, ok
}
