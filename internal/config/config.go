// Package config loads and defaults the engine's YAML-backed configuration,
// laid out as a top-level Config struct plus a data-home resolver.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RebaseAckPolicy names the first Open Question of spec.md §9: whether a
// Rebase signal's acknowledgment blocks until the rebase itself succeeds, or
// is sent immediately on reaching the safe point. The field is loaded and
// defaulted but not read: the loop driver always acknowledges a Rebase
// signal after its rebase attempt, which is the after_rebase behaviour.
type RebaseAckPolicy string

const (
	// RebaseAckAfterRebase acknowledges only once the rebase has completed
	// (or definitively conflicted). This is the default: it gives the
	// merging loop an accurate picture of sibling state before it proceeds.
	RebaseAckAfterRebase RebaseAckPolicy = "after_rebase"
	// RebaseAckAtSafePoint acknowledges immediately on reaching the safe
	// point, running the rebase afterward. Lower merge latency, weaker
	// guarantee that acknowledging siblings are actually rebased yet.
	RebaseAckAtSafePoint RebaseAckPolicy = "at_safe_point"
)

// RebaseConflictPolicy names the second Open Question of spec.md §9:
// whether a rebase conflict hard-fails the Code loop or escalates to its
// parent as an Error signal. The field is loaded and defaulted but not
// read: the loop driver always fails the loop with FailureRebaseConflict,
// and escalate_to_parent has no effect.
type RebaseConflictPolicy string

const (
	RebaseConflictFailLoop     RebaseConflictPolicy = "fail_loop"
	RebaseConflictEscalate     RebaseConflictPolicy = "escalate_to_parent"
)

// StoreConfig configures the append-only record store (C1).
type StoreConfig struct {
	// Dir is the store directory, normally <project-root>/store.
	Dir string `yaml:"dir"`
	// IndexRebuildOnCorruption is loaded and defaulted but not read:
	// store.Open always verifies index.db at startup and rebuilds it by
	// replaying the logs when the check fails (spec.md §4.1).
	IndexRebuildOnCorruption bool `yaml:"index_rebuild_on_corruption"`
}

// WorktreeConfig configures WorktreeOps (C2).
type WorktreeConfig struct {
	BaseDir             string        `yaml:"base_dir"`
	MainRef             string        `yaml:"main_ref"`
	FreeSpaceFloorBytes int64         `yaml:"free_space_floor_bytes"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	MergeAckDeadline     time.Duration `yaml:"merge_ack_deadline"`
	RebaseAckPolicy      RebaseAckPolicy       `yaml:"rebase_ack_policy"`
	RebaseConflictPolicy RebaseConflictPolicy  `yaml:"rebase_conflict_policy"`
	ArchiveRetentionDays int                   `yaml:"archive_retention_days"`
}

// LaneConfig overrides concurrency/timeout for one tool lane. Only the
// NoNet entry's OutputCapBytes is read, and the router applies that one
// output cap to every lane.
type LaneConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	Timeout         time.Duration `yaml:"timeout"`
	OutputCapBytes  int           `yaml:"output_cap_bytes"`
}

// ToolRouterConfig configures ToolRouter (C4), per spec.md §4.4's table.
type ToolRouterConfig struct {
	NoNet LaneConfig `yaml:"nonet"`
	Net   LaneConfig `yaml:"net"`
	Heavy LaneConfig `yaml:"heavy"`
}

// LlmConfig configures LlmGateway (C3) retry/backoff and model ceilings.
type LlmConfig struct {
	MaxOutputTokens   int           `yaml:"max_output_tokens"`
	ContextWindow     int           `yaml:"context_window"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxAttempts  int           `yaml:"retry_max_attempts"`
	ClaudePath        string        `yaml:"claude_path"`
}

// SignalConfig configures SignalBus (C5) ack deadlines.
type SignalConfig struct {
	InvalidateAckDeadline time.Duration `yaml:"invalidate_ack_deadline"`
}

// SchedulerConfig configures LoopManager's (C7) tick loop.
type SchedulerConfig struct {
	PollInterval     time.Duration  `yaml:"poll_interval"`
	MaxConcurrent    int            `yaml:"max_concurrent"`
	PerKindCaps      map[string]int `yaml:"per_kind_caps"`
}

// LoggingConfig configures the logger sinks.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	EnableColor bool   `yaml:"enable_color"`
	FilePath    string `yaml:"file_path"`
}

// Config is the engine's top-level configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store"`
	Worktree  WorktreeConfig   `yaml:"worktree"`
	Tools     ToolRouterConfig `yaml:"tools"`
	Llm       LlmConfig        `yaml:"llm"`
	Signals   SignalConfig     `yaml:"signals"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// Default returns the engine's baseline configuration, matching the
// defaults given throughout spec.md (§4.4's lane table, §4.7's 1s poll
// interval, §4.9's 60s merge ack deadline).
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Dir:                      "store",
			IndexRebuildOnCorruption: true,
		},
		Worktree: WorktreeConfig{
			BaseDir:              "worktrees",
			MainRef:              "main",
			FreeSpaceFloorBytes:  512 * 1024 * 1024,
			SweepInterval:        5 * time.Minute,
			MergeAckDeadline:     60 * time.Second,
			RebaseAckPolicy:      RebaseAckAfterRebase,
			RebaseConflictPolicy: RebaseConflictFailLoop,
			ArchiveRetentionDays: 7,
		},
		Tools: ToolRouterConfig{
			NoNet: LaneConfig{Concurrency: 10, Timeout: 30 * time.Second, OutputCapBytes: 256 * 1024},
			Net:   LaneConfig{Concurrency: 5, Timeout: 60 * time.Second, OutputCapBytes: 256 * 1024},
			Heavy: LaneConfig{Concurrency: 1, Timeout: 600 * time.Second, OutputCapBytes: 1024 * 1024},
		},
		Llm: LlmConfig{
			MaxOutputTokens:   8192,
			ContextWindow:     200_000,
			RetryInitialDelay: time.Second,
			RetryMaxAttempts:  3,
			ClaudePath:        "claude",
		},
		Signals: SignalConfig{
			InvalidateAckDeadline: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PollInterval:  time.Second,
			MaxConcurrent: 8,
			PerKindCaps:   map[string]int{},
		},
		Logging: LoggingConfig{
			Level:       "info",
			EnableColor: true,
		},
	}
}

// Load reads and parses a YAML configuration file, filling any unset fields
// from Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}
