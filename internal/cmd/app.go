package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scottidler/loopr/internal/approval"
	"github.com/scottidler/loopr/internal/config"
	"github.com/scottidler/loopr/internal/eventlog"
	"github.com/scottidler/loopr/internal/llm"
	"github.com/scottidler/loopr/internal/logger"
	"github.com/scottidler/loopr/internal/loopdriver"
	"github.com/scottidler/loopr/internal/loopmanager"
	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/signalbus"
	"github.com/scottidler/loopr/internal/store"
	"github.com/scottidler/loopr/internal/tools"
	"github.com/scottidler/loopr/internal/worktree"
)

// App wires every component (C1-C9) into one set of dependencies a CLI
// command can call through: one place builds the whole graph, commands
// only ever receive the pieces they need.
type App struct {
	Cfg     *config.Config
	Store   *store.Store
	Bus     *signalbus.Bus
	Wt      *worktree.WorktreeOps
	Gw      llm.Gateway
	Router  *tools.Router
	Events  *eventlog.Log
	Manager *loopmanager.Manager
	Gate    *approval.Gate
	Log     logger.Logger
}

// NewApp builds the full dependency graph rooted at repoRoot, the git
// repository the engine is driving loops against. Store/worktree state
// lives under <data-home>/<project-hash> (spec.md §6.1), where the hash is
// taken over repoRoot's absolute path: each checkout path gets its own
// state directory, so two checkouts of one project do not share history.
func NewApp(repoRoot, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	projectRoot, err := config.ProjectRoot(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	storeDir := cfg.Store.Dir
	if !filepath.IsAbs(storeDir) {
		storeDir = filepath.Join(projectRoot, storeDir)
	}
	s, err := store.Open(storeDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	log, err := buildLogger(cfg, projectRoot)
	if err != nil {
		s.Close()
		return nil, err
	}

	bus := signalbus.New(s, cfg.Signals.InvalidateAckDeadline)

	worktreesDir := cfg.Worktree.BaseDir
	if !filepath.IsAbs(worktreesDir) {
		worktreesDir = filepath.Join(projectRoot, worktreesDir)
	}
	wt := worktree.New(repoRoot, worktreesDir)
	wt.Configure(cfg.Worktree.MainRef, cfg.Worktree.FreeSpaceFloorBytes)

	gw := llm.NewCLIGateway(cfg.Llm.ClaudePath, 5*time.Minute)
	if cfg.Llm.RetryInitialDelay > 0 {
		gw.Retry.InitialDelay = cfg.Llm.RetryInitialDelay
	}
	if cfg.Llm.RetryMaxAttempts > 0 {
		gw.Retry.MaxAttempts = cfg.Llm.RetryMaxAttempts
	}

	router := tools.NewRouter(defaultCatalog(), laneProfilesFromConfig(cfg.Tools), cfg.Tools.NoNet.OutputCapBytes)

	events := eventlog.New(s, log)

	newDriver := func(loopID string) loopmanager.Driver {
		d := loopdriver.NewDriver(s, bus, gw, router, wt, log, cfg.Llm)
		d.ToolsForKind = toolSchemasForKind
		return d
	}

	manager := loopmanager.New(s, bus, wt, log, cfg.Scheduler, cfg.Worktree, newDriver)
	gate := approval.New(s, manager)

	return &App{
		Cfg: cfg, Store: s, Bus: bus, Wt: wt, Gw: gw, Router: router,
		Events: events, Manager: manager, Gate: gate, Log: log,
	}, nil
}

// Close releases the store's file handles and locks.
func (a *App) Close() error {
	return a.Store.Close()
}

// laneProfilesFromConfig layers cfg's per-lane concurrency/timeout overrides
// onto DefaultCatalog's lane identities (spec.md §4.4's lane table is fixed;
// only the numbers are deployment-tunable).
func laneProfilesFromConfig(tc config.ToolRouterConfig) map[models.Lane]tools.LaneProfile {
	profiles := tools.DefaultCatalog()
	overrides := map[models.Lane]config.LaneConfig{
		models.LaneNoNet: tc.NoNet,
		models.LaneNet:   tc.Net,
		models.LaneHeavy: tc.Heavy,
	}
	for lane, override := range overrides {
		p := profiles[lane]
		if override.Concurrency > 0 {
			p.Concurrency = override.Concurrency
		}
		if override.Timeout > 0 {
			p.DefaultTimeout = override.Timeout
		}
		profiles[lane] = p
	}
	return profiles
}

func buildLogger(cfg *config.Config, projectRoot string) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.Logging.Level)
	var forceColor *bool
	if !cfg.Logging.EnableColor {
		disabled := false
		forceColor = &disabled
	}
	console := logger.NewConsoleLogger(os.Stdout, level, forceColor)

	filePath := cfg.Logging.FilePath
	if filePath == "" {
		filePath = filepath.Join(projectRoot, "logs", "loopr.log")
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	file, err := logger.NewFileLogger(filePath, level)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return logger.NewMulti(console, file), nil
}
