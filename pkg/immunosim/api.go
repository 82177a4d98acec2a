// Package immunosim is the embedding API over the simulator: it loads the
// configuration, owns the run store and runs scenarios.
package immunosim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"immunosim/internal/config"
	"immunosim/internal/model"
	"immunosim/internal/observability"
	"immunosim/internal/platform"
	"immunosim/internal/storage"
)

// Options override the loaded configuration. Empty values keep what the
// configuration file and environment resolved.
type Options struct {
	ConfigPath string
	EnvFile    string
	StoreKind  string
	DBPath     string
	LogLevel   string
	// LogOutput receives the run log. Nil discards it.
	LogOutput io.Writer
	// Observer receives engine events in addition to the run log.
	Observer observability.Observer
}

type Client struct {
	cfg    *config.Config
	store  storage.Store
	runner *platform.Runner

	initOnce sync.Once
	initErr  error
}

type RunRequest struct {
	RunID string
	Ticks int
	// ScenarioPath is read when Scenario is nil.
	ScenarioPath string
	Scenario     *platform.Scenario
}

type RunSummary = platform.RunResult

type RunsRequest struct {
	// Limit keeps the most recent runs. Zero keeps all.
	Limit int
}

// RunLookup addresses a stored run by id or as the most recently started.
type RunLookup struct {
	RunID  string
	Latest bool
}

// LoadConfig resolves the configuration the client would use.
func LoadConfig(opts Options) (*config.Config, error) {
	cfg, err := config.LoadWithEnvFile(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return nil, err
	}
	if opts.StoreKind != "" {
		cfg.Store.Kind = opts.StoreKind
	}
	if opts.DBPath != "" {
		cfg.Store.DBPath = opts.DBPath
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New(opts Options) (*Client, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.Store.Kind, cfg.Store.DBPath)
	if err != nil {
		return nil, err
	}

	var logger *slog.Logger
	var logObserver observability.Observer
	if opts.LogOutput != nil {
		logger = observability.NewLogger(cfg.Logging.Level, opts.LogOutput)
		logObserver = observability.NewSlogObserver(logger)
	}
	observer := observability.NewMultiObserver(logObserver, opts.Observer)

	return &Client{
		cfg:    cfg,
		store:  store,
		runner: platform.NewRunner(platform.RunnerConfig{Store: store, Logger: logger, Observer: observer}),
	}, nil
}

func (c *Client) Config() *config.Config {
	return c.cfg
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.runner.Init(ctx)
	})
	return c.initErr
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	sc := req.Scenario
	if sc == nil {
		if req.ScenarioPath == "" {
			return RunSummary{}, errors.New("run requires a scenario")
		}
		loaded, err := platform.LoadScenario(req.ScenarioPath)
		if err != nil {
			return RunSummary{}, err
		}
		sc = loaded
	}
	return c.runner.Run(ctx, platform.RunRequest{
		RunID:    req.RunID,
		Ticks:    req.Ticks,
		Config:   c.cfg,
		Scenario: sc,
	})
}

// Runs lists stored runs, most recently started first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.RunRecord, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (c *Client) GetRun(ctx context.Context, lookup RunLookup) (model.RunRecord, error) {
	runID, err := c.resolveRunID(ctx, lookup)
	if err != nil {
		return model.RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (c *Client) Crossings(ctx context.Context, lookup RunLookup) ([]model.CrossingRecord, error) {
	runID, err := c.resolveRunID(ctx, lookup)
	if err != nil {
		return nil, err
	}
	crossings, ok, err := c.store.GetCrossings(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return crossings, nil
}

func (c *Client) Diagnostics(ctx context.Context, lookup RunLookup) ([]model.TickDiagnostics, error) {
	runID, err := c.resolveRunID(ctx, lookup)
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetTickDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return diagnostics, nil
}

func (c *Client) Agents(ctx context.Context, lookup RunLookup) ([]model.AgentSummary, error) {
	runID, err := c.resolveRunID(ctx, lookup)
	if err != nil {
		return nil, err
	}
	summaries, ok, err := c.store.GetAgentSummaries(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return summaries, nil
}

func (c *Client) resolveRunID(ctx context.Context, lookup RunLookup) (string, error) {
	if lookup.RunID != "" && lookup.Latest {
		return "", errors.New("use either run id or latest")
	}
	if lookup.RunID == "" && !lookup.Latest {
		return "", errors.New("run id or latest is required")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if lookup.RunID != "" {
		return lookup.RunID, nil
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs stored")
	}
	return runs[len(runs)-1].ID, nil
}
