// Package platform drives scripted simulation runs: it builds the agent
// arena from a scenario, steps the interaction engine tick by tick and
// persists what happened.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"immunosim/internal/config"
	"immunosim/internal/engine"
	"immunosim/internal/model"
	"immunosim/internal/observability"
	"immunosim/internal/population"
	"immunosim/internal/storage"
)

type RunnerConfig struct {
	Store    storage.Store
	Logger   *slog.Logger
	Observer observability.Observer
}

type RunRequest struct {
	// RunID defaults to a random UUID.
	RunID    string
	Ticks    int
	Config   *config.Config
	Scenario *Scenario
}

type RunResult struct {
	Run         model.RunRecord
	Diagnostics []model.TickDiagnostics
	Crossings   []model.CrossingRecord
	Agents      []model.AgentSummary
}

type Runner struct {
	store    storage.Store
	logger   *slog.Logger
	observer observability.Observer

	mu          sync.Mutex
	initialized bool
}

func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{store: cfg.Store, logger: logger, observer: cfg.Observer}
}

func (r *Runner) Init(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("store is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}
	if err := r.store.Init(ctx); err != nil {
		return err
	}
	r.initialized = true
	return nil
}

// Run steps the scenario for the requested number of ticks. Cancellation is
// observed between ticks; a cancelled or failed run is still persisted with
// the ticks it completed, and the cause is returned alongside the result.
func (r *Runner) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if err := r.Init(ctx); err != nil {
		return RunResult{}, err
	}
	if req.Ticks <= 0 {
		return RunResult{}, fmt.Errorf("ticks must be positive, got %d", req.Ticks)
	}
	if req.Scenario == nil {
		return RunResult{}, fmt.Errorf("scenario is required")
	}
	if err := req.Scenario.Validate(); err != nil {
		return RunResult{}, err
	}
	cfg := req.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return RunResult{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	sim, err := r.build(cfg, req.Scenario)
	if err != nil {
		return RunResult{}, err
	}

	run := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		Scenario:        req.Scenario.Name,
		Status:          model.RunCompleted,
		RequestedTicks:  req.Ticks,
		Agents:          len(req.Scenario.Agents),
		Pairs:           len(sim.pairs),
		Parameters:      runParameters(cfg),
		StartedAt:       time.Now().UTC(),
	}
	r.logger.Info("run started", "run_id", runID, "scenario", run.Scenario, "ticks", req.Ticks, "agents", run.Agents, "pairs", run.Pairs)

	var (
		diagnostics []model.TickDiagnostics
		runErr      error
	)
	for tick := uint64(1); tick <= uint64(req.Ticks); tick++ {
		if err := ctx.Err(); err != nil {
			run.Status = model.RunCancelled
			runErr = err
			break
		}
		diag, err := sim.step(tick, req.Scenario)
		if err != nil {
			run.Status = model.RunFailed
			runErr = fmt.Errorf("tick %d: %w", tick, err)
			break
		}
		diagnostics = append(diagnostics, diag)
		run.CompletedTicks++
		r.logger.Debug("tick complete", "run_id", runID, "tick", tick, "touched", diag.Touched, "crossings", diag.Crossings, "signals", diag.Signals)
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	result := RunResult{
		Diagnostics: diagnostics,
		Crossings:   sim.recorder.crossingRecords(),
		Agents:      sim.summaries(uint64(run.CompletedTicks)),
	}
	for _, a := range result.Agents {
		if a.Crossed {
			run.Activated++
		}
	}
	run.FinishedAt = time.Now().UTC()
	result.Run = run

	if err := r.persist(ctx, result); err != nil {
		return result, errors.Join(runErr, err)
	}
	r.logger.Info("run finished", "run_id", runID, "status", run.Status, "completed_ticks", run.CompletedTicks, "activated", run.Activated)
	return result, runErr
}

func (r *Runner) persist(ctx context.Context, res RunResult) error {
	// Records of a cancelled run are still written.
	ctx = context.WithoutCancel(ctx)
	runID := res.Run.ID
	if err := r.store.SaveRun(ctx, res.Run); err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	if err := r.store.SaveTickDiagnostics(ctx, runID, res.Diagnostics); err != nil {
		return fmt.Errorf("save tick diagnostics %s: %w", runID, err)
	}
	if err := r.store.SaveCrossings(ctx, runID, res.Crossings); err != nil {
		return fmt.Errorf("save crossings %s: %w", runID, err)
	}
	if err := r.store.SaveAgentSummaries(ctx, runID, res.Agents); err != nil {
		return fmt.Errorf("save agent summaries %s: %w", runID, err)
	}
	return nil
}

type simulation struct {
	arena    *population.Arena
	engine   *engine.Engine
	recorder *fateRecorder
	pairs    []engine.Pair
	resets   map[population.Handle]int
}

func (r *Runner) build(cfg *config.Config, sc *Scenario) (*simulation, error) {
	arena := population.NewArena(cfg.ArenaOptions(NewScriptedBiology(sc)))
	for _, a := range sc.Agents {
		if _, err := arena.Add(a.ID, a.Kind, seedExpression(a.Express, a.PrimingCapacity)); err != nil {
			return nil, err
		}
	}

	pairs := make([]engine.Pair, 0, len(sc.Pairs))
	for _, p := range sc.Pairs {
		a, _ := arena.Lookup(p.A)
		b, _ := arena.Lookup(p.B)
		pairs = append(pairs, engine.Pair{A: a, B: b})
	}

	recorder := newFateRecorder(arena)
	ecfg := cfg.EngineConfig(arena)
	ecfg.Listener = recorder
	ecfg.Observer = r.observer
	eng, err := engine.New(ecfg)
	if err != nil {
		return nil, err
	}
	return &simulation{
		arena:    arena,
		engine:   eng,
		recorder: recorder,
		pairs:    pairs,
		resets:   make(map[population.Handle]int),
	}, nil
}

func (s *simulation) step(tick uint64, sc *Scenario) (model.TickDiagnostics, error) {
	if err := s.arena.BeginTick(tick); err != nil {
		return model.TickDiagnostics{}, err
	}
	resetIDs := sc.resetsAt(tick)
	for _, id := range resetIDs {
		h, _ := s.arena.Lookup(id)
		if err := s.arena.Reset(h); err != nil {
			return model.TickDiagnostics{}, err
		}
		s.resets[h]++
	}

	res, err := s.engine.StepTick(tick, s.pairs)
	if err != nil {
		return model.TickDiagnostics{}, err
	}

	diag := model.TickDiagnostics{
		Tick:      tick,
		Pairs:     len(res.Pairs),
		Bonds:     len(s.engine.Bonds()),
		Touched:   res.Touched,
		Crossings: len(res.Crossings),
		Signals:   len(res.Signals),
		Resets:    len(resetIDs),
		NetDelta:  res.NetDelta,
	}
	handles := s.arena.Handles()
	var sum float64
	for _, h := range handles {
		st, err := s.arena.Accumulator(h)
		if err != nil {
			return model.TickDiagnostics{}, err
		}
		sum += st.Total
		if st.Crossed {
			diag.Activated++
		}
	}
	if len(handles) > 0 {
		diag.MeanTotal = sum / float64(len(handles))
	}
	return diag, nil
}

func (s *simulation) summaries(lastTick uint64) []model.AgentSummary {
	handles := s.arena.Handles()
	out := make([]model.AgentSummary, 0, len(handles))
	for _, h := range handles {
		info, _ := s.arena.Info(h)
		acc, _ := s.arena.Accumulator(h)
		expressed := info.Seed.Expressed
		capacity := 1.0
		if st, err := s.arena.Snapshot(h, lastTick); err == nil {
			expressed = st.Expressed()
			capacity = st.PrimingCapacity()
		}
		out = append(out, model.AgentSummary{
			VersionedRecord: storage.Versioned(),
			AgentID:         info.ID,
			Kind:            info.Kind,
			Expressed:       expressed.Names(),
			Total:           acc.Total,
			HighWater:       acc.HighWater,
			Crossed:         acc.Crossed,
			Applied:         acc.Applied,
			Resets:          s.resets[h],
			SignalsReceived: s.recorder.signalsReceived(h),
			PrimingCapacity: capacity,
		})
	}
	return out
}

// fateRecorder stands in for the cell-fate collaborator: it keeps what the
// engine reports so the run can be persisted.
type fateRecorder struct {
	arena *population.Arena

	mu        sync.Mutex
	crossings []engine.CrossingEvent
	signals   map[population.Handle]int
}

func newFateRecorder(arena *population.Arena) *fateRecorder {
	return &fateRecorder{arena: arena, signals: make(map[population.Handle]int)}
}

func (f *fateRecorder) OnThresholdCrossed(event engine.CrossingEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crossings = append(f.crossings, event)
}

func (f *fateRecorder) OnNegativeSignal(event engine.NegativeSignalEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals[event.Responder]++
}

func (f *fateRecorder) signalsReceived(h population.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signals[h]
}

func (f *fateRecorder) crossingRecords() []model.CrossingRecord {
	f.mu.Lock()
	events := append([]engine.CrossingEvent(nil), f.crossings...)
	f.mu.Unlock()

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Tick != events[j].Tick {
			return events[i].Tick < events[j].Tick
		}
		return events[i].Agent < events[j].Agent
	})
	out := make([]model.CrossingRecord, 0, len(events))
	for _, e := range events {
		info, _ := f.arena.Info(e.Agent)
		out = append(out, model.CrossingRecord{
			VersionedRecord: storage.Versioned(),
			AgentID:         e.AgentID,
			Kind:            info.Kind,
			Tick:            e.Tick,
			Total:           e.Total,
		})
	}
	return out
}

func runParameters(cfg *config.Config) model.RunParameters {
	w := cfg.Weights()
	return model.RunParameters{
		CD200Weight:            w.CD200,
		CD200Enabled:           w.CD200Enabled,
		MHCIIFr3Weight:         w.MHCIIFr3,
		MHCIIMBPWeight:         w.MHCIIMBP,
		MHCICDR12Weight:        w.MHCICDR12,
		AdhesionMinimum:        cfg.Adhesion.Minimum,
		ActivationThreshold:    cfg.Accumulator.ActivationThreshold,
		Floor:                  cfg.Accumulator.Floor,
		ClampFloor:             cfg.Accumulator.ClampFloor,
		Ceiling:                cfg.Accumulator.Ceiling,
		PrimingReductionFactor: cfg.CD200R.PrimingReductionFactor,
		Workers:                cfg.Engine.Workers,
		Mutual:                 cfg.Engine.Mutual,
	}
}
