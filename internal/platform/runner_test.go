package platform

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"immunosim/internal/config"
	"immunosim/internal/model"
	"immunosim/internal/population"
	"immunosim/internal/storage"
)

const checkpointScenario = `
name: checkpoint
agents:
  - id: apc
    kind: dendritic
    express: [cd200, mhc_ii_mbp]
  - id: tcell
    kind: t_helper
    express: [cd200r]
pairs:
  - {a: apc, b: tcell}
`

func newRunner(t *testing.T) (*Runner, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	runner := NewRunner(RunnerConfig{Store: store})
	if err := runner.Init(context.Background()); err != nil {
		t.Fatalf("init runner: %v", err)
	}
	return runner, store
}

func mustParse(t *testing.T, data string) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(data))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	return sc
}

func TestRunnerCheckpointScenario(t *testing.T) {
	ctx := context.Background()
	runner, store := newRunner(t)

	res, err := runner.Run(ctx, RunRequest{RunID: "run-1", Ticks: 4, Scenario: mustParse(t, checkpointScenario)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.Status != model.RunCompleted || res.Run.CompletedTicks != 4 || res.Run.Activated != 1 {
		t.Fatalf("unexpected run record: %+v", res.Run)
	}
	if len(res.Crossings) != 1 || res.Crossings[0].AgentID != "tcell" || res.Crossings[0].Tick != 4 || res.Crossings[0].Total != 12 {
		t.Fatalf("unexpected crossings: %+v", res.Crossings)
	}
	for i, d := range res.Diagnostics {
		if d.NetDelta != 3 || d.Bonds != 1 || d.Signals != 1 {
			t.Fatalf("tick %d: unexpected diagnostics %+v", i+1, d)
		}
	}

	stored, ok, err := store.GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if stored.Parameters.ActivationThreshold != 10 || stored.Scenario != "checkpoint" {
		t.Fatalf("unexpected stored run: %+v", stored)
	}
	crossings, ok, err := store.GetCrossings(ctx, "run-1")
	if err != nil || !ok || len(crossings) != 1 {
		t.Fatalf("get crossings: %+v ok=%t err=%v", crossings, ok, err)
	}
	summaries, ok, err := store.GetAgentSummaries(ctx, "run-1")
	if err != nil || !ok || len(summaries) != 2 {
		t.Fatalf("get summaries: %+v ok=%t err=%v", summaries, ok, err)
	}
	tcell := summaries[1]
	if tcell.AgentID != "tcell" || tcell.Total != 12 || !tcell.Crossed || tcell.SignalsReceived != 4 {
		t.Fatalf("unexpected responder summary: %+v", tcell)
	}
}

func TestRunnerGeneratesRunID(t *testing.T) {
	runner, store := newRunner(t)
	res, err := runner.Run(context.Background(), RunRequest{Ticks: 1, Scenario: mustParse(t, checkpointScenario)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := uuid.Parse(res.Run.ID); err != nil {
		t.Fatalf("expected uuid run id, got %q: %v", res.Run.ID, err)
	}
	runs, err := store.ListRuns(context.Background())
	if err != nil || len(runs) != 1 {
		t.Fatalf("list runs: %+v err=%v", runs, err)
	}
}

func TestRunnerPrimingCapacityReduction(t *testing.T) {
	cfg := config.Default()
	cfg.CD200R.PrimingReductionFactor = 0.5
	sc := mustParse(t, `
name: suppression
agents:
  - {id: treg, kind: regulatory, express: [cd200]}
  - {id: dc, kind: dendritic, express: [cd200r, mhc_ii_mbp]}
  - {id: tcell, kind: t_helper, express: []}
pairs:
  - {a: treg, b: dc}
  - {a: dc, b: tcell}
`)
	runner, _ := newRunner(t)
	res, err := runner.Run(context.Background(), RunRequest{RunID: "suppressed", Ticks: 3, Config: cfg, Scenario: sc})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantNet := []float64{8 - 5, 4 - 5, 2 - 5}
	for i, d := range res.Diagnostics {
		if math.Abs(d.NetDelta-wantNet[i]) > 1e-12 {
			t.Fatalf("tick %d: net delta=%f want=%f", i+1, d.NetDelta, wantNet[i])
		}
	}
	if len(res.Crossings) != 1 || res.Crossings[0].AgentID != "tcell" || res.Crossings[0].Tick != 2 {
		t.Fatalf("expected tcell to cross at tick 2, got %+v", res.Crossings)
	}
	dc := res.Agents[1]
	if dc.AgentID != "dc" || math.Abs(dc.PrimingCapacity-0.25) > 1e-12 || dc.SignalsReceived != 3 {
		t.Fatalf("unexpected dc summary: %+v", dc)
	}
	if dc.Total != 0 {
		t.Fatalf("dc total must stay clamped at the floor, got %f", dc.Total)
	}
	if res.Agents[2].Total != 14 {
		t.Fatalf("unexpected tcell total: %+v", res.Agents[2])
	}
}

func TestRunnerScriptedChangesAndResets(t *testing.T) {
	sc := mustParse(t, `
name: scripted
agents:
  - {id: apc, kind: dendritic, express: [mhc_ii_fr3]}
  - {id: tcell, kind: t_helper, express: []}
pairs:
  - {a: apc, b: tcell}
changes:
  - {tick: 3, agent: apc, express: [mhc_i_cdr12]}
resets:
  - {tick: 2, agent: tcell}
`)
	runner, _ := newRunner(t)
	res, err := runner.Run(context.Background(), RunRequest{RunID: "scripted", Ticks: 3, Scenario: sc})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Diagnostics[0].Bonds != 0 || res.Diagnostics[2].Bonds != 1 {
		t.Fatalf("expected fr3 to stay unbonded and cdr12 to bond: %+v", res.Diagnostics)
	}
	if res.Diagnostics[1].Resets != 1 {
		t.Fatalf("expected a reset at tick 2: %+v", res.Diagnostics[1])
	}
	tcell := res.Agents[1]
	// 2 at tick 1, reset, 2 at tick 2, 8 at tick 3.
	if tcell.Total != 10 || tcell.Resets != 1 || !tcell.Crossed {
		t.Fatalf("unexpected tcell summary: %+v", tcell)
	}
	if got := res.Agents[0].Expressed; len(got) != 1 || got[0] != "mhc_i_cdr12" {
		t.Fatalf("expected final expression from the scripted change, got %v", got)
	}
}

func TestRunnerCancelledBetweenTicks(t *testing.T) {
	runner, store := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := runner.Run(ctx, RunRequest{RunID: "cancelled", Ticks: 5, Scenario: mustParse(t, checkpointScenario)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if res.Run.Status != model.RunCancelled || res.Run.CompletedTicks != 0 {
		t.Fatalf("unexpected run record: %+v", res.Run)
	}
	stored, ok, err := store.GetRun(context.Background(), "cancelled")
	if err != nil || !ok || stored.Status != model.RunCancelled {
		t.Fatalf("cancelled run must be persisted: %+v ok=%t err=%v", stored, ok, err)
	}
}

func TestRunnerRejectsInvalidRequests(t *testing.T) {
	runner, _ := newRunner(t)
	ctx := context.Background()
	sc := mustParse(t, checkpointScenario)

	if _, err := runner.Run(ctx, RunRequest{Ticks: 0, Scenario: sc}); err == nil {
		t.Fatal("expected ticks error")
	}
	if _, err := runner.Run(ctx, RunRequest{Ticks: 1}); err == nil {
		t.Fatal("expected missing scenario error")
	}
	bad := config.Default()
	bad.Adhesion.Minimum = -1
	if _, err := runner.Run(ctx, RunRequest{Ticks: 1, Scenario: sc, Config: bad}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got: %v", err)
	}
	if err := NewRunner(RunnerConfig{}).Init(ctx); err == nil {
		t.Fatal("expected missing store error")
	}
}

func TestParseScenarioValidation(t *testing.T) {
	cases := map[string]string{
		"no agents":        "name: empty\n",
		"duplicate":        "agents:\n  - {id: a}\n  - {id: a}\n",
		"unknown channel":  "agents:\n  - {id: a, express: [il2]}\n",
		"unknown pair":     "agents:\n  - {id: a}\npairs:\n  - {a: a, b: b}\n",
		"self pair":        "agents:\n  - {id: a}\npairs:\n  - {a: a, b: a}\n",
		"change no tick":   "agents:\n  - {id: a}\nchanges:\n  - {agent: a, express: [cd200]}\n",
		"reset unknown":    "agents:\n  - {id: a}\nresets:\n  - {tick: 1, agent: b}\n",
		"capacity too big": "agents:\n  - {id: a, priming_capacity: 2}\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseScenario([]byte(data)); !errors.Is(err, ErrInvalidScenario) {
				t.Fatalf("expected ErrInvalidScenario, got: %v", err)
			}
		})
	}
	if _, err := ParseScenario([]byte("agents: [")); err == nil {
		t.Fatal("expected yaml error")
	}
}

func TestLoadScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(checkpointScenario), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if sc.Name != "checkpoint" || len(sc.Agents) != 2 || len(sc.Pairs) != 1 {
		t.Fatalf("unexpected scenario: %+v", sc)
	}
}

func TestScriptedBiology(t *testing.T) {
	sc := &Scenario{
		Agents: []AgentSpec{{ID: "a"}},
		Changes: []ExpressChange{
			{Tick: 5, Agent: "a", Express: []string{"cd200r"}},
			{Tick: 2, Agent: "a", Express: []string{"cd200"}, PrimingCapacity: 0.5},
		},
	}
	bio := NewScriptedBiology(sc)
	info := population.Info{ID: "a", Seed: seedExpression([]string{"mhc_ii_mbp"}, 0)}

	if got := bio.Express(info, 1).Expressed.Names(); len(got) != 1 || got[0] != "mhc_ii_mbp" {
		t.Fatalf("tick 1: expected seed, got %v", got)
	}
	mid := bio.Express(info, 3)
	if got := mid.Expressed.Names(); len(got) != 1 || got[0] != "cd200" || mid.PrimingCapacity != 0.5 {
		t.Fatalf("tick 3: unexpected expression %+v", mid)
	}
	if got := bio.Express(info, 9).Expressed.Names(); len(got) != 1 || got[0] != "cd200r" {
		t.Fatalf("tick 9: unexpected expression %v", got)
	}
}
