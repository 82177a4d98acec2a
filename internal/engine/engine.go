// Package engine evaluates colocated agent pairs each tick: it snapshots
// both agents, runs the channel evaluators in their biological direction,
// aggregates, and applies the result to the responders' accumulators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"immunosim/internal/channel"
	"immunosim/internal/molecule"
	"immunosim/internal/observability"
	"immunosim/internal/population"
	"immunosim/internal/signal"
)

const eventSource = "engine"

const (
	EventTickComplete     observability.EventType = "engine.tick.complete"
	EventThresholdCrossed observability.EventType = "engine.threshold.crossed"
	EventCD200RSignal     observability.EventType = "engine.cd200r.signal"
	EventSnapshotMismatch observability.EventType = "engine.snapshot.mismatch"
)

var (
	ErrUnknownAgent    = population.ErrUnknownAgent
	ErrSelfInteraction = errors.New("agent cannot interact with itself")
	ErrStaleTick       = errors.New("tick is older than the engine tick")
)

// Pair is a colocated pair for one tick. A presents to B; with mutual
// signalling B also presents to A.
type Pair struct {
	A population.Handle
	B population.Handle
}

type Direction uint8

const (
	Forward Direction = iota
	Reverse
)

type PairResult struct {
	Pair    Pair
	Forward signal.Outcome
	// Reverse is only populated when the engine runs with mutual signalling.
	Reverse signal.Outcome
	Bond    float64
}

type CrossingEvent struct {
	Agent   population.Handle
	AgentID string
	Tick    uint64
	Total   float64
}

type NegativeSignalEvent struct {
	Responder population.Handle
	Presenter population.Handle
	Tick      uint64
}

type TickResult struct {
	Tick      uint64
	Pairs     []PairResult
	Crossings []CrossingEvent
	Signals   []NegativeSignalEvent
	// Touched counts agents whose accumulator received an apply.
	Touched  int
	NetDelta float64
}

// FateListener is the cell-fate collaborator.
type FateListener interface {
	OnThresholdCrossed(event CrossingEvent)
	OnNegativeSignal(event NegativeSignalEvent)
}

type Config struct {
	Arena      *population.Arena
	Registry   *channel.Registry
	Aggregator signal.Aggregator
	Workers    int
	Mutual     bool
	// SnapshotRetries is how many times a mismatched snapshot is regenerated
	// through Arena.Resnapshot before the mismatch is surfaced. Negative
	// values mean zero.
	SnapshotRetries int
	Listener        FateListener
	Observer        observability.Observer
}

type Engine struct {
	cfg Config

	mu       sync.Mutex
	tick     uint64
	started  bool
	notified map[orderedKey]struct{}
	adhesion adhesionTable
}

func New(cfg Config) (*Engine, error) {
	if cfg.Arena == nil {
		return nil, fmt.Errorf("arena is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("channel registry is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SnapshotRetries < 0 {
		cfg.SnapshotRetries = 0
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoOpObserver{}
	}
	return &Engine{
		cfg:      cfg,
		notified: make(map[orderedKey]struct{}),
		adhesion: make(adhesionTable),
	}, nil
}

// Step evaluates a single pair and applies its outcome immediately.
func (e *Engine) Step(tick uint64, a, b population.Handle) (PairResult, TickResult, error) {
	res, err := e.StepTick(tick, []Pair{{A: a, B: b}})
	if err != nil {
		return PairResult{}, TickResult{}, err
	}
	return res.Pairs[0], res, nil
}

// StepTick evaluates every pair of one tick. Pairs are evaluated in
// parallel against snapshots taken once per agent; each agent's deltas are
// merged and applied with a single accumulator update.
//
// A tick that fails is not atomic. An error from snapshotting leaves every
// accumulator untouched, but an error while applying deltas or delivering
// CD200R signals keeps the writes that already happened. Only signals the
// arena accepted count as sent for the tick.
func (e *Engine) StepTick(tick uint64, pairs []Pair) (TickResult, error) {
	res := TickResult{Tick: tick}

	for i, p := range pairs {
		if p.A == p.B {
			return res, fmt.Errorf("%w: pair %d handle %d", ErrSelfInteraction, i, p.A)
		}
	}
	if err := e.advance(tick); err != nil {
		return res, err
	}

	snaps, err := e.snapshotAll(tick, pairs)
	if err != nil {
		return res, err
	}

	res.Pairs = e.evaluatePairs(pairs, snaps)

	crossings, touched, net, err := e.applyDeltas(tick, res.Pairs)
	if err != nil {
		return res, err
	}
	res.Crossings = crossings
	res.Touched = touched
	res.NetDelta = net

	e.recordAdhesion(res.Pairs)

	signals, err := e.deliverSignals(tick, res.Pairs)
	if err != nil {
		return res, err
	}
	res.Signals = signals

	e.report(res)
	return res, nil
}

// Bond returns the bond strength recorded for an unordered pair during the
// current tick.
func (e *Engine) Bond(a, b population.Handle) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adhesion[unordered(a, b)]
}

// Bonds lists the firm bonds of the current tick.
func (e *Engine) Bonds() []Bond {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adhesion.bonds()
}

func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

func (e *Engine) advance(tick uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started && tick < e.tick {
		return fmt.Errorf("%w: engine=%d requested=%d", ErrStaleTick, e.tick, tick)
	}
	if !e.started || tick != e.tick {
		e.tick = tick
		e.started = true
		clear(e.notified)
		clear(e.adhesion)
	}
	return nil
}

func (e *Engine) snapshotAll(tick uint64, pairs []Pair) (map[population.Handle]molecule.State, error) {
	snaps := make(map[population.Handle]molecule.State, 2*len(pairs))
	for _, p := range pairs {
		for _, h := range [2]population.Handle{p.A, p.B} {
			if _, ok := snaps[h]; ok {
				continue
			}
			st, err := e.snapshot(tick, h)
			if err != nil {
				return nil, err
			}
			snaps[h] = st
		}
	}
	return snaps, nil
}

// snapshot reads h's state for tick. On a tick-stamp mismatch the arena is
// asked to regenerate the agent's snapshot, up to SnapshotRetries times.
func (e *Engine) snapshot(tick uint64, h population.Handle) (molecule.State, error) {
	st, err := e.cfg.Arena.Snapshot(h, tick)
	for attempt := 1; err != nil; attempt++ {
		if !errors.Is(err, population.ErrInconsistentState) {
			return molecule.State{}, err
		}
		observability.Emit(context.Background(), e.cfg.Observer, EventSnapshotMismatch, observability.LevelWarning, eventSource, tick,
			SnapshotMismatch{Agent: h, Attempt: attempt, Err: err})
		if attempt > e.cfg.SnapshotRetries {
			return molecule.State{}, fmt.Errorf("snapshot agent %d at tick %d after %d attempts: %w", h, tick, attempt, err)
		}
		st, err = e.cfg.Arena.Resnapshot(h, tick)
	}
	return st, nil
}

func (e *Engine) evaluatePairs(pairs []Pair, snaps map[population.Handle]molecule.State) []PairResult {
	out := make([]PairResult, len(pairs))

	workerCount := e.cfg.Workers
	if workerCount > len(pairs) {
		workerCount = len(pairs)
	}
	if workerCount <= 1 {
		for i, p := range pairs {
			out[i] = e.evaluatePair(p, snaps)
		}
		return out
	}

	type job struct {
		idx  int
		pair Pair
	}
	type result struct {
		idx    int
		result PairResult
	}

	jobs := make(chan job)
	results := make(chan result, len(pairs))

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			buf := make([]channel.Contribution, 0, len(molecule.Channels()))
			for j := range jobs {
				results <- result{idx: j.idx, result: e.evaluatePairWith(buf, j.pair, snaps)}
			}
		}()
	}

	for i := range pairs {
		jobs <- job{idx: i, pair: pairs[i]}
	}
	close(jobs)

	wg.Wait()
	close(results)

	for res := range results {
		out[res.idx] = res.result
	}
	return out
}

func (e *Engine) evaluatePair(p Pair, snaps map[population.Handle]molecule.State) PairResult {
	return e.evaluatePairWith(make([]channel.Contribution, 0, len(molecule.Channels())), p, snaps)
}

func (e *Engine) evaluatePairWith(buf []channel.Contribution, p Pair, snaps map[population.Handle]molecule.State) PairResult {
	a, b := snaps[p.A], snaps[p.B]

	res := PairResult{Pair: p}
	res.Forward = e.cfg.Aggregator.Aggregate(e.cfg.Registry.EvaluateAll(buf[:0], a, b))
	res.Bond = res.Forward.BondStrength
	if e.cfg.Mutual {
		res.Reverse = e.cfg.Aggregator.Aggregate(e.cfg.Registry.EvaluateAll(buf[:0], b, a))
		res.Bond = math.Max(res.Bond, res.Reverse.BondStrength)
	}
	return res
}

type agentDelta struct {
	partner   population.Handle
	direction Direction
	delta     float64
}

func (e *Engine) applyDeltas(tick uint64, results []PairResult) ([]CrossingEvent, int, float64, error) {
	perAgent := make(map[population.Handle][]agentDelta)
	for _, r := range results {
		if len(r.Forward.Fired) > 0 {
			perAgent[r.Pair.B] = append(perAgent[r.Pair.B], agentDelta{partner: r.Pair.A, direction: Forward, delta: r.Forward.Delta})
		}
		if e.cfg.Mutual && len(r.Reverse.Fired) > 0 {
			perAgent[r.Pair.A] = append(perAgent[r.Pair.A], agentDelta{partner: r.Pair.B, direction: Reverse, delta: r.Reverse.Delta})
		}
	}

	handles := make([]population.Handle, 0, len(perAgent))
	for h := range perAgent {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var (
		crossings []CrossingEvent
		net       float64
	)
	for _, h := range handles {
		total := mergeDeltas(perAgent[h])
		net += total

		crossed, state, err := e.cfg.Arena.Apply(h, total)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("apply signal to agent %d: %w", h, err)
		}
		if !crossed {
			continue
		}
		info, err := e.cfg.Arena.Info(h)
		if err != nil {
			return nil, 0, 0, err
		}
		crossings = append(crossings, CrossingEvent{Agent: h, AgentID: info.ID, Tick: tick, Total: state.Total})
	}
	return crossings, len(handles), net, nil
}

// mergeDeltas sums an agent's deltas for one tick in a canonical order so
// the result does not depend on the order pairs were submitted in.
func mergeDeltas(deltas []agentDelta) float64 {
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].partner != deltas[j].partner {
			return deltas[i].partner < deltas[j].partner
		}
		if deltas[i].direction != deltas[j].direction {
			return deltas[i].direction < deltas[j].direction
		}
		return deltas[i].delta < deltas[j].delta
	})
	var total float64
	for _, d := range deltas {
		total += d.delta
	}
	return total
}

func (e *Engine) recordAdhesion(results []PairResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range results {
		e.adhesion.record(r.Pair.A, r.Pair.B, r.Bond)
	}
}

func (e *Engine) deliverSignals(tick uint64, results []PairResult) ([]NegativeSignalEvent, error) {
	var wanted []orderedKey
	for _, r := range results {
		if r.Forward.HasEffect(channel.EffectCD200RNegativeSignal) {
			wanted = append(wanted, orderedKey{presenter: r.Pair.A, responder: r.Pair.B})
		}
		if e.cfg.Mutual && r.Reverse.HasEffect(channel.EffectCD200RNegativeSignal) {
			wanted = append(wanted, orderedKey{presenter: r.Pair.B, responder: r.Pair.A})
		}
	}
	if len(wanted) == 0 {
		return nil, nil
	}
	sort.Slice(wanted, func(i, j int) bool {
		if wanted[i].responder != wanted[j].responder {
			return wanted[i].responder < wanted[j].responder
		}
		return wanted[i].presenter < wanted[j].presenter
	})

	var events []NegativeSignalEvent
	for i, key := range wanted {
		if i > 0 && key == wanted[i-1] {
			continue
		}
		e.mu.Lock()
		_, seen := e.notified[key]
		e.mu.Unlock()
		if seen {
			continue
		}
		recorded, err := e.cfg.Arena.ReceiveCD200RNegativeSignal(key.responder, key.presenter, tick)
		if err != nil {
			return events, fmt.Errorf("deliver cd200r signal to agent %d: %w", key.responder, err)
		}
		e.mu.Lock()
		e.notified[key] = struct{}{}
		e.mu.Unlock()
		if recorded {
			events = append(events, NegativeSignalEvent{Responder: key.responder, Presenter: key.presenter, Tick: tick})
		}
	}
	return events, nil
}

func (e *Engine) report(res TickResult) {
	ctx := context.Background()
	for _, c := range res.Crossings {
		if e.cfg.Listener != nil {
			e.cfg.Listener.OnThresholdCrossed(c)
		}
		observability.Emit(ctx, e.cfg.Observer, EventThresholdCrossed, observability.LevelInfo, eventSource, c.Tick, c)
	}
	for _, s := range res.Signals {
		if e.cfg.Listener != nil {
			e.cfg.Listener.OnNegativeSignal(s)
		}
		observability.Emit(ctx, e.cfg.Observer, EventCD200RSignal, observability.LevelVerbose, eventSource, s.Tick, s)
	}
	observability.Emit(ctx, e.cfg.Observer, EventTickComplete, observability.LevelVerbose, eventSource, res.Tick, TickSummary{
		Pairs:     len(res.Pairs),
		Touched:   res.Touched,
		Crossings: len(res.Crossings),
		Signals:   len(res.Signals),
		NetDelta:  res.NetDelta,
	})
}
