// Package population owns the agents of a simulation. Agents live in an
// arena and are addressed by Handle; the interaction engine never holds a
// reference to an agent's mutable state.
package population

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"immunosim/internal/molecule"
	"immunosim/internal/signal"
)

var (
	ErrUnknownAgent      = errors.New("unknown agent")
	ErrDuplicateAgent    = errors.New("agent already exists")
	ErrInconsistentState = errors.New("inconsistent molecule state")
	ErrTickRegression    = errors.New("tick must advance")
)

const minPrimingCapacity = 1e-12

type Handle int

type Info struct {
	Handle Handle
	ID     string
	Kind   string
	Seed   molecule.Expression
}

// Biology regenerates an agent's expression at every tick boundary.
type Biology interface {
	Express(agent Info, tick uint64) molecule.Expression
}

// StaticBiology keeps every agent at its seeded expression.
type StaticBiology struct{}

func (StaticBiology) Express(agent Info, _ uint64) molecule.Expression {
	return agent.Seed
}

type Options struct {
	Accumulator signal.AccumulatorConfig
	// PrimingReductionFactor multiplies an agent's priming capacity once per
	// distinct CD200 presenter that signalled it during a tick. 1 disables it.
	PrimingReductionFactor float64
	Biology                Biology
}

type agent struct {
	info Info

	mu          sync.Mutex
	acc         *signal.Accumulator
	state       molecule.State
	stale       bool
	suppression float64
	pending     map[Handle]struct{}
}

type Arena struct {
	mu      sync.RWMutex
	agents  []*agent
	byID    map[string]Handle
	tick    uint64
	started bool

	biology         Biology
	accumulator     signal.AccumulatorConfig
	reductionFactor float64
}

func NewArena(opts Options) *Arena {
	if opts.Biology == nil {
		opts.Biology = StaticBiology{}
	}
	if opts.PrimingReductionFactor <= 0 || opts.PrimingReductionFactor > 1 {
		opts.PrimingReductionFactor = 1
	}
	return &Arena{
		byID:            make(map[string]Handle),
		biology:         opts.Biology,
		accumulator:     opts.Accumulator,
		reductionFactor: opts.PrimingReductionFactor,
	}
}

// Add registers a new agent. An agent added after the first BeginTick is
// snapshotted immediately for the current tick.
func (a *Arena) Add(id, kind string, seed molecule.Expression) (Handle, error) {
	if id == "" {
		return 0, errors.New("agent id is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byID[id]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
	}
	h := Handle(len(a.agents))
	ag := &agent{
		info:        Info{Handle: h, ID: id, Kind: kind, Seed: seed},
		acc:         signal.NewAccumulator(a.accumulator),
		suppression: 1,
		pending:     make(map[Handle]struct{}),
	}
	if a.started {
		ag.state = a.express(ag, a.tick, false)
	}
	a.agents = append(a.agents, ag)
	a.byID[id] = h
	return h, nil
}

func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.agents)
}

func (a *Arena) Lookup(id string) (Handle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.byID[id]
	return h, ok
}

func (a *Arena) Info(h Handle) (Info, error) {
	ag, err := a.get(h)
	if err != nil {
		return Info{}, err
	}
	return ag.info, nil
}

func (a *Arena) Handles() []Handle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Handle, len(a.agents))
	for i := range a.agents {
		out[i] = Handle(i)
	}
	return out
}

// Tick returns the tick of the current snapshots.
func (a *Arena) Tick() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tick
}

// BeginTick regenerates every snapshot for tick. CD200R signals received
// during the previous tick become visible here and only here.
func (a *Arena) BeginTick(tick uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started && tick <= a.tick {
		return fmt.Errorf("%w: current=%d requested=%d", ErrTickRegression, a.tick, tick)
	}
	for _, ag := range a.agents {
		ag.mu.Lock()
		signalled := len(ag.pending)
		for i := 0; i < signalled; i++ {
			ag.suppression *= a.reductionFactor
		}
		ag.suppression = math.Max(ag.suppression, minPrimingCapacity)
		ag.state = a.express(ag, tick, signalled > 0)
		ag.stale = false
		clear(ag.pending)
		ag.mu.Unlock()
	}
	a.tick = tick
	a.started = true
	return nil
}

func (a *Arena) express(ag *agent, tick uint64, signalled bool) molecule.State {
	expr := a.biology.Express(ag.info, tick)
	base := expr.PrimingCapacity
	if base <= 0 || base > 1 {
		base = 1
	}
	expr.PrimingCapacity = math.Max(base*ag.suppression, minPrimingCapacity)
	return molecule.NewState(tick, expr, signalled)
}

// Snapshot returns the agent's state for tick. A tick-stamp mismatch means
// the caller is reading across a tick boundary.
func (a *Arena) Snapshot(h Handle, tick uint64) (molecule.State, error) {
	ag, err := a.get(h)
	if err != nil {
		return molecule.State{}, err
	}
	ag.mu.Lock()
	st, stale := ag.state, ag.stale
	ag.mu.Unlock()

	if stale {
		return molecule.State{}, fmt.Errorf("%w: agent %s snapshot invalidated at tick %d", ErrInconsistentState, ag.info.ID, st.Tick())
	}
	if st.Tick() != tick || !a.isStarted() {
		return molecule.State{}, fmt.Errorf("%w: agent %s stamped tick %d, read at tick %d", ErrInconsistentState, ag.info.ID, st.Tick(), tick)
	}
	return st, nil
}

// Invalidate discards h's snapshot for the current tick, e.g. after its
// biology changed mid-tick. Snapshot fails until Resnapshot or the next
// BeginTick regenerates it.
func (a *Arena) Invalidate(h Handle) error {
	ag, err := a.get(h)
	if err != nil {
		return err
	}
	ag.mu.Lock()
	ag.stale = true
	ag.mu.Unlock()
	return nil
}

// Resnapshot regenerates h's snapshot from Biology for tick. Only the
// arena's current tick can be regenerated; the CD200R signal flag and
// priming capacity settled by BeginTick are kept.
func (a *Arena) Resnapshot(h Handle, tick uint64) (molecule.State, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if h < 0 || int(h) >= len(a.agents) {
		return molecule.State{}, fmt.Errorf("%w: handle %d", ErrUnknownAgent, h)
	}
	ag := a.agents[h]
	if !a.started || tick != a.tick {
		return molecule.State{}, fmt.Errorf("%w: agent %s cannot be regenerated for tick %d, arena at tick %d", ErrInconsistentState, ag.info.ID, tick, a.tick)
	}

	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.stale || ag.state.Tick() != tick {
		ag.state = a.express(ag, tick, ag.state.Tick() == tick && ag.state.NegativeSignalled())
		ag.stale = false
	}
	return ag.state, nil
}

// ReceiveCD200RNegativeSignal records that presenter signalled responder
// through CD200R during tick. It is idempotent per ordered pair and tick,
// and a no-op for responders that are not expressing the receptor. It
// reports whether the signal was newly recorded.
func (a *Arena) ReceiveCD200RNegativeSignal(responder, presenter Handle, tick uint64) (bool, error) {
	ag, err := a.get(responder)
	if err != nil {
		return false, err
	}
	if _, err := a.get(presenter); err != nil {
		return false, err
	}

	ag.mu.Lock()
	defer ag.mu.Unlock()

	if ag.state.Tick() != tick {
		return false, fmt.Errorf("%w: agent %s stamped tick %d, signalled at tick %d", ErrInconsistentState, ag.info.ID, ag.state.Tick(), tick)
	}
	if !ag.state.Expressing(molecule.CD200R) {
		return false, nil
	}
	if _, seen := ag.pending[presenter]; seen {
		return false, nil
	}
	ag.pending[presenter] = struct{}{}
	return true, nil
}

// Apply adds delta to the agent's accumulator under the agent's lock.
func (a *Arena) Apply(h Handle, delta float64) (bool, signal.AccumulatorState, error) {
	ag, err := a.get(h)
	if err != nil {
		return false, signal.AccumulatorState{}, err
	}
	ag.mu.Lock()
	defer ag.mu.Unlock()

	crossed := ag.acc.Apply(delta)
	return crossed, ag.acc.Snapshot(), nil
}

// Reset clears the agent's accumulator, e.g. on division or death.
func (a *Arena) Reset(h Handle) error {
	ag, err := a.get(h)
	if err != nil {
		return err
	}
	ag.mu.Lock()
	ag.acc.Reset()
	ag.mu.Unlock()
	return nil
}

func (a *Arena) Accumulator(h Handle) (signal.AccumulatorState, error) {
	ag, err := a.get(h)
	if err != nil {
		return signal.AccumulatorState{}, err
	}
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.acc.Snapshot(), nil
}

func (a *Arena) isStarted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}

func (a *Arena) get(h Handle) (*agent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if h < 0 || int(h) >= len(a.agents) {
		return nil, fmt.Errorf("%w: handle %d", ErrUnknownAgent, h)
	}
	return a.agents[h], nil
}
