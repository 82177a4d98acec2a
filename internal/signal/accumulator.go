package signal

import "math"

type AccumulatorConfig struct {
	ActivationThreshold float64
	Floor               float64
	ClampFloor          bool
	// Ceiling saturates the running total. Zero disables saturation.
	Ceiling float64
}

type AccumulatorState struct {
	Total     float64 `json:"total"`
	HighWater float64 `json:"high_water"`
	Crossed   bool    `json:"crossed"`
	Applied   int     `json:"applied"`
}

// Accumulator is the running integral of signal received by one agent. It
// is not safe for concurrent use; the owning arena serializes access.
type Accumulator struct {
	cfg AccumulatorConfig

	total     float64
	highWater float64
	crossed   bool
	applied   int
}

func NewAccumulator(cfg AccumulatorConfig) *Accumulator {
	return &Accumulator{cfg: cfg}
}

// Apply adds delta and reports whether this call crossed the activation
// threshold. The latch is edge-triggered: it reports true at most once per
// lifecycle. Non-finite deltas are ignored.
func (a *Accumulator) Apply(delta float64) bool {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return false
	}

	total := a.total + delta
	if a.cfg.ClampFloor && total < a.cfg.Floor {
		total = a.cfg.Floor
	}
	if a.cfg.Ceiling > 0 && total > a.cfg.Ceiling {
		total = a.cfg.Ceiling
	}
	a.total = total
	a.applied++
	if total > a.highWater {
		a.highWater = total
	}

	if !a.crossed && total >= a.cfg.ActivationThreshold {
		a.crossed = true
		return true
	}
	return false
}

// Reset is invoked by the cell-fate collaborator on division or death.
func (a *Accumulator) Reset() {
	a.total = 0
	a.highWater = 0
	a.crossed = false
	a.applied = 0
}

func (a *Accumulator) Total() float64     { return a.total }
func (a *Accumulator) HighWater() float64 { return a.highWater }
func (a *Accumulator) Crossed() bool      { return a.crossed }

func (a *Accumulator) Snapshot() AccumulatorState {
	return AccumulatorState{
		Total:     a.total,
		HighWater: a.highWater,
		Crossed:   a.crossed,
		Applied:   a.applied,
	}
}
