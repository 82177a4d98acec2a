// Package channel implements one evaluator per molecular channel.
package channel

import "immunosim/internal/molecule"

// EffectKind names a side effect an evaluation asks the engine to deliver
// after aggregation. Evaluators never mutate agents themselves.
type EffectKind uint8

const (
	EffectNone EffectKind = iota
	EffectCD200RNegativeSignal
)

func (k EffectKind) String() string {
	switch k {
	case EffectCD200RNegativeSignal:
		return "cd200r_negative_signal"
	default:
		return "none"
	}
}

// Contribution is one channel's local result for a presenter/responder pair.
type Contribution struct {
	Channel      molecule.Channel
	Sign         int8
	Magnitude    float64
	BondEligible bool
	Effect       EffectKind
}

// Fired reports whether the channel produced anything at all.
func (c Contribution) Fired() bool {
	return c.Sign != 0 || c.Effect != EffectNone
}

func (c Contribution) Signed() float64 {
	return float64(c.Sign) * c.Magnitude
}

// Evaluator maps a directed pair of snapshots to one channel contribution.
// Implementations must be pure and must not fail on unexpressed channels.
type Evaluator interface {
	Channel() molecule.Channel
	Evaluate(presenter, responder molecule.State) Contribution
}

// Weights carries the configured magnitude of each channel.
type Weights struct {
	CD200        float64
	CD200Enabled bool
	MHCIIFr3     float64
	MHCIIMBP     float64
	MHCICDR12    float64
}

type CD200Channel struct {
	Magnitude float64
	Enabled   bool
}

func (CD200Channel) Channel() molecule.Channel { return molecule.CD200 }

func (c CD200Channel) Evaluate(presenter, responder molecule.State) Contribution {
	if !c.Enabled || !checkpointEngaged(presenter, responder) {
		return Contribution{Channel: molecule.CD200}
	}
	return Contribution{
		Channel:   molecule.CD200,
		Sign:      -1,
		Magnitude: c.Magnitude,
	}
}

// CD200RChannel is the receptor side of the CD200 checkpoint. It carries
// no magnitude; it only asks for the negative-signal notification.
type CD200RChannel struct {
	Enabled bool
}

func (CD200RChannel) Channel() molecule.Channel { return molecule.CD200R }

func (c CD200RChannel) Evaluate(presenter, responder molecule.State) Contribution {
	if !c.Enabled || !checkpointEngaged(presenter, responder) {
		return Contribution{Channel: molecule.CD200R}
	}
	return Contribution{
		Channel: molecule.CD200R,
		Effect:  EffectCD200RNegativeSignal,
	}
}

func checkpointEngaged(presenter, responder molecule.State) bool {
	return presenter.Expressing(molecule.CD200) && responder.Expressing(molecule.CD200R)
}

// MHCChannel covers the three MHC-peptide tiers. Only the presenter's flag
// matters; the stimulatory magnitude is scaled by its priming capacity.
type MHCChannel struct {
	ID     molecule.Channel
	Weight float64
}

func MHCIIFr3Channel(weight float64) MHCChannel {
	return MHCChannel{ID: molecule.MHCIIFr3, Weight: weight}
}

func MHCIIMBPChannel(weight float64) MHCChannel {
	return MHCChannel{ID: molecule.MHCIIMBP, Weight: weight}
}

func MHCICDR12Channel(weight float64) MHCChannel {
	return MHCChannel{ID: molecule.MHCICDR12, Weight: weight}
}

func (c MHCChannel) Channel() molecule.Channel { return c.ID }

func (c MHCChannel) Evaluate(presenter, _ molecule.State) Contribution {
	if !presenter.Expressing(c.ID) || c.Weight <= 0 {
		return Contribution{Channel: c.ID}
	}
	return Contribution{
		Channel:      c.ID,
		Sign:         1,
		Magnitude:    c.Weight * presenter.PrimingCapacity(),
		BondEligible: true,
	}
}
