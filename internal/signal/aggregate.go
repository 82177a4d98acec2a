// Package signal combines channel contributions into a pairwise outcome and
// integrates received signal per agent over time.
package signal

import (
	"sort"

	"immunosim/internal/channel"
	"immunosim/internal/molecule"
)

// Effect is a side effect to be applied to the responder once the outcome
// has been aggregated.
type Effect struct {
	Channel molecule.Channel
	Kind    channel.EffectKind
}

// Outcome is the ephemeral result of one directed pairwise evaluation.
type Outcome struct {
	BondStrength float64
	Delta        float64
	Fired        []molecule.Channel
	Effects      []Effect
}

func (o Outcome) Bonded() bool {
	return o.BondStrength > 0
}

// HasEffect reports whether the outcome carries an effect of the given kind.
func (o Outcome) HasEffect(kind channel.EffectKind) bool {
	for _, e := range o.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

type Aggregator struct {
	MinAdhesion float64
}

// Aggregate folds contributions into an Outcome. The input is copied and
// sorted before summation, so any permutation of the same contributions
// yields a bit-identical result.
func (a Aggregator) Aggregate(contributions []channel.Contribution) Outcome {
	if len(contributions) == 0 {
		return Outcome{}
	}

	sorted := make([]channel.Contribution, len(contributions))
	copy(sorted, contributions)
	sort.Slice(sorted, func(i, j int) bool {
		return lessContribution(sorted[i], sorted[j])
	})

	var (
		bondSum float64
		delta   float64
		out     Outcome
	)
	for _, c := range sorted {
		if !c.Fired() {
			continue
		}
		if c.BondEligible && c.Sign > 0 {
			bondSum += c.Magnitude
		}
		delta += c.Signed()
		if n := len(out.Fired); n == 0 || out.Fired[n-1] != c.Channel {
			out.Fired = append(out.Fired, c.Channel)
		}
		if c.Effect != channel.EffectNone {
			out.Effects = append(out.Effects, Effect{Channel: c.Channel, Kind: c.Effect})
		}
	}

	if bondSum >= a.MinAdhesion && bondSum > 0 {
		out.BondStrength = bondSum
	}
	out.Delta = delta
	return out
}

func lessContribution(a, b channel.Contribution) bool {
	if a.Channel != b.Channel {
		return a.Channel < b.Channel
	}
	if a.Sign != b.Sign {
		return a.Sign < b.Sign
	}
	if a.Magnitude != b.Magnitude {
		return a.Magnitude < b.Magnitude
	}
	if a.BondEligible != b.BondEligible {
		return !a.BondEligible
	}
	return a.Effect < b.Effect
}
