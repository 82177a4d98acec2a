package signal

import (
	"math"
	"math/rand"
	"testing"

	"immunosim/internal/channel"
	"immunosim/internal/molecule"
)

func mhc(ch molecule.Channel, magnitude float64) channel.Contribution {
	return channel.Contribution{Channel: ch, Sign: 1, Magnitude: magnitude, BondEligible: true}
}

func cd200(magnitude float64) channel.Contribution {
	return channel.Contribution{Channel: molecule.CD200, Sign: -1, Magnitude: magnitude}
}

func cd200r() channel.Contribution {
	return channel.Contribution{Channel: molecule.CD200R, Effect: channel.EffectCD200RNegativeSignal}
}

func TestAggregateEmpty(t *testing.T) {
	out := Aggregator{MinAdhesion: 5}.Aggregate(nil)
	if out.BondStrength != 0 || out.Delta != 0 || len(out.Fired) != 0 || len(out.Effects) != 0 {
		t.Fatalf("expected zero outcome, got %+v", out)
	}
}

func TestAggregateScenario(t *testing.T) {
	out := Aggregator{MinAdhesion: 5}.Aggregate([]channel.Contribution{
		mhc(molecule.MHCIIMBP, 8), cd200r(), cd200(5),
	})
	if out.BondStrength != 8 {
		t.Fatalf("unexpected bond strength: got=%f want=8", out.BondStrength)
	}
	if out.Delta != 3 {
		t.Fatalf("unexpected delta: got=%f want=3", out.Delta)
	}
	if len(out.Fired) != 3 || out.Fired[0] != molecule.CD200 || out.Fired[2] != molecule.MHCIIMBP {
		t.Fatalf("unexpected fired channels: %v", out.Fired)
	}
	if !out.HasEffect(channel.EffectCD200RNegativeSignal) || len(out.Effects) != 1 {
		t.Fatalf("expected one cd200r effect, got %+v", out.Effects)
	}
}

func TestAggregateAdhesionBinarity(t *testing.T) {
	agg := Aggregator{MinAdhesion: 5}
	cases := []struct {
		name string
		in   []channel.Contribution
		bond float64
	}{
		{name: "below minimum", in: []channel.Contribution{mhc(molecule.MHCIIFr3, 4.999)}, bond: 0},
		{name: "at minimum", in: []channel.Contribution{mhc(molecule.MHCIIFr3, 5)}, bond: 5},
		{name: "summed above", in: []channel.Contribution{mhc(molecule.MHCIIFr3, 2), mhc(molecule.MHCICDR12, 4)}, bond: 6},
		{name: "inhibitory does not reduce bond", in: []channel.Contribution{mhc(molecule.MHCIIMBP, 6), cd200(5)}, bond: 6},
		{name: "inhibitory alone", in: []channel.Contribution{cd200(5)}, bond: 0},
	}
	for _, tc := range cases {
		out := agg.Aggregate(tc.in)
		if out.BondStrength != tc.bond {
			t.Fatalf("%s: bond=%f want=%f", tc.name, out.BondStrength, tc.bond)
		}
	}
}

func TestAggregateCommutative(t *testing.T) {
	base := []channel.Contribution{
		mhc(molecule.MHCIIFr3, 0.1),
		mhc(molecule.MHCIIMBP, 0.2),
		mhc(molecule.MHCICDR12, 0.3),
		cd200(1e-17),
		cd200r(),
		mhc(molecule.MHCIIFr3, 1e16),
	}
	agg := Aggregator{MinAdhesion: 0.25}
	want := agg.Aggregate(base)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		perm := make([]channel.Contribution, len(base))
		copy(perm, base)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })

		got := agg.Aggregate(perm)
		if math.Float64bits(got.Delta) != math.Float64bits(want.Delta) {
			t.Fatalf("delta not bit-identical: got=%v want=%v", got.Delta, want.Delta)
		}
		if math.Float64bits(got.BondStrength) != math.Float64bits(want.BondStrength) {
			t.Fatalf("bond not bit-identical: got=%v want=%v", got.BondStrength, want.BondStrength)
		}
		if len(got.Fired) != len(want.Fired) {
			t.Fatalf("fired mismatch: got=%v want=%v", got.Fired, want.Fired)
		}
		for j := range want.Fired {
			if got.Fired[j] != want.Fired[j] {
				t.Fatalf("fired mismatch: got=%v want=%v", got.Fired, want.Fired)
			}
		}
	}
}

func TestAggregateDoesNotMutateInput(t *testing.T) {
	in := []channel.Contribution{mhc(molecule.MHCICDR12, 3), cd200(1)}
	_ = Aggregator{}.Aggregate(in)
	if in[0].Channel != molecule.MHCICDR12 || in[1].Channel != molecule.CD200 {
		t.Fatalf("input reordered: %+v", in)
	}
}
