package engine

import (
	"sort"

	"immunosim/internal/population"
)

type pairKey struct {
	lo, hi population.Handle
}

func unordered(a, b population.Handle) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

type orderedKey struct {
	presenter, responder population.Handle
}

// Bond is the adhesion state of one unordered pair for the current tick.
type Bond struct {
	A        population.Handle
	B        population.Handle
	Strength float64
}

// adhesionTable is guarded by the engine mutex.
type adhesionTable map[pairKey]float64

func (t adhesionTable) record(a, b population.Handle, strength float64) {
	key := unordered(a, b)
	if cur, ok := t[key]; ok && cur >= strength {
		return
	}
	t[key] = strength
}

func (t adhesionTable) bonds() []Bond {
	out := make([]Bond, 0, len(t))
	for key, strength := range t {
		if strength <= 0 {
			continue
		}
		out = append(out, Bond{A: key.lo, B: key.hi, Strength: strength})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}
