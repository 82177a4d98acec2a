package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"immunosim/internal/molecule"
)

var (
	ErrChannelExists  = errors.New("channel evaluator already registered")
	ErrInvalidChannel = errors.New("invalid channel evaluator")
)

// Registry keeps evaluators sorted by channel identifier so every pair is
// evaluated in the same order.
type Registry struct {
	mu         sync.RWMutex
	evaluators []Evaluator
}

func NewRegistry() *Registry {
	return &Registry{}
}

// NewDefaultRegistry registers the five built-in evaluators.
func NewDefaultRegistry(w Weights) *Registry {
	r := NewRegistry()
	r.MustRegister(CD200Channel{Magnitude: w.CD200, Enabled: w.CD200Enabled})
	r.MustRegister(CD200RChannel{Enabled: w.CD200Enabled})
	r.MustRegister(MHCIIFr3Channel(w.MHCIIFr3))
	r.MustRegister(MHCIIMBPChannel(w.MHCIIMBP))
	r.MustRegister(MHCICDR12Channel(w.MHCICDR12))
	return r
}

func (r *Registry) Register(ev Evaluator) error {
	if ev == nil {
		return fmt.Errorf("%w: evaluator is nil", ErrInvalidChannel)
	}
	ch := ev.Channel()
	if !ch.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidChannel, ch)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.evaluators {
		if existing.Channel() == ch {
			return fmt.Errorf("%w: %s", ErrChannelExists, ch)
		}
	}
	r.evaluators = append(r.evaluators, ev)
	sort.Slice(r.evaluators, func(i, j int) bool {
		return r.evaluators[i].Channel() < r.evaluators[j].Channel()
	})
	return nil
}

func (r *Registry) MustRegister(ev Evaluator) {
	if err := r.Register(ev); err != nil {
		panic(err)
	}
}

// Evaluators returns a copy of the registered evaluators in channel order.
func (r *Registry) Evaluators() []Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Evaluator, len(r.evaluators))
	copy(out, r.evaluators)
	return out
}

func (r *Registry) Channels() []molecule.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]molecule.Channel, 0, len(r.evaluators))
	for _, ev := range r.evaluators {
		out = append(out, ev.Channel())
	}
	return out
}

// EvaluateAll runs every evaluator for presenter -> responder and appends
// the contributions that fired to dst.
func (r *Registry) EvaluateAll(dst []Contribution, presenter, responder molecule.State) []Contribution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ev := range r.evaluators {
		c := ev.Evaluate(presenter, responder)
		if c.Fired() {
			dst = append(dst, c)
		}
	}
	return dst
}
