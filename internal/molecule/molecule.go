// Package molecule holds the per-agent surface-molecule snapshot consumed by
// the channel evaluators.
package molecule

import (
	"fmt"
	"strings"
)

// Channel identifies a molecular channel. The numeric order is the
// evaluation and summation order used everywhere in the engine.
type Channel uint8

const (
	CD200 Channel = iota + 1
	CD200R
	MHCIIFr3
	MHCIIMBP
	MHCICDR12
)

var channelNames = map[Channel]string{
	CD200:     "cd200",
	CD200R:    "cd200r",
	MHCIIFr3:  "mhc_ii_fr3",
	MHCIIMBP:  "mhc_ii_mbp",
	MHCICDR12: "mhc_i_cdr12",
}

// Channels returns every known channel in identifier order.
func Channels() []Channel {
	return []Channel{CD200, CD200R, MHCIIFr3, MHCIIMBP, MHCICDR12}
}

func (c Channel) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	return fmt.Sprintf("channel(%d)", uint8(c))
}

func (c Channel) Valid() bool {
	_, ok := channelNames[c]
	return ok
}

func ParseChannel(name string) (Channel, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	for ch, n := range channelNames {
		if n == key {
			return ch, nil
		}
	}
	return 0, fmt.Errorf("unknown channel: %s", name)
}

// Set is a bitset of channels.
type Set uint16

func NewSet(channels ...Channel) Set {
	var s Set
	for _, ch := range channels {
		s = s.With(ch)
	}
	return s
}

func ParseSet(names []string) (Set, error) {
	var s Set
	for _, name := range names {
		ch, err := ParseChannel(name)
		if err != nil {
			return 0, err
		}
		s = s.With(ch)
	}
	return s, nil
}

func (s Set) Has(ch Channel) bool {
	if !ch.Valid() {
		return false
	}
	return s&(1<<ch) != 0
}

func (s Set) With(ch Channel) Set {
	if !ch.Valid() {
		return s
	}
	return s | 1<<ch
}

func (s Set) Without(ch Channel) Set {
	if !ch.Valid() {
		return s
	}
	return s &^ (1 << ch)
}

// Channels lists the members of s in identifier order.
func (s Set) Channels() []Channel {
	out := make([]Channel, 0, len(channelNames))
	for _, ch := range Channels() {
		if s.Has(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (s Set) Names() []string {
	channels := s.Channels()
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.String())
	}
	return names
}

// Expression is what an agent's biology reports for the current tick.
type Expression struct {
	Expressed Set
	// PrimingCapacity scales the stimulatory weight of MHC complexes this
	// agent presents. Values outside (0,1] are treated as 1.
	PrimingCapacity float64
}

// State is the read-only snapshot of one agent for one tick. It is a value
// type; evaluators can share it freely across goroutines.
type State struct {
	tick              uint64
	expressed         Set
	negativeSignalled bool
	primingCapacity   float64
}

func NewState(tick uint64, expr Expression, negativeSignalled bool) State {
	capacity := expr.PrimingCapacity
	if capacity <= 0 || capacity > 1 {
		capacity = 1
	}
	return State{
		tick:              tick,
		expressed:         expr.Expressed,
		negativeSignalled: negativeSignalled,
		primingCapacity:   capacity,
	}
}

func (s State) Tick() uint64 { return s.tick }

// Expressing reports whether ch is sufficiently expressed. Channels the
// agent cannot carry at all read as false.
func (s State) Expressing(ch Channel) bool { return s.expressed.Has(ch) }

func (s State) Expressed() Set { return s.expressed }

// NegativeSignalled reports whether a CD200R negative signal was received
// during the previous tick.
func (s State) NegativeSignalled() bool { return s.negativeSignalled }

func (s State) PrimingCapacity() float64 {
	if s.primingCapacity == 0 {
		return 1
	}
	return s.primingCapacity
}
