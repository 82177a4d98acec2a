package platform

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"immunosim/internal/molecule"
	"immunosim/internal/population"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a scripted population: who is present, who is colocated with
// whom, and what changes at which tick.
type Scenario struct {
	Name    string          `json:"name" yaml:"name"`
	Agents  []AgentSpec     `json:"agents" yaml:"agents"`
	Pairs   []PairSpec      `json:"pairs" yaml:"pairs"`
	Changes []ExpressChange `json:"changes,omitempty" yaml:"changes,omitempty"`
	Resets  []ResetSpec     `json:"resets,omitempty" yaml:"resets,omitempty"`
}

type AgentSpec struct {
	ID              string   `json:"id" yaml:"id"`
	Kind            string   `json:"kind" yaml:"kind"`
	Express         []string `json:"express" yaml:"express"`
	PrimingCapacity float64  `json:"priming_capacity,omitempty" yaml:"priming_capacity,omitempty"`
}

// PairSpec is evaluated every tick with A presenting to B.
type PairSpec struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
}

// ExpressChange replaces an agent's expression from Tick onwards.
type ExpressChange struct {
	Tick            uint64   `json:"tick" yaml:"tick"`
	Agent           string   `json:"agent" yaml:"agent"`
	Express         []string `json:"express" yaml:"express"`
	PrimingCapacity float64  `json:"priming_capacity,omitempty" yaml:"priming_capacity,omitempty"`
}

// ResetSpec clears an agent's accumulator at the start of Tick.
type ResetSpec struct {
	Tick  uint64 `json:"tick" yaml:"tick"`
	Agent string `json:"agent" yaml:"agent"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) Validate() error {
	if len(s.Agents) == 0 {
		return fmt.Errorf("%w: no agents", ErrInvalidScenario)
	}
	known := make(map[string]struct{}, len(s.Agents))
	for i, a := range s.Agents {
		if a.ID == "" {
			return fmt.Errorf("%w: agent %d has no id", ErrInvalidScenario, i)
		}
		if _, dup := known[a.ID]; dup {
			return fmt.Errorf("%w: duplicate agent %s", ErrInvalidScenario, a.ID)
		}
		known[a.ID] = struct{}{}
		if _, err := molecule.ParseSet(a.Express); err != nil {
			return fmt.Errorf("%w: agent %s: %v", ErrInvalidScenario, a.ID, err)
		}
		if a.PrimingCapacity < 0 || a.PrimingCapacity > 1 {
			return fmt.Errorf("%w: agent %s priming capacity %v outside [0,1]", ErrInvalidScenario, a.ID, a.PrimingCapacity)
		}
	}
	for i, p := range s.Pairs {
		if _, ok := known[p.A]; !ok {
			return fmt.Errorf("%w: pair %d references unknown agent %q", ErrInvalidScenario, i, p.A)
		}
		if _, ok := known[p.B]; !ok {
			return fmt.Errorf("%w: pair %d references unknown agent %q", ErrInvalidScenario, i, p.B)
		}
		if p.A == p.B {
			return fmt.Errorf("%w: pair %d pairs agent %s with itself", ErrInvalidScenario, i, p.A)
		}
	}
	for i, c := range s.Changes {
		if _, ok := known[c.Agent]; !ok {
			return fmt.Errorf("%w: change %d references unknown agent %q", ErrInvalidScenario, i, c.Agent)
		}
		if c.Tick == 0 {
			return fmt.Errorf("%w: change %d has no tick", ErrInvalidScenario, i)
		}
		if _, err := molecule.ParseSet(c.Express); err != nil {
			return fmt.Errorf("%w: change %d: %v", ErrInvalidScenario, i, err)
		}
		if c.PrimingCapacity < 0 || c.PrimingCapacity > 1 {
			return fmt.Errorf("%w: change %d priming capacity %v outside [0,1]", ErrInvalidScenario, i, c.PrimingCapacity)
		}
	}
	for i, r := range s.Resets {
		if _, ok := known[r.Agent]; !ok {
			return fmt.Errorf("%w: reset %d references unknown agent %q", ErrInvalidScenario, i, r.Agent)
		}
		if r.Tick == 0 {
			return fmt.Errorf("%w: reset %d has no tick", ErrInvalidScenario, i)
		}
	}
	return nil
}

// resetsAt returns the agent ids reset at tick, sorted.
func (s *Scenario) resetsAt(tick uint64) []string {
	var out []string
	for _, r := range s.Resets {
		if r.Tick == tick {
			out = append(out, r.Agent)
		}
	}
	sort.Strings(out)
	return out
}

func seedExpression(express []string, capacity float64) molecule.Expression {
	set, _ := molecule.ParseSet(express)
	return molecule.Expression{Expressed: set, PrimingCapacity: capacity}
}

// ScriptedBiology serves each agent's seeded expression until a scheduled
// change takes over. It is read-only after construction.
type ScriptedBiology struct {
	changes map[string][]ExpressChange
}

func NewScriptedBiology(sc *Scenario) *ScriptedBiology {
	b := &ScriptedBiology{changes: make(map[string][]ExpressChange)}
	for _, c := range sc.Changes {
		b.changes[c.Agent] = append(b.changes[c.Agent], c)
	}
	for id := range b.changes {
		list := b.changes[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Tick < list[j].Tick })
	}
	return b
}

func (b *ScriptedBiology) Express(agent population.Info, tick uint64) molecule.Expression {
	expr := agent.Seed
	for _, c := range b.changes[agent.ID] {
		if c.Tick > tick {
			break
		}
		expr = seedExpression(c.Express, c.PrimingCapacity)
	}
	return expr
}
