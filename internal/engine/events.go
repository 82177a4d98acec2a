package engine

import (
	"log/slog"

	"immunosim/internal/population"
)

// TickSummary is the payload of EventTickComplete.
type TickSummary struct {
	Pairs     int
	Touched   int
	Crossings int
	Signals   int
	NetDelta  float64
}

func (s TickSummary) Attrs() []slog.Attr {
	return []slog.Attr{
		slog.Int("pairs", s.Pairs),
		slog.Int("touched", s.Touched),
		slog.Int("crossings", s.Crossings),
		slog.Int("signals", s.Signals),
		slog.Float64("net_delta", s.NetDelta),
	}
}

func (c CrossingEvent) Attrs() []slog.Attr {
	return []slog.Attr{
		slog.String("agent", c.AgentID),
		slog.Int("handle", int(c.Agent)),
		slog.Float64("total", c.Total),
	}
}

func (s NegativeSignalEvent) Attrs() []slog.Attr {
	return []slog.Attr{
		slog.Int("responder", int(s.Responder)),
		slog.Int("presenter", int(s.Presenter)),
	}
}

// SnapshotMismatch is the payload of EventSnapshotMismatch. Attempt counts
// from 1.
type SnapshotMismatch struct {
	Agent   population.Handle
	Attempt int
	Err     error
}

func (m SnapshotMismatch) Attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.Int("agent", int(m.Agent)),
		slog.Int("attempt", m.Attempt),
	}
	if m.Err != nil {
		attrs = append(attrs, slog.String("error", m.Err.Error()))
	}
	return attrs
}
