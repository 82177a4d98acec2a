// Package observability carries engine events to logs or any other sink.
// Levels follow OpenTelemetry severity numbers so they map onto slog
// directly.
package observability

import (
	"context"
	"log/slog"
	"time"
)

type Level int

const (
	LevelVerbose Level = 5
	LevelInfo    Level = 9
	LevelWarning Level = 13
	LevelError   Level = 17
)

func (l Level) String() string {
	switch {
	case l <= 4:
		return "TRACE"
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	case l <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}

func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType names an event, e.g. "engine.threshold.crossed".
type EventType string

// Payload is the typed body of an event. Sinks that only log call Attrs;
// others can switch on the concrete type.
type Payload interface {
	Attrs() []slog.Attr
}

// Event is stamped with the simulation tick it belongs to as well as the
// wall-clock time it was emitted.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Tick      uint64
	Payload   Payload
}

type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// Emit stamps and forwards an event. A nil observer drops it.
func Emit(ctx context.Context, obs Observer, typ EventType, level Level, source string, tick uint64, payload Payload) {
	if obs == nil {
		return
	}
	obs.OnEvent(ctx, Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Tick:      tick,
		Payload:   payload,
	})
}
