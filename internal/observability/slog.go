package observability

import (
	"context"
	"log/slog"
)

// SlogObserver writes events to a slog.Logger with the event type as the
// message, followed by source, tick and the payload's attributes.
type SlogObserver struct {
	logger *slog.Logger
}

func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	level := event.Level.SlogLevel()
	if !o.logger.Enabled(ctx, level) {
		return
	}
	attrs := []slog.Attr{
		slog.String("source", event.Source),
		slog.Uint64("tick", event.Tick),
	}
	if event.Payload != nil {
		attrs = append(attrs, event.Payload.Attrs()...)
	}
	o.logger.LogAttrs(ctx, level, string(event.Type), attrs...)
}
