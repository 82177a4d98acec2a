package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

type agentPayload struct {
	agent string
	total float64
}

func (p agentPayload) Attrs() []slog.Attr {
	return []slog.Attr{slog.String("agent", p.agent), slog.Float64("total", p.total)}
}

type recordingObserver struct {
	events []Event
}

func (r *recordingObserver) OnEvent(_ context.Context, event Event) {
	r.events = append(r.events, event)
}

func TestLevelMapping(t *testing.T) {
	cases := []struct {
		level Level
		text  string
		slog  slog.Level
	}{
		{LevelVerbose, "DEBUG", slog.LevelDebug},
		{LevelInfo, "INFO", slog.LevelInfo},
		{LevelWarning, "WARN", slog.LevelWarn},
		{LevelError, "ERROR", slog.LevelError},
	}
	for _, tc := range cases {
		if tc.level.String() != tc.text || tc.level.SlogLevel() != tc.slog {
			t.Fatalf("unexpected mapping for %d: %s/%v", tc.level, tc.level.String(), tc.level.SlogLevel())
		}
	}
}

func TestEmitAndMultiObserver(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	multi := NewMultiObserver(a, nil, b)

	Emit(context.Background(), multi, "engine.tick.complete", LevelInfo, "engine", 1, nil)
	Emit(context.Background(), nil, "dropped", LevelInfo, "engine", 1, nil)

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected fan-out to both observers, got %d and %d", len(a.events), len(b.events))
	}
	if a.events[0].Timestamp.IsZero() || a.events[0].Source != "engine" || a.events[0].Tick != 1 {
		t.Fatalf("unexpected event: %+v", a.events[0])
	}
	NoOpObserver{}.OnEvent(context.Background(), a.events[0])
}

func TestSlogObserverWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	obs := NewSlogObserver(NewLogger("debug", &buf))
	Emit(context.Background(), obs, "engine.threshold.crossed", LevelInfo, "engine", 4, agentPayload{agent: "t-1", total: 12})
	Emit(context.Background(), obs, "engine.tick.complete", LevelInfo, "engine", 4, nil)

	out := buf.String()
	for _, want := range []string{"engine.threshold.crossed", "source=engine", "tick=4", "agent=t-1", "total=12", "engine.tick.complete"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log output: %s", want, out)
		}
	}
}

func TestSlogObserverRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	obs := NewSlogObserver(NewLogger("warn", &buf))
	Emit(context.Background(), obs, "engine.cd200r.signal", LevelVerbose, "engine", 2, agentPayload{agent: "dc-1"})
	if buf.Len() != 0 {
		t.Fatalf("verbose event logged at warn level: %s", buf.String())
	}
}

func TestNewLoggerTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("trace", &buf)
	logger.Log(context.Background(), LevelTrace, "pair evaluated")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Fatalf("expected TRACE label, got: %s", buf.String())
	}

	buf.Reset()
	NewLogger("info", &buf).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output at info level: %s", buf.String())
	}
	if ParseLevel("bogus") != slog.LevelInfo || ParseLevel("WARN") != slog.LevelWarn {
		t.Fatal("unexpected ParseLevel mapping")
	}
}
