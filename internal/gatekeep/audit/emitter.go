package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// Emitter accepts audit events.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) error { return nil }

// LogEmitter writes events as structured log lines on the "audit" channel.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(ctx context.Context, ev Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slogx.FromContext(ctx)
	}

	level := slog.LevelInfo
	if ev.Severity <= SeverityWarning {
		level = slog.LevelWarn
	}

	attrs := []any{
		"kind", string(ev.Kind),
		"severity", ev.Severity.String(),
		"outcome", ev.Outcome,
	}
	if ev.Actor != "" {
		attrs = append(attrs, "actor", ev.Actor)
	}
	if ev.WorkspaceID != "" {
		attrs = append(attrs, "workspace_id", ev.WorkspaceID)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	if ev.RequestID != "" {
		attrs = append(attrs, "req_id", ev.RequestID)
	}
	if len(ev.Fields) > 0 {
		group := make([]any, 0, len(ev.Fields)*2)
		for k, v := range ev.Fields {
			group = append(group, k, v)
		}
		attrs = append(attrs, slog.Group("fields", group...))
	}

	logger.Log(ctx, level, "audit", attrs...)
	return nil
}

// Fanout forwards events to every backend. Backend failures are logged and
// never returned; an audit outage must not block the request path.
type Fanout struct {
	backends []Emitter
	logger   *slog.Logger
}

// NewFanout returns an emitter over backends. A nil logger uses slog.Default().
func NewFanout(logger *slog.Logger, backends ...Emitter) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{backends: backends, logger: logger}
}

func (f *Fanout) Emit(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev = New(ev.Kind, ev.Actor, ev.WorkspaceID).merge(ev)
	}
	if ev.RequestID == "" {
		ev.RequestID = slogx.RequestID(ctx)
	}

	for _, b := range f.backends {
		if err := b.Emit(ctx, ev); err != nil {
			f.logger.Error("audit emit failed", "kind", string(ev.Kind), "error", err)
		}
	}
	return nil
}

// merge fills defaults in from e, keeping everything ev already set.
func (e Event) merge(ev Event) Event {
	if ev.Severity == 0 {
		ev.Severity = e.Severity
	}
	if ev.Outcome == "" {
		ev.Outcome = e.Outcome
	}
	ev.Timestamp = e.Timestamp
	return ev
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of kind.
func (r *Recorder) OfKind(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
