// Package obslog implements the structured logger and event bus (C11):
// hierarchical spans over *slog.Logger, pluggable sinks, and a bridge
// to OpenTelemetry spans. Grounded on the teacher's slog.Logger usage
// throughout runtime/app.go and runtime/executor.go (InfoContext /
// ErrorContext calls keyed by component), generalized from one fixed
// handler to a set of pluggable sinks plus an in-process event bus so
// tests can assert on emitted events without parsing log lines.
package obslog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Event is one structured occurrence emitted by a component: fetch.begin,
// fetch.end, store.write, action.begin/end, wait.begin/end,
// pipeline.stage.begin/end, schedule.fire, and so on.
type Event struct {
	Name      string
	Time      time.Time
	Attrs     map[string]any
	SpanPath  []string
}

// Sink receives every Event emitted through a Logger tree, in addition
// to the Logger's slog handler. NewJSONLinesSink encodes events as JSON
// lines itself; BusSink appends them to an in-memory slice, letting
// tests and the debug controller (C12) inspect what happened without
// scraping formatted log text.
type Sink interface {
	Handle(Event)
}

// BusSink is an in-memory ring buffer sink, primarily for test
// assertions and for bridging events to an out-of-process observability
// system via a forwarding callback.
type BusSink struct {
	mu       sync.Mutex
	cap      int
	events   []Event
	Forward  func(Event)
}

// NewBusSink returns a BusSink retaining at most capacity events
// (0 means unbounded).
func NewBusSink(capacity int) *BusSink {
	return &BusSink{cap: capacity}
}

func (b *BusSink) Handle(e Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	if b.cap > 0 && len(b.events) > b.cap {
		b.events = b.events[len(b.events)-b.cap:]
	}
	b.mu.Unlock()
	if b.Forward != nil {
		b.Forward(e)
	}
}

// Events returns a snapshot of every retained event.
func (b *BusSink) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Logger wraps *slog.Logger with hierarchical spans: Child derives a
// logger whose events are attributed to a longer span path, mirroring
// how the teacher's components each hold a *slog.Logger scoped with
// slog.String("component", ...).
type Logger struct {
	slog     *slog.Logger
	path     []string
	sinks    []Sink
	tracer   trace.Tracer
}

// New builds a root Logger backed by base, emitting events to sinks
// in addition to base's own handler.
func New(base *slog.Logger, sinks ...Sink) *Logger {
	return &Logger{slog: base, sinks: sinks, tracer: otel.Tracer("reqon")}
}

// Child derives a logger scoped under name, e.g. log.Child("mission").
// Child("action").Child("fetch") produces events with SpanPath
// ["mission", "action", "fetch"].
func (l *Logger) Child(name string) *Logger {
	path := make([]string, len(l.path)+1)
	copy(path, l.path)
	path[len(path)-1] = name
	return &Logger{
		slog:   l.slog.With(slog.String("span", name)),
		path:   path,
		sinks:  l.sinks,
		tracer: l.tracer,
	}
}

// Span opens an OpenTelemetry span named name, and returns the span's
// context plus a function that ends it, recording err (if any) as the
// span status. Use: ctx, end := log.Span(ctx, "fetch.do"); defer end(&err).
func (l *Logger) Span(ctx context.Context, name string) (context.Context, func(*error)) {
	ctx, span := l.tracer.Start(ctx, name)
	start := time.Now()
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}
}

// Emit records a structured Event, fanning it out to every registered
// Sink and to the underlying slog.Logger at the given level.
func (l *Logger) Emit(ctx context.Context, level slog.Level, name string, attrs map[string]any) {
	args := make([]any, 0, len(attrs)*2)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	l.slog.Log(ctx, level, name, args...)

	ev := Event{Name: name, Time: time.Now(), Attrs: attrs, SpanPath: l.path}
	for _, s := range l.sinks {
		s.Handle(ev)
	}
}

func (l *Logger) Info(ctx context.Context, name string, attrs map[string]any) {
	l.Emit(ctx, slog.LevelInfo, name, attrs)
}

func (l *Logger) Error(ctx context.Context, name string, attrs map[string]any) {
	l.Emit(ctx, slog.LevelError, name, attrs)
}

func (l *Logger) Warn(ctx context.Context, name string, attrs map[string]any) {
	l.Emit(ctx, slog.LevelWarn, name, attrs)
}

func (l *Logger) Debug(ctx context.Context, name string, attrs map[string]any) {
	l.Emit(ctx, slog.LevelDebug, name, attrs)
}

// NewTracerProvider builds a minimal sdktrace.TracerProvider batching
// to the caller-supplied exporter, exactly the shape of
// tombee-conductor's OTelProvider simplified to a single exporter, and
// installs it as the global provider so every Logger.Span call above
// emits real OpenTelemetry spans.
func NewTracerProvider(exporter sdktrace.SpanExporter, serviceName string) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp
}
