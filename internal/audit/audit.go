package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Outcome classifies how an operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
)

// Severity ranks an event for alerting.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event is the append-only audit record. Detail is a flat string map.
type Event struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Action     string            `json:"action"`
	Identifier string            `json:"identifier,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Country    string            `json:"country,omitempty"`
	City       string            `json:"city,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Severity   Severity          `json:"severity"`
	DurationMS int64             `json:"duration_ms"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink writes events to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// SlogSink writes events through a structured logger under the "audit" group.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink logs events through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.logger == nil {
		return
	}
	attrs := []any{
		slog.String("id", event.ID),
		slog.String("action", event.Action),
		slog.String("identifier", event.Identifier),
		slog.String("ip", event.IP),
		slog.String("outcome", string(event.Outcome)),
		slog.String("severity", string(event.Severity)),
		slog.Int64("duration_ms", event.DurationMS),
	}
	if event.Country != "" {
		attrs = append(attrs, slog.String("country", event.Country), slog.String("city", event.City))
	}
	for k, v := range event.Detail {
		attrs = append(attrs, slog.String("detail."+k, v))
	}
	s.logger.LogAttrs(ctx, levelFor(event.Severity), "audit", slog.Group("audit", attrs...))
}

func levelFor(sev Severity) slog.Level {
	switch sev {
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError, SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MemorySink keeps events in memory and answers simple queries.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a snapshot of every recorded event.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Find returns events matching action and, when non-empty, identifier.
func (s *MemorySink) Find(action, identifier string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Action != action {
			continue
		}
		if identifier != "" && e.Identifier != identifier {
			continue
		}
		out = append(out, e)
	}
	return out
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
