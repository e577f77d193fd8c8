package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type recordedSpan struct {
	trace.Span
	name   string
	status codes.Code
	ended  bool
}

func (s *recordedSpan) SetStatus(code codes.Code, _ string) { s.status = code }
func (s *recordedSpan) End(...trace.SpanEndOption)          { s.ended = true }

type recordingTracer struct {
	trace.Tracer
	spans []*recordedSpan
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	_, base := r.Tracer.Start(ctx, name, opts...)
	s := &recordedSpan{Span: base, name: name}
	r.spans = append(r.spans, s)
	return trace.ContextWithSpan(ctx, s), s
}

func TestTracingRecordsOutcome(t *testing.T) {
	tracer := &recordingTracer{Tracer: noop.NewTracerProvider().Tracer("test")}
	denied := errors.New("denied")

	var inner trace.Span
	h := Chain(func(ctx context.Context, call *Call) error {
		inner = trace.SpanFromContext(ctx)
		return denied
	}, Tracing(tracer))

	if err := h(context.Background(), NewCall("login", "alice", "10.0.0.1", "")); !errors.Is(err, denied) {
		t.Fatalf("err = %v, want passthrough", err)
	}
	if len(tracer.spans) != 1 {
		t.Fatalf("spans = %d", len(tracer.spans))
	}
	s := tracer.spans[0]
	if s.name != "auth.login" || s.status != codes.Error || !s.ended {
		t.Fatalf("span = %+v", s)
	}
	if inner != trace.Span(s) {
		t.Fatal("handler did not receive the span context")
	}

	ok := Chain(func(context.Context, *Call) error { return nil }, Tracing(tracer))
	if err := ok(context.Background(), NewCall("refresh", "", "", "")); err != nil {
		t.Fatalf("err = %v", err)
	}
	if tracer.spans[1].status != codes.Ok {
		t.Fatalf("status = %v, want Ok", tracer.spans[1].status)
	}
}

func TestTracingNilUsesGlobalProvider(t *testing.T) {
	h := Chain(func(context.Context, *Call) error { return nil }, Tracing(nil))
	if err := h(context.Background(), NewCall("login", "", "", "")); err != nil {
		t.Fatalf("err = %v", err)
	}
}
