package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/geo"
	"github.com/MrEthical07/hospitalauth/internal/pipeline"
)

type fixedLocator struct{ loc geo.Location }

func (f fixedLocator) Locate(context.Context, string) geo.Location { return f.loc }

func TestInterceptorRecordsOutcomeAndReturnsError(t *testing.T) {
	outage := fmt.Errorf("%w: connection refused", failure.ErrStoreUnavailable)

	tests := []struct {
		name     string
		err      error
		outcome  Outcome
		severity Severity
	}{
		{"success", nil, OutcomeSuccess, SeverityInfo},
		{"rejected", failure.NewAuthFailure(failure.ErrUnknownAccount), OutcomeFailed, SeverityWarning},
		{"fault", outage, OutcomeError, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := NewMemorySink()
			clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			rec := NewRecorder(sink, fixedLocator{geo.Location{Country: "Ghana", City: "Accra"}}).
				WithClock(func() time.Time {
					clock = clock.Add(5 * time.Millisecond)
					return clock
				})

			h := pipeline.Chain(func(ctx context.Context, call *pipeline.Call) error {
				call.Annotate("reason", "probe")
				return tt.err
			}, rec.Interceptor())

			err := h(context.Background(), pipeline.NewCall("hospital_admin_login", "alice@st-mary.org", "203.0.113.1", "curl"))
			if err != tt.err {
				t.Fatalf("interceptor must return the original error, got %v", err)
			}

			events := sink.Find("hospital_admin_login", "alice@st-mary.org")
			if len(events) != 1 {
				t.Fatalf("expected one event, got %d", len(events))
			}
			e := events[0]
			if e.Outcome != tt.outcome || e.Severity != tt.severity {
				t.Fatalf("got %s/%s, want %s/%s", e.Outcome, e.Severity, tt.outcome, tt.severity)
			}
			if e.ID == "" || e.Timestamp.IsZero() {
				t.Fatal("event must be stamped")
			}
			if e.Country != "Ghana" || e.City != "Accra" || e.IP != "203.0.113.1" || e.UserAgent != "curl" {
				t.Fatalf("unexpected caller metadata %+v", e)
			}
			if e.DurationMS != 5 {
				t.Fatalf("expected 5ms duration, got %d", e.DurationMS)
			}
			if e.Detail["reason"] != "probe" {
				t.Fatalf("annotation lost: %v", e.Detail)
			}
			if tt.err != nil && e.Detail["error"] == "" {
				t.Fatal("failing calls must record the error")
			}
		})
	}
}

func TestAuthFailureMessageStaysGenericInAudit(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, nil)
	h := pipeline.Chain(func(ctx context.Context, call *pipeline.Call) error {
		return failure.NewAuthFailure(failure.ErrNotAuthorizedForFacility)
	}, rec.Interceptor())

	_ = h(context.Background(), pipeline.NewCall("login", "bob", "", ""))
	e := sink.Events()[0]
	if e.Detail["error"] != "invalid credentials" {
		t.Fatalf("unexpected error detail %q", e.Detail["error"])
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := NewMemorySink()
	d := NewDispatcher(DispatcherConfig{BufferSize: 8}, sink)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Action: "a"})
	}
	d.Close()
	d.Emit(context.Background(), Event{Action: "after-close"})

	if got := len(sink.Events()); got != 5 {
		t.Fatalf("expected 5 drained events, got %d", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", d.Dropped())
	}
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Emit(context.Context, Event) { <-b.release }

func TestDispatcherDropIfFull(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, blockingSink{release: release})

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Action: "flood"})
	}
	close(release)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatal("expected drops with a full buffer")
	}
}

type panickySink struct{ inner *MemorySink }

func (p panickySink) Emit(ctx context.Context, e Event) {
	if e.Action == "boom" {
		panic("sink failure")
	}
	p.inner.Emit(ctx, e)
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	mem := NewMemorySink()
	d := NewDispatcher(DispatcherConfig{BufferSize: 4}, panickySink{inner: mem})
	d.Emit(context.Background(), Event{Action: "boom"})
	d.Emit(context.Background(), Event{Action: "after"})
	d.Close()

	if got := mem.Find("after", ""); len(got) != 1 {
		t.Fatalf("expected the event after the panic to be written, got %d", len(got))
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{Action: "one", Outcome: OutcomeSuccess})
	s.Emit(context.Background(), Event{Action: "two", Outcome: OutcomeFailed})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var e Event
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if e.Action != "two" || e.Outcome != OutcomeFailed {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestClassifyUnknownError(t *testing.T) {
	if o, _ := Classify(errors.New("boom")); o != OutcomeError {
		t.Fatalf("expected error outcome, got %s", o)
	}
}
