package audit

import (
	"context"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/geo"
	"github.com/MrEthical07/hospitalauth/internal/pipeline"
	"github.com/google/uuid"
)

// Recorder stamps and forwards events, and provides the tracking interceptor.
type Recorder struct {
	sink    Sink
	locator geo.Locator
	now     func() time.Time
}

// NewRecorder creates a [Recorder]. A nil locator reports Unknown locations.
func NewRecorder(sink Sink, locator geo.Locator) *Recorder {
	if sink == nil {
		sink = NoOpSink{}
	}
	if locator == nil {
		locator = geo.NopLocator{}
	}
	return &Recorder{sink: sink, locator: locator, now: time.Now}
}

// WithClock overrides the time source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if now != nil {
		r.now = now
	}
	return r
}

// Locate resolves ip through the recorder's locator.
func (r *Recorder) Locate(ctx context.Context, ip string) geo.Location {
	return r.locator.Locate(ctx, ip)
}

// Emit fills ID and Timestamp when missing and forwards the event.
func (r *Recorder) Emit(ctx context.Context, event Event) {
	if r == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	r.sink.Emit(ctx, event)
}

// Interceptor records one event per call with its duration, location and
// outcome, then returns the wrapped operation's error unchanged.
func (r *Recorder) Interceptor() pipeline.Interceptor {
	return func(next pipeline.Handler) pipeline.Handler {
		return func(ctx context.Context, call *pipeline.Call) error {
			start := r.now()
			err := next(ctx, call)
			elapsed := r.now().Sub(start)

			outcome, severity := Classify(err)
			loc := r.locator.Locate(ctx, call.IP)

			detail := call.Detail()
			if err != nil {
				if detail == nil {
					detail = make(map[string]string, 1)
				}
				if _, ok := detail["error"]; !ok {
					detail["error"] = err.Error()
				}
			}

			r.Emit(ctx, Event{
				Action:     call.Action,
				Identifier: call.Identifier,
				IP:         call.IP,
				UserAgent:  call.UserAgent,
				Country:    loc.Country,
				City:       loc.City,
				Outcome:    outcome,
				Severity:   severity,
				DurationMS: elapsed.Milliseconds(),
				Detail:     detail,
			})
			return err
		}
	}
}

// Classify maps an operation error to an outcome and severity.
func Classify(err error) (Outcome, Severity) {
	switch {
	case err == nil:
		return OutcomeSuccess, SeverityInfo
	case failure.IsExpected(err):
		return OutcomeFailed, SeverityWarning
	default:
		return OutcomeError, SeverityError
	}
}
