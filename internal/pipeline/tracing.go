package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used when no tracer is supplied.
const TracerName = "github.com/MrEthical07/hospitalauth"

// Tracing opens one span per call. Identifiers are not attached to spans.
// A nil tracer uses the global provider.
func Tracing(tracer trace.Tracer) Interceptor {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) error {
			ctx, span := tracer.Start(ctx, "auth."+call.Action,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("auth.action", call.Action),
					attribute.String("client.address", call.IP),
				),
			)
			defer span.End()

			err := next(ctx, call)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			span.SetStatus(codes.Ok, "")
			return nil
		}
	}
}
