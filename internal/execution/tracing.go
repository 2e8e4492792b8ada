package execution

import (
	"context"

	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("loyalty/execution")

// startJobSpan opens a consumer span for one attempt of row.
func startJobSpan(ctx context.Context, row *rivertype.JobRow) (context.Context, trace.Span) {
	return tracer.Start(ctx, "job."+row.Kind,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.Int64("job.id", row.ID),
			attribute.String("job.queue", row.Queue),
			attribute.Int("job.attempt", row.Attempt),
		),
	)
}

func endJobSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
