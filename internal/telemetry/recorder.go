// Package telemetry records conversion metrics and per-item spans through
// OpenTelemetry. The server runs it on the SDK providers of NewProviders;
// Default falls back to the global providers.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/MimeLyc/tune-ripper"

// Recorder instruments:
//   - ripper.jobs.submitted (Int64Counter): accepted batches, by source
//   - ripper.jobs.finished (Int64Counter): jobs reaching a terminal status
//   - ripper.items.processed (Int64Counter): items by source and outcome
//   - ripper.item.duration (Float64Histogram): seconds spent per item
//   - ripper.submissions.rejected (Int64Counter): rejected submissions, by reason
type Recorder struct {
	tracer trace.Tracer

	submitted    metric.Int64Counter
	finished     metric.Int64Counter
	processed    metric.Int64Counter
	itemDuration metric.Float64Histogram
	rejected     metric.Int64Counter
}

// Default builds a Recorder on the global providers.
func Default() *Recorder {
	return New(otel.GetMeterProvider(), otel.GetTracerProvider())
}

func New(mp metric.MeterProvider, tp trace.TracerProvider) *Recorder {
	meter := mp.Meter(instrumentationName)

	// The API hands back noop instruments on error.
	submitted, _ := meter.Int64Counter("ripper.jobs.submitted",
		metric.WithDescription("Accepted conversion batches"),
		metric.WithUnit("{job}"))
	finished, _ := meter.Int64Counter("ripper.jobs.finished",
		metric.WithDescription("Jobs that reached a terminal status"),
		metric.WithUnit("{job}"))
	processed, _ := meter.Int64Counter("ripper.items.processed",
		metric.WithDescription("Processed conversion items"),
		metric.WithUnit("{item}"))
	itemDuration, _ := meter.Float64Histogram("ripper.item.duration",
		metric.WithDescription("Duration of one download and conversion in seconds"),
		metric.WithUnit("s"))
	rejected, _ := meter.Int64Counter("ripper.submissions.rejected",
		metric.WithDescription("Rejected conversion submissions"),
		metric.WithUnit("{request}"))

	return &Recorder{
		tracer:       tp.Tracer(instrumentationName),
		submitted:    submitted,
		finished:     finished,
		processed:    processed,
		itemDuration: itemDuration,
		rejected:     rejected,
	}
}

func (r *Recorder) JobSubmitted(ctx context.Context, source string) {
	r.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (r *Recorder) JobFinished(ctx context.Context, source, status string) {
	r.finished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	))
}

func (r *Recorder) SubmissionRejected(ctx context.Context, reason string) {
	r.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// StartItem opens a span for one item. The returned func ends it and records
// the outcome metrics.
func (r *Recorder) StartItem(ctx context.Context, jobID string, index int, source string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "ripper.item.process",
		trace.WithAttributes(
			attribute.String("ripper.job.id", jobID),
			attribute.Int("ripper.item.index", index),
			attribute.String("ripper.source", source),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, func(err error) {
		outcome := "done"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		attrs := metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("outcome", outcome),
		)
		r.itemDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		r.processed.Add(ctx, 1, attrs)
	}
}
