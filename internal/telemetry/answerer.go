package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Answerer is the question answering contract being instrumented.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// InstrumentedAnswerer records a span, a request count and a duration for every call of the
// wrapped Answerer. Results pass through untouched.
type InstrumentedAnswerer struct {
	next     Answerer
	provider string

	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// InstrumentAnswerer wraps next. provider names the answering service in span and metric attributes.
func InstrumentAnswerer(next Answerer, provider string, tracer trace.Tracer, meter metric.Meter) (InstrumentedAnswerer, error) {
	requests, err := meter.Int64Counter(
		"answerer.requests",
		metric.WithDescription("Questions sent to the answering service"),
	)
	if err != nil {
		return InstrumentedAnswerer{}, fmt.Errorf("failed to create requests counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"answerer.duration",
		metric.WithDescription("Answering service call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return InstrumentedAnswerer{}, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return InstrumentedAnswerer{
		next:     next,
		provider: provider,
		tracer:   tracer,
		requests: requests,
		duration: duration,
	}, nil
}

// Answer calls the wrapped Answerer.
func (a InstrumentedAnswerer) Answer(ctx context.Context, question string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "answerer.answer", trace.WithAttributes(
		attribute.String("answerer.provider", a.provider),
		attribute.Int("question.length", len(question)),
	))
	defer span.End()

	start := time.Now()
	answer, err := a.next.Answer(ctx, question)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", a.provider),
		attribute.String("outcome", outcome),
	)
	a.requests.Add(ctx, 1, attrs)
	a.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	return answer, err
}
