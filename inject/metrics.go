package inject

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("tracepoint-inject")
	meter  = otel.Meter("tracepoint-inject")
)

var (
	injectLatency    metric.Float64Histogram
	injectionsTotal  metric.Int64Counter
	failuresTotal    metric.Int64Counter
	parseErrorsTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments on first use, it is a no-op unless the host installed a meter provider.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		injectLatency, err = meter.Float64Histogram(
			"tracepoint_inject_duration_seconds",
			metric.WithDescription("Duration of a single Inject call"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		injectionsTotal, err = meter.Int64Counter(
			"tracepoint_injections_total",
			metric.WithDescription("Injected trace calls by tracepoint type"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		failuresTotal, err = meter.Int64Counter(
			"tracepoint_failures_total",
			metric.WithDescription("Tracepoint declarations which could not be applied"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		parseErrorsTotal, err = meter.Int64Counter(
			"tracepoint_parse_failures_total",
			metric.WithDescription("Sources rejected because of syntax errors"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordInjectMetrics(ctx context.Context, dialect Dialect, duration time.Duration, r *Result) {
	if err := initMetrics(); err != nil {
		return
	}
	lang := attribute.String("dialect", string(dialect))
	injectLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(lang))
	for _, rec := range r.Injections {
		injectionsTotal.Add(ctx, 1, metric.WithAttributes(lang, attribute.String("type", string(rec.Declaration.Kind))))
	}
	for _, f := range r.Errors {
		failuresTotal.Add(ctx, 1, metric.WithAttributes(lang, attribute.String("error_type", string(f.Kind))))
	}
}

func recordParseFailure(ctx context.Context, dialect Dialect, diagnostics int) {
	if err := initMetrics(); err != nil {
		return
	}
	parseErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dialect", string(dialect)),
		attribute.Int("diagnostics", diagnostics),
	))
}

// startInjectSpan creates a span for an Inject call, the caller must end it.
func startInjectSpan(ctx context.Context, filename string, sourceSize, declarations int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Injector.Inject",
		trace.WithAttributes(
			attribute.String("inject.file", filename),
			attribute.Int("inject.source_size", sourceSize),
			attribute.Int("inject.declarations", declarations),
		),
	)
}

func setInjectSpanResult(span trace.Span, r *Result) {
	span.SetAttributes(
		attribute.String("inject.dialect", string(r.Dialect)),
		attribute.Int("inject.injections", len(r.Injections)),
		attribute.Int("inject.failures", len(r.Errors)),
	)
}
