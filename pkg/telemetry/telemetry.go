// Package telemetry wires OpenTelemetry tracing and a Prometheus metrics
// exporter around the ASR token fetch, ASR turn decode, and translator
// completion-call spans.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the module-wide tracer name components should request spans
// from via otel.Tracer(Tracer).
const Tracer = "github.com/lokutor-ai/turnscribe"

// Metrics holds the instruments the pipeline publishes through the
// Prometheus exporter.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	QueueDepth       metric.Int64UpDownCounter
	TranslatedTurns  metric.Int64Counter
	CompletionCalls  metric.Int64Counter
}

// NewMetrics builds a MeterProvider backed by the Prometheus exporter and
// registers it as the global provider. Scrape the process's default
// Prometheus HTTP handler to collect it.
func NewMetrics() (*Metrics, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(Tracer)

	queueDepth, err := meter.Int64UpDownCounter("turnscribe_audio_queue_depth",
		metric.WithDescription("current depth of the audio source's bounded chunk queue"))
	if err != nil {
		return nil, err
	}
	translatedTurns, err := meter.Int64Counter("turnscribe_translated_turns_total",
		metric.WithDescription("TranslatedTurns emitted to the sink"))
	if err != nil {
		return nil, err
	}
	completionCalls, err := meter.Int64Counter("turnscribe_completion_calls_total",
		metric.WithDescription("completion() calls issued by the translator"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		provider:        provider,
		QueueDepth:      queueDepth,
		TranslatedTurns: translatedTurns,
		CompletionCalls: completionCalls,
	}, nil
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// StartSpan is a thin convenience wrapper so components don't each import
// otel/trace directly.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(Tracer).Start(ctx, name)
}
