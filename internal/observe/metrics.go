// Package observe holds the observability plumbing shared by the commands:
// OpenTelemetry metrics and tracing, slog logger construction, and HTTP
// middleware that ties them together.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every instrument in the module.
const meterName = "github.com/Hyrsta/AiSpea"

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// DocumentLoadDuration tracks how long reading and parsing a dialogue
	// document took. Attribute: source ("file", "datalab").
	DocumentLoadDuration metric.Float64Histogram

	// Epochs counts loader passes started. Attribute: shuffle.
	Epochs metric.Int64Counter

	// Batches counts batches handed to consumers.
	Batches metric.Int64Counter

	// Samples counts samples handed to consumers inside batches.
	Samples metric.Int64Counter

	// ForwardDuration tracks multi-task forward passes over one batch.
	ForwardDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DocumentLoadDuration, err = m.Float64Histogram("aispea.document.load.duration",
		metric.WithDescription("Time spent reading and parsing a dialogue document."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ForwardDuration, err = m.Float64Histogram("aispea.model.forward.duration",
		metric.WithDescription("Latency of a multi-task forward pass over one batch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("aispea.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Epochs, err = m.Int64Counter("aispea.loader.epochs",
		metric.WithDescription("Loader passes started."),
	); err != nil {
		return nil, err
	}
	if met.Batches, err = m.Int64Counter("aispea.loader.batches",
		metric.WithDescription("Batches emitted by loaders."),
	); err != nil {
		return nil, err
	}
	if met.Samples, err = m.Int64Counter("aispea.loader.samples",
		metric.WithDescription("Samples emitted inside batches."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built from the global
// meter provider on first use. Call [InitProvider] before the first call if
// the metrics should be exported.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordEpoch counts one loader pass.
func (m *Metrics) RecordEpoch(ctx context.Context, shuffle bool) {
	m.Epochs.Add(ctx, 1, metric.WithAttributes(attribute.Bool("shuffle", shuffle)))
}

// RecordBatch counts one emitted batch of size n.
func (m *Metrics) RecordBatch(ctx context.Context, n int) {
	m.Batches.Add(ctx, 1)
	m.Samples.Add(ctx, int64(n))
}

// RecordDocumentLoad records a load latency in seconds for source.
func (m *Metrics) RecordDocumentLoad(ctx context.Context, source string, seconds float64) {
	m.DocumentLoadDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("source", source)))
}
