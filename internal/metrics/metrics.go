// Package metrics holds the OpenTelemetry instruments of the ingestion
// pipeline. Instruments are created lazily from the global meter provider.
// Setup installs a provider that exports to Prometheus and can be read back
// in process.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/floringheorghiu/multilingual-rag"

// File outcomes
const (
	OutcomeIndexed = "indexed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	metricsOnce    sync.Once
	metricsMu      sync.Mutex
	metricsInitErr error

	filesCounter         metric.Int64Counter
	chunksIndexedCounter metric.Int64Counter
	chunksSkippedCounter metric.Int64Counter
	retryCounter         metric.Int64Counter
	stageDurationHist    metric.Float64Histogram
)

// RecordFile counts a file reaching a terminal state.
func RecordFile(ctx context.Context, outcome string) {
	if err := ensureMetrics(); err != nil || filesCounter == nil {
		return
	}
	filesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordChunksIndexed counts chunks accepted by the index.
func RecordChunksIndexed(ctx context.Context, index string, n int) {
	if n <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunksIndexedCounter == nil {
		return
	}
	chunksIndexedCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("index", index)))
}

// RecordChunksSkipped counts chunks dropped before indexing.
func RecordChunksSkipped(ctx context.Context, stage string, n int) {
	if n <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunksSkippedCounter == nil {
		return
	}
	chunksSkippedCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordRetry counts one retried provider call.
func RecordRetry(ctx context.Context, provider, code string) {
	if err := ensureMetrics(); err != nil || retryCounter == nil {
		return
	}
	retryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("code", code),
	))
}

// RecordStageDuration records how long a file spent in a stage.
func RecordStageDuration(ctx context.Context, stage string, d time.Duration) {
	if err := ensureMetrics(); err != nil || stageDurationHist == nil {
		return
	}
	stageDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// ResetForTesting drops the instruments so the next call rebuilds them from
// the current global meter provider.
func ResetForTesting() {
	reset()
}

func reset() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	filesCounter = nil
	chunksIndexedCounter = nil
	chunksSkippedCounter = nil
	retryCounter = nil
	stageDurationHist = nil
}

func ensureMetrics() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce.Do(func() {
		metricsInitErr = initMetrics(otel.GetMeterProvider().Meter(meterName))
	})
	return metricsInitErr
}

func initMetrics(meter metric.Meter) error {
	var err error
	filesCounter, err = meter.Int64Counter(
		"ragingest_files_total",
		metric.WithDescription("Files that reached a terminal state, by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	chunksIndexedCounter, err = meter.Int64Counter(
		"ragingest_chunks_indexed_total",
		metric.WithDescription("Chunks accepted by the search index"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	chunksSkippedCounter, err = meter.Int64Counter(
		"ragingest_chunks_skipped_total",
		metric.WithDescription("Chunks dropped before indexing, by stage"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	retryCounter, err = meter.Int64Counter(
		"ragingest_provider_retries_total",
		metric.WithDescription("Provider calls retried after a transient failure"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	stageDurationHist, err = meter.Float64Histogram(
		"ragingest_stage_duration_seconds",
		metric.WithDescription("Time a file spent in each pipeline stage"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60),
	)
	return err
}
