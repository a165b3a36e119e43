package sidecar

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-sidecar")
var meter = otel.Meter("github.com/go-digitaltwin/go-sidecar")

const (
	// portAttributeKey associates each record with the port it measures, so
	// ingestion can be analysed across all ports of a data product as well as per
	// port.
	portAttributeKey = "sidecar.port"
)

var (
	// tickDuration measures the duration of a single successful ingestion tick,
	// including appending its records to the sink.
	tickDuration metric.Float64Histogram
	// tickFailures counts ingestion ticks that failed. A failed tick terminates the
	// scheduler of its port, so any increment deserves attention.
	tickFailures metric.Int64Counter
	// recordsAppended counts the distribution records appended to sinks.
	recordsAppended metric.Int64Counter
)

func init() {
	var err error
	tickDuration, err = meter.Float64Histogram(
		"ingestion.tick.duration",
		metric.WithDescription("The duration of a single successful ingestion tick, including appending its distribution records."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("sidecar: failed to init 'ingestion.tick.duration' instrument")
	}

	tickFailures, err = meter.Int64Counter(
		"ingestion.tick.failures",
		metric.WithDescription("The number of ingestion ticks that have failed."),
	)
	if err != nil {
		panic("sidecar: failed to init 'ingestion.tick.failures' instrument")
	}

	recordsAppended, err = meter.Int64Counter(
		"ingestion.records",
		metric.WithDescription("The number of distribution records appended to sinks."),
	)
	if err != nil {
		panic("sidecar: failed to init 'ingestion.records' instrument")
	}
}

func portAttribute(port string) metric.MeasurementOption {
	return metric.WithAttributeSet(attribute.NewSet(attribute.String(portAttributeKey, port)))
}

// measureTick records the duration of a successful tick, or counts a failed
// one. Each record is labelled with the port.
func measureTick(ctx context.Context, port string, succeeded bool, d time.Duration) {
	if succeeded {
		// Floating-point division keeps sub-millisecond precision.
		duration := float64(d) / float64(time.Millisecond)
		tickDuration.Record(ctx, duration, portAttribute(port))
	} else {
		tickFailures.Add(ctx, 1, portAttribute(port))
	}
}
