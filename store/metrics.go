package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/jacentio/arbor/store")

// Metrics for repository operations.
var (
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_store_operations_total",
		Help: "Total number of repository operations by result code",
	}, []string{"operation", "result"})

	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbor_store_operation_duration_seconds",
		Help:    "Histogram of repository operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_store_retries_total",
		Help: "Total number of retried transient store failures",
	}, []string{"operation"})

	// cascadeNodesTotal counts per-node outcomes of cascades and descendant rewrites.
	cascadeNodesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_cascade_nodes_total",
		Help: "Total number of entities visited by cascades by action and result",
	}, []string{"action", "result"})
)

// RegisterMetrics registers the store collectors with reg.
// Collectors that are already registered are skipped.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{operationsTotal, operationDuration, retriesTotal, cascadeNodesTotal} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(Code(err))
}

// begin opens a span for op and returns a func that records its outcome.
// Call it as: ctx, end := s.begin(ctx, op); defer func() { end(err) }().
func (s *Store) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "arbor.store."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, Code(err))
		}
		span.End()
		operationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
		operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
