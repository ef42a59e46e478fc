package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Publish pipeline outcome labels.
const (
	PublishResultDispatched = "dispatched"
	PublishResultReplayed   = "replayed"
	PublishResultConflict   = "conflict"
	PublishResultError      = "error"

	DeliveryResultSent    = "sent"
	DeliveryResultFailed  = "failed"
	DeliveryResultSkipped = "skipped"
)

var (
	publishCounter  metric.Int64Counter
	deliveryCounter metric.Int64Counter
	metricsOnce     sync.Once
)

func initCounters() {
	meter := otel.Meter("inkwire.publish")
	if counter, err := meter.Int64Counter("inkwire_publish_requests_total",
		metric.WithDescription("Publish requests by outcome"),
		metric.WithUnit("{request}")); err == nil {
		publishCounter = counter
	}
	if counter, err := meter.Int64Counter("inkwire_deliveries_total",
		metric.WithDescription("Per-recipient delivery attempts by outcome"),
		metric.WithUnit("{delivery}")); err == nil {
		deliveryCounter = counter
	}
}

// RecordPublish counts one publish request with its terminal outcome.
func RecordPublish(ctx context.Context, result string) {
	metricsOnce.Do(initCounters)
	if publishCounter == nil {
		return
	}
	publishCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordDelivery counts one per-recipient delivery outcome.
func RecordDelivery(ctx context.Context, result string) {
	metricsOnce.Do(initCounters)
	if deliveryCounter == nil {
		return
	}
	deliveryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
