package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("vendor_id", "123"),
		attribute.String("type", "auto"),
		attribute.String("cabin_id", "456"),
		attribute.String("outcome", "created"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "vendor_id" || attr.Key == "cabin_id" {
			t.Fatalf("unexpected high-cardinality label %q", attr.Key)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordRevenueIngest(ctx, "created")
	m.RecordPayoutBatch(ctx, "auto", "created", 100)
	m.RecordPayoutTransition(ctx, "manual", "completed")
	m.RecordBalanceAnomaly(ctx, "underflow")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordPayoutBatch(context.Background(), "auto", "created", 2800)
}
