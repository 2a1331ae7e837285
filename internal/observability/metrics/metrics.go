package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes settlement domain instruments exported over OTLP.
type Metrics struct {
	revenueIngest     metric.Int64Counter
	payoutBatches     metric.Int64Counter
	payoutTransitions metric.Int64Counter
	settledAmount     metric.Int64Counter
	balanceAnomalies  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "settlement"
	}
	meter := provider.Meter(name)

	revenueIngest, err := meter.Int64Counter("settlement_revenue_ingest_total")
	if err != nil {
		return nil, err
	}
	payoutBatches, err := meter.Int64Counter("settlement_payout_batches_total")
	if err != nil {
		return nil, err
	}
	payoutTransitions, err := meter.Int64Counter("settlement_payout_transitions_total")
	if err != nil {
		return nil, err
	}
	settledAmount, err := meter.Int64Counter("settlement_net_amount_total")
	if err != nil {
		return nil, err
	}
	balanceAnomalies, err := meter.Int64Counter("settlement_balance_anomalies_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		revenueIngest:     revenueIngest,
		payoutBatches:     payoutBatches,
		payoutTransitions: payoutTransitions,
		settledAmount:     settledAmount,
		balanceAnomalies:  balanceAnomalies,
	}, nil
}

// RecordRevenueIngest counts revenue events by ingest outcome (created, duplicate, refunded).
func (m *Metrics) RecordRevenueIngest(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.revenueIngest.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayoutBatch counts batcher outcomes per batch type.
func (m *Metrics) RecordPayoutBatch(ctx context.Context, batchType, outcome string, netAmount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("type", strings.TrimSpace(batchType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.payoutBatches.Add(ctx, 1, metric.WithAttributes(attrs...))
	if netAmount > 0 {
		m.settledAmount.Add(ctx, netAmount, metric.WithAttributes(attrs...))
	}
}

func (m *Metrics) RecordPayoutTransition(ctx context.Context, batchType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("type", strings.TrimSpace(batchType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.payoutTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordBalanceAnomaly(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.balanceAnomalies.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// vendor_id and cabin_id are unbounded and must never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"type":    {},
	"status":  {},
	"outcome": {},
	"reason":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
