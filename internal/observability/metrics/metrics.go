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

const exportInterval = 10 * time.Second

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the engine's OTel counters. A nil *Metrics records nothing.
type Metrics struct {
	messagesCreated  metric.Int64Counter
	reactionsToggled metric.Int64Counter
	callsStarted     metric.Int64Counter
	postsLimited     metric.Int64Counter
}

// NewProvider installs the global meter provider. With export disabled it
// installs a noop provider.
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
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{OnStop: provider.Shutdown})
	}
	if log != nil {
		log.Info("otel metrics exporting",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	scope := strings.TrimSpace(cfg.ServiceName)
	if scope == "" {
		scope = "comms"
	}
	meter := provider.Meter(scope)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.messagesCreated, "comms_messages_created_total", "Messages and replies created."},
		{&m.reactionsToggled, "comms_reactions_toggled_total", "Reaction toggles by outcome."},
		{&m.callsStarted, "comms_calls_started_total", "Call sessions started."},
		{&m.postsLimited, "comms_rate_limit_decisions_total", "Message post rate limit decisions."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) RecordMessageCreated(ctx context.Context, channelType string, reply bool) {
	if m == nil {
		return
	}
	kind := "top_level"
	if reply {
		kind = "reply"
	}
	count(ctx, m.messagesCreated,
		attribute.String("channel_type", channelType),
		attribute.String("message_kind", kind),
	)
}

func (m *Metrics) RecordReactionToggled(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	count(ctx, m.reactionsToggled, attribute.String("outcome", outcome))
}

func (m *Metrics) RecordCallStarted(ctx context.Context, callType string) {
	if m == nil {
		return
	}
	count(ctx, m.callsStarted, attribute.String("call_type", callType))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	count(ctx, m.postsLimited,
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", "allowed"),
	)
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	count(ctx, m.postsLimited,
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", "denied"),
		attribute.String("reason", reason),
	)
}

func count(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Label keys allowed on counters. Ids of users, channels or messages never
// become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":     {},
	"channel_type": {},
	"message_kind": {},
	"call_type":    {},
	"outcome":      {},
	"reason":       {},
}

// FilterAttributes drops labels outside the allowlist and blank values.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.Type() == attribute.STRING && strings.TrimSpace(attr.Value.AsString()) == "" {
			continue
		}
		out = append(out, attr)
	}
	return out
}
