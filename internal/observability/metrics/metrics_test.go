package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("channel_type", "group"),
		attribute.String("user_id", "456"),
		attribute.String("outcome", "added"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "channel_type" && attrs[1].Key != "channel_type" {
		t.Fatalf("expected channel_type to be retained")
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
}

func TestFilterAttributesDropsBlankValues(t *testing.T) {
	attrs := FilterAttributes(attribute.String("channel_type", " "), attribute.String("outcome", "removed"))
	require.Len(t, attrs, 1)
	require.Equal(t, attribute.Key("outcome"), attrs[0].Key)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordMessageCreated(context.Background(), "group", false)
	m.RecordReactionToggled(context.Background(), "added")
	m.RecordCallStarted(context.Background(), "voice")
	m.RecordRateLimitAllowed(context.Background(), "messages.create")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "comms"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordMessageCreated(context.Background(), "dm", true)
	m.RecordRateLimitDenied(context.Background(), "messages.create", "limit")
}
