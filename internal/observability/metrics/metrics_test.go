package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsUserLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("user_id", "123"),
		attribute.String("category", "FEEDING_CREATION"),
		attribute.String("outcome", "success"),
	)
	require.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("user_id"), attr.Key)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordMeteredWrite(ctx, "FEEDING_CREATION", "comfort", "success")
	m.RecordLedgerEntry(ctx, "FEEDING_CREATION")
	m.RecordTokensCharged(ctx, "FEEDING_CREATION", 85)
	m.RecordTokensGranted(ctx, "TOKEN_GRANT", 500)
	m.RecordTxDuration(ctx, "FEEDING_CREATION", time.Millisecond)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "pawtrack-test"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordMeteredWrite(context.Background(), "FEEDING_CREATION", "comfort", "success")
	m.RecordRateLimitDenied(context.Background(), "metered_write", "bucket_empty")
}

func TestTokensChargedSums(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := New(Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordTokensCharged(ctx, "FEEDING_CREATION", 85)
	m.RecordTokensCharged(ctx, "FEEDING_CREATION", 85)
	m.RecordTokensCharged(ctx, "FEEDING_CREATION", 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var found bool
	for _, md := range rm.ScopeMetrics[0].Metrics {
		if md.Name != "pawtrack_tokens_charged_total" {
			continue
		}
		sum, ok := md.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		assert.Equal(t, int64(170), sum.DataPoints[0].Value)
		found = true
	}
	assert.True(t, found)
}
