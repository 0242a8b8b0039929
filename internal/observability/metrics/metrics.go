package metrics

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the token metering instruments. A nil *Metrics records nothing.
type Metrics struct {
	meteredWrites    metric.Int64Counter
	tokensCharged    metric.Int64Counter
	tokensGranted    metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	txDuration       metric.Float64Histogram
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "pawtrack"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.meteredWrites, "pawtrack_metered_writes_total", "Metered write attempts by outcome.", "{write}"},
		{&m.tokensCharged, "pawtrack_tokens_charged_total", "Tokens debited by metered writes, legacy included.", "{token}"},
		{&m.tokensGranted, "pawtrack_tokens_granted_total", "Tokens credited to accounts.", "{token}"},
		{&m.ledgerEntries, "pawtrack_ledger_entries_total", "Ledger entries appended.", "{entry}"},
		{&m.rateLimitAllowed, "pawtrack_rate_limit_allowed_total", "Requests admitted by the rate limiter.", "{request}"},
		{&m.rateLimitDenied, "pawtrack_rate_limit_denied_total", "Requests rejected by the rate limiter.", "{request}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
	}

	m.txDuration, err = meter.Float64Histogram("pawtrack_metered_write_tx_seconds",
		metric.WithDescription("Time the atomic write block held its transaction."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordMeteredWrite counts one engine invocation by category, tier and outcome.
func (m *Metrics) RecordMeteredWrite(ctx context.Context, category, tier, outcome string) {
	if m == nil {
		return
	}
	m.meteredWrites.Add(ctx, 1, withLabels(
		attribute.String("category", strings.TrimSpace(category)),
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

func (m *Metrics) RecordTokensCharged(ctx context.Context, category string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.tokensCharged.Add(ctx, amount, withLabels(attribute.String("category", category)))
}

func (m *Metrics) RecordTokensGranted(ctx context.Context, category string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.tokensGranted.Add(ctx, amount, withLabels(attribute.String("category", category)))
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.ledgerEntries.Add(ctx, 1, withLabels(attribute.String("category", category)))
}

func (m *Metrics) RecordTxDuration(ctx context.Context, category string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.Record(ctx, elapsed.Seconds(), withLabels(attribute.String("category", category)))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, withLabels(attribute.String("endpoint", endpoint)))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, withLabels(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

// user ids never become labels
var allowedLabelKeys = map[attribute.Key]struct{}{
	"category":    {},
	"tier":        {},
	"outcome":     {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}

func withLabels(attrs ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}
