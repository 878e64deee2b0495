// Package metrics records studio activity as OpenTelemetry instruments.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("storefront-studio")

// Exchange outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Studio holds the instruments. A nil *Studio records nothing.
type Studio struct {
	exchanges        metric.Int64Counter
	exchangeDuration metric.Float64Histogram
	patchesStaged    metric.Int64Counter
	reconciliations  metric.Int64Counter
	shopCreations    metric.Int64Counter
	sessionsActive   metric.Int64UpDownCounter
}

// New creates the studio instruments on the global meter provider.
func New() (*Studio, error) {
	exchanges, err := meter.Int64Counter(
		"studio.exchanges",
		metric.WithDescription("Assistant exchanges by outcome"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, err
	}

	exchangeDuration, err := meter.Float64Histogram(
		"studio.exchange.duration",
		metric.WithDescription("Duration of assistant exchanges in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	patchesStaged, err := meter.Int64Counter(
		"studio.patches.staged",
		metric.WithDescription("Template patches staged for confirmation"),
		metric.WithUnit("{patch}"),
	)
	if err != nil {
		return nil, err
	}

	reconciliations, err := meter.Int64Counter(
		"studio.patches.reconciled",
		metric.WithDescription("Pending patches confirmed, cancelled or trimmed"),
		metric.WithUnit("{patch}"),
	)
	if err != nil {
		return nil, err
	}

	shopCreations, err := meter.Int64Counter(
		"studio.shops.created",
		metric.WithDescription("Shop creation attempts by outcome"),
		metric.WithUnit("{shop}"),
	)
	if err != nil {
		return nil, err
	}

	sessionsActive, err := meter.Int64UpDownCounter(
		"studio.sessions.active",
		metric.WithDescription("Number of open studio sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	return &Studio{
		exchanges:        exchanges,
		exchangeDuration: exchangeDuration,
		patchesStaged:    patchesStaged,
		reconciliations:  reconciliations,
		shopCreations:    shopCreations,
		sessionsActive:   sessionsActive,
	}, nil
}

// RecordExchange records one assistant exchange.
func (m *Studio) RecordExchange(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.exchanges.Add(ctx, 1, attrs)
	m.exchangeDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStaged records a staged patch with its field count.
func (m *Studio) RecordStaged(ctx context.Context, fields int) {
	if m == nil {
		return
	}
	m.patchesStaged.Add(ctx, 1, metric.WithAttributes(attribute.Int("fields", fields)))
}

// RecordReconciled records a confirm, cancel or remove-field action.
// result is "ok" or the error type.
func (m *Studio) RecordReconciled(ctx context.Context, action, result string) {
	if m == nil {
		return
	}
	m.reconciliations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("result", result),
		),
	)
}

// RecordShopCreation records a shop creation attempt.
func (m *Studio) RecordShopCreation(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !success {
		outcome = OutcomeFailed
	}
	m.shopCreations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SessionOpened increments the active session gauge.
func (m *Studio) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

// SessionClosed decrements the active session gauge.
func (m *Studio) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
}
