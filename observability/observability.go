// Package observability exposes the scheduling core's metric counters on
// the OpenTelemetry metric API. A nil *Metrics discards all recordings, so
// instrumented code never needs a nil check per call site.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/SunnyX6/Datapillar-sub003/job"
)

const meterName = "github.com/SunnyX6/Datapillar-sub003"

// Metrics holds the core's counters.
type Metrics struct {
	dispatched  metric.Int64Counter
	completed   metric.Int64Counter
	claimsWon   metric.Int64Counter
	claimsLost  metric.Int64Counter
	flushes     metric.Int64Counter
	dropped     metric.Int64Counter
	loadDropped metric.Int64Counter
}

// New creates Metrics against the globally registered meter provider.
func New() (*Metrics, error) {
	meter := otel.Meter(meterName)

	var m Metrics
	var err error
	if m.dispatched, err = meter.Int64Counter("datapillar.dispatched",
		metric.WithDescription("Job instances dispatched to execution")); err != nil {
		return nil, err
	}
	if m.completed, err = meter.Int64Counter("datapillar.completed",
		metric.WithDescription("Terminal completion reports handled")); err != nil {
		return nil, err
	}
	if m.claimsWon, err = meter.Int64Counter("datapillar.shard_claims_won",
		metric.WithDescription("Shard range claims won")); err != nil {
		return nil, err
	}
	if m.claimsLost, err = meter.Int64Counter("datapillar.shard_claims_lost",
		metric.WithDescription("Shard range claims lost to another worker")); err != nil {
		return nil, err
	}
	if m.flushes, err = meter.Int64Counter("datapillar.status_flushes",
		metric.WithDescription("Status batch writer flushes")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("datapillar.statuses_dropped",
		metric.WithDescription("Status changes dropped after retry exhaustion")); err != nil {
		return nil, err
	}
	if m.loadDropped, err = meter.Int64Counter("datapillar.loads_dropped",
		metric.WithDescription("Loaded instances dropped by the in-memory cap")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Dispatched records one dispatch.
func (m *Metrics) Dispatched(ctx context.Context) {
	if m == nil {
		return
	}
	m.dispatched.Add(ctx, 1)
}

// Completed records one terminal completion, tagged by status.
func (m *Metrics) Completed(ctx context.Context, status job.Status) {
	if m == nil {
		return
	}
	m.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// ClaimWon records one won shard-range claim.
func (m *Metrics) ClaimWon(ctx context.Context) {
	if m == nil {
		return
	}
	m.claimsWon.Add(ctx, 1)
}

// ClaimLost records one lost shard-range claim.
func (m *Metrics) ClaimLost(ctx context.Context) {
	if m == nil {
		return
	}
	m.claimsLost.Add(ctx, 1)
}

// BatchFlushed records one batch writer flush of n changes.
func (m *Metrics) BatchFlushed(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.flushes.Add(ctx, 1, metric.WithAttributes(attribute.Int("size", n)))
}

// StatusesDropped records status changes dropped after retry exhaustion.
func (m *Metrics) StatusesDropped(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, int64(n))
}

// LoadsDropped records loaded instances rejected by the in-memory cap.
func (m *Metrics) LoadsDropped(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.loadDropped.Add(ctx, int64(n))
}
