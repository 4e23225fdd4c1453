package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ReconcileMetrics records reconciliation engine activity.
type ReconcileMetrics struct {
	cycles         *Counter
	coalesced      *Counter
	sourceFailures *Counter
	cycleDuration  *Histogram
	lowStock       *Gauge
	unseen         *Gauge
	degraded       *Gauge
}

// NewReconcileMetrics creates the reconciliation instruments on meter.
func NewReconcileMetrics(meter metric.Meter) (*ReconcileMetrics, error) {
	var (
		m   ReconcileMetrics
		err error
	)
	if m.cycles, err = NewCounter(meter, "reconcile_cycles_total",
		"Reconciliation cycles by trigger and outcome", "{cycle}"); err != nil {
		return nil, err
	}
	if m.coalesced, err = NewCounter(meter, "reconcile_triggers_coalesced_total",
		"Triggers absorbed by an in-flight cycle", "{trigger}"); err != nil {
		return nil, err
	}
	if m.sourceFailures, err = NewCounter(meter, "reconcile_source_failures_total",
		"Per-source fetch failures", "{failure}"); err != nil {
		return nil, err
	}
	if m.cycleDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "reconcile_cycle_duration_seconds",
		Description: "Wall time of a reconciliation cycle",
		Unit:        "s",
		Boundaries:  CycleDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.lowStock, err = NewGauge(meter, "reconcile_low_stock_products",
		"Products at or below their minimum stock", "{product}"); err != nil {
		return nil, err
	}
	if m.unseen, err = NewGauge(meter, "reconcile_unseen_submissions",
		"Submissions created since the last acknowledgment", "{submission}"); err != nil {
		return nil, err
	}
	if m.degraded, err = NewGauge(meter, "reconcile_degraded",
		"1 while the engine is serving data that may be stale", "1"); err != nil {
		return nil, err
	}
	return &m, nil
}

// CycleCompleted records one finished cycle.
func (m *ReconcileMetrics) CycleCompleted(ctx context.Context, trigger, outcome string, d time.Duration) {
	m.cycles.Inc(ctx, AttrTrigger.String(trigger), AttrOutcome.String(outcome))
	m.cycleDuration.RecordDuration(ctx, d, AttrTrigger.String(trigger), AttrOutcome.String(outcome))
}

// TriggerCoalesced records a trigger that found a cycle already running.
func (m *ReconcileMetrics) TriggerCoalesced(ctx context.Context, trigger string) {
	m.coalesced.Inc(ctx, AttrTrigger.String(trigger))
}

// SourceFailed records a failed fetch of one source.
func (m *ReconcileMetrics) SourceFailed(ctx context.Context, source string) {
	m.sourceFailures.Inc(ctx, AttrSource.String(source))
}

// Published records gauges derived from a newly published read model.
func (m *ReconcileMetrics) Published(ctx context.Context, lowStock, unseen int, degraded bool) {
	m.lowStock.Record(ctx, int64(lowStock))
	m.unseen.Record(ctx, int64(unseen))
	var d int64
	if degraded {
		d = 1
	}
	m.degraded.Record(ctx, d)
}
