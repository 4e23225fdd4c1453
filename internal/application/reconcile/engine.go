package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storefront/backend/internal/domain/notification"
	"github.com/storefront/backend/internal/domain/order"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/stock"
	"github.com/storefront/backend/internal/domain/submission"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/storefront/backend/internal/application/reconcile"

// Trigger names what started a cycle
type Trigger string

const (
	TriggerInitial  Trigger = "initial"
	TriggerTimer    Trigger = "timer"
	TriggerManual   Trigger = "manual"
	TriggerMutation Trigger = "mutation"
	TriggerRerun    Trigger = "rerun"
)

// Gate states. Only the goroutine that moved the gate out of idle may run a cycle.
const (
	stateIdle int32 = iota
	stateFetching
	stateMerging
)

// Cycle outcomes reported to metrics
const (
	outcomeSuccess   = "success"
	outcomePartial   = "partial"
	outcomeFailed    = "failed"
	outcomeDiscarded = "discarded"
)

// ErrAlreadyRunning is returned by Start on a running engine
var ErrAlreadyRunning = errors.New("reconcile engine is already running")

// Config holds engine settings
type Config struct {
	// SourceTimeout bounds each source fetch
	SourceTimeout time.Duration
	// FailureThreshold is the number of consecutive failures before degraded mode
	FailureThreshold int
	// AckKey identifies the admin session whose acknowledgments are tracked
	AckKey string
}

// DefaultConfig returns default engine settings
func DefaultConfig() Config {
	return Config{
		SourceTimeout:    12 * time.Second,
		FailureThreshold: 3,
		AckKey:           "admin",
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = d.SourceTimeout
	}
	if c.FailureThreshold < 1 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.AckKey == "" {
		c.AckKey = d.AckKey
	}
}

// Engine is the reconciliation engine. It is safe for concurrent use.
type Engine struct {
	feed        OrderFeed
	submissions SubmissionStore
	stock       StockStore
	fallback    FallbackStore
	acks        notification.AckStore
	ticker      Ticker
	metrics     Metrics
	tracer      trace.Tracer
	logger      *zap.Logger
	now         func() time.Time
	cfg         Config

	state   atomic.Int32
	rerun   atomic.Bool
	epoch   atomic.Uint64
	cycles  atomic.Uint64
	current atomic.Pointer[Snapshot]

	// mu guards notification state and failure counters
	mu                  sync.Mutex
	notif               notification.State
	consecutiveFailures int
	sourceFailures      map[string]int

	runMu     sync.Mutex
	isRunning bool
}

// NewEngine creates an engine over the three primary sources
func NewEngine(feed OrderFeed, submissions SubmissionStore, stockStore StockStore, cfg Config, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		feed:           feed,
		submissions:    submissions,
		stock:          stockStore,
		acks:           notification.NewMemoryAckStore(),
		metrics:        nopMetrics{},
		tracer:         otel.Tracer(tracerName),
		logger:         logger.Named("reconcile"),
		now:            time.Now,
		cfg:            cfg,
		sourceFailures: make(map[string]int, 3),
	}
	e.current.Store(emptySnapshot())
	return e
}

// SetFallback sets the local fallback cache (optional)
func (e *Engine) SetFallback(f FallbackStore) { e.fallback = f }

// SetAckStore sets the acknowledgment store; defaults to process memory
func (e *Engine) SetAckStore(s notification.AckStore) {
	if s != nil {
		e.acks = s
	}
}

// SetTicker sets the timer that drives periodic cycles (optional)
func (e *Engine) SetTicker(t Ticker) { e.ticker = t }

// SetMetrics sets the metrics sink
func (e *Engine) SetMetrics(m Metrics) {
	if m != nil {
		e.metrics = m
	}
}

// SetTracer overrides the global tracer
func (e *Engine) SetTracer(t trace.Tracer) {
	if t != nil {
		e.tracer = t
	}
}

// SetClock overrides time.Now
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Start loads the acknowledgment, runs the initial cycle and starts the ticker.
// A failed initial cycle is recorded in the snapshot and does not fail Start.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.isRunning {
		return ErrAlreadyRunning
	}

	startedAt := e.now()
	ack, ok, err := e.acks.Load(ctx, e.cfg.AckKey)
	if err != nil {
		e.logger.Warn("Failed to load notification acknowledgment, using start time",
			zap.String("ack_key", e.cfg.AckKey),
			zap.Error(err),
		)
	}
	if !ok || err != nil {
		ack = startedAt
	}
	e.mu.Lock()
	e.notif = notification.State{LastAcknowledgedAt: ack}
	e.mu.Unlock()

	if _, err := e.run(ctx, TriggerInitial, false); err != nil {
		e.logger.Warn("Initial reconciliation failed", zap.Error(err))
	}

	if e.ticker != nil {
		if err := e.ticker.Start(ctx); err != nil {
			return fmt.Errorf("start refresh ticker: %w", err)
		}
	}
	e.isRunning = true
	e.logger.Info("Reconciliation engine started",
		zap.Time("last_acknowledged_at", ack),
		zap.Duration("source_timeout", e.cfg.SourceTimeout),
		zap.Int("failure_threshold", e.cfg.FailureThreshold),
	)
	return nil
}

// Stop stops the ticker. Cycles still in flight discard their results.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.isRunning {
		return
	}
	e.epoch.Add(1)
	if e.ticker != nil {
		e.ticker.Stop()
	}
	e.isRunning = false
	e.logger.Info("Reconciliation engine stopped")
}

// IsRunning reports whether Start has been called without a matching Stop
func (e *Engine) IsRunning() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.isRunning
}

// Snapshot returns the current read model
func (e *Engine) Snapshot() Snapshot {
	snap := *e.current.Load()
	snap.IsLoading = e.state.Load() != stateIdle
	return snap
}

// Grouped returns the grouped projection of the current read model
func (e *Engine) Grouped() GroupedView {
	return Group(e.current.Load())
}

// Refresh runs a manual cycle. If a cycle is already in flight the call
// coalesces into it and returns the current snapshot with a nil error.
// ErrReconciliationFailed is returned only when every source failed.
func (e *Engine) Refresh(ctx context.Context) (Snapshot, error) {
	_, err := e.run(ctx, TriggerManual, false)
	return e.Snapshot(), err
}

// RefreshOnTimer runs a timer cycle. Failures are reflected in the snapshot only.
func (e *Engine) RefreshOnTimer(ctx context.Context) {
	if _, err := e.run(ctx, TriggerTimer, false); err != nil {
		e.logger.Debug("Timer reconciliation failed", zap.Error(err))
	}
}

// forceReconcile runs a cycle after a mutation. When a cycle is in flight the
// rerun flag makes the holder run one more cycle that observes the mutation.
func (e *Engine) forceReconcile(ctx context.Context) {
	if _, err := e.run(ctx, TriggerMutation, true); err != nil {
		e.logger.Warn("Reconciliation after mutation failed", zap.Error(err))
	}
}

// run passes the single-flight gate and executes one or more cycles.
// ran is false when the trigger was coalesced.
func (e *Engine) run(ctx context.Context, trig Trigger, forced bool) (ran bool, err error) {
	for !e.state.CompareAndSwap(stateIdle, stateFetching) {
		if !forced {
			e.metrics.TriggerCoalesced(ctx, string(trig))
			return false, nil
		}
		e.rerun.Store(true)
		if e.state.Load() != stateIdle {
			e.metrics.TriggerCoalesced(ctx, string(trig))
			return false, nil
		}
	}

	for {
		e.rerun.Store(false)
		err = e.cycle(ctx, trig)
		e.state.Store(stateIdle)
		if !e.rerun.Swap(false) {
			return true, err
		}
		if !e.state.CompareAndSwap(stateIdle, stateFetching) {
			return true, err
		}
		trig = TriggerRerun
	}
}

type sourceResult[T any] struct {
	items []T
	err   error
}

// fetchSource runs fn under the per-source timeout and tags unclassified errors with kind
func fetchSource[T any](ctx context.Context, e *Engine, name string, kind *shared.DomainError, fn func(context.Context) ([]T, error)) sourceResult[T] {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SourceTimeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "reconcile.fetch", trace.WithAttributes(attribute.String("source", name)))
	defer span.End()

	items, err := fn(ctx)
	if err != nil {
		if shared.KindOf(err) == nil {
			err = shared.Wrap(kind, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sourceResult[T]{err: err}
	}
	if items == nil {
		items = []T{}
	}
	span.SetAttributes(attribute.Int("items", len(items)))
	return sourceResult[T]{items: items}
}

// cycle fetches every source, merges and publishes one snapshot
func (e *Engine) cycle(ctx context.Context, trig Trigger) error {
	ctx, span := e.tracer.Start(ctx, "reconcile.cycle", trace.WithAttributes(attribute.String("trigger", string(trig))))
	defer span.End()

	started := e.now()
	epoch := e.epoch.Load()
	prev := e.current.Load()

	var (
		orders    sourceResult[order.Record]
		subs      sourceResult[submission.Record]
		products  sourceResult[stock.Product]
		g         errgroup.Group
		fetchedAt = started
	)
	g.Go(func() error {
		orders = fetchSource(ctx, e, SourceOrders, shared.ErrFeedUnavailable, e.feed.Fetch)
		return nil
	})
	g.Go(func() error {
		subs = fetchSource(ctx, e, SourceSubmissions, shared.ErrStoreUnavailable, e.submissions.List)
		return nil
	})
	g.Go(func() error {
		products = fetchSource(ctx, e, SourceProducts, shared.ErrStoreUnavailable, e.stock.List)
		return nil
	})
	_ = g.Wait()

	e.state.Store(stateMerging)

	errs := make([]error, 0, 3)
	for name, err := range map[string]error{SourceOrders: orders.err, SourceSubmissions: subs.err, SourceProducts: products.err} {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			e.metrics.SourceFailed(ctx, name)
		}
	}
	allFailed := len(errs) == 3

	e.mu.Lock()
	if allFailed {
		e.consecutiveFailures++
	} else {
		e.consecutiveFailures = 0
	}
	e.countSourceFailure(SourceOrders, orders.err)
	e.countSourceFailure(SourceSubmissions, subs.err)
	e.countSourceFailure(SourceProducts, products.err)
	failures := map[string]int{
		SourceOrders:      e.sourceFailures[SourceOrders],
		SourceSubmissions: e.sourceFailures[SourceSubmissions],
		SourceProducts:    e.sourceFailures[SourceProducts],
	}
	consecutive := e.consecutiveFailures
	e.mu.Unlock()

	next := &Snapshot{Sources: make(map[string]SourceStatus, 3)}
	next.Orders, next.Sources[SourceOrders] = resolveSource(ctx, e, SourceOrders, orders, prev.Orders, prev.Sources[SourceOrders], fetchedAt)
	next.Submissions, next.Sources[SourceSubmissions] = resolveSource(ctx, e, SourceSubmissions, subs, prev.Submissions, prev.Sources[SourceSubmissions], fetchedAt)
	next.Products, next.Sources[SourceProducts] = resolveSource(ctx, e, SourceProducts, products, prev.Products, prev.Sources[SourceProducts], fetchedAt)
	for name, n := range failures {
		st := next.Sources[name]
		st.ConsecutiveFailures = n
		next.Sources[name] = st
	}

	next.LowStock = stock.LowStock(next.Products)
	next.Stats = computeStats(next.Orders, next.Submissions, next.Products, next.LowStock)
	next.Degraded = e.isDegraded(consecutive, failures)
	next.RefreshedAt = e.now()
	next.Cycle = e.cycles.Add(1)

	var cycleErr error
	if allFailed {
		cycleErr = shared.Wrap(shared.ErrReconciliationFailed, errors.Join(errs...))
		next.LastError = cycleErr.Error()
		span.RecordError(cycleErr)
		span.SetStatus(codes.Error, "all sources failed")
	}

	createdAt := make([]time.Time, len(next.Submissions))
	for i, rec := range next.Submissions {
		createdAt[i] = rec.CreatedAt
	}

	// The counter is computed and published under mu so a concurrent
	// MarkNotificationsRead cannot be overwritten by a stale count.
	e.mu.Lock()
	if e.epoch.Load() != epoch {
		e.mu.Unlock()
		e.logger.Info("Discarding reconciliation result after stop", zap.String("trigger", string(trig)))
		e.metrics.CycleCompleted(ctx, string(trig), outcomeDiscarded, e.now().Sub(started))
		return cycleErr
	}
	e.notif = e.notif.Observe(notification.CountSince(e.notif.LastAcknowledgedAt, createdAt))
	next.Notifications = e.notif
	next.NewSubmissionsCount = e.notif.Unseen
	e.current.Store(next)
	e.mu.Unlock()

	outcome := outcomeSuccess
	switch {
	case allFailed:
		outcome = outcomeFailed
	case len(errs) > 0:
		outcome = outcomePartial
	}
	took := e.now().Sub(started)
	e.metrics.CycleCompleted(ctx, string(trig), outcome, took)
	e.metrics.Published(ctx, len(next.LowStock), next.NewSubmissionsCount, next.Degraded)
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int64("cycle", int64(next.Cycle)))

	fields := []zap.Field{
		zap.String("trigger", string(trig)),
		zap.String("outcome", outcome),
		zap.Duration("duration", took),
		zap.Int("orders", len(next.Orders)),
		zap.Int("submissions", len(next.Submissions)),
		zap.Int("products", len(next.Products)),
		zap.Int("low_stock", len(next.LowStock)),
		zap.Int("new_submissions", next.NewSubmissionsCount),
	}
	switch {
	case next.Degraded && !prev.Degraded:
		e.logger.Warn("Reconciliation degraded, data may be stale",
			append(fields, zap.Int("consecutive_failures", consecutive), zap.Errors("errors", errs))...)
	case next.Degraded:
		e.logger.Debug("Reconciliation still degraded", append(fields, zap.Errors("errors", errs))...)
	case len(errs) > 0:
		e.logger.Info("Reconciliation completed with unavailable sources", append(fields, zap.Errors("errors", errs))...)
	default:
		e.logger.Debug("Reconciliation completed", fields...)
	}
	return cycleErr
}

// countSourceFailure must be called with mu held
func (e *Engine) countSourceFailure(name string, err error) {
	if err != nil {
		e.sourceFailures[name]++
		return
	}
	e.sourceFailures[name] = 0
}

func (e *Engine) isDegraded(consecutive int, sources map[string]int) bool {
	if consecutive >= e.cfg.FailureThreshold {
		return true
	}
	for _, n := range sources {
		if n >= e.cfg.FailureThreshold {
			return true
		}
	}
	return false
}

// resolveSource picks live data, else the previous snapshot's data, else the
// fallback cache. A failed source is never reported as empty data.
func resolveSource[T any](ctx context.Context, e *Engine, name string, res sourceResult[T], prevItems []T, prevStatus SourceStatus, fetchedAt time.Time) ([]T, SourceStatus) {
	if res.err == nil {
		e.saveFallback(ctx, name, res.items, fetchedAt)
		return res.items, SourceStatus{Name: name, OK: true, Origin: OriginLive, FetchedAt: fetchedAt}
	}

	status := SourceStatus{Name: name, Stale: true, Error: res.err.Error()}
	if prevStatus.HasData() {
		status.Origin = OriginCache
		if prevStatus.Origin == OriginFallback {
			status.Origin = OriginFallback
		}
		status.FetchedAt = prevStatus.FetchedAt
		return prevItems, status
	}

	if e.fallback != nil {
		var items []T
		savedAt, ok, err := e.fallback.Load(ctx, name, &items)
		if err != nil {
			e.logger.Warn("Failed to read fallback cache", zap.String("source", name), zap.Error(err))
		}
		if ok && err == nil {
			if items == nil {
				items = []T{}
			}
			status.Origin = OriginFallback
			status.FetchedAt = savedAt
			return items, status
		}
	}

	status.Origin = OriginNone
	return []T{}, status
}

func (e *Engine) saveFallback(ctx context.Context, name string, data any, at time.Time) {
	if e.fallback == nil {
		return
	}
	if err := e.fallback.Save(ctx, name, data, at); err != nil {
		e.logger.Warn("Failed to write fallback cache", zap.String("source", name), zap.Error(err))
	}
}
