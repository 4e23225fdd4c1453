package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/domain/order"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/stock"
	"github.com/storefront/backend/internal/domain/submission"
)

var errDown = errors.New("connection refused")

// fakeFeed is an in-memory order feed. When release is set, Fetch blocks until it is closed.
type fakeFeed struct {
	mu         sync.Mutex
	rows       []order.Record
	fetchErr   error
	updateErr  error
	fetchCalls atomic.Int32
	updates    []string
	entered    chan struct{}
	release    chan struct{}
}

func newFakeFeed(rows ...order.Record) *fakeFeed {
	return &fakeFeed{rows: rows}
}

func (f *fakeFeed) Name() string { return "sheet" }

func (f *fakeFeed) Fetch(ctx context.Context) ([]order.Record, error) {
	f.fetchCalls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, shared.Wrap(shared.ErrFeedUnavailable, ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]order.Record(nil), f.rows...), nil
}

func (f *fakeFeed) UpdateStatus(_ context.Context, rowIndex int, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.rows {
		if f.rows[i].RowIndex == rowIndex {
			f.rows[i].Status = status
			f.updates = append(f.updates, status)
			return nil
		}
	}
	return shared.Wrapf(shared.ErrFeedUnavailable, "row %d out of range", rowIndex)
}

func (f *fakeFeed) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

// fakeSubmissionStore mimics the relational store semantics
type fakeSubmissionStore struct {
	mu          sync.Mutex
	records     map[uuid.UUID]submission.Record
	listErr     error
	updateCalls int
	now         func() time.Time
}

func newFakeSubmissionStore(recs ...submission.Record) *fakeSubmissionStore {
	s := &fakeSubmissionStore{records: make(map[uuid.UUID]submission.Record), now: time.Now}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeSubmissionStore) List(context.Context) ([]submission.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]submission.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeSubmissionStore) Create(_ context.Context, rec *submission.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	s.records[rec.ID] = *rec
	return nil
}

func (s *fakeSubmissionStore) UpdateStatus(_ context.Context, id uuid.UUID, status submission.Status, notes string) (*submission.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	rec, ok := s.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	rec.Status = status
	rec.Notes = notes
	rec.UpdatedAt = submission.NextUpdatedAt(rec.UpdatedAt, s.now())
	s.records[id] = rec
	return &rec, nil
}

func (s *fakeSubmissionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *fakeSubmissionStore) setListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// fakeStockStore clamps adjustments like the real stores
type fakeStockStore struct {
	mu          sync.Mutex
	products    []stock.Product
	listErr     error
	adjustments []stock.Adjustment
}

func newFakeStockStore(products ...stock.Product) *fakeStockStore {
	return &fakeStockStore{products: products}
}

func (s *fakeStockStore) List(context.Context) ([]stock.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]stock.Product(nil), s.products...), nil
}

func (s *fakeStockStore) AdjustStock(_ context.Context, id string, delta int) (*stock.Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ID == id {
			adj := stock.NewAdjustment(id, s.products[i].Stock, delta)
			s.products[i].Stock = adj.Current
			s.adjustments = append(s.adjustments, adj)
			return &adj, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *fakeStockStore) setListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

func (s *fakeStockStore) stockOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.ID == id {
			return p.Stock
		}
	}
	return -1
}

// fakeFallback stores values through a JSON-free copy keyed by source
type fakeFallback struct {
	mu    sync.Mutex
	data  map[string]any
	saves map[string]int
}

func newFakeFallback() *fakeFallback {
	return &fakeFallback{data: make(map[string]any), saves: make(map[string]int)}
}

func (f *fakeFallback) Save(_ context.Context, source string, data any, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[source] = data
	f.saves[source]++
	return nil
}

func (f *fakeFallback) Load(_ context.Context, source string, out any) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[source]
	if !ok {
		return time.Time{}, false, nil
	}
	switch dst := out.(type) {
	case *[]stock.Product:
		*dst = v.([]stock.Product)
	case *[]order.Record:
		*dst = v.([]order.Record)
	case *[]submission.Record:
		*dst = v.([]submission.Record)
	default:
		return time.Time{}, false, errors.New("unsupported type")
	}
	return time.Unix(1700000000, 0).UTC(), true, nil
}

type fakeTicker struct {
	started atomic.Int32
	stopped atomic.Int32
}

func (t *fakeTicker) Start(context.Context) error { t.started.Add(1); return nil }
func (t *fakeTicker) Stop()                       { t.stopped.Add(1) }

type fakeMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	coalesced int
	failed    map[string]int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{failed: make(map[string]int)} }

func (m *fakeMetrics) CycleCompleted(_ context.Context, _, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *fakeMetrics) TriggerCoalesced(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coalesced++
}

func (m *fakeMetrics) SourceFailed(_ context.Context, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[source]++
}

func (m *fakeMetrics) Published(context.Context, int, int, bool) {}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var baseTime = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func feedOrder(row int, product string, qty int, price int64, status string) order.Record {
	return order.Record{
		RowIndex:     row,
		Origin:       "sheet",
		CustomerName: "Customer",
		ProductName:  product,
		Quantity:     qty,
		Price:        decimal.NewFromInt(price),
		Status:       status,
	}
}

func formSubmission(formType string, createdAt time.Time) submission.Record {
	rec := submission.New(formType, formType+" form", createdAt)
	return *rec
}

func product(id, name string, stockLevel, minStock int) stock.Product {
	return stock.Product{ID: id, Name: name, Stock: stockLevel, MinStock: minStock, Visible: true}
}

type fixture struct {
	feed    *fakeFeed
	subs    *fakeSubmissionStore
	stock   *fakeStockStore
	metrics *fakeMetrics
	engine  *Engine
	clock   *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newFixture builds the partial-source scenario data: 3 orders, 2 submissions, 3 products
func newFixture() *fixture {
	clock := &testClock{now: baseTime}
	f := &fixture{
		feed: newFakeFeed(
			feedOrder(2, "Lawn Suit", 2, 1200, "Pending"),
			feedOrder(3, "Silk Dupatta", 1, 850, "Shipped"),
			feedOrder(4, "Khaddar Shawl", 3, 2000, "Pending"),
		),
		subs: newFakeSubmissionStore(
			formSubmission("contact", baseTime.Add(-2*time.Hour)),
			formSubmission("order", baseTime.Add(-time.Hour)),
		),
		stock: newFakeStockStore(
			product("p1", "Lawn Suit", 10, 3),
			product("p2", "Silk Dupatta", 2, 5),
			product("p3", "Khaddar Shawl", 5, 5),
		),
		metrics: newFakeMetrics(),
		clock:   clock,
	}
	f.subs.now = clock.Now
	f.engine = NewEngine(f.feed, f.subs, f.stock, Config{SourceTimeout: time.Second, FailureThreshold: 3}, nil)
	f.engine.SetMetrics(f.metrics)
	f.engine.SetClock(clock.Now)
	return f
}
