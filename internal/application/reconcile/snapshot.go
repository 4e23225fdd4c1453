package reconcile

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/domain/notification"
	"github.com/storefront/backend/internal/domain/order"
	"github.com/storefront/backend/internal/domain/stock"
	"github.com/storefront/backend/internal/domain/submission"
)

// Source names used in SourceStatus and the fallback cache
const (
	SourceOrders      = "orders"
	SourceSubmissions = "submissions"
	SourceProducts    = "products"
)

// Where a source's data in the current snapshot came from
const (
	OriginLive     = "live"
	OriginCache    = "cache"
	OriginFallback = "fallback"
	OriginNone     = "none"
)

// SourceStatus describes the freshness of one source in a snapshot
type SourceStatus struct {
	Name                string    `json:"name"`
	OK                  bool      `json:"ok"`
	Stale               bool      `json:"stale"`
	Origin              string    `json:"origin"`
	FetchedAt           time.Time `json:"fetched_at,omitempty"`
	Error               string    `json:"error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// HasData reports whether the snapshot holds any data for the source
func (s SourceStatus) HasData() bool {
	return s.Origin != "" && s.Origin != OriginNone
}

// Stats are pure reductions over the snapshot collections
type Stats struct {
	TotalOrders         int                       `json:"total_orders"`
	FulfilledOrders     int                       `json:"fulfilled_orders"`
	TotalUnits          int                       `json:"total_units"`
	Revenue             decimal.Decimal           `json:"revenue"`
	OrdersByStatus      map[string]int            `json:"orders_by_status"`
	TotalSubmissions    int                       `json:"total_submissions"`
	SubmissionsByStatus map[submission.Status]int `json:"submissions_by_status"`
	TotalProducts       int                       `json:"total_products"`
	LowStockCount       int                       `json:"low_stock_count"`
	OutOfStockCount     int                       `json:"out_of_stock_count"`
}

// Snapshot is the read model published after every cycle.
// Published snapshots are immutable; callers must not modify the slices.
type Snapshot struct {
	Orders              []order.Record          `json:"orders"`
	Submissions         []submission.Record     `json:"submissions"`
	Products            []stock.Product         `json:"products"`
	LowStock            []stock.Product         `json:"low_stock"`
	Stats               Stats                   `json:"stats"`
	Sources             map[string]SourceStatus `json:"sources"`
	Notifications       notification.State      `json:"notifications"`
	NewSubmissionsCount int                     `json:"new_submissions_count"`
	IsLoading           bool                    `json:"is_loading"`
	LastError           string                  `json:"last_error,omitempty"`
	Degraded            bool                    `json:"degraded"`
	RefreshedAt         time.Time               `json:"refreshed_at"`
	Cycle               uint64                  `json:"cycle"`
}

// emptySnapshot is served before the first cycle publishes
func emptySnapshot() *Snapshot {
	sources := make(map[string]SourceStatus, 3)
	for _, name := range []string{SourceOrders, SourceSubmissions, SourceProducts} {
		sources[name] = SourceStatus{Name: name, Origin: OriginNone, Stale: true}
	}
	return &Snapshot{
		Orders:      []order.Record{},
		Submissions: []submission.Record{},
		Products:    []stock.Product{},
		LowStock:    []stock.Product{},
		Stats:       computeStats(nil, nil, nil, nil),
		Sources:     sources,
	}
}

func computeStats(orders []order.Record, subs []submission.Record, products, lowStock []stock.Product) Stats {
	st := Stats{
		Revenue:             decimal.Zero,
		OrdersByStatus:      make(map[string]int),
		SubmissionsByStatus: make(map[submission.Status]int, len(submission.AllStatuses)),
		TotalOrders:         len(orders),
		TotalSubmissions:    len(subs),
		TotalProducts:       len(products),
		LowStockCount:       len(lowStock),
	}
	for _, s := range submission.AllStatuses {
		st.SubmissionsByStatus[s] = 0
	}
	for _, o := range orders {
		st.TotalUnits += o.Quantity
		st.Revenue = st.Revenue.Add(o.LineTotal())
		st.OrdersByStatus[o.Status]++
		if o.IsFulfilled() {
			st.FulfilledOrders++
		}
	}
	for _, s := range subs {
		st.SubmissionsByStatus[s.Status]++
	}
	for _, p := range products {
		if p.Stock == 0 {
			st.OutOfStockCount++
		}
	}
	return st
}

// SubmissionGroup buckets submissions sharing a form type and name
type SubmissionGroup struct {
	FormType    string              `json:"form_type"`
	FormName    string              `json:"form_name"`
	Submissions []submission.Record `json:"submissions"`
	Pending     int                 `json:"pending"`
}

// OrderGroup buckets orders by feed origin
type OrderGroup struct {
	Origin  string          `json:"origin"`
	Orders  []order.Record  `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// GroupedView is a projection of a snapshot; it is never stored
type GroupedView struct {
	Submissions []SubmissionGroup `json:"submissions"`
	Orders      []OrderGroup      `json:"orders"`
}

// Group projects snap into buckets ordered by key. Order within a bucket follows the snapshot.
func Group(snap *Snapshot) GroupedView {
	view := GroupedView{
		Submissions: make([]SubmissionGroup, 0),
		Orders:      make([]OrderGroup, 0),
	}
	if snap == nil {
		return view
	}

	subIdx := make(map[submission.Key]int)
	for _, rec := range snap.Submissions {
		key := rec.GroupKey()
		i, ok := subIdx[key]
		if !ok {
			i = len(view.Submissions)
			subIdx[key] = i
			view.Submissions = append(view.Submissions, SubmissionGroup{FormType: key.FormType, FormName: key.FormName})
		}
		g := &view.Submissions[i]
		g.Submissions = append(g.Submissions, rec)
		if rec.Status == submission.StatusPending {
			g.Pending++
		}
	}
	sort.SliceStable(view.Submissions, func(a, b int) bool {
		x, y := view.Submissions[a], view.Submissions[b]
		if x.FormType != y.FormType {
			return x.FormType < y.FormType
		}
		return x.FormName < y.FormName
	})

	orderIdx := make(map[string]int)
	for _, rec := range snap.Orders {
		i, ok := orderIdx[rec.Origin]
		if !ok {
			i = len(view.Orders)
			orderIdx[rec.Origin] = i
			view.Orders = append(view.Orders, OrderGroup{Origin: rec.Origin, Revenue: decimal.Zero})
		}
		g := &view.Orders[i]
		g.Orders = append(g.Orders, rec)
		g.Revenue = g.Revenue.Add(rec.LineTotal())
	}
	sort.SliceStable(view.Orders, func(a, b int) bool {
		return view.Orders[a].Origin < view.Orders[b].Origin
	})
	return view
}
