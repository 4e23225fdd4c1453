// Package reconcile merges the order feed, the submission store and the stock
// store into one read model and owns every mutation against them.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/order"
	"github.com/storefront/backend/internal/domain/stock"
	"github.com/storefront/backend/internal/domain/submission"
)

// OrderFeed reads and writes the external order feed
type OrderFeed interface {
	Name() string
	Fetch(ctx context.Context) ([]order.Record, error)
	UpdateStatus(ctx context.Context, rowIndex int, status string) error
}

// SubmissionStore is the relational form submission store
type SubmissionStore interface {
	List(ctx context.Context) ([]submission.Record, error)
	Create(ctx context.Context, record *submission.Record) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status submission.Status, notes string) (*submission.Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// StockStore is the product stock store
type StockStore interface {
	List(ctx context.Context) ([]stock.Product, error)
	AdjustStock(ctx context.Context, id string, delta int) (*stock.Adjustment, error)
}

// FallbackStore keeps a local copy of each source for use when the source is unreachable
type FallbackStore interface {
	Save(ctx context.Context, source string, data any, savedAt time.Time) error
	Load(ctx context.Context, source string, out any) (savedAt time.Time, ok bool, err error)
}

// Ticker drives timer-triggered cycles; the engine starts and stops it
type Ticker interface {
	Start(ctx context.Context) error
	Stop()
}

// Metrics receives cycle telemetry
type Metrics interface {
	CycleCompleted(ctx context.Context, trigger, outcome string, d time.Duration)
	TriggerCoalesced(ctx context.Context, trigger string)
	SourceFailed(ctx context.Context, source string)
	Published(ctx context.Context, lowStock, unseen int, degraded bool)
}

type nopMetrics struct{}

func (nopMetrics) CycleCompleted(context.Context, string, string, time.Duration) {}
func (nopMetrics) TriggerCoalesced(context.Context, string)                        {}
func (nopMetrics) SourceFailed(context.Context, string)                            {}
func (nopMetrics) Published(context.Context, int, int, bool)                       {}
