package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/order"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/stock"
	"github.com/storefront/backend/internal/domain/submission"
	"go.uber.org/zap"
)

// UpdateOrderStatus writes status into the feed row and forces a reconciliation.
// The read model is never patched locally; a failed write leaves it untouched.
// Moving an order into a fulfilled status deducts its quantity from the matched product.
// Row indexes are only trusted from a live fetch: when the published orders are
// stale or lack the row, the feed is read again first.
func (e *Engine) UpdateOrderStatus(ctx context.Context, rowIndex int, status string) error {
	status = strings.TrimSpace(status)
	if status == "" {
		return shared.Wrapf(shared.ErrInvalidStatus, "order status must not be empty")
	}

	snap := e.current.Load()
	prevOrder, known := findOrder(snap.Orders, rowIndex)
	if !known || snap.Sources[SourceOrders].Origin != OriginLive {
		var err error
		if prevOrder, err = e.liveOrder(ctx, rowIndex); err != nil {
			return err
		}
	}

	if err := e.feed.UpdateStatus(ctx, rowIndex, status); err != nil {
		e.logger.Warn("Order status update failed",
			zap.Int("row_index", rowIndex),
			zap.String("status", status),
			zap.Error(err),
		)
		return err
	}

	if !prevOrder.IsFulfilled() && order.IsFulfilledStatus(status) {
		e.deductStock(ctx, prevOrder, snap.Products)
	}

	e.forceReconcile(ctx)
	return nil
}

// UpdateSubmission sets the status and notes of a submission.
// Invalid statuses are rejected before any write. A submission deleted
// concurrently yields a nil record and a reconciliation that drops it.
func (e *Engine) UpdateSubmission(ctx context.Context, id uuid.UUID, status, notes string) (*submission.Record, error) {
	st, err := submission.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec, err := e.submissions.UpdateStatus(ctx, id, st, notes)
	if errors.Is(err, shared.ErrNotFound) {
		e.logger.Info("Submission already removed, refreshing",
			zap.String("submission_id", id.String()),
		)
		e.forceReconcile(ctx)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.logger.Info("Submission updated",
		zap.String("submission_id", id.String()),
		zap.String("status", string(st)),
	)
	e.forceReconcile(ctx)
	return rec, nil
}

// DeleteSubmission removes a submission. Deleting a missing id succeeds.
func (e *Engine) DeleteSubmission(ctx context.Context, id uuid.UUID) error {
	if err := e.submissions.Delete(ctx, id); err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	e.logger.Info("Submission deleted", zap.String("submission_id", id.String()))
	e.forceReconcile(ctx)
	return nil
}

// CreateSubmission stores a new submission received from a storefront form
func (e *Engine) CreateSubmission(ctx context.Context, rec *submission.Record) error {
	if err := e.submissions.Create(ctx, rec); err != nil {
		return err
	}
	e.logger.Info("Submission received",
		zap.String("submission_id", rec.ID.String()),
		zap.String("form_type", rec.FormType),
		zap.String("form_name", rec.FormName),
	)
	e.forceReconcile(ctx)
	return nil
}

// MarkNotificationsRead acknowledges every submission seen so far and resets the counter.
// It is idempotent.
func (e *Engine) MarkNotificationsRead(ctx context.Context) error {
	now := e.now()

	e.mu.Lock()
	e.notif = e.notif.MarkRead(now)
	state := e.notif
	snap := *e.current.Load()
	snap.Notifications = state
	snap.NewSubmissionsCount = 0
	e.current.Store(&snap)
	e.mu.Unlock()

	if err := e.acks.Save(ctx, e.cfg.AckKey, now); err != nil {
		e.logger.Warn("Failed to persist notification acknowledgment",
			zap.String("ack_key", e.cfg.AckKey),
			zap.Error(err),
		)
	}

	e.forceReconcile(ctx)
	return nil
}

func (e *Engine) deductStock(ctx context.Context, o order.Record, products []stock.Product) {
	if o.Quantity <= 0 {
		return
	}
	fields := []zap.Field{
		zap.Int("row_index", o.RowIndex),
		zap.String("product_name", o.ProductName),
		zap.Int("quantity", o.Quantity),
	}

	product, result := stock.NewMatcher(products).Match(o.ProductName)
	switch result {
	case stock.MatchExact, stock.MatchPartial:
	default:
		e.logger.Warn("Skipping stock deduction, product not matched",
			append(fields, zap.String("match", result.String()))...)
		return
	}

	adj, err := e.stock.AdjustStock(ctx, product.ID, -o.Quantity)
	if err != nil {
		e.logger.Warn("Stock deduction failed", append(fields, zap.String("product_id", product.ID), zap.Error(err))...)
		return
	}
	e.logger.Info("Stock deducted for fulfilled order",
		append(fields,
			zap.String("product_id", product.ID),
			zap.String("match", result.String()),
			zap.Int("previous", adj.Previous),
			zap.Int("current", adj.Current),
		)...)
}

// liveOrder reads the feed and returns the order currently at rowIndex
func (e *Engine) liveOrder(ctx context.Context, rowIndex int) (order.Record, error) {
	res := fetchSource(ctx, e, SourceOrders, shared.ErrFeedUnavailable, e.feed.Fetch)
	if res.err != nil {
		e.logger.Warn("Order feed unavailable, status not written",
			zap.Int("row_index", rowIndex),
			zap.Error(res.err),
		)
		return order.Record{}, res.err
	}
	o, ok := findOrder(res.items, rowIndex)
	if !ok {
		return order.Record{}, shared.Wrapf(shared.ErrNotFound, "order row %d is not in the feed", rowIndex)
	}
	return o, nil
}

func findOrder(orders []order.Record, rowIndex int) (order.Record, bool) {
	for _, o := range orders {
		if o.RowIndex == rowIndex {
			return o, true
		}
	}
	return order.Record{}, false
}
