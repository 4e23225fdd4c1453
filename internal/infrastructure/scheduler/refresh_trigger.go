package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Refresher runs one timer-triggered reconciliation
type Refresher interface {
	RefreshOnTimer(ctx context.Context)
}

// RefreshTrigger fires timer refreshes at a fixed interval.
// A tick that arrives while the previous refresh is still running is dropped.
type RefreshTrigger struct {
	interval  time.Duration
	target    Refresher
	logger    *zap.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewRefreshTrigger creates a trigger for target
func NewRefreshTrigger(interval time.Duration, target Refresher, logger *zap.Logger) (*RefreshTrigger, error) {
	if interval <= 0 || target == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshTrigger{
		interval: interval,
		target:   target,
		logger:   logger.Named("refresh_trigger"),
	}, nil
}

// Start starts the ticker loop. The first tick fires one interval after Start.
func (t *RefreshTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunning {
		return nil
	}
	t.isRunning = true

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Refresh trigger started", zap.Duration("interval", t.interval))
	return nil
}

// Stop cancels the pending tick and waits for a running refresh to return
func (t *RefreshTrigger) Stop() {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return
	}
	t.isRunning = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	t.logger.Info("Refresh trigger stopped")
}

// IsRunning reports whether the loop is active
func (t *RefreshTrigger) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isRunning
}

func (t *RefreshTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.target.RefreshOnTimer(ctx)
		}
	}
}
