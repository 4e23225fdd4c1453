package notification

import (
	"context"
	"sync"
	"time"
)

// State is the new-submission notification counter exposed to the dashboard.
// Unseen only grows between acknowledgments and MarkRead is the only reset.
type State struct {
	LastAcknowledgedAt time.Time `json:"last_acknowledged_at"`
	Unseen             int       `json:"unseen"`
}

// Observe folds a freshly computed count into the state.
// The counter never drops until the next acknowledgment.
func (s State) Observe(fresh int) State {
	if fresh > s.Unseen {
		s.Unseen = fresh
	}
	return s
}

// MarkRead acknowledges everything up to now
func (s State) MarkRead(now time.Time) State {
	return State{LastAcknowledgedAt: now, Unseen: 0}
}

// CountSince returns how many of the timestamps are strictly after ack
func CountSince(ack time.Time, createdAt []time.Time) int {
	n := 0
	for _, t := range createdAt {
		if t.After(ack) {
			n++
		}
	}
	return n
}

// AckStore persists the last acknowledgment time per session key
type AckStore interface {
	// Load returns the stored acknowledgment; ok is false when none was recorded
	Load(ctx context.Context, key string) (ack time.Time, ok bool, err error)
	// Save records ack for key
	Save(ctx context.Context, key string, ack time.Time) error
}

// MemoryAckStore is a process-local AckStore
type MemoryAckStore struct {
	mu   sync.RWMutex
	acks map[string]time.Time
}

// NewMemoryAckStore creates an empty in-memory store
func NewMemoryAckStore() *MemoryAckStore {
	return &MemoryAckStore{acks: make(map[string]time.Time)}
}

// Load implements AckStore
func (s *MemoryAckStore) Load(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ack, ok := s.acks[key]
	return ack, ok, nil
}

// Save implements AckStore
func (s *MemoryAckStore) Save(_ context.Context, key string, ack time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[key] = ack
	return nil
}
