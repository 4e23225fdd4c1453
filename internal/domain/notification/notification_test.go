package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_ObserveIsMonotonic(t *testing.T) {
	s := State{}
	s = s.Observe(3)
	assert.Equal(t, 3, s.Unseen)

	s = s.Observe(1)
	assert.Equal(t, 3, s.Unseen, "counter must not drop between acknowledgments")

	s = s.Observe(5)
	assert.Equal(t, 5, s.Unseen)
}

func TestState_MarkRead(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := State{Unseen: 7}.MarkRead(now)
	assert.Equal(t, 0, s.Unseen)
	assert.Equal(t, now, s.LastAcknowledgedAt)

	again := s.MarkRead(now)
	assert.Equal(t, s, again)
}

func TestCountSince(t *testing.T) {
	ack := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{ack.Add(-time.Minute), ack, ack.Add(time.Nanosecond), ack.Add(time.Hour)}
	assert.Equal(t, 2, CountSince(ack, times))
	assert.Equal(t, 0, CountSince(ack, nil))
}

func TestMemoryAckStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAckStore()

	_, ok, err := store.Load(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now()
	require.NoError(t, store.Save(ctx, "admin", now))

	got, ok, err := store.Load(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(now))
}
