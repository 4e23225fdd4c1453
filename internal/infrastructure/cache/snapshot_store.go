package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/storefront/backend/internal/domain/shared"
)

// Snapshot keys, one per reconciled source
const (
	SourceOrders      = "orders"
	SourceSubmissions = "submissions"
	SourceProducts    = "products"

	snapshotKeyPrefix = "snapshot/"
)

// snapshotEnvelope is the on-disk value for a single source
type snapshotEnvelope struct {
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// PebbleSnapshotStore keeps the last good copy of each source on local disk.
// It is read only when the primary source cannot be reached.
type PebbleSnapshotStore struct {
	db *pebble.DB
}

// NewPebbleSnapshotStore opens (or creates) a store rooted at dir
func NewPebbleSnapshotStore(dir string) (*PebbleSnapshotStore, error) {
	opts := &pebble.Options{
		MemTableSize:          8 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
	}
	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleSnapshotStore{db: db}, nil
}

// Close flushes and closes the underlying database
func (s *PebbleSnapshotStore) Close() error { return s.db.Close() }

// Save replaces the snapshot for source with data
func (s *PebbleSnapshotStore) Save(_ context.Context, source string, data any, savedAt time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", source, err)
	}
	value, err := json.Marshal(snapshotEnvelope{SavedAt: savedAt.UTC(), Data: raw})
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", source, err)
	}
	if err := s.db.Set(snapshotKey(source), value, pebble.Sync); err != nil {
		return shared.Wrap(shared.ErrStoreUnavailable, err)
	}
	return nil
}

// Load decodes the snapshot for source into out.
// ok is false when nothing has been saved for that source yet.
func (s *PebbleSnapshotStore) Load(_ context.Context, source string, out any) (savedAt time.Time, ok bool, err error) {
	value, closer, err := s.db.Get(snapshotKey(source))
	if errors.Is(err, pebble.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, shared.Wrap(shared.ErrStoreUnavailable, err)
	}
	defer closer.Close()

	var env snapshotEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s snapshot: %w", source, err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s snapshot: %w", source, err)
	}
	return env.SavedAt, true, nil
}

// Sources lists the sources that currently have a snapshot
func (s *PebbleSnapshotStore) Sources() ([]string, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(snapshotKeyPrefix),
		UpperBound: []byte("snapshot0"),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var sources []string
	for it.First(); it.Valid(); it.Next() {
		sources = append(sources, string(it.Key()[len(snapshotKeyPrefix):]))
	}
	return sources, it.Error()
}

func snapshotKey(source string) []byte {
	return []byte(snapshotKeyPrefix + source)
}
