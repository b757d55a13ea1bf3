package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Snapshot // keyed by (symbol, ts_event, sequence)
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.Snapshot),
	}
}

func snapshotKey(symbol string, ts time.Time, sequence int64) string {
	return fmt.Sprintf("%s|%d|%d", symbol, ts.UnixNano(), sequence)
}

// copySnapshot deep-copies s so callers cannot mutate stored levels.
func copySnapshot(s *domain.Snapshot) *domain.Snapshot {
	c := *s
	c.Levels = make([]domain.LevelQuote, len(s.Levels))
	copy(c.Levels, s.Levels)
	return &c
}

// InsertBulk adds multiple snapshots. Fails entire batch on duplicate.
func (s *SnapshotStore) InsertBulk(_ context.Context, snaps []*domain.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(snaps))
	for _, snap := range snaps {
		if snap == nil || snap.Symbol == "" || len(snap.Levels) == 0 {
			return storage.ErrInvalidInput
		}
		key := snapshotKey(snap.Symbol, snap.TsEvent, snap.Sequence)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, snap := range snaps {
		s.data[snapshotKey(snap.Symbol, snap.TsEvent, snap.Sequence)] = copySnapshot(snap)
	}

	return nil
}

// GetBySymbol retrieves all snapshots for a symbol, ordered by (ts_event, sequence) ASC.
func (s *SnapshotStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.Snapshot, error) {
	return s.filter(func(snap *domain.Snapshot) bool {
		return snap.Symbol == symbol
	}), nil
}

// GetByTimeRange retrieves snapshots for a symbol within [start, end] (inclusive).
func (s *SnapshotStore) GetByTimeRange(_ context.Context, symbol string, start, end time.Time) ([]*domain.Snapshot, error) {
	return s.filter(func(snap *domain.Snapshot) bool {
		return snap.Symbol == symbol && !snap.TsEvent.Before(start) && !snap.TsEvent.After(end)
	}), nil
}

// ListSymbols returns the distinct symbols stored, sorted ASC.
func (s *SnapshotStore) ListSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var result []string
	for _, snap := range s.data {
		if _, ok := seen[snap.Symbol]; ok {
			continue
		}
		seen[snap.Symbol] = struct{}{}
		result = append(result, snap.Symbol)
	}
	sort.Strings(result)
	return result, nil
}

func (s *SnapshotStore) filter(keep func(*domain.Snapshot) bool) []*domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Snapshot
	for _, snap := range s.data {
		if keep(snap) {
			result = append(result, copySnapshot(snap))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].TsEvent.Equal(result[j].TsEvent) {
			return result[i].TsEvent.Before(result[j].TsEvent)
		}
		return result[i].Sequence < result[j].Sequence
	})

	return result
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
