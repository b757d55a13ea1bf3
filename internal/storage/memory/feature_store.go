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

// FeatureStore is an in-memory implementation of storage.FeatureStore.
type FeatureStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FeatureRow // keyed by (symbol, minute)
}

// NewFeatureStore creates a new in-memory feature store.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{
		data: make(map[string]*domain.FeatureRow),
	}
}

func featureKey(symbol string, minute time.Time) string {
	return fmt.Sprintf("%s|%d", symbol, minute.UnixNano())
}

func copyFeatureRow(r *domain.FeatureRow) *domain.FeatureRow {
	c := *r
	c.OFI = make([]float64, len(r.OFI))
	copy(c.OFI, r.OFI)
	return &c
}

// InsertBulk adds multiple rows. Fails entire batch on duplicate.
func (s *FeatureStore) InsertBulk(_ context.Context, rows []*domain.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(rows))

	for _, r := range rows {
		if r == nil || r.Symbol == "" || len(r.OFI) == 0 {
			return storage.ErrInvalidInput
		}
		key := featureKey(r.Symbol, r.Minute)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range rows {
		s.data[featureKey(r.Symbol, r.Minute)] = copyFeatureRow(r)
	}

	return nil
}

// GetBySymbol retrieves all rows for a symbol, ordered by minute ASC.
func (s *FeatureStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRow
	for _, r := range s.data {
		if r.Symbol == symbol {
			result = append(result, copyFeatureRow(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Minute.Before(result[j].Minute)
	})

	return result, nil
}

// GetByTimeRange retrieves rows for a symbol within [start, end] (inclusive).
func (s *FeatureStore) GetByTimeRange(_ context.Context, symbol string, start, end time.Time) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRow
	for _, r := range s.data {
		if r.Symbol == symbol && !r.Minute.Before(start) && !r.Minute.After(end) {
			result = append(result, copyFeatureRow(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Minute.Before(result[j].Minute)
	})

	return result, nil
}

var _ storage.FeatureStore = (*FeatureStore)(nil)
